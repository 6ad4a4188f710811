package domain

import (
	"fmt"
	"time"
)

// Task is one background synchronization job. A task is terminal once
// Complete is set; it is never retried or reopened.
type Task struct {
	ID          string    `json:"id"`
	MappingID   string    `json:"mappingId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Progress    int       `json:"progress"`
	Complete    bool      `json:"complete"`
	StartedAt   time.Time `json:"startedAt"`
	EndedAt     time.Time `json:"endedAt,omitempty"`
}

// SetProgress records a progress value between 0 and 100 and optionally a
// status text. Reaching 100 marks the task complete and stamps the end
// time; a completed task never transitions back.
func (t *Task) SetProgress(progress int, status string) {
	if t.Complete {
		return
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	t.Progress = progress
	if status != "" {
		t.Status = status
	}
	if progress >= 100 {
		t.Complete = true
		t.EndedAt = time.Now().UTC()
	}
}

// Duration renders the wall-clock runtime of a finished task, such as
// "3m 12s". Tasks without both timestamps report "unknown".
func (t *Task) Duration() string {
	if t.StartedAt.IsZero() || t.EndedAt.IsZero() {
		return "unknown"
	}
	secs := int(t.EndedAt.Sub(t.StartedAt).Seconds())
	if secs < 0 {
		secs = 0
	}
	mins := secs / 60
	if mins > 0 {
		return fmt.Sprintf("%dm %ds", mins, secs%60)
	}
	return fmt.Sprintf("%ds", secs)
}
