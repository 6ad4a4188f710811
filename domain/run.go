package domain

import "fmt"

// RunType selects the scope of a synchronization run.
type RunType string

const (
	RunCard    RunType = "card"
	RunList    RunType = "list"
	RunBoard   RunType = "board"
	RunCleanup RunType = "cleanup"
)

// RunRequest is the queue message asking the worker to execute one run of a
// mapping. Credentials are not carried; the worker re-reads them from the
// mapping record.
type RunRequest struct {
	TaskID    string  `json:"taskId"`
	MappingID string  `json:"mappingId"`
	Type      RunType `json:"type"`
	ElemID    string  `json:"elemId"`
}

// Validate checks the request shape. Cleanup runs take their scope from the
// mapping's master board, so ElemID is only required for the other types.
func (r RunRequest) Validate() error {
	if r.MappingID == "" {
		return fmt.Errorf("run request has no mapping id")
	}
	switch r.Type {
	case RunCard, RunList, RunBoard:
		if r.ElemID == "" {
			return fmt.Errorf("%s run has no target id", r.Type)
		}
	case RunCleanup:
	default:
		return fmt.Errorf("unknown run type %q", r.Type)
	}
	return nil
}

// Summary aggregates the per-card reconciliation results of one run.
type Summary struct {
	MasterCards       int
	ActiveMasterCards int
	SlaveCards        int
	NewSlaveCards     int
}

func (s Summary) String() string {
	return fmt.Sprintf("Processed %d master cards (of which %d active) that have %d slave cards (of which %d new).",
		s.MasterCards, s.ActiveMasterCards, s.SlaveCards, s.NewSlaveCards)
}

// CleanupSummary aggregates the counters of one bulk cleanup run.
type CleanupSummary struct {
	CleanedUpMasterCards    int
	DeletedSlaveCards       int
	ErasedDestinationBoards int
	ErasedDestinationLists  int
}

func (s CleanupSummary) String() string {
	return fmt.Sprintf("Cleaned up %d master cards and deleted %d slave cards from %d slave boards/%d slave lists.",
		s.CleanedUpMasterCards, s.DeletedSlaveCards, s.ErasedDestinationBoards, s.ErasedDestinationLists)
}
