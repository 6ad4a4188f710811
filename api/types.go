package api

import (
	"context"

	"github.com/e2jk/trello-team-sync/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	GetMapping(ctx context.Context, id string) (*domain.Mapping, error)
	UpsertMapping(ctx context.Context, m domain.Mapping) error
	GetTask(ctx context.Context, mappingID, taskID string) (*domain.Task, error)
	InsertTask(ctx context.Context, t domain.Task) error
	TaskInProgress(ctx context.Context, mappingID string) (bool, error)
	EnqueueRun(ctx context.Context, req domain.RunRequest) error
}

// Authenticator is implemented by types able to extract user IDs from
// headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// WebhookLifecycle registers or removes the master-board webhook when a
// mapping switches between automatic and manual.
type WebhookLifecycle interface {
	Activate(ctx context.Context, m *domain.Mapping) error
	Deactivate(ctx context.Context, m *domain.Mapping) error
}
