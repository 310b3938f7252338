package domain

import (
	"context"

	"driftsync/internal/actions"
	"driftsync/internal/models"
)

type PendingStore interface {
	Load(ctx context.Context) ([]models.PendingOperation, error)
	Save(ctx context.Context, ops []models.PendingOperation) error
	Clear(ctx context.Context) error
	Close() error
}

type ConnectivityMonitor interface {
	IsOnline() bool
	OnRestore(fn func())
	Subscribe(fn func(previous, current bool))
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type Executor interface {
	ExecuteOrQueue(ctx context.Context, op models.PendingOperation, action actions.Action) error
}

type Mutator interface {
	CompleteTask(ctx context.Context, taskID string) error
	UncompleteTask(ctx context.Context, taskID string) error
	CompleteRitual(ctx context.Context, ritualID, date string) error
	UncompleteRitual(ctx context.Context, ritualID, date string) error
	CreateTask(ctx context.Context, taskID string, payload []byte) error
	UpdateTask(ctx context.Context, taskID string, payload []byte) error
	DeleteTask(ctx context.Context, taskID string) error
}

type SyncController interface {
	Online() bool
	Syncing() bool
	PendingCount() int
	PendingOperations() []models.PendingOperation
	ForceSync(ctx context.Context) bool
	ClearQueue(ctx context.Context) error
}
