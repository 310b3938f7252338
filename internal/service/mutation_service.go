// Package service exposes the mutation façade that optimistic-update call
// sites use. Each method records one user intent as a pending operation and
// hands it to the engine, so the immediate attempt and any later replay go
// through the same action.
package service

import (
	"context"
	"time"

	"driftsync/internal/actions"
	"driftsync/internal/domain"
	"driftsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type MutationService struct {
	executor domain.Executor
	registry actions.Registry
	logger   *zerolog.Logger
}

func NewMutationService(executor domain.Executor, registry actions.Registry, logger *zerolog.Logger) *MutationService {
	return &MutationService{
		executor: executor,
		registry: registry,
		logger:   logger,
	}
}

func (s *MutationService) CompleteTask(ctx context.Context, taskID string) error {
	return s.submit(ctx, models.PendingOperation{
		Type:     models.OpCompleteTask,
		EntityID: taskID,
	})
}

func (s *MutationService) UncompleteTask(ctx context.Context, taskID string) error {
	return s.submit(ctx, models.PendingOperation{
		Type:     models.OpUncompleteTask,
		EntityID: taskID,
	})
}

// CompleteRitual marks the ritual done for one calendar day. date uses
// YYYY-MM-DD; completions for different days are independent intents.
func (s *MutationService) CompleteRitual(ctx context.Context, ritualID, date string) error {
	return s.submit(ctx, models.PendingOperation{
		Type:     models.OpCompleteRitual,
		EntityID: ritualID,
		Date:     date,
	})
}

func (s *MutationService) UncompleteRitual(ctx context.Context, ritualID, date string) error {
	return s.submit(ctx, models.PendingOperation{
		Type:     models.OpUncompleteRitual,
		EntityID: ritualID,
		Date:     date,
	})
}

// CreateTask records a task creation. taskID is the locally generated task
// identifier; payload is the request body the remote expects.
func (s *MutationService) CreateTask(ctx context.Context, taskID string, payload []byte) error {
	return s.submit(ctx, models.PendingOperation{
		Type:     models.OpCreateTask,
		EntityID: taskID,
		Payload:  payload,
	})
}

func (s *MutationService) UpdateTask(ctx context.Context, taskID string, payload []byte) error {
	return s.submit(ctx, models.PendingOperation{
		Type:     models.OpUpdateTask,
		EntityID: taskID,
		Payload:  payload,
	})
}

func (s *MutationService) DeleteTask(ctx context.Context, taskID string) error {
	return s.submit(ctx, models.PendingOperation{
		Type:     models.OpDeleteTask,
		EntityID: taskID,
	})
}

func (s *MutationService) submit(ctx context.Context, op models.PendingOperation) error {
	op.ID = uuid.NewString()
	op.CreatedAt = time.Now().UTC()

	if err := op.Validate(); err != nil {
		s.logger.Error().
			Err(err).
			Str("type", string(op.Type)).
			Str("entity_id", op.EntityID).
			Msg("Rejecting invalid mutation")
		return err
	}

	action, ok := s.registry.Lookup(op.Type)
	if !ok {
		// No replay strategy wired for this type; treat the intent as
		// locally satisfied rather than failing the caller.
		s.logger.Debug().
			Str("type", string(op.Type)).
			Str("entity_id", op.EntityID).
			Msg("No action registered for mutation type")
		action = actions.Noop
	}

	return s.executor.ExecuteOrQueue(ctx, op, action)
}
