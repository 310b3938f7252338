// Package queue holds the ordered set of unconfirmed mutations awaiting
// replay. Arrival order is replay order; at most one entry exists per dedup
// key; every mutation is persisted before returning.
package queue

import (
	"context"
	"fmt"
	"sync"

	"driftsync/internal/domain"
	"driftsync/internal/metrics"
	"driftsync/internal/models"

	"github.com/rs/zerolog"
)

type Queue struct {
	mu     sync.Mutex
	ops    []models.PendingOperation
	store  domain.PendingStore
	logger *zerolog.Logger
}

func New(store domain.PendingStore, logger *zerolog.Logger) *Queue {
	return &Queue{
		store:  store,
		logger: logger,
	}
}

// Load reads the persisted pending set. Called once at startup so a relaunch
// resumes with exactly the last-known queue.
func (q *Queue) Load(ctx context.Context) error {
	ops, err := q.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending operations: %w", err)
	}

	q.mu.Lock()
	q.ops = ops
	metrics.SetPendingOps(len(ops))
	q.mu.Unlock()

	q.logger.Info().Int("pending", len(ops)).Msg("Loaded pending operations")
	return nil
}

// Enqueue removes any entry with the same dedup key, appends op, and persists.
// When persistence fails the in-memory queue still holds op, so the intent is
// not lost for the life of the process; the error is returned for logging.
func (q *Queue) Enqueue(ctx context.Context, op models.PendingOperation) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("refusing to enqueue operation: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	key := op.Key()
	next := make([]models.PendingOperation, 0, len(q.ops)+1)
	for _, existing := range q.ops {
		if existing.Key() == key {
			q.logger.Debug().
				Str("evicted_id", existing.ID).
				Str("op_id", op.ID).
				Str("type", string(op.Type)).
				Str("entity_id", op.EntityID).
				Msg("Superseding queued operation")
			continue
		}
		next = append(next, existing)
	}
	q.ops = append(next, op)

	metrics.IncEnqueued(string(op.Type))
	metrics.SetPendingOps(len(q.ops))

	return q.persist(ctx)
}

// Snapshot returns a copy of the current entries for a drain pass to iterate.
func (q *Queue) Snapshot() []models.PendingOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.PendingOperation(nil), q.ops...)
}

// Replace installs the post-pass queue contents and persists once. processed
// is the snapshot the pass iterated and remaining the subset it kept (with
// updated retry counts). Entries enqueued after the snapshot was taken are
// preserved; an entry the pass kept is dropped if a newer enqueue already
// superseded its dedup key mid-pass.
func (q *Queue) Replace(ctx context.Context, processed, remaining []models.PendingOperation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	processedIDs := make(map[string]struct{}, len(processed))
	for _, op := range processed {
		processedIDs[op.ID] = struct{}{}
	}
	keep := make(map[string]models.PendingOperation, len(remaining))
	for _, op := range remaining {
		keep[op.ID] = op
	}

	next := make([]models.PendingOperation, 0, len(q.ops))
	for _, current := range q.ops {
		if _, inPass := processedIDs[current.ID]; !inPass {
			// Arrived mid-pass, belongs to the next trigger
			next = append(next, current)
			continue
		}
		if updated, ok := keep[current.ID]; ok {
			next = append(next, updated)
		}
	}
	q.ops = next

	metrics.SetPendingOps(len(q.ops))
	return q.persist(ctx)
}

// Clear empties the queue and the store. Explicit user-invoked reset.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ops = nil
	metrics.SetPendingOps(0)

	if err := q.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear pending operations: %w", err)
	}
	return nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

func (q *Queue) persist(ctx context.Context) error {
	if err := q.store.Save(ctx, q.ops); err != nil {
		return fmt.Errorf("failed to persist pending operations: %w", err)
	}
	return nil
}
