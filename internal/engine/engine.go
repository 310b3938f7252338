// Package engine coordinates the offline-first mutation flow: try the remote
// now, queue on failure, replay queued intent when connectivity returns. One
// engine instance owns the pending queue and the Idle/Syncing state; every
// drain trigger funnels through the same guard so exactly one pass runs at a
// time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"driftsync/internal/actions"
	"driftsync/internal/config"
	"driftsync/internal/domain"
	"driftsync/internal/events"
	"driftsync/internal/metrics"
	"driftsync/internal/models"
	"driftsync/internal/queue"

	"github.com/rs/zerolog"
)

// ErrOffline reports that the immediate remote attempt was skipped because
// the device is offline. The operation was queued and will replay once
// connectivity returns.
var ErrOffline = errors.New("offline: operation queued for replay")

// Drain triggers, recorded per pass for logs and metrics.
const (
	TriggerRestore  = "restore"
	TriggerManual   = "manual"
	TriggerInterval = "interval"
)

// Queued-operation reasons carried on bus events.
const (
	reasonOffline          = "offline"
	reasonAttemptFailed    = "attempt_failed"
	reasonUnsupported      = "unsupported"
	reasonPermanent        = "permanent"
	reasonRetriesExhausted = "retries_exhausted"
)

type Engine struct {
	queue    *queue.Queue
	registry actions.Registry
	monitor  domain.ConnectivityMonitor
	bus      domain.EventPublisher
	logger   *zerolog.Logger

	maxRetries int
	interval   time.Duration // periodic re-drain; 0 keeps the engine event-driven

	mu      sync.Mutex
	syncing bool
}

func New(q *queue.Queue, registry actions.Registry, monitor domain.ConnectivityMonitor, bus domain.EventPublisher, cfg config.SyncConfig, logger *zerolog.Logger) *Engine {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &Engine{
		queue:      q,
		registry:   registry,
		monitor:    monitor,
		bus:        bus,
		logger:     logger,
		maxRetries: maxRetries,
		interval:   config.Duration(cfg.Interval, 0),
	}
}

// ExecuteOrQueue attempts action immediately. On success the queue is
// untouched. On a transient failure the operation is queued for replay and
// the failure is returned; the caller already applied its optimistic update
// and surfaces a "will retry" indicator. A failure the action classified as
// permanent is returned without queueing: the remote rejected the mutation
// as invalid, so replaying it can never succeed. While offline the doomed
// attempt is skipped, the operation is queued directly and ErrOffline is
// returned.
func (e *Engine) ExecuteOrQueue(ctx context.Context, op models.PendingOperation, action actions.Action) error {
	if err := op.Validate(); err != nil {
		return err
	}

	if !e.monitor.IsOnline() {
		e.enqueue(ctx, op, reasonOffline)
		return ErrOffline
	}

	err := action(ctx, op)
	if err == nil {
		return nil
	}

	if actions.IsPermanent(err) {
		e.logger.Warn().
			Err(err).
			Str("op_id", op.ID).
			Str("type", string(op.Type)).
			Str("entity_id", op.EntityID).
			Msg("Remote rejected operation, not queueing")
		return err
	}

	e.enqueue(ctx, op, reasonAttemptFailed)
	return fmt.Errorf("immediate attempt failed, operation queued: %w", err)
}

// ForceSync runs a drain pass on demand (pull-to-refresh, control API). The
// usual guards apply; it reports whether a pass actually ran.
func (e *Engine) ForceSync(ctx context.Context) bool {
	return e.drainPass(ctx, TriggerManual)
}

// Start registers the connectivity-restored callback and, when an interval
// is configured, re-drains periodically so transiently-failed work retries
// even without a connectivity transition. Blocks until ctx is done. Restore
// drains run on their own goroutine and join through the Syncing guard.
func (e *Engine) Start(ctx context.Context) {
	e.monitor.OnRestore(func() {
		go func() {
			if ctx.Err() != nil {
				return
			}
			e.drainPass(ctx, TriggerRestore)
		}()
	})

	e.logger.Info().
		Int("max_retries", e.maxRetries).
		Dur("interval", e.interval).
		Msg("Sync engine started")
	defer e.logger.Info().Msg("Sync engine stopped")

	if e.interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.drainPass(ctx, TriggerInterval)
		}
	}
}

// Online reports the monitor's current reachability.
func (e *Engine) Online() bool {
	return e.monitor.IsOnline()
}

// Syncing reports whether a drain pass is in flight.
func (e *Engine) Syncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

// PendingCount reports how many operations await replay.
func (e *Engine) PendingCount() int {
	return e.queue.Len()
}

// PendingOperations returns a copy of the queued operations.
func (e *Engine) PendingOperations() []models.PendingOperation {
	return e.queue.Snapshot()
}

// ClearQueue empties the pending set. Explicit user-invoked reset; queued
// intent is discarded, not replayed.
func (e *Engine) ClearQueue(ctx context.Context) error {
	cleared := e.queue.Len()
	if err := e.queue.Clear(ctx); err != nil {
		return err
	}

	e.logger.Info().Int("cleared", cleared).Msg("Pending queue cleared")
	if e.bus != nil {
		if err := e.bus.PublishJSON(events.EventQueueCleared, events.ClearedPayload{Cleared: cleared}); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to publish queue cleared event")
		}
	}
	return nil
}

// drainPass replays the current queue snapshot sequentially. Guard: online,
// not already syncing, queue non-empty; otherwise a no-op. Operations
// enqueued while the pass runs are not part of its snapshot; the next
// trigger picks them up. Reports whether a pass ran.
func (e *Engine) drainPass(ctx context.Context, trigger string) bool {
	if !e.monitor.IsOnline() {
		e.logger.Debug().Str("trigger", trigger).Msg("Skipping drain, offline")
		return false
	}
	if e.queue.Len() == 0 {
		return false
	}

	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		e.logger.Debug().Str("trigger", trigger).Msg("Skipping drain, pass already running")
		return false
	}
	e.syncing = true
	e.mu.Unlock()

	metrics.SetSyncing(true)
	metrics.IncSyncPass(trigger)
	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
		metrics.SetSyncing(false)
	}()

	snapshot := e.queue.Snapshot()
	e.logger.Info().Str("trigger", trigger).Int("pending", len(snapshot)).Msg("Drain pass started")

	remaining := make([]models.PendingOperation, 0, len(snapshot))
	var succeeded, retried, dropped int

	// Sequential on purpose: a complete followed by an uncomplete for the
	// same entity must replay in arrival order, never interleaved.
	for _, op := range snapshot {
		action, ok := e.registry.Lookup(op.Type)
		if !ok {
			// No replay strategy wired for this type.
			e.logger.Warn().
				Str("op_id", op.ID).
				Str("type", string(op.Type)).
				Msg("No action registered, dropping operation")
			metrics.IncReplayed(string(op.Type), metrics.ResultUnsupported)
			e.publishDropped(op, reasonUnsupported)
			dropped++
			continue
		}

		err := action(ctx, op)
		if err == nil {
			metrics.IncReplayed(string(op.Type), metrics.ResultSuccess)
			succeeded++
			continue
		}

		// One failure never aborts the pass; the loop always advances so a
		// perpetually-failing mutation cannot starve the rest.
		if actions.IsPermanent(err) {
			e.logger.Warn().
				Err(err).
				Str("op_id", op.ID).
				Str("type", string(op.Type)).
				Str("entity_id", op.EntityID).
				Msg("Remote rejected operation, dropping")
			metrics.IncReplayed(string(op.Type), metrics.ResultPermanent)
			e.publishDropped(op, reasonPermanent)
			dropped++
			continue
		}

		op.RetryCount++
		if op.RetryCount >= e.maxRetries {
			e.logger.Warn().
				Err(err).
				Str("op_id", op.ID).
				Str("type", string(op.Type)).
				Str("entity_id", op.EntityID).
				Int("retry_count", op.RetryCount).
				Msg("Retries exhausted, dropping operation")
			metrics.IncReplayed(string(op.Type), metrics.ResultDropped)
			e.publishDropped(op, reasonRetriesExhausted)
			dropped++
			continue
		}

		e.logger.Info().
			Err(err).
			Str("op_id", op.ID).
			Str("type", string(op.Type)).
			Int("retry_count", op.RetryCount).
			Msg("Replay failed, keeping for retry")
		metrics.IncReplayed(string(op.Type), metrics.ResultRetry)
		remaining = append(remaining, op)
		retried++
	}

	if err := e.queue.Replace(ctx, snapshot, remaining); err != nil {
		e.logger.Error().Err(err).Msg("Failed to persist queue after drain pass")
	}

	left := e.queue.Len()
	e.logger.Info().
		Str("trigger", trigger).
		Int("processed", len(snapshot)).
		Int("succeeded", succeeded).
		Int("retried", retried).
		Int("dropped", dropped).
		Int("remaining", left).
		Msg("Drain pass completed")

	if e.bus != nil {
		payload := events.SyncPassPayload{
			Trigger:   trigger,
			Processed: len(snapshot),
			Succeeded: succeeded,
			Retried:   retried,
			Dropped:   dropped,
			Remaining: left,
		}
		if err := e.bus.PublishJSON(events.EventSyncPassCompleted, payload); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to publish sync pass event")
		}
	}

	return true
}

// enqueue persists op for replay and announces it. A persistence error is
// logged, not returned: the in-memory queue still holds the intent and the
// caller's contract is about the remote attempt, not the store.
func (e *Engine) enqueue(ctx context.Context, op models.PendingOperation, reason string) {
	if err := e.queue.Enqueue(ctx, op); err != nil {
		e.logger.Error().
			Err(err).
			Str("op_id", op.ID).
			Str("type", string(op.Type)).
			Msg("Failed to persist queued operation")
	}

	e.logger.Info().
		Str("op_id", op.ID).
		Str("type", string(op.Type)).
		Str("entity_id", op.EntityID).
		Str("reason", reason).
		Msg("Operation queued for replay")

	if e.bus != nil {
		if err := e.bus.PublishJSON(events.EventOperationEnqueued, operationPayload(op, reason)); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to publish enqueued event")
		}
	}
}

func (e *Engine) publishDropped(op models.PendingOperation, reason string) {
	if e.bus == nil {
		return
	}
	if err := e.bus.PublishJSON(events.EventOperationDropped, operationPayload(op, reason)); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to publish dropped event")
	}
}

func operationPayload(op models.PendingOperation, reason string) events.OperationPayload {
	return events.OperationPayload{
		OperationID: op.ID,
		Type:        string(op.Type),
		EntityID:    op.EntityID,
		Date:        op.Date,
		RetryCount:  op.RetryCount,
		Reason:      reason,
	}
}
