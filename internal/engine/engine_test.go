package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"driftsync/internal/actions"
	"driftsync/internal/config"
	"driftsync/internal/connectivity"
	"driftsync/internal/events"
	"driftsync/internal/models"
	"driftsync/internal/queue"
	"driftsync/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

// fakeAction counts calls and fails a configurable number of times before
// succeeding. failures < 0 fails forever.
type fakeAction struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
}

func (a *fakeAction) fn(_ context.Context, _ models.PendingOperation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.failures < 0 || a.calls <= a.failures {
		if a.err != nil {
			return a.err
		}
		return errors.New("remote unavailable")
	}
	return nil
}

func (a *fakeAction) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type harness struct {
	engine  *Engine
	queue   *queue.Queue
	store   *store.MemoryStore
	monitor *connectivity.ManualMonitor
	bus     *events.EventBus
}

func newHarness(t *testing.T, online bool, registry actions.Registry, cfg config.SyncConfig) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	q := queue.New(st, testLogger())
	bus := events.NewEventBus()
	monitor := connectivity.NewManualMonitor(online, 0, nil, testLogger())
	return &harness{
		engine:  New(q, registry, monitor, bus, cfg, testLogger()),
		queue:   q,
		store:   st,
		monitor: monitor,
		bus:     bus,
	}
}

func makeOp(opType models.OperationType, entityID, date string) models.PendingOperation {
	op := models.PendingOperation{
		ID:        uuid.NewString(),
		Type:      opType,
		EntityID:  entityID,
		Date:      date,
		CreatedAt: time.Now().UTC(),
	}
	if opType.RequiresPayload() {
		op.Payload = []byte(`{"title":"test"}`)
	}
	return op
}

func TestExecuteOrQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("SuccessLeavesQueueUntouched", func(t *testing.T) {
		h := newHarness(t, true, actions.NewRegistry(), config.SyncConfig{})
		action := &fakeAction{}

		err := h.engine.ExecuteOrQueue(ctx, makeOp(models.OpCompleteTask, "t1", ""), action.fn)
		require.NoError(t, err)
		assert.Equal(t, 1, action.callCount())
		assert.Equal(t, 0, h.engine.PendingCount())
	})

	t.Run("TransientFailureQueues", func(t *testing.T) {
		h := newHarness(t, true, actions.NewRegistry(), config.SyncConfig{})
		action := &fakeAction{failures: -1}

		op := makeOp(models.OpCompleteTask, "t1", "")
		err := h.engine.ExecuteOrQueue(ctx, op, action.fn)
		require.Error(t, err)

		pending := h.engine.PendingOperations()
		require.Len(t, pending, 1)
		assert.Equal(t, op.ID, pending[0].ID)
		assert.Equal(t, 0, pending[0].RetryCount, "initial attempt must not consume retries")

		persisted, loadErr := h.store.Load(ctx)
		require.NoError(t, loadErr)
		assert.Len(t, persisted, 1)
	})

	t.Run("OfflineShortCircuit", func(t *testing.T) {
		h := newHarness(t, false, actions.NewRegistry(), config.SyncConfig{})
		action := &fakeAction{}

		op := makeOp(models.OpCompleteTask, "t1", "")
		err := h.engine.ExecuteOrQueue(ctx, op, action.fn)
		require.ErrorIs(t, err, ErrOffline)
		assert.Equal(t, 0, action.callCount(), "offline must skip the doomed attempt")

		pending := h.engine.PendingOperations()
		require.Len(t, pending, 1)
		assert.Equal(t, 0, pending[0].RetryCount)
	})

	t.Run("PermanentFailureNotQueued", func(t *testing.T) {
		h := newHarness(t, true, actions.NewRegistry(), config.SyncConfig{})
		cause := actions.Permanent(errors.New("http 404"))
		action := &fakeAction{failures: -1, err: cause}

		err := h.engine.ExecuteOrQueue(ctx, makeOp(models.OpDeleteTask, "gone", ""), action.fn)
		require.Error(t, err)
		assert.True(t, actions.IsPermanent(err))
		assert.Equal(t, 0, h.engine.PendingCount())
	})

	t.Run("InvalidOperationRejected", func(t *testing.T) {
		h := newHarness(t, true, actions.NewRegistry(), config.SyncConfig{})
		action := &fakeAction{}

		op := makeOp(models.OpCreateTask, "t1", "")
		op.Payload = nil

		err := h.engine.ExecuteOrQueue(ctx, op, action.fn)
		require.Error(t, err)
		assert.Equal(t, 0, action.callCount())
		assert.Equal(t, 0, h.engine.PendingCount())
	})

	t.Run("PublishesEnqueuedEvent", func(t *testing.T) {
		h := newHarness(t, false, actions.NewRegistry(), config.SyncConfig{})

		var payloads []events.OperationPayload
		h.bus.Subscribe(events.EventOperationEnqueued, func(event *events.Event) error {
			var p events.OperationPayload
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				return err
			}
			payloads = append(payloads, p)
			return nil
		})

		op := makeOp(models.OpCompleteRitual, "r1", "2025-01-10")
		_ = h.engine.ExecuteOrQueue(ctx, op, (&fakeAction{}).fn)

		require.Len(t, payloads, 1)
		assert.Equal(t, op.ID, payloads[0].OperationID)
		assert.Equal(t, "offline", payloads[0].Reason)
		assert.Equal(t, "2025-01-10", payloads[0].Date)
	})
}

func TestDrainPass(t *testing.T) {
	ctx := context.Background()

	t.Run("AllSucceedEmptiesQueue", func(t *testing.T) {
		action := &fakeAction{}
		registry := actions.NewRegistry()
		registry.Register(models.OpCompleteTask, action.fn)
		registry.Register(models.OpDeleteTask, action.fn)

		h := newHarness(t, true, registry, config.SyncConfig{})
		require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpCompleteTask, "t1", "")))
		require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpCompleteTask, "t2", "")))
		require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpDeleteTask, "t3", "")))

		assert.True(t, h.engine.ForceSync(ctx))
		assert.Equal(t, 3, action.callCount())
		assert.Equal(t, 0, h.engine.PendingCount())

		persisted, err := h.store.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, persisted)
	})

	t.Run("ReplaysInArrivalOrder", func(t *testing.T) {
		var order []string
		registry := actions.NewRegistry()
		record := func(_ context.Context, op models.PendingOperation) error {
			order = append(order, string(op.Type))
			return nil
		}
		registry.Register(models.OpCompleteRitual, record)
		registry.Register(models.OpUncompleteRitual, record)

		h := newHarness(t, true, registry, config.SyncConfig{})
		require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpCompleteRitual, "r1", "2025-01-10")))
		require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpUncompleteRitual, "r1", "2025-01-10")))

		require.Equal(t, 2, h.engine.PendingCount(), "different types for one entity must coexist")
		assert.True(t, h.engine.ForceSync(ctx))
		assert.Equal(t, []string{"complete_ritual", "uncomplete_ritual"}, order)
		assert.Equal(t, 0, h.engine.PendingCount())
	})

	t.Run("TransientFailureIncrementsRetryAndKeepsOrder", func(t *testing.T) {
		flaky := &fakeAction{failures: -1}
		solid := &fakeAction{}
		registry := actions.NewRegistry()
		registry.Register(models.OpCompleteTask, flaky.fn)
		registry.Register(models.OpDeleteTask, solid.fn)

		h := newHarness(t, true, registry, config.SyncConfig{MaxRetries: 3})
		failing := makeOp(models.OpCompleteTask, "t1", "")
		require.NoError(t, h.queue.Enqueue(ctx, failing))
		require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpDeleteTask, "t2", "")))

		assert.True(t, h.engine.ForceSync(ctx))

		pending := h.engine.PendingOperations()
		require.Len(t, pending, 1, "one operation's failure must not starve the rest")
		assert.Equal(t, failing.ID, pending[0].ID)
		assert.Equal(t, 1, pending[0].RetryCount)
		assert.Equal(t, 1, solid.callCount())
	})

	t.Run("RetriesExhaustedAfterMaxPasses", func(t *testing.T) {
		action := &fakeAction{failures: -1}
		registry := actions.NewRegistry()
		registry.Register(models.OpCompleteTask, action.fn)

		h := newHarness(t, true, registry, config.SyncConfig{MaxRetries: 3})
		require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpCompleteTask, "t1", "")))

		for i := 0; i < 3; i++ {
			assert.True(t, h.engine.ForceSync(ctx), "pass %d", i+1)
		}

		assert.Equal(t, 3, action.callCount())
		assert.Equal(t, 0, h.engine.PendingCount(), "third failure must drop the operation")
		assert.False(t, h.engine.ForceSync(ctx), "fourth drain has nothing to process")
		assert.Equal(t, 3, action.callCount())
	})

	t.Run("PermanentFailureDroppedImmediately", func(t *testing.T) {
		action := &fakeAction{failures: -1, err: actions.Permanent(errors.New("http 410"))}
		registry := actions.NewRegistry()
		registry.Register(models.OpUpdateTask, action.fn)

		h := newHarness(t, true, registry, config.SyncConfig{MaxRetries: 3})
		require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpUpdateTask, "gone", "")))

		var dropped []events.OperationPayload
		h.bus.Subscribe(events.EventOperationDropped, func(event *events.Event) error {
			var p events.OperationPayload
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				return err
			}
			dropped = append(dropped, p)
			return nil
		})

		assert.True(t, h.engine.ForceSync(ctx))
		assert.Equal(t, 1, action.callCount())
		assert.Equal(t, 0, h.engine.PendingCount())
		require.Len(t, dropped, 1)
		assert.Equal(t, "permanent", dropped[0].Reason)
	})

	t.Run("UnregisteredTypeDroppedPassContinues", func(t *testing.T) {
		action := &fakeAction{}
		registry := actions.NewRegistry()
		registry.Register(models.OpCompleteTask, action.fn)

		h := newHarness(t, true, registry, config.SyncConfig{})
		require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpCreateTask, "t1", "")))
		require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpCompleteTask, "t2", "")))

		assert.True(t, h.engine.ForceSync(ctx))
		assert.Equal(t, 1, action.callCount())
		assert.Equal(t, 0, h.engine.PendingCount())
	})

	t.Run("OfflineIsNoOp", func(t *testing.T) {
		action := &fakeAction{}
		registry := actions.NewRegistry()
		registry.Register(models.OpCompleteTask, action.fn)

		h := newHarness(t, false, registry, config.SyncConfig{})
		require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpCompleteTask, "t1", "")))

		assert.False(t, h.engine.ForceSync(ctx))
		assert.Equal(t, 0, action.callCount())
		assert.Equal(t, 1, h.engine.PendingCount())
	})

	t.Run("EmptyQueueIsNoOp", func(t *testing.T) {
		h := newHarness(t, true, actions.NewRegistry(), config.SyncConfig{})
		assert.False(t, h.engine.ForceSync(ctx))
	})

	t.Run("SecondRequestWhileSyncingIsNoOp", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})
		var calls int
		registry := actions.NewRegistry()
		registry.Register(models.OpCompleteTask, func(_ context.Context, _ models.PendingOperation) error {
			calls++
			close(started)
			<-release
			return nil
		})

		h := newHarness(t, true, registry, config.SyncConfig{})
		require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpCompleteTask, "t1", "")))

		firstDone := make(chan bool)
		go func() { firstDone <- h.engine.ForceSync(ctx) }()

		<-started
		assert.True(t, h.engine.Syncing())
		assert.False(t, h.engine.ForceSync(ctx), "second drain while syncing must be a no-op")

		close(release)
		assert.True(t, <-firstDone)
		assert.Equal(t, 1, calls, "the blocked pass must be the only one that ran")
		assert.False(t, h.engine.Syncing())
	})

	t.Run("MidPassEnqueueLeftForNextTrigger", func(t *testing.T) {
		registry := actions.NewRegistry()
		h := newHarness(t, true, registry, config.SyncConfig{})

		late := makeOp(models.OpDeleteTask, "t9", "")
		registry.Register(models.OpCompleteTask, func(_ context.Context, _ models.PendingOperation) error {
			// Arrives while the pass is replaying its snapshot.
			require.NoError(t, h.queue.Enqueue(ctx, late))
			return nil
		})

		require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpCompleteTask, "t1", "")))

		assert.True(t, h.engine.ForceSync(ctx))

		pending := h.engine.PendingOperations()
		require.Len(t, pending, 1, "mid-pass enqueue must survive the pass")
		assert.Equal(t, late.ID, pending[0].ID)
	})

	t.Run("PublishesPassCompletedEvent", func(t *testing.T) {
		flaky := &fakeAction{failures: -1}
		solid := &fakeAction{}
		registry := actions.NewRegistry()
		registry.Register(models.OpCompleteTask, solid.fn)
		registry.Register(models.OpUncompleteTask, flaky.fn)

		h := newHarness(t, true, registry, config.SyncConfig{MaxRetries: 3})
		require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpCompleteTask, "t1", "")))
		require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpUncompleteTask, "t2", "")))
		require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpCreateTask, "t3", "")))

		var passes []events.SyncPassPayload
		h.bus.Subscribe(events.EventSyncPassCompleted, func(event *events.Event) error {
			var p events.SyncPassPayload
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				return err
			}
			passes = append(passes, p)
			return nil
		})

		assert.True(t, h.engine.ForceSync(ctx))

		require.Len(t, passes, 1)
		assert.Equal(t, TriggerManual, passes[0].Trigger)
		assert.Equal(t, 3, passes[0].Processed)
		assert.Equal(t, 1, passes[0].Succeeded)
		assert.Equal(t, 1, passes[0].Retried)
		assert.Equal(t, 1, passes[0].Dropped)
		assert.Equal(t, 1, passes[0].Remaining)
	})
}

func TestConnectivityRestoreTriggersDrain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	action := &fakeAction{}
	registry := actions.NewRegistry()
	registry.Register(models.OpCompleteTask, action.fn)

	h := newHarness(t, false, registry, config.SyncConfig{})

	// Offline attempt: skips the network, queues the intent.
	err := h.engine.ExecuteOrQueue(ctx, makeOp(models.OpCompleteTask, "t1", ""), action.fn)
	require.ErrorIs(t, err, ErrOffline)
	require.Equal(t, 1, h.engine.PendingCount())

	go h.engine.Start(ctx)
	// Let Start register the restore callback before flipping connectivity.
	time.Sleep(20 * time.Millisecond)

	h.monitor.SetOnline(true)

	waitFor(t, func() bool { return h.engine.PendingCount() == 0 })
	assert.Equal(t, 1, action.callCount())
}

func TestPeriodicRedrain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	action := &fakeAction{failures: 1}
	registry := actions.NewRegistry()
	registry.Register(models.OpCompleteTask, action.fn)

	h := newHarness(t, true, registry, config.SyncConfig{MaxRetries: 5, Interval: "10ms"})
	require.NoError(t, h.queue.Enqueue(context.Background(), makeOp(models.OpCompleteTask, "t1", "")))

	go h.engine.Start(ctx)

	// First tick fails the action, a later tick drains it.
	waitFor(t, func() bool { return h.engine.PendingCount() == 0 })
	assert.GreaterOrEqual(t, action.callCount(), 2)
}

func TestConcurrentCallersAndFlaps(t *testing.T) {
	ctx := context.Background()

	action := &fakeAction{failures: -1}
	registry := actions.NewRegistry()
	registry.Register(models.OpCompleteTask, action.fn)

	h := newHarness(t, true, registry, config.SyncConfig{MaxRetries: 100})

	const entities = 30
	var wg sync.WaitGroup
	wg.Add(entities + 2)

	for i := 0; i < entities; i++ {
		go func() {
			defer wg.Done()
			op := makeOp(models.OpCompleteTask, uuid.NewString(), "")
			_ = h.engine.ExecuteOrQueue(ctx, op, (&fakeAction{failures: -1}).fn)
		}()
	}
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			h.monitor.SetOnline(false)
			h.monitor.SetOnline(true)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			h.engine.ForceSync(ctx)
		}
	}()
	wg.Wait()

	// Every entity was unique and every attempt failed transiently, so no
	// entry may be lost or duplicated regardless of interleaving.
	pending := h.engine.PendingOperations()
	assert.Len(t, pending, entities)

	ids := make(map[string]struct{}, len(pending))
	for _, op := range pending {
		ids[op.ID] = struct{}{}
	}
	assert.Len(t, ids, entities, "duplicate ids would mean a corrupted queue")

	persisted, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, persisted, entities)
}

func TestClearQueue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true, actions.NewRegistry(), config.SyncConfig{})

	require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpCompleteTask, "t1", "")))
	require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpDeleteTask, "t2", "")))

	var cleared []events.ClearedPayload
	h.bus.Subscribe(events.EventQueueCleared, func(event *events.Event) error {
		var p events.ClearedPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return err
		}
		cleared = append(cleared, p)
		return nil
	})

	require.NoError(t, h.engine.ClearQueue(ctx))
	assert.Equal(t, 0, h.engine.PendingCount())
	require.Len(t, cleared, 1)
	assert.Equal(t, 2, cleared[0].Cleared)
}

func TestObservables(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true, actions.NewRegistry(), config.SyncConfig{})

	assert.True(t, h.engine.Online())
	assert.False(t, h.engine.Syncing())
	assert.Equal(t, 0, h.engine.PendingCount())

	h.monitor.SetOnline(false)
	assert.False(t, h.engine.Online())

	require.NoError(t, h.queue.Enqueue(ctx, makeOp(models.OpCompleteTask, "t1", "")))
	assert.Equal(t, 1, h.engine.PendingCount())
	require.Len(t, h.engine.PendingOperations(), 1)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not reached before deadline")
	}
}
