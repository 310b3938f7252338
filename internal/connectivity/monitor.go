// Package connectivity tracks whether the backend is reachable and notifies
// listeners on transitions. Two monitors share the same bookkeeping: a probe
// monitor that polls an endpoint, and a manual one driven by platform
// callbacks or tests.
package connectivity

import (
	"sync"
	"time"

	"driftsync/internal/domain"
	"driftsync/internal/events"
	"driftsync/internal/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// notifier owns the online flag, subscriber fan-out and the debounced restore
// callbacks. Transitions are edge-triggered: reporting the current state again
// does nothing.
type notifier struct {
	mu          sync.Mutex
	online      bool
	subscribers []func(previous, current bool)
	onRestore   []func()
	restoreGate *rate.Limiter // nil means every restore fires
	bus         domain.EventPublisher
	logger      *zerolog.Logger
}

func newNotifier(online bool, debounce time.Duration, bus domain.EventPublisher, logger *zerolog.Logger) *notifier {
	n := &notifier{
		online: online,
		bus:    bus,
		logger: logger,
	}
	if debounce > 0 {
		n.restoreGate = rate.NewLimiter(rate.Every(debounce), 1)
	}
	metrics.SetOnline(online)
	return n
}

func (n *notifier) IsOnline() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

// OnRestore registers fn to run after each offline-to-online transition.
// Restores within the debounce window are suppressed, not delayed; the next
// genuine transition or a periodic pass covers them.
func (n *notifier) OnRestore(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onRestore = append(n.onRestore, fn)
}

// Subscribe registers fn to receive every transition as (previous, current).
func (n *notifier) Subscribe(fn func(previous, current bool)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscribers = append(n.subscribers, fn)
}

// setOnline records the reported state and, on a change, fans out to
// subscribers and restore callbacks. Callbacks run synchronously outside the
// lock so they may call back into the monitor.
func (n *notifier) setOnline(current bool) {
	n.mu.Lock()
	previous := n.online
	if previous == current {
		n.mu.Unlock()
		return
	}
	n.online = current

	subs := append(([]func(previous, current bool))(nil), n.subscribers...)
	var restores []func()
	if current && (n.restoreGate == nil || n.restoreGate.Allow()) {
		restores = append(([]func())(nil), n.onRestore...)
	}
	n.mu.Unlock()

	metrics.SetOnline(current)
	n.logger.Info().Bool("previous", previous).Bool("current", current).Msg("Connectivity changed")

	if n.bus != nil {
		if err := n.bus.PublishJSON(events.EventConnectivityChanged, events.ConnectivityPayload{
			Previous: previous,
			Current:  current,
		}); err != nil {
			n.logger.Warn().Err(err).Msg("Failed to publish connectivity event")
		}
	}

	for _, fn := range subs {
		fn(previous, current)
	}
	for _, fn := range restores {
		fn()
	}
}
