package connectivity

import (
	"time"

	"driftsync/internal/domain"

	"github.com/rs/zerolog"
)

// ManualMonitor is driven by explicit reachability reports. Platforms that
// surface their own network callbacks feed them in through SetOnline; tests
// use it to script transitions.
type ManualMonitor struct {
	*notifier
}

func NewManualMonitor(online bool, debounce time.Duration, bus domain.EventPublisher, logger *zerolog.Logger) *ManualMonitor {
	return &ManualMonitor{
		notifier: newNotifier(online, debounce, bus, logger),
	}
}

// SetOnline reports the current reachability. Repeating the same state is a
// no-op; only edges notify.
func (m *ManualMonitor) SetOnline(online bool) {
	m.setOnline(online)
}
