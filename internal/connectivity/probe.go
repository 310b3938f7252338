package connectivity

import (
	"context"
	"math"
	"net/http"
	"time"

	"driftsync/internal/config"
	"driftsync/internal/domain"

	"github.com/rs/zerolog"
)

const probeTimeout = 5 * time.Second

// Backoff defines the exponential spacing of probes while offline, so a dead
// backend is not hammered at the regular interval.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
}

// Delay returns the wait before the next probe after failures consecutive
// misses (1-based) with clamping.
func (b Backoff) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if b.InitialDelay <= 0 {
		b.InitialDelay = time.Second
	}
	if b.Factor <= 0 {
		b.Factor = 2
	}

	delay := float64(b.InitialDelay) * math.Pow(b.Factor, float64(failures-1))
	d := time.Duration(delay)
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// ProbeMonitor discovers reachability by polling a backend endpoint. While
// online it probes at a fixed interval; while offline it backs off
// exponentially.
type ProbeMonitor struct {
	*notifier
	client   *http.Client
	probeURL string
	interval time.Duration
	backoff  Backoff
	logger   *zerolog.Logger
}

func NewProbeMonitor(cfg config.ConnectivityConfig, bus domain.EventPublisher, logger *zerolog.Logger) *ProbeMonitor {
	backoff := Backoff{
		InitialDelay: config.Duration(cfg.Backoff.InitialDelay, 2*time.Second),
		MaxDelay:     config.Duration(cfg.Backoff.MaxDelay, time.Minute),
		Factor:       cfg.Backoff.Factor,
	}

	return &ProbeMonitor{
		// Starts offline; the first successful probe flips it and fires
		// the restore callbacks, which drains anything queued before launch.
		notifier: newNotifier(false, config.Duration(cfg.Debounce, 2*time.Second), bus, logger),
		client:   &http.Client{Timeout: probeTimeout},
		probeURL: cfg.ProbeURL,
		interval: config.Duration(cfg.Interval, 30*time.Second),
		backoff:  backoff,
		logger:   logger,
	}
}

// Start probes until ctx is done. The first probe fires immediately.
func (m *ProbeMonitor) Start(ctx context.Context) {
	m.logger.Info().
		Str("probe_url", m.probeURL).
		Dur("interval", m.interval).
		Msg("Connectivity monitor started")
	defer m.logger.Info().Msg("Connectivity monitor stopped")

	failures := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if m.probe(ctx) {
			failures = 0
			m.setOnline(true)
			timer.Reset(m.interval)
			continue
		}

		failures++
		m.setOnline(false)
		timer.Reset(m.backoff.Delay(failures))
	}
}

func (m *ProbeMonitor) probe(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		m.logger.Error().Err(err).Str("probe_url", m.probeURL).Msg("Failed to build probe request")
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	// Any response below 500 proves the network path; auth errors still
	// mean the backend is reachable.
	return resp.StatusCode < http.StatusInternalServerError
}
