package reachability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultInterval     = 15 * time.Second
	defaultProbeTimeout = 5 * time.Second
)

// Monitor probes an HTTP endpoint on an interval. Any response, whatever its
// status, counts as reachable; only transport failures count as offline.
type Monitor struct {
	*Switch
	client   *http.Client
	logger   *slog.Logger
	url      string
	interval time.Duration
}

// MonitorOption configures a Monitor
type MonitorOption func(*Monitor)

// WithInterval sets the probe interval
func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithHTTPClient sets the client used for probes
func WithHTTPClient(c *http.Client) MonitorOption {
	return func(m *Monitor) {
		if c != nil {
			m.client = c
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMonitor creates a monitor for url. It starts optimistic (online) until
// the first probe says otherwise.
func NewMonitor(url string, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		Switch:   NewSwitch(true),
		client:   &http.Client{Timeout: defaultProbeTimeout},
		logger:   slog.Default(),
		url:      url,
		interval: defaultInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start probes immediately and then on every tick until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs a single probe and updates the state.
func (m *Monitor) Check(ctx context.Context) bool {
	err := m.probe(ctx)
	online := err == nil
	if ctx.Err() != nil {
		return m.Online()
	}

	if m.Set(online) {
		if online {
			m.logger.Info("backend reachable again", "url", m.url)
		} else {
			m.logger.Warn("backend unreachable", "url", m.url, "error", err)
		}
	}
	return online
}

func (m *Monitor) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}
