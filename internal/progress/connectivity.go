package progress

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// DefaultProbeInterval is how often connectivity is re-checked.
const DefaultProbeInterval = 5 * time.Second

// Prober checks whether the server is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// ConnectivityListener receives connectivity transitions.
type ConnectivityListener interface {
	SetOnline(ctx context.Context, online bool)
	Online() bool
}

// ConnectivityMonitor polls a Prober and reports transitions to a listener,
// standing in for the browser's online/offline events.
type ConnectivityMonitor struct {
	prober   Prober
	listener ConnectivityListener
	interval time.Duration
	clock    clockwork.Clock
	log      *zap.Logger
}

func NewConnectivityMonitor(prober Prober, listener ConnectivityListener, interval time.Duration, clock clockwork.Clock, log *zap.Logger) *ConnectivityMonitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ConnectivityMonitor{
		prober:   prober,
		listener: listener,
		interval: interval,
		clock:    clock,
		log:      log,
	}
}

// Check probes once and forwards a transition if the state changed.
func (m *ConnectivityMonitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	err := m.prober.Ping(probeCtx)
	cancel()

	online := err == nil
	if !online && m.listener.Online() {
		m.log.Info("server unreachable", zap.Error(err))
	}
	if online || m.listener.Online() {
		m.listener.SetOnline(ctx, online)
	}
	return online
}

// Run probes until ctx is cancelled.
func (m *ConnectivityMonitor) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.Check(ctx)
		}
	}
}
