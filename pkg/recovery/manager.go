package recovery

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/voxcode/core/pkg/events"
)

// Manager implements the Connection Recovery Manager (C7): on transport
// failure it selects a strategy (ICE restart vs. data-channel recreation),
// applies backoff with jitter, and publishes reconnect telemetry, per §4.7.
type Manager struct {
	cfg      Config
	strategy Strategy
	logger   events.Logger

	mu        sync.Mutex
	recovering bool

	onAttempt   events.Emitter[ReconnectAttempt]
	onSucceeded events.Emitter[ReconnectSucceeded]
	onFailed    events.Emitter[ReconnectFailed]
}

// New builds a Manager. strategy supplies the ICE-restart and
// data-channel-recreation callbacks; it's injected rather than imported
// from pkg/transport to avoid a Transport<->Recovery import cycle.
func New(cfg Config, strategy Strategy, logger events.Logger) *Manager {
	if logger == nil {
		logger = events.NoOpLogger{}
	}
	return &Manager{cfg: cfg.withDefaults(), strategy: strategy, logger: logger}
}

func (m *Manager) OnAttempt(h func(ReconnectAttempt)) events.Disposable {
	return m.onAttempt.Subscribe(h)
}
func (m *Manager) OnSucceeded(h func(ReconnectSucceeded)) events.Disposable {
	return m.onSucceeded.Subscribe(h)
}
func (m *Manager) OnFailed(h func(ReconnectFailed)) events.Disposable {
	return m.onFailed.Subscribe(h)
}

// IsRecovering reports whether a recovery attempt is currently in flight.
func (m *Manager) IsRecovering() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recovering
}

// Recover runs the reconnect procedure from §4.7 for the given failure
// code. Only one recovery runs at a time; a concurrent call is rejected.
func (m *Manager) Recover(ctx context.Context, code ErrorCode) (bool, error) {
	m.mu.Lock()
	if m.recovering {
		m.mu.Unlock()
		return false, fmt.Errorf("recovery: already in progress")
	}
	m.recovering = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.recovering = false
		m.mu.Unlock()
	}()

	strategyName := selectStrategyName(code)
	started := time.Now()

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		delay := jitteredDelay(delayForAttempt(m.cfg, attempt))

		m.onAttempt.Emit(ReconnectAttempt{Strategy: strategyName, Attempt: attempt, DelayMs: delay.Milliseconds()})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}

		err := m.invoke(strategyName)
		if err == nil {
			m.onSucceeded.Emit(ReconnectSucceeded{DurationMs: time.Since(started).Milliseconds(), Attempt: attempt})
			return true, nil
		}
		m.logger.Warn("recovery attempt failed", "strategy", strategyName, "attempt", attempt, "error", err)
	}

	err := fmt.Errorf("recovery: exhausted %d attempts for strategy %s", m.cfg.MaxAttempts, strategyName)
	m.onFailed.Emit(ReconnectFailed{Error: err})
	return false, err
}

func (m *Manager) invoke(strategyName string) error {
	switch strategyName {
	case "recreateDataChannel":
		return m.strategy.RecreateDataChannel()
	default:
		return m.strategy.RestartICE()
	}
}

// jitteredDelay adds uniform jitter in [0, delay), per §4.7. Unlike the
// Retry Executor's deterministic jitter (bound by P5), Recovery's jitter
// has no determinism requirement, so it uses math/rand directly.
func jitteredDelay(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return delay + time.Duration(rand.Int63n(int64(delay)))
}
