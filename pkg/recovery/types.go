package recovery

import "time"

// Strategy is a narrow callback interface the Transport injects into the
// Manager at construction, so Recovery never imports Transport directly
// and the two packages don't form an import cycle.
type Strategy interface {
	RestartICE() error
	RecreateDataChannel() error
}

// ErrorCode mirrors the subset of transport.ErrorCode the Recovery Manager
// acts on. Kept as a local string type rather than importing pkg/transport,
// for the same anti-cycle reason as Strategy.
type ErrorCode string

const (
	ErrIceConnectionFailed ErrorCode = "IceConnectionFailed"
	ErrNetworkTimeout      ErrorCode = "NetworkTimeout"
	ErrDataChannelFailed   ErrorCode = "DataChannelFailed"
)

// Config parameterizes the reconnect procedure, per §4.7.
type Config struct {
	BaseDelayMs       int64
	MaxAttempts       int
	BackoffMultiplier float64
	MaxDelayMs        int64
}

func (c Config) withDefaults() Config {
	if c.BaseDelayMs <= 0 {
		c.BaseDelayMs = 500
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2
	}
	if c.MaxDelayMs <= 0 {
		c.MaxDelayMs = 15000
	}
	return c
}

// ReconnectAttempt is published before each strategy invocation.
type ReconnectAttempt struct {
	Strategy string
	Attempt  int
	DelayMs  int64
}

// ReconnectSucceeded is published when a strategy invocation succeeds.
type ReconnectSucceeded struct {
	DurationMs int64
	Attempt    int
}

// ReconnectFailed is published after every attempt is exhausted.
type ReconnectFailed struct {
	Error error
}

// selectStrategyName resolves §4.7's "strategy selection by error code"
// table, defaulting unrecognized-but-recoverable codes to ICE restart.
func selectStrategyName(code ErrorCode) string {
	switch code {
	case ErrDataChannelFailed:
		return "recreateDataChannel"
	case ErrIceConnectionFailed, ErrNetworkTimeout:
		return "restartIce"
	default:
		return "restartIce"
	}
}

func delayForAttempt(cfg Config, attempt int) time.Duration {
	base := float64(cfg.BaseDelayMs)
	for i := 1; i < attempt; i++ {
		base *= cfg.BackoffMultiplier
	}
	if base > float64(cfg.MaxDelayMs) {
		base = float64(cfg.MaxDelayMs)
	}
	return time.Duration(base) * time.Millisecond
}
