package credential

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/voxcode/core/pkg/events"
	"github.com/voxcode/core/pkg/retry"
)

// defaultRenewalMargin is the lead time before expiresAt that a renewal is
// scheduled, per §6.3's session.renewalMarginSeconds default.
const defaultRenewalMargin = 10 * time.Second

// Service manages the ephemeral key lifecycle for one realtime session: it
// requests the initial key, schedules its own renewal ahead of expiry, and
// coalesces concurrent renewal attempts so only one is ever in flight.
type Service struct {
	issuer   TokenIssuer
	executor *retry.Executor
	envelope retry.Envelope
	margin   time.Duration
	logger   events.Logger

	group singleflight.Group

	mu        sync.RWMutex
	current   *KeyInfo
	renewTask Disposable

	onKeyRenewed         events.Emitter[KeyInfo]
	onKeyExpired         events.Emitter[KeyInfo]
	onAuthenticationErr  events.Emitter[error]
}

// Disposable is a local alias for events.Disposable, used to name the
// renewal timer's teardown handle in this package's own field type.
type Disposable = events.Disposable

// Config configures a Service.
type Config struct {
	Issuer   TokenIssuer
	Executor *retry.Executor
	Envelope retry.Envelope
	Margin   time.Duration
	Logger   events.Logger
}

// NewService builds a Service. A zero Margin falls back to
// defaultRenewalMargin; a zero Envelope.Domain is set to "auth" so the
// retry executor's circuit breaker is keyed correctly.
func NewService(cfg Config) *Service {
	if cfg.Margin <= 0 {
		cfg.Margin = defaultRenewalMargin
	}
	if cfg.Envelope.Domain == "" {
		cfg.Envelope.Domain = "auth"
	}
	if cfg.Logger == nil {
		cfg.Logger = events.NoOpLogger{}
	}
	if cfg.Executor == nil {
		cfg.Executor = retry.NewExecutor()
	}
	return &Service{
		issuer:   cfg.Issuer,
		executor: cfg.Executor,
		envelope: cfg.Envelope,
		margin:   cfg.Margin,
		logger:   cfg.Logger,
	}
}

// OnKeyRenewed fires whenever a new key is successfully obtained, including
// the first one issued by RequestEphemeralKey.
func (s *Service) OnKeyRenewed(handler func(KeyInfo)) Disposable {
	return s.onKeyRenewed.Subscribe(handler)
}

// OnKeyExpired fires once renewal exhausts its retry budget.
func (s *Service) OnKeyExpired(handler func(KeyInfo)) Disposable {
	return s.onKeyExpired.Subscribe(handler)
}

// OnAuthenticationError fires when the issuer rejects a request outright
// (fatal, non-retryable classification).
func (s *Service) OnAuthenticationError(handler func(error)) Disposable {
	return s.onAuthenticationErr.Subscribe(handler)
}

// RequestEphemeralKey obtains the first key for this service and arms its
// renewal timer.
func (s *Service) RequestEphemeralKey(ctx context.Context) RequestResult {
	result := s.fetch(ctx, "initial")
	if result.Success {
		s.armRenewal(ctx, *result.Key)
	}
	return result
}

// RenewKey forces an out-of-schedule renewal, coalesced with any renewal
// already in flight for this session.
func (s *Service) RenewKey(ctx context.Context) RequestResult {
	result := s.fetch(ctx, "renew")
	if result.Success {
		s.armRenewal(ctx, *result.Key)
	}
	return result
}

// GetCurrentKey returns the most recently issued key, or nil if none has
// been issued yet.
func (s *Service) GetCurrentKey() *KeyInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// fetch performs the actual issuance under the retry executor, coalescing
// concurrent calls through singleflight keyed by key to guarantee only one
// renewal is in flight per session at a time.
func (s *Service) fetch(ctx context.Context, key string) RequestResult {
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		info, err := retry.Execute(ctx, s.executor, s.envelope, key, func(ctx context.Context) (KeyInfo, error) {
			return s.issuer.IssueEphemeralKey(ctx)
		}, retry.Hooks{})
		if err != nil {
			return KeyInfo{}, err
		}
		return info, nil
	})

	if err != nil {
		if retry.IsFatal(err) {
			s.onAuthenticationErr.Emit(err)
		} else {
			s.emitExpired()
		}
		return RequestResult{Success: false, Error: err}
	}

	info := v.(KeyInfo)
	s.mu.Lock()
	s.current = &info
	s.mu.Unlock()

	s.onKeyRenewed.Emit(info)
	return RequestResult{Success: true, Key: &info}
}

func (s *Service) emitExpired() {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()
	if current != nil {
		s.onKeyExpired.Emit(*current)
	} else {
		s.onKeyExpired.Emit(KeyInfo{})
	}
}

// armRenewal schedules a renewal at expiresAt-margin, or immediately if the
// margin already covers the remaining TTL (B1). The previous timer, if any,
// is disposed first.
func (s *Service) armRenewal(ctx context.Context, info KeyInfo) {
	s.mu.Lock()
	if s.renewTask != nil {
		s.renewTask.Dispose()
	}
	delay := time.Until(info.ExpiresAt) - s.margin
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, func() {
		s.logger.Debug("credential renewal firing", "sessionID", info.SessionID)
		s.RenewKey(ctx)
	})
	s.renewTask = events.DisposableFunc(func() { timer.Stop() })
	s.mu.Unlock()
}

// Dispose cancels any pending renewal without renewing again.
func (s *Service) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.renewTask != nil {
		s.renewTask.Dispose()
		s.renewTask = nil
	}
}
