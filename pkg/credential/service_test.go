package credential

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxcode/core/pkg/retry"
)

type stubIssuer struct {
	mu       sync.Mutex
	calls    int32
	results  []func() (KeyInfo, error)
	fallback func() (KeyInfo, error)
}

func (s *stubIssuer) IssueEphemeralKey(ctx context.Context) (KeyInfo, error) {
	n := atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := int(n) - 1
	if idx < len(s.results) {
		return s.results[idx]()
	}
	return s.fallback()
}

func TestRequestEphemeralKeySucceeds(t *testing.T) {
	issuer := &stubIssuer{fallback: func() (KeyInfo, error) {
		return KeyInfo{Key: "k1", SessionID: "s1", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}
	svc := NewService(Config{Issuer: issuer, Margin: time.Second})

	var renewed KeyInfo
	svc.OnKeyRenewed(func(k KeyInfo) { renewed = k })

	result := svc.RequestEphemeralKey(context.Background())
	if !result.Success {
		t.Fatalf("expected success, got error %v", result.Error)
	}
	if result.Key.Key != "k1" {
		t.Fatalf("key = %q, want k1", result.Key.Key)
	}
	if renewed.Key != "k1" {
		t.Fatal("expected OnKeyRenewed to fire with the new key")
	}
	svc.Dispose()
}

func TestGetCurrentKeyReflectsLastIssued(t *testing.T) {
	issuer := &stubIssuer{fallback: func() (KeyInfo, error) {
		return KeyInfo{Key: "current", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}
	svc := NewService(Config{Issuer: issuer, Margin: time.Second})

	if svc.GetCurrentKey() != nil {
		t.Fatal("expected nil current key before first request")
	}
	svc.RequestEphemeralKey(context.Background())
	if got := svc.GetCurrentKey(); got == nil || got.Key != "current" {
		t.Fatalf("GetCurrentKey() = %v, want key 'current'", got)
	}
	svc.Dispose()
}

func TestRenewalScheduledImmediatelyWhenMarginExceedsTTL(t *testing.T) {
	fired := make(chan struct{}, 1)
	calls := int32(0)
	issuer := &stubIssuer{fallback: func() (KeyInfo, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return KeyInfo{Key: "k1", ExpiresAt: time.Now().Add(2 * time.Millisecond)}, nil
		}
		select {
		case fired <- struct{}{}:
		default:
		}
		return KeyInfo{Key: "k2", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}

	svc := NewService(Config{Issuer: issuer, Margin: time.Hour})
	svc.RequestEphemeralKey(context.Background())

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected renewal to fire promptly when margin exceeds remaining TTL")
	}
	svc.Dispose()
}

func TestRenewalExhaustionFiresOnKeyExpired(t *testing.T) {
	issuer := &stubIssuer{fallback: func() (KeyInfo, error) {
		return KeyInfo{}, errors.New("issuer down")
	}}
	svc := NewService(Config{
		Issuer: issuer,
		Margin: time.Second,
		Envelope: retry.Envelope{
			Domain:      "auth",
			Policy:      retry.PolicyNone,
			MaxAttempts: 1,
		},
	})

	expired := make(chan KeyInfo, 1)
	svc.OnKeyExpired(func(k KeyInfo) { expired <- k })

	result := svc.RequestEphemeralKey(context.Background())
	if result.Success {
		t.Fatal("expected failure")
	}

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("expected OnKeyExpired to fire after retry exhaustion")
	}
	svc.Dispose()
}

func TestConcurrentRenewalsCoalesce(t *testing.T) {
	var calls int32
	issuer := &stubIssuer{fallback: func() (KeyInfo, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return KeyInfo{Key: "k", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}
	svc := NewService(Config{Issuer: issuer, Margin: time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.RenewKey(context.Background())
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("issuer calls = %d, want 1 (concurrent renewals should coalesce)", calls)
	}
	svc.Dispose()
}
