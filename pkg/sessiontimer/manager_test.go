package sessiontimer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestStartSessionFiresRenewalAtDeadline(t *testing.T) {
	m := NewManager()
	fired := make(chan string, 1)

	m.StartSession("sess-1", time.Now().Add(20*time.Millisecond), Config{
		InactivityTimeout: time.Hour,
		HeartbeatInterval: time.Hour,
	}, Callbacks{
		OnRenewalRequired: func(id string) { fired <- id },
	})
	defer m.EndSession("sess-1")

	select {
	case id := <-fired:
		if id != "sess-1" {
			t.Fatalf("sessionID = %q, want sess-1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("renewal callback did not fire")
	}
}

func TestStartSessionFiresHeartbeatRepeatedly(t *testing.T) {
	m := NewManager()
	var count int32

	m.StartSession("sess-1", time.Now().Add(time.Hour), Config{
		InactivityTimeout: time.Hour,
		HeartbeatInterval: 10 * time.Millisecond,
	}, Callbacks{
		OnHeartbeatCheck: func(string) { atomic.AddInt32(&count, 1) },
	})
	defer m.EndSession("sess-1")

	time.Sleep(55 * time.Millisecond)
	if atomic.LoadInt32(&count) < 2 {
		t.Fatalf("heartbeat fired %d times, want at least 2", count)
	}
}

func TestNotifyActivityResetsInactivityTimer(t *testing.T) {
	m := NewManager()
	fired := make(chan struct{}, 1)

	m.StartSession("sess-1", time.Now().Add(time.Hour), Config{
		InactivityTimeout: 40 * time.Millisecond,
		HeartbeatInterval: time.Hour,
	}, Callbacks{
		OnTimeoutExpired: func(string) { fired <- struct{}{} },
	})
	defer m.EndSession("sess-1")

	time.Sleep(20 * time.Millisecond)
	m.NotifyActivity("sess-1", 40*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	select {
	case <-fired:
		t.Fatal("inactivity timer should not have fired yet after reset")
	default:
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("inactivity timer never fired after reset")
	}
}

func TestEndSessionStopsAllTimers(t *testing.T) {
	m := NewManager()
	renewalFired := int32(0)
	heartbeatFired := int32(0)

	m.StartSession("sess-1", time.Now().Add(30*time.Millisecond), Config{
		InactivityTimeout: time.Hour,
		HeartbeatInterval: 10 * time.Millisecond,
	}, Callbacks{
		OnRenewalRequired: func(string) { atomic.AddInt32(&renewalFired, 1) },
		OnHeartbeatCheck:  func(string) { atomic.AddInt32(&heartbeatFired, 1) },
	})

	if err := m.EndSession("sess-1"); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&renewalFired) != 0 {
		t.Fatal("renewal fired after EndSession")
	}
	if atomic.LoadInt32(&heartbeatFired) != 0 {
		t.Fatal("heartbeat fired after EndSession")
	}
}

func TestGetTimerStatusReportsRemainingTime(t *testing.T) {
	m := NewManager()
	m.StartSession("sess-1", time.Now().Add(time.Hour), Config{
		InactivityTimeout: time.Hour,
		HeartbeatInterval: time.Hour,
	}, Callbacks{})
	defer m.EndSession("sess-1")

	status := m.GetTimerStatus("sess-1")
	if !status.Renewal.Active || status.Renewal.Remaining <= 0 {
		t.Fatalf("renewal status = %+v, want active with positive remaining", status.Renewal)
	}
	if !status.Heartbeat.Active {
		t.Fatal("expected heartbeat to be active")
	}
}

func TestGetTimerStatusUnknownSessionReturnsZeroValue(t *testing.T) {
	m := NewManager()
	status := m.GetTimerStatus("nonexistent")
	if status.Renewal.Active {
		t.Fatal("expected zero-value status for unknown session")
	}
}

func TestRescheduleRenewalRearmsTimer(t *testing.T) {
	m := NewManager()
	fired := make(chan struct{}, 1)

	m.StartSession("sess-1", time.Now().Add(time.Hour), Config{
		InactivityTimeout: time.Hour,
		HeartbeatInterval: time.Hour,
	}, Callbacks{
		OnRenewalRequired: func(string) { fired <- struct{}{} },
	})
	defer m.EndSession("sess-1")

	m.RescheduleRenewal("sess-1", time.Now().Add(20*time.Millisecond))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("rescheduled renewal never fired")
	}
}
