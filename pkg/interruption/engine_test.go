package interruption

import (
	"sync"
	"testing"
	"time"
)

// manualTimer replaces time.AfterFunc with a synchronous, test-controlled
// trigger so debounce firing doesn't depend on real elapsed time.
type manualTimer struct {
	mu        sync.Mutex
	fire      func()
	cancelled bool
}

func installManualTimer(e *Engine) *manualTimer {
	mt := &manualTimer{}
	e.timer = func(d time.Duration, f func()) func() bool {
		mt.mu.Lock()
		mt.fire = f
		mt.mu.Unlock()
		return func() bool {
			mt.mu.Lock()
			defer mt.mu.Unlock()
			if mt.cancelled {
				return false
			}
			mt.cancelled = true
			return true
		}
	}
	return mt
}

func (mt *manualTimer) trigger() {
	mt.mu.Lock()
	f := mt.fire
	mt.mu.Unlock()
	if f != nil {
		f()
	}
}

func TestBargeInEmittedWhenSpeechSustainedDuringAssistantSpeaking(t *testing.T) {
	e := New(ProfileStandard)
	mt := installManualTimer(e)

	var interruptions []Interruption
	var turnEnded []TurnEnded
	e.OnInterruption(func(i Interruption) { interruptions = append(interruptions, i) })
	e.OnTurnEnded(func(te TurnEnded) { turnEnded = append(turnEnded, te) })

	e.NotifyAssistantSpeaking(true)
	e.NotifyUserSpeechStarted()
	mt.trigger()

	if len(interruptions) != 1 {
		t.Fatalf("got %d interruptions, want 1", len(interruptions))
	}
	if interruptions[0].Source != "vad" {
		t.Fatalf("Source = %q, want vad", interruptions[0].Source)
	}
	if len(turnEnded) != 1 {
		t.Fatalf("got %d turn-ended events, want 1", len(turnEnded))
	}
}

func TestBargeInSuppressedWhenSpeechStopsBeforeDebounce(t *testing.T) {
	e := New(ProfileStandard)
	mt := installManualTimer(e)

	var interruptions []Interruption
	e.OnInterruption(func(i Interruption) { interruptions = append(interruptions, i) })

	e.NotifyAssistantSpeaking(true)
	e.NotifyUserSpeechStarted()
	e.NotifyUserSpeechStopped()
	mt.trigger()

	if len(interruptions) != 0 {
		t.Fatalf("got %d interruptions, want 0 (speech didn't sustain)", len(interruptions))
	}
}

func TestBargeInIgnoredWhenAssistantNotSpeaking(t *testing.T) {
	e := New(ProfileStandard)
	installManualTimer(e)

	var interruptions []Interruption
	e.OnInterruption(func(i Interruption) { interruptions = append(interruptions, i) })

	e.NotifyUserSpeechStarted()

	if len(interruptions) != 0 {
		t.Fatal("expected no interruption when assistant isn't speaking")
	}
}

func TestHandsFreeProfileNeverBargesInAndQueuesPending(t *testing.T) {
	e := New(ProfileHandsFree)
	installManualTimer(e)

	var interruptions []Interruption
	var suppressed []Suppressed
	e.OnInterruption(func(i Interruption) { interruptions = append(interruptions, i) })
	e.OnSuppressed(func(s Suppressed) { suppressed = append(suppressed, s) })

	e.NotifyAssistantSpeaking(true)
	e.NotifyUserSpeechStarted()

	if len(interruptions) != 0 {
		t.Fatal("hands-free profile must never barge in")
	}
	if len(suppressed) != 1 {
		t.Fatalf("got %d suppressed events, want 1", len(suppressed))
	}
	if e.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1", e.PendingCount())
	}
}

func TestAssistantStoppingSpeakingCancelsPendingDebounce(t *testing.T) {
	e := New(ProfileStandard)
	mt := installManualTimer(e)

	var interruptions []Interruption
	e.OnInterruption(func(i Interruption) { interruptions = append(interruptions, i) })

	e.NotifyAssistantSpeaking(true)
	e.NotifyUserSpeechStarted()
	e.NotifyAssistantSpeaking(false)
	mt.trigger()

	if len(interruptions) != 0 {
		t.Fatal("expected no interruption once assistant stopped speaking before debounce fired")
	}
}

func TestAssertiveProfileHasTighterBudgetThanStandard(t *testing.T) {
	assertive := ParamsFor(ProfileAssertive)
	standard := ParamsFor(ProfileStandard)
	if assertive.InterruptionBudgetMs > 220 {
		t.Fatalf("assertive budget = %dms, want <= 220ms", assertive.InterruptionBudgetMs)
	}
	if assertive.CompletionGraceMs > 120 {
		t.Fatalf("assertive grace = %dms, want <= 120ms", assertive.CompletionGraceMs)
	}
	if assertive.InterruptionBudgetMs >= standard.InterruptionBudgetMs {
		t.Fatal("assertive budget should be tighter than standard")
	}
}

func TestHandsFreeProfileDisallowsBargeInAndHasLongGrace(t *testing.T) {
	p := ParamsFor(ProfileHandsFree)
	if p.AllowBargeIn {
		t.Fatal("hands-free must disallow barge-in")
	}
	if p.CompletionGraceMs < 400 {
		t.Fatalf("hands-free grace = %dms, want >= 400ms", p.CompletionGraceMs)
	}
}

func TestParamsForUnknownProfileDefaultsToStandard(t *testing.T) {
	got := ParamsFor(Profile("unknown"))
	want := ParamsFor(ProfileStandard)
	if got != want {
		t.Fatalf("ParamsFor(unknown) = %+v, want standard defaults %+v", got, want)
	}
}
