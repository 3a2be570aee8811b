package interruption

import (
	"sync"
	"time"

	"github.com/voxcode/core/pkg/events"
)

// Interruption is emitted when sustained user speech overlaps assistant
// speaking and the active policy permits barge-in, per §4.9.
type Interruption struct {
	Source    string
	Timestamp time.Time
}

// TurnEnded is emitted immediately after Interruption, signalling the
// assistant turn should be force-ended.
type TurnEnded struct {
	Reason    string
	Timestamp time.Time
}

// Suppressed is emitted when user speech overlaps assistant speaking but
// the policy doesn't permit barge-in (hands-free). Speech that stops
// before the debounce window elapses emits no event at all.
type Suppressed struct {
	Reason    string
	Timestamp time.Time
}

// Engine implements the Interruption Engine (C9): it consumes VAD
// speech-started/stopped events and assistant-speaking transitions, and
// decides whether sustained overlap counts as a barge-in under the active
// policy profile.
//
// Debounce timing generalizes the teacher's RMSVAD "require N consecutive
// frames before confirming speech" hysteresis (vad.go's minConfirmed) into
// a single wall-clock debounce window, and echo/self-triggering avoidance
// generalizes EchoSuppressor's playback-aware suppression into the
// assistant-speaking gate below.
type Engine struct {
	mu         sync.Mutex
	params     PolicyParams
	speaking   bool // assistant TTS currently playing
	userActive bool // VAD currently reports user speech
	generation int
	pending    int

	onInterruption events.Emitter[Interruption]
	onTurnEnded    events.Emitter[TurnEnded]
	onSuppressed   events.Emitter[Suppressed]

	timer func(d time.Duration, f func()) func() bool
}

// New builds an Engine for the given profile.
func New(profile Profile) *Engine {
	e := &Engine{params: ParamsFor(profile)}
	e.timer = func(d time.Duration, f func()) func() bool {
		t := time.AfterFunc(d, f)
		return t.Stop
	}
	return e
}

func (e *Engine) OnInterruption(h func(Interruption)) events.Disposable {
	return e.onInterruption.Subscribe(h)
}
func (e *Engine) OnTurnEnded(h func(TurnEnded)) events.Disposable {
	return e.onTurnEnded.Subscribe(h)
}
func (e *Engine) OnSuppressed(h func(Suppressed)) events.Disposable {
	return e.onSuppressed.Subscribe(h)
}

// SetProfile swaps the active policy profile.
func (e *Engine) SetProfile(profile Profile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params = ParamsFor(profile)
}

// Params returns the currently active policy parameters.
func (e *Engine) Params() PolicyParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// PendingCount reports how many barge-in attempts were suppressed and
// queued under a hands-free-style fallback.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// NotifyAssistantSpeaking updates whether the assistant is currently
// producing TTS audio. Turning it off cancels any in-flight debounce.
func (e *Engine) NotifyAssistantSpeaking(speaking bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speaking = speaking
	if !speaking {
		e.generation++
	}
}

// NotifyUserSpeechStarted reports VAD speech-start. If the assistant is
// speaking and the active policy allows barge-in, a debounce timer starts;
// if speech is still sustained (no NotifyUserSpeechStopped) when it fires,
// the overlap is promoted to an Interruption.
func (e *Engine) NotifyUserSpeechStarted() {
	e.mu.Lock()
	e.userActive = true
	if !e.speaking {
		e.mu.Unlock()
		return
	}
	if !e.params.AllowBargeIn {
		if e.params.FallbackMode == FallbackQueue {
			e.pending++
		}
		reason := "barge-in disallowed by policy"
		e.mu.Unlock()
		e.onSuppressed.Emit(Suppressed{Reason: reason, Timestamp: time.Now()})
		return
	}

	e.generation++
	gen := e.generation
	debounce := e.params.debounce()
	e.mu.Unlock()

	e.timer(debounce, func() { e.evaluateBargeIn(gen) })
}

// NotifyUserSpeechStopped reports VAD speech-end, invalidating any
// in-flight debounce so a brief speech burst doesn't trigger a barge-in.
func (e *Engine) NotifyUserSpeechStopped() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userActive = false
	e.generation++
}

func (e *Engine) evaluateBargeIn(gen int) {
	e.mu.Lock()
	if gen != e.generation || !e.userActive || !e.speaking {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	now := time.Now()
	e.onInterruption.Emit(Interruption{Source: "vad", Timestamp: now})
	e.onTurnEnded.Emit(TurnEnded{Reason: "user-interrupt", Timestamp: now})
}
