package conversation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/voxcode/core/pkg/events"
	"github.com/voxcode/core/pkg/retry"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config parameterizes the machine's fault circuit breaker, per §4.8.
type Config struct {
	FaultWindow     time.Duration
	FaultThreshold  int
	FaultCoolDown   time.Duration
	InputQueueSize  int
	Clock           Clock
}

func (c Config) withDefaults() Config {
	if c.FaultWindow <= 0 {
		c.FaultWindow = 60 * time.Second
	}
	if c.FaultThreshold <= 0 {
		c.FaultThreshold = 3
	}
	if c.FaultCoolDown <= 0 {
		c.FaultCoolDown = 120 * time.Second
	}
	if c.InputQueueSize <= 0 {
		c.InputQueueSize = 256
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	return c
}

// transitionFunc applies in to the machine in its current state, returning
// the next state. Unrecognized transitions have no entry in the table, so
// they never reach a transitionFunc. Side effects (turn
// creation/completion/interruption) happen inside the func, before the
// returned state is committed.
type transitionFunc func(m *Machine, in Input) State

// Machine implements the Conversation State Machine (C8): a transition
// table driven by a single dedicated goroutine reading off a buffered
// input queue, giving total input ordering per §5 and the P4 determinism
// invariant (same input sequence always produces the same emitted
// state-changed path).
type Machine struct {
	cfg   Config
	table map[State]map[InputKind]transitionFunc

	mu      sync.Mutex
	state   State
	turn    *TurnContext
	snap    *suspendedSnapshot
	breaker *retry.SlidingWindowBreaker

	input  chan Input
	done   chan struct{}
	cancel context.CancelFunc

	onStateChanged    events.Emitter[StateChanged]
	onTurnEvent       events.Emitter[TurnEvent]
	onTranscriptEvent events.Emitter[Input]
}

// New builds a Machine in the idle state and wires the default transition
// table from §4.8.
func New(cfg Config) *Machine {
	cfg = cfg.withDefaults()
	m := &Machine{
		cfg:     cfg,
		state:   StateIdle,
		breaker: retry.NewSlidingWindowBreaker(cfg.FaultWindow, cfg.FaultThreshold, cfg.FaultCoolDown),
		input:   make(chan Input, cfg.InputQueueSize),
		done:    make(chan struct{}),
	}
	m.table = buildTransitionTable()
	return m
}

func (m *Machine) OnStateChanged(h func(StateChanged)) events.Disposable {
	return m.onStateChanged.Subscribe(h)
}
func (m *Machine) OnTurnEvent(h func(TurnEvent)) events.Disposable {
	return m.onTurnEvent.Subscribe(h)
}
func (m *Machine) OnTranscriptEvent(h func(Input)) events.Disposable {
	return m.onTranscriptEvent.Subscribe(h)
}

// CurrentState returns the machine's current state.
func (m *Machine) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentTurn returns a copy of the active turn, or nil if none.
func (m *Machine) CurrentTurn() *TurnContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.turn == nil {
		return nil
	}
	cp := *m.turn
	return &cp
}

// Run is the input-processing loop. It blocks until the context is
// cancelled or Stop is called, so callers run it on its own goroutine.
func (m *Machine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-m.input:
			m.apply(in)
		}
	}
}

// Stop cancels the processing goroutine and waits for it to exit.
func (m *Machine) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

// Submit enqueues an input for processing. It never blocks the caller on
// machine logic — only on the queue being full, which indicates a stuck
// consumer.
func (m *Machine) Submit(in Input) error {
	select {
	case m.input <- in:
		return nil
	default:
		return fmt.Errorf("conversation: input queue full")
	}
}

func (m *Machine) apply(in Input) {
	now := m.cfg.Clock.Now()

	m.mu.Lock()
	from := m.state

	if in.Kind != InputError {
		m.onTranscriptEvent.Emit(in)
	}

	if from == StateFaulted && m.breaker.IsOpen(now) {
		if in.Kind != InputSystemResume || !m.breaker.Allow(now) {
			m.onStateChanged.Emit(StateChanged{
				From:      from,
				To:        from,
				Cause:     in.Kind,
				Timestamp: now,
				Metadata:  map[string]interface{}{"circuitOpen": true},
			})
			m.mu.Unlock()
			return
		}
	}

	if in.Kind == InputError {
		m.breaker.Record(now)
		to := StateFaulted
		m.emitTransition(from, to, in, now)
		m.state = to
		m.mu.Unlock()
		return
	}

	byInput, ok := m.table[from]
	if !ok {
		m.mu.Unlock()
		return
	}
	fn, ok := byInput[in.Kind]
	if !ok {
		m.mu.Unlock()
		return
	}

	to := fn(m, in)
	m.emitTransition(from, to, in, now)
	m.state = to
	m.mu.Unlock()
}

// emitTransition must be called with mu held; it emits unconditionally,
// including no-op (from==to) transitions like listening+stt.partial.
func (m *Machine) emitTransition(from, to State, in Input, now time.Time) {
	var turn *TurnContext
	if m.turn != nil {
		cp := *m.turn
		turn = &cp
	}
	m.onStateChanged.Emit(StateChanged{From: from, To: to, Cause: in.Kind, Timestamp: now, TurnContext: turn, Metadata: transitionMetadata(from, in)})
}

// transitionMetadata augments the caller-supplied input metadata with
// machine-synthesized fields that describe work the transition itself
// triggers. A barge-in out of StateSpeaking always cancels the in-flight
// TTS playback, so its state-changed event carries
// metadata.pendingActions=["vad"] regardless of whether the caller set
// any metadata of its own, per §7/scenario 2.
func transitionMetadata(from State, in Input) map[string]interface{} {
	if from != StateSpeaking || in.Kind != InputUserInterrupt {
		return in.Metadata
	}
	meta := map[string]interface{}{"pendingActions": []string{"vad"}}
	for k, v := range in.Metadata {
		meta[k] = v
	}
	return meta
}

// ensureUserTurn creates a user turn if none is active, returning it.
// Must be called with mu held.
func (m *Machine) ensureUserTurn(now time.Time) *TurnContext {
	if m.turn != nil && m.turn.TurnRole == RoleUser {
		return m.turn
	}
	t := &TurnContext{TurnID: newTurnID(RoleUser), TurnRole: RoleUser, Since: now, Metadata: map[string]interface{}{}}
	m.turn = t
	m.onTurnEvent.Emit(TurnEvent{Type: TurnCreated, TurnContext: *t, Timestamp: now})
	return t
}

// ensureAssistantTurn creates an assistant turn if none is active.
// Must be called with mu held.
func (m *Machine) ensureAssistantTurn(now time.Time) *TurnContext {
	if m.turn != nil && m.turn.TurnRole == RoleAssistant {
		return m.turn
	}
	t := &TurnContext{TurnID: newTurnID(RoleAssistant), TurnRole: RoleAssistant, Since: now, Metadata: map[string]interface{}{}}
	m.turn = t
	m.onTurnEvent.Emit(TurnEvent{Type: TurnCreated, TurnContext: *t, Timestamp: now})
	return t
}

// completeTurn emits turn-completed and clears the active turn.
// Must be called with mu held.
func (m *Machine) completeTurn(now time.Time) {
	if m.turn == nil {
		return
	}
	done := *m.turn
	m.onTurnEvent.Emit(TurnEvent{Type: TurnCompleted, TurnContext: done, Timestamp: now})
	m.turn = nil
}

// interruptTurn increments the interruption counter on the active
// assistant turn and emits turn-interrupted. Must be called with mu held.
func (m *Machine) interruptTurn(now time.Time) {
	if m.turn == nil || m.turn.TurnRole != RoleAssistant {
		return
	}
	m.turn.Interruptions++
	m.onTurnEvent.Emit(TurnEvent{Type: TurnInterrupted, TurnContext: *m.turn, Timestamp: now})
	m.turn = nil
}

// turnSeq numbers turn ids in creation order across the process.
var turnSeq atomic.Uint64

// newTurnID returns "<role>-<seq>-<uuid>".
func newTurnID(role Role) string {
	return fmt.Sprintf("%s-%d-%s", role, turnSeq.Add(1), uuid.NewString())
}

func buildTransitionTable() map[State]map[InputKind]transitionFunc {
	t := map[State]map[InputKind]transitionFunc{}
	add := func(from State, kind InputKind, fn transitionFunc) {
		if t[from] == nil {
			t[from] = map[InputKind]transitionFunc{}
		}
		t[from][kind] = fn
	}

	add(StateIdle, InputUserStart, func(m *Machine, in Input) State {
		return StatePreparing
	})
	add(StatePreparing, InputSessionReady, func(m *Machine, in Input) State {
		return StateListening
	})

	add(StateListening, InputSTTPartial, func(m *Machine, in Input) State {
		now := m.cfg.Clock.Now()
		turn := m.ensureUserTurn(now)
		turn.Transcript += in.Text
		return StateListening
	})
	add(StateListening, InputVADEnd, func(m *Machine, in Input) State {
		return StateProcessing
	})

	add(StateProcessing, InputSTTFinal, func(m *Machine, in Input) State {
		now := m.cfg.Clock.Now()
		if m.turn != nil {
			m.turn.Transcript = in.Text
		}
		m.completeTurn(now)
		return StateProcessing
	})
	add(StateProcessing, InputCopilotRequest, func(m *Machine, in Input) State {
		return StateWaitingForCopilot
	})
	add(StateProcessing, InputTTSBufferReady, func(m *Machine, in Input) State {
		now := m.cfg.Clock.Now()
		m.ensureAssistantTurn(now)
		return StateSpeaking
	})

	add(StateWaitingForCopilot, InputCopilotResponse, func(m *Machine, in Input) State {
		now := m.cfg.Clock.Now()
		turn := m.ensureAssistantTurn(now)
		turn.Transcript += in.Text
		if in.Completed {
			return StateProcessing
		}
		return StateWaitingForCopilot
	})

	add(StateSpeaking, InputTTSComplete, func(m *Machine, in Input) State {
		now := m.cfg.Clock.Now()
		m.completeTurn(now)
		return StateListening
	})
	add(StateSpeaking, InputUserInterrupt, func(m *Machine, in Input) State {
		now := m.cfg.Clock.Now()
		m.interruptTurn(now)
		return StateInterrupted
	})

	add(StateInterrupted, InputSTTPartial, func(m *Machine, in Input) State {
		now := m.cfg.Clock.Now()
		turn := m.ensureUserTurn(now)
		turn.Transcript += in.Text
		return StateListening
	})

	for _, active := range []State{StateListening, StateProcessing, StateWaitingForCopilot, StateSpeaking, StateInterrupted, StatePreparing} {
		add(active, InputSystemSuspend, func(m *Machine, in Input) State {
			m.snap = &suspendedSnapshot{priorState: m.state, turn: m.turn}
			return StateSuspended
		})
	}

	add(StateSuspended, InputSystemResume, func(m *Machine, in Input) State {
		if m.snap == nil || m.snap.priorState == StateSuspended {
			return StateListening
		}
		restored := m.snap.priorState
		m.turn = m.snap.turn
		m.snap = nil
		return restored
	})

	add(StateFaulted, InputSystemResume, func(m *Machine, in Input) State {
		return StateListening
	})

	for _, any := range []State{StateIdle, StatePreparing, StateListening, StateProcessing, StateWaitingForCopilot, StateSpeaking, StateInterrupted, StateSuspended} {
		add(any, InputUserStop, func(m *Machine, in Input) State {
			return StateTerminating
		})
	}

	return t
}
