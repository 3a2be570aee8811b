package conversation

import "time"

// State is the Conversation State Machine's current position, per §4.8.
type State string

const (
	StateIdle              State = "idle"
	StatePreparing         State = "preparing"
	StateListening         State = "listening"
	StateProcessing        State = "processing"
	StateWaitingForCopilot State = "waitingForCopilot"
	StateSpeaking          State = "speaking"
	StateInterrupted       State = "interrupted"
	StateSuspended         State = "suspended"
	StateFaulted           State = "faulted"
	StateTerminating       State = "terminating"
)

// InputKind enumerates every event the machine reacts to, per §4.8.
type InputKind string

const (
	InputSessionReady     InputKind = "session.ready"
	InputSTTPartial       InputKind = "stt.partial"
	InputSTTFinal         InputKind = "stt.final"
	InputVADEnd           InputKind = "vad.end"
	InputCopilotRequest   InputKind = "copilot.request"
	InputCopilotResponse  InputKind = "copilot.response"
	InputTTSBufferReady   InputKind = "tts.bufferReady"
	InputTTSComplete      InputKind = "tts.complete"
	InputUserStart        InputKind = "user.start"
	InputUserStop         InputKind = "user.stop"
	InputUserInterrupt    InputKind = "user.interrupt"
	InputSystemSuspend    InputKind = "system.suspend"
	InputSystemResume     InputKind = "system.resume"
	InputSessionRenewal   InputKind = "session.renewal"
	InputSessionTimeout   InputKind = "session.timeout"
	InputError            InputKind = "error"
	InputTimerExpired     InputKind = "timer.expired"
)

// Role distinguishes a turn's speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TurnContext tracks the currently active conversational turn, per §3.
// Exactly one is active at a time; it's replaced only after
// turn-completed or turn-interrupted.
type TurnContext struct {
	TurnID        string
	TurnRole      Role
	Since         time.Time
	Transcript    string
	Confidence    *float64
	Interruptions int
	Metadata      map[string]interface{}
}

// Input is one event delivered to the machine's input queue.
type Input struct {
	Kind       InputKind
	Text       string
	Completed  bool
	Err        error
	Metadata   map[string]interface{}
}

// StateChanged is emitted on every transition, per §4.8.
type StateChanged struct {
	From        State
	To          State
	Cause       InputKind
	Timestamp   time.Time
	TurnContext *TurnContext
	Metadata    map[string]interface{}
}

// TurnEventType distinguishes the kinds of turn-lifecycle events emitted.
type TurnEventType string

const (
	TurnCreated     TurnEventType = "turn-started"
	TurnCompleted   TurnEventType = "turn-completed"
	TurnInterrupted TurnEventType = "turn-interrupted"
)

// TurnEvent is emitted whenever a turn is created, completed, or
// interrupted.
type TurnEvent struct {
	Type        TurnEventType
	TurnContext TurnContext
	Timestamp   time.Time
}

// suspendedSnapshot captures what Resume needs to restore after a Suspend.
type suspendedSnapshot struct {
	priorState State
	turn       *TurnContext
}
