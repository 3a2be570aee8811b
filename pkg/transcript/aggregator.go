package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/voxcode/core/pkg/events"
)

// Aggregator implements the Realtime Transcript Aggregator (C5): it turns
// a stream of delta/final/response.done events into transcript-delta and
// transcript-final events keyed by utterance.
//
// activeUtterances is a plain map behind a mutex: the aggregator is
// invoked from the transport's data-channel read goroutine, so even under
// the module's nominally single-threaded discipline it protects shared
// state the way the teacher's ConversationSession does.
type Aggregator struct {
	mu               sync.Mutex
	activeUtterances map[string]*UtteranceState
	clock            func() time.Time
	logger           events.Logger

	onDelta events.Emitter[DeltaEvent]
	onFinal events.Emitter[FinalEvent]
	onDrop  events.Emitter[RawEvent]
}

// NewAggregator creates an empty Aggregator.
func NewAggregator(logger events.Logger) *Aggregator {
	if logger == nil {
		logger = events.NoOpLogger{}
	}
	return &Aggregator{
		activeUtterances: make(map[string]*UtteranceState),
		clock:            time.Now,
		logger:           logger,
	}
}

// OnDelta subscribes to transcript-delta events.
func (a *Aggregator) OnDelta(h func(DeltaEvent)) events.Disposable { return a.onDelta.Subscribe(h) }

// OnFinal subscribes to transcript-final events.
func (a *Aggregator) OnFinal(h func(FinalEvent)) events.Disposable { return a.onFinal.Subscribe(h) }

// OnDropped subscribes to events dropped for lacking a response id.
func (a *Aggregator) OnDropped(h func(RawEvent)) events.Disposable { return a.onDrop.Subscribe(h) }

// HandleEvent routes ev per §4.5's state transitions.
func (a *Aggregator) HandleEvent(ev RawEvent) {
	if ev.ResponseID == "" {
		a.logger.Warn("transcript event dropped: missing response_id", "type", ev.Type)
		a.onDrop.Emit(ev)
		return
	}

	switch ClassifyKind(ev.Type) {
	case KindDelta:
		a.handleDelta(ev)
	case KindFinal:
		a.handleFinal(ev)
	case KindResponseDone:
		a.handleResponseDone(ev)
	default:
		a.logger.Debug("transcript event ignored: unrecognized type", "type", ev.Type)
	}
}

func (a *Aggregator) handleDelta(ev RawEvent) {
	text := ExtractText(ev.Payload)
	if text == "" {
		text = ev.Text
	}
	if text == "" {
		a.logger.Debug("transcript delta dropped: empty text", "type", ev.Type)
		return
	}

	id := utteranceID(ev.ResponseID, ev.ItemID)
	now := a.clock()

	a.mu.Lock()
	st, ok := a.activeUtterances[id]
	if !ok {
		st = &UtteranceState{
			UtteranceID:    id,
			StartTimestamp: now,
		}
		a.activeUtterances[id] = st
	}
	st.Content += text
	st.ChunkCount++
	st.Sequence++
	st.LastUpdated = now
	if ev.Confidence != nil {
		st.Confidence = ev.Confidence
	}
	st.Metadata = ev.Metadata

	delta := DeltaEvent{
		UtteranceID: id,
		Delta:       text,
		Content:     st.Content,
		Sequence:    st.Sequence,
		Confidence:  st.Confidence,
		Metadata:    st.Metadata,
	}
	a.mu.Unlock()

	a.onDelta.Emit(delta)
}

func (a *Aggregator) handleFinal(ev RawEvent) {
	id := utteranceID(ev.ResponseID, ev.ItemID)
	now := a.clock()

	a.mu.Lock()
	st, ok := a.activeUtterances[id]
	if !ok {
		st = &UtteranceState{UtteranceID: id, StartTimestamp: now}
	}
	if text := ExtractText(ev.Payload); text != "" {
		st.Content = text
	} else if ev.Text != "" {
		st.Content = ev.Text
	}
	endOffset := now.Sub(st.StartTimestamp).Milliseconds()
	if endOffset < 1 {
		endOffset = 1
	}
	metadata := mergeMetadata(st.Metadata, ev.Metadata)
	metadata["endOffsetMs"] = endOffset

	final := FinalEvent{UtteranceID: id, Content: st.Content, Metadata: metadata}
	delete(a.activeUtterances, id)
	a.mu.Unlock()

	a.onFinal.Emit(final)
}

// handleResponseDone finalizes every utterance whose utteranceId is either
// exactly the response id or prefixed "<responseId>-", per §4.5.
func (a *Aggregator) handleResponseDone(ev RawEvent) {
	now := a.clock()

	a.mu.Lock()
	var finals []FinalEvent
	for id, st := range a.activeUtterances {
		if id != ev.ResponseID && !strings.HasPrefix(id, ev.ResponseID+"-") {
			continue
		}
		endOffset := now.Sub(st.StartTimestamp).Milliseconds()
		if endOffset < 1 {
			endOffset = 1
		}
		metadata := mergeMetadata(st.Metadata, ev.Metadata)
		metadata["endOffsetMs"] = endOffset
		finals = append(finals, FinalEvent{UtteranceID: id, Content: st.Content, Metadata: metadata})
		delete(a.activeUtterances, id)
	}
	a.mu.Unlock()

	for _, f := range finals {
		a.onFinal.Emit(f)
	}
}

// ActiveCount reports how many utterances are currently open, mainly for
// tests/diagnostics.
func (a *Aggregator) ActiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.activeUtterances)
}

func mergeMetadata(base, overlay map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
