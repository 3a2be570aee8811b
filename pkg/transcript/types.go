package transcript

import "time"

// EventKind classifies a raw realtime event by its type string, per §4.5.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindDelta
	KindFinal
	KindResponseDone
)

// deltaTypes and finalTypes enumerate the recognized wire event types from
// §4.5. response.done is handled separately since it terminates every
// utterance for a responseId rather than just one.
var deltaTypes = map[string]bool{
	"response.output_text.delta":                    true,
	"response.text.delta":                            true,
	"response.audio_transcript.delta":                true,
	"response.output_audio_transcript.delta":         true,
	"response.output_audio_transcription.delta":      true,
	"conversation.item.audio_transcription.delta":    true,
}

var finalTypes = map[string]bool{
	"response.output_text.done":                   true,
	"response.text.done":                           true,
	"response.audio_transcript.done":                true,
	"response.output_audio_transcript.done":         true,
	"response.output_audio_transcription.done":      true,
	"conversation.item.audio_transcription.completed": true,
}

// ClassifyKind maps a raw event type string to its EventKind.
func ClassifyKind(eventType string) EventKind {
	if eventType == "response.done" {
		return KindResponseDone
	}
	if deltaTypes[eventType] {
		return KindDelta
	}
	if finalTypes[eventType] {
		return KindFinal
	}
	return KindUnknown
}

// RawEvent is an inbound realtime event as decoded from the data channel,
// before text extraction.
type RawEvent struct {
	Type       string
	ResponseID string
	ItemID     string
	Text       string
	Confidence *float64
	Metadata   map[string]interface{}

	// Payload carries whichever of the four text-shape variants (§4.5) the
	// event used, so ExtractText can apply the priority rule without the
	// caller pre-deciding which shape it is.
	Payload interface{}
}

// UtteranceState is the aggregator's per-utterance record, keyed by
// utteranceId = responseId[-itemId], per §3.
type UtteranceState struct {
	UtteranceID     string
	SessionID       string
	Content         string
	ChunkCount      int
	Sequence        int
	StartTimestamp  time.Time
	LastUpdated     time.Time
	Confidence      *float64
	Metadata        map[string]interface{}
}

// DeltaEvent is emitted on every delta.
type DeltaEvent struct {
	UtteranceID string
	Delta       string
	Content     string
	Sequence    int
	Confidence  *float64
	Metadata    map[string]interface{}
}

// FinalEvent is emitted when an utterance finalizes, whether by its own
// .done/.completed event or by a response.done sweep.
type FinalEvent struct {
	UtteranceID string
	Content     string
	Metadata    map[string]interface{}
}

func utteranceID(responseID, itemID string) string {
	if itemID == "" {
		return responseID
	}
	return responseID + "-" + itemID
}
