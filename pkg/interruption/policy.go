package interruption

import "time"

// Profile selects a barge-in policy, per §4.9.
type Profile string

const (
	ProfileStandard  Profile = "standard"
	ProfileAssertive Profile = "assertive"
	ProfileHandsFree Profile = "hands-free"
)

// FallbackMode describes what happens to suppressed speech when barge-in
// isn't allowed.
type FallbackMode string

const (
	FallbackIgnore FallbackMode = "ignore"
	FallbackQueue  FallbackMode = "queue"
)

// PolicyParams are the tunable knobs behind a Profile.
type PolicyParams struct {
	AllowBargeIn         bool
	InterruptionBudgetMs int64
	CompletionGraceMs    int64
	SpeechStopDebounceMs int64
	FallbackMode         FallbackMode
}

// policyTable is a literal map, not a switch, matching the teacher's
// DefaultConfig()-style literal tables (e.g. orchestrator.DefaultConfig()).
var policyTable = map[Profile]PolicyParams{
	ProfileStandard: {
		AllowBargeIn:         true,
		InterruptionBudgetMs: 400,
		CompletionGraceMs:    250,
		SpeechStopDebounceMs: 150,
		FallbackMode:         FallbackIgnore,
	},
	ProfileAssertive: {
		AllowBargeIn:         true,
		InterruptionBudgetMs: 220,
		CompletionGraceMs:    120,
		SpeechStopDebounceMs: 80,
		FallbackMode:         FallbackIgnore,
	},
	ProfileHandsFree: {
		AllowBargeIn:         false,
		InterruptionBudgetMs: 0,
		CompletionGraceMs:    400,
		SpeechStopDebounceMs: 300,
		FallbackMode:         FallbackQueue,
	},
}

// ParamsFor returns the parameters for profile, defaulting to standard for
// an unrecognized value.
func ParamsFor(profile Profile) PolicyParams {
	if p, ok := policyTable[profile]; ok {
		return p
	}
	return policyTable[ProfileStandard]
}

func (p PolicyParams) debounce() time.Duration {
	return time.Duration(p.SpeechStopDebounceMs) * time.Millisecond
}

func (p PolicyParams) grace() time.Duration {
	return time.Duration(p.CompletionGraceMs) * time.Millisecond
}
