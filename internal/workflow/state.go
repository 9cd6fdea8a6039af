// Package workflow runs the per-request gate and prompt pipeline over a user document.
package workflow

// StopReason says why a run ended.
type StopReason string

const (
	StopBlock        StopReason = "block"
	StopInputTooLong StopReason = "input_exceeds_max_length"
	StopOverusage    StopReason = "overusage"
	StopFinish       StopReason = "finish"
)

// State is a pipeline stage.
type State int

const (
	StateBlacklistCheck State = iota + 1
	StateInputLengthCheck
	StateUsageLimitCheck
	StateFavorPrompt
	StatePersonaPrompt
	StateContextPrompt
	StateMemoryPrompt
	StateFinish
	StateReject
)

func (s State) String() string {
	switch s {
	case StateBlacklistCheck:
		return "blacklist_check"
	case StateInputLengthCheck:
		return "input_length_check"
	case StateUsageLimitCheck:
		return "usage_limit_check"
	case StateFavorPrompt:
		return "favor_prompt"
	case StatePersonaPrompt:
		return "persona_prompt"
	case StateContextPrompt:
		return "context_prompt"
	case StateMemoryPrompt:
		return "memory_prompt"
	case StateFinish:
		return "finish"
	case StateReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Step is the 1-based position reported as step_stopped_at.
func (s State) Step() int {
	if s >= StateBlacklistCheck && s <= StateMemoryPrompt {
		return int(s)
	}
	return 0
}

// Terminal reports whether no further stage runs.
func (s State) Terminal() bool {
	return s == StateFinish || s == StateReject
}

func (s State) next() State {
	if s.Terminal() || s == StateMemoryPrompt {
		return StateFinish
	}
	return s + 1
}
