package pipeline

import "fmt"

// State is the orchestrator's lifecycle position.
type State int

const (
	StateInit State = iota
	StateSkipping
	StateProcessing
	StateDone
	StateFailed
	StateInterrupted
)

var stateNames = [...]string{"init", "skipping", "processing", "done", "failed", "interrupted"}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateInterrupted
}
