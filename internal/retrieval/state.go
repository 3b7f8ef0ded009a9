package retrieval

import (
	"time"
)

// State is the retrieval state of one object. It is owned by the worker
// processing that object.
type State int

const (
	StateUnknown State = iota
	StateSkipped
	StateRestoring
	StateAvailable
	StateDownloading
	StateComplete
	StateFailed
	StateNotAttempted
)

var stateNames = map[State]string{
	StateUnknown:      "unknown",
	StateSkipped:      "skipped",
	StateRestoring:    "restoring",
	StateAvailable:    "available",
	StateDownloading:  "downloading",
	StateComplete:     "complete",
	StateFailed:       "failed",
	StateNotAttempted: "not_attempted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return "unknown"
}

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	switch s {
	case StateSkipped, StateComplete, StateFailed, StateNotAttempted:
		return true
	}

	return false
}

// Outcome is the terminal record of one object.
type Outcome struct {
	ID       string
	FileName string
	State    State
	Err      error
	Elapsed  time.Duration
	Polls    int   // status queries after the first one
	Bytes    int64 // bytes written to the final file
}

// Tally counts outcomes per terminal state.
func Tally(outcomes []Outcome) map[State]int {
	counts := make(map[State]int, 4)

	for _, o := range outcomes {
		counts[o.State]++
	}

	return counts
}
