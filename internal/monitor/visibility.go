// Package monitor implements the exam tab visibility state machine.
package monitor

// State is the exam UI's visibility.
type State string

const (
	Visible State = "visible"
	Hidden  State = "hidden"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool { return s == Visible || s == Hidden }

// Signal tells the caller what a transition requires.
type Signal int

const (
	// SignalNone means nothing to surface (repeated state, or already tripped).
	SignalNone Signal = iota
	// SignalLeave is a counted Visible -> Hidden transition below the limit.
	SignalLeave
	// SignalWarning is a return to Visible; Outcome.Remaining holds the allowance.
	SignalWarning
	// SignalLimitReached fires once, on the leave that exhausts the allowance.
	SignalLimitReached
)

// Outcome is the result of applying one transition.
type Outcome struct {
	Signal    Signal
	Leaves    int
	Remaining int // leaves left before auto-submit; -1 when unlimited
}

// Visibility counts leave events for one session. It is not safe for
// concurrent use; a session is driven by a single loop.
type Visibility struct {
	limit   int
	leaves  int
	state   State
	tripped bool
}

// NewVisibility restores a monitor from a persisted leave count. A limit of 0
// counts leaves without ever tripping.
func NewVisibility(limit, leaves int) *Visibility {
	if leaves < 0 {
		leaves = 0
	}
	return &Visibility{
		limit:   limit,
		leaves:  leaves,
		state:   Visible,
		tripped: limit > 0 && leaves >= limit,
	}
}

// Apply feeds a visibility transition into the state machine.
func (v *Visibility) Apply(next State) Outcome {
	if v.tripped || next == v.state || !next.Valid() {
		return Outcome{Signal: SignalNone, Leaves: v.leaves, Remaining: v.remaining()}
	}
	v.state = next

	if next == Hidden {
		v.leaves++
		if v.limit > 0 && v.leaves >= v.limit {
			v.tripped = true
			return Outcome{Signal: SignalLimitReached, Leaves: v.leaves, Remaining: 0}
		}
		return Outcome{Signal: SignalLeave, Leaves: v.leaves, Remaining: v.remaining()}
	}

	return Outcome{Signal: SignalWarning, Leaves: v.leaves, Remaining: v.remaining()}
}

// Leaves returns the number of counted leave events.
func (v *Visibility) Leaves() int { return v.leaves }

// Tripped reports whether the limit has been reached.
func (v *Visibility) Tripped() bool { return v.tripped }

func (v *Visibility) remaining() int {
	if v.limit == 0 {
		return -1
	}
	if r := v.limit - v.leaves; r > 0 {
		return r
	}
	return 0
}
