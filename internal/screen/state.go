package screen

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of a single gated screen mount.
type State string

const (
	StateUnresolved         State = "unresolved"
	StateAuthenticatedAdmin State = "authenticated_admin"
	StatePermissionsLoading State = "permissions_loading"
	StatePermissionsLoaded  State = "permissions_loaded"
	StateDenied             State = "denied"
	StateUnauthenticated    State = "unauthenticated"
)

// ErrIllegalTransition reports a state change the mount lifecycle forbids.
var ErrIllegalTransition = errors.New("screen: illegal state transition")

var transitions = map[State][]State{
	StateUnresolved: {
		StateAuthenticatedAdmin,
		StatePermissionsLoading,
		StatePermissionsLoaded,
		StateDenied,
		StateUnauthenticated,
	},
	StatePermissionsLoading: {StatePermissionsLoaded, StateDenied},
}

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// machine tracks one mount. It is not safe for concurrent use; each mount
// owns its own machine.
type machine struct {
	state State
}

func newMachine() *machine {
	return &machine{state: StateUnresolved}
}

func (m *machine) advance(to State) error {
	if !CanTransition(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, to)
	}
	m.state = to
	return nil
}
