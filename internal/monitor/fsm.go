package monitor

// This file implements the heartbeat monitor's state machine as a pure
// function over a transition table -- no side effects, no socket
// dependency. The runtime in monitor.go executes the returned actions.
//
// State diagram:
//
//	          heartbeat                 heartbeat
//	 Starting ----------> Healthy <---------------+
//	    |                    |                    |
//	    | silence >= grace   | silence > timeout  |
//	    +------> Down <------+                    |
//	               |                              |
//	               +------------------------------+
//
// Degraded is reserved for late-but-arriving heartbeats and is not
// currently entered.

// State represents the monitor's view of the gateway.
type State uint8

const (
	// StateStarting means no heartbeat has been seen since process start.
	StateStarting State = iota

	// StateHealthy means heartbeats are arriving within the timeout.
	StateHealthy

	// StateDegraded is reserved for future use.
	StateDegraded

	// StateDown means the gateway has been silent past the timeout.
	StateDown
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateHealthy:
		return "Healthy"
	case StateDegraded:
		return "Degraded"
	case StateDown:
		return "Down"
	default:
		return "Unknown"
	}
}

// Event represents a monitor FSM event.
type Event uint8

const (
	// EventHeartbeat is the arrival of a well-formed heartbeat datagram.
	EventHeartbeat Event = iota

	// EventSilenceExpired fires when the gateway has been silent past the
	// timeout (or, in Starting, past the grace period).
	EventSilenceExpired
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventHeartbeat:
		return "Heartbeat"
	case EventSilenceExpired:
		return "SilenceExpired"
	default:
		return "Unknown"
	}
}

// Action represents a side-effect to execute after a transition. The FSM
// itself is a pure function; the runtime dispatches notifications and the
// restart hook.
type Action uint8

const (
	// ActionAlertDown dispatches a "down" notification (subject to the
	// runtime's cooldown) and arms the restart hook.
	ActionAlertDown Action = iota + 1

	// ActionAlertRecovery dispatches a "recovery" notification and
	// disarms the restart hook.
	ActionAlertRecovery
)

// String returns the human-readable name of the action.
func (a Action) String() string {
	switch a {
	case ActionAlertDown:
		return "AlertDown"
	case ActionAlertRecovery:
		return "AlertRecovery"
	default:
		return "Unknown"
	}
}

// stateEvent is the transition table key: current state + incoming event.
type stateEvent struct {
	state State
	event Event
}

// transition describes the target state and side-effects for a single
// FSM transition.
type transition struct {
	newState State
	actions  []Action
}

// FSMResult holds the outcome of applying an event.
type FSMResult struct {
	// OldState is the state before the event was applied.
	OldState State

	// NewState is the state after the event was applied.
	NewState State

	// Actions lists the side-effects the caller must execute.
	Actions []Action

	// Changed is true when NewState differs from OldState.
	Changed bool
}

// fsmTable is the complete monitor transition table. Unlisted pairs are
// self-loops with no actions.
//
//nolint:gochecknoglobals // FSM transition table is intentionally package-level.
var fsmTable = map[stateEvent]transition{
	// Starting: waiting for the first heartbeat since process start.

	// Starting + heartbeat -> Healthy. The first heartbeat is not a
	// recovery; nothing was ever reported down.
	{StateStarting, EventHeartbeat}: {
		newState: StateHealthy,
		actions:  nil,
	},

	// Starting + grace expired -> Down. The gateway never came up.
	{StateStarting, EventSilenceExpired}: {
		newState: StateDown,
		actions:  []Action{ActionAlertDown},
	},

	// Healthy: heartbeats arriving on schedule.

	// Healthy + heartbeat -> Healthy self-loop.
	{StateHealthy, EventHeartbeat}: {
		newState: StateHealthy,
		actions:  nil,
	},

	// Healthy + silence past timeout -> Down.
	{StateHealthy, EventSilenceExpired}: {
		newState: StateDown,
		actions:  []Action{ActionAlertDown},
	},

	// Down: outage in progress.

	// Down + heartbeat -> Healthy with a recovery notice.
	{StateDown, EventHeartbeat}: {
		newState: StateHealthy,
		actions:  []Action{ActionAlertRecovery},
	},

	// Down + silence continuing -> Down self-loop. The runtime's
	// cooldown decides whether to repeat the down alert.
	{StateDown, EventSilenceExpired}: {
		newState: StateDown,
		actions:  nil,
	},
}

// ApplyEvent applies an event to the given state and returns the result.
//
// Pure function, no side effects. Unlisted (state, event) pairs are
// ignored: the state is returned unchanged with no actions.
func ApplyEvent(currentState State, event Event) FSMResult {
	key := stateEvent{state: currentState, event: event}

	tr, ok := fsmTable[key]
	if !ok {
		return FSMResult{
			OldState: currentState,
			NewState: currentState,
			Actions:  nil,
			Changed:  false,
		}
	}

	return FSMResult{
		OldState: currentState,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  currentState != tr.newState,
	}
}
