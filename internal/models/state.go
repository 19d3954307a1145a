package models

import "log"

// EventState tracks where an event is in its processing cycle.
type EventState string

const (
	StateReceived         EventState = "received"
	StateDequeued         EventState = "dequeued"
	StateContextLoaded    EventState = "context_loaded"
	StateRefreshing       EventState = "refreshing"
	StatePromptReady      EventState = "prompt_ready"
	StateInvoking         EventState = "invoking"
	StateThoughtPersisted EventState = "thought_persisted"
	StateContextSaved     EventState = "context_saved"
	StateAcknowledged     EventState = "acknowledged"
	StateRetryPending     EventState = "retry_pending"
	StateDeadLettered     EventState = "dead_lettered"
)

// validEventTransitions defines the allowed state transitions. Any
// transition not listed here is invalid and will be rejected.
var validEventTransitions = map[EventState]map[EventState]bool{
	StateReceived: {
		StateDequeued: true,
	},
	StateDequeued: {
		StateContextLoaded: true,
		StateRetryPending:  true,
		StateDeadLettered:  true,
	},
	StateContextLoaded: {
		StateRefreshing:   true,
		StatePromptReady:  true,
		StateRetryPending: true,
	},
	StateRefreshing: {
		StatePromptReady:  true,
		StateRetryPending: true,
	},
	StatePromptReady: {
		StateInvoking:     true,
		StateRetryPending: true,
	},
	StateInvoking: {
		StateThoughtPersisted: true,
		StateRetryPending:     true,
		StateDeadLettered:     true,
	},
	StateThoughtPersisted: {
		StateContextSaved: true,
		StateRetryPending: true,
	},
	StateContextSaved: {
		StateAcknowledged: true,
		StateRetryPending: true,
	},
	StateRetryPending: {
		StateDequeued:     true,
		StateDeadLettered: true,
	},
	// Terminal states.
	StateAcknowledged: {},
	StateDeadLettered: {},
}

// TransitionEventState validates and performs a state transition.
// Returns the new state if valid, or the current state if the
// transition is invalid.
func TransitionEventState(current, desired EventState) EventState {
	allowed, exists := validEventTransitions[current]
	if !exists || !allowed[desired] {
		log.Printf("⚠️ [STATE] Invalid event transition: %s → %s (rejected)", current, desired)
		return current
	}
	return desired
}

// IsTerminalState reports whether the state is final for an event.
func IsTerminalState(s EventState) bool {
	return s == StateAcknowledged || s == StateDeadLettered
}
