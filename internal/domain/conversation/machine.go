// Package conversation defines the guided-profile state machine and the
// answer extraction rules for each question.
//
// Valid state graph:
//
//	Q1_EDUCATION ──► Q2_EMPLOYMENT ──► Q3_DIRECTION ──► Q4_INTEREST ──► COMPLETED
//	      │                │                 │                │
//	      └────────────────┴─────────────────┴────────────────┴──► ABANDONED
//
// COMPLETED and ABANDONED are terminal states. A session advances one state
// per accepted answer; an answer that cannot be extracted leaves the state
// unchanged and the question is asked again.
package conversation

import (
	"fmt"

	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[model.SessionState][]model.SessionState{
	model.StateEducation:  {model.StateEmployment, model.StateAbandoned},
	model.StateEmployment: {model.StateDirection, model.StateAbandoned},
	model.StateDirection:  {model.StateInterest, model.StateAbandoned},
	model.StateInterest:   {model.StateCompleted, model.StateAbandoned},
	// COMPLETED and ABANDONED are terminal
}

// nextState maps each question state to the state an accepted answer moves to.
var nextState = map[model.SessionState]model.SessionState{
	model.StateEducation:  model.StateEmployment,
	model.StateEmployment: model.StateDirection,
	model.StateDirection:  model.StateInterest,
	model.StateInterest:   model.StateCompleted,
}

// InitialState is where every new session starts.
const InitialState = model.StateEducation

// ParseState converts a raw string to a SessionState, returning an error for
// unknown values.
func ParseState(s string) (model.SessionState, error) {
	st := model.SessionState(s)
	if st.Valid() {
		return st, nil
	}
	return "", fmt.Errorf("unknown session state %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted by the
// state machine.
func IsTransitionAllowed(from, to model.SessionState) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false // terminal state, no outgoing transitions
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Next returns the state an accepted answer advances from. The second return
// is false for terminal states.
func Next(from model.SessionState) (model.SessionState, bool) {
	to, ok := nextState[from]
	return to, ok
}

// Question returns the prompt asked in the given state. Terminal states have
// no question.
func Question(state model.SessionState) string {
	switch state {
	case model.StateEducation:
		return "What is your highest completed level of education?"
	case model.StateEmployment:
		return "Are you currently employed? If so, in which industry?"
	case model.StateDirection:
		return "Would you like to deepen your current field, or are you open to a new area?"
	case model.StateInterest:
		return "Which topics would you like to learn more about?"
	default:
		return ""
	}
}

// Redirect returns the clarification shown before re-asking when an answer
// could not be understood.
func Redirect(state model.SessionState) string {
	switch state {
	case model.StateEducation:
		return "Sorry, I didn't catch that. Please name your highest degree, for example a Bachelor's degree or an apprenticeship."
	case model.StateEmployment:
		return "Sorry, I didn't catch that. Please tell me whether you are employed, and in which industry if you are."
	case model.StateDirection:
		return "Sorry, I didn't catch that. Would you rather deepen your current field or explore a new area?"
	case model.StateInterest:
		return "Sorry, I didn't catch that. Please name one or more topics you are interested in."
	default:
		return ""
	}
}
