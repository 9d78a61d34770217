package model

import (
	"time"
)

// SessionState is the conversation state machine position for one session.
type SessionState string

const (
	// StateEducation asks for the user's highest education level.
	StateEducation SessionState = "Q1_EDUCATION"
	// StateEmployment asks whether the user is employed and in which industry.
	StateEmployment SessionState = "Q2_EMPLOYMENT"
	// StateDirection asks whether the user wants to deepen their field or
	// branch into a new one.
	StateDirection SessionState = "Q3_DIRECTION"
	// StateInterest asks for topics the user wants to learn about.
	StateInterest SessionState = "Q4_INTEREST"
	// StateCompleted means all answers were collected and a profile exists.
	StateCompleted SessionState = "COMPLETED"
	// StateAbandoned means the session expired or was closed before completion.
	StateAbandoned SessionState = "ABANDONED"
)

// Valid returns true if the SessionState is one of the defined states.
func (s SessionState) Valid() bool {
	switch s {
	case StateEducation, StateEmployment, StateDirection, StateInterest,
		StateCompleted, StateAbandoned:
		return true
	}
	return false
}

// Terminal reports whether the session can accept no further messages.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateAbandoned
}

// Answer is one accepted user answer. Raw preserves the user's wording,
// Value is the extracted canonical value, Attributes carries any secondary
// facts pulled from the same message.
type Answer struct {
	QuestionID string            `json:"question_id"`
	Raw        string            `json:"raw"`
	Value      string            `json:"value"`
	Attributes map[string]string `json:"attributes,omitempty"`
	AnsweredAt time.Time         `json:"answered_at"`
}

// ConversationSession is the full state of one guided conversation. Answers
// is append-only and ordered by question.
type ConversationSession struct {
	ID        string       `json:"id"`
	State     SessionState `json:"state"`
	Answers   []Answer     `json:"answers"`
	Profile   *UserProfile `json:"profile,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// UserProfile is derived from a completed session's answers and drives
// course matching.
type UserProfile struct {
	EducationLevel string   `json:"education_level"`
	Employed       bool     `json:"employed"`
	Industry       string   `json:"industry,omitempty"`
	Profession     string   `json:"profession,omitempty"`
	Direction      string   `json:"direction"`
	Interests      []string `json:"interests"`
}
