package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"validation", &ValidationError{Field: "title", Reason: "empty"}, false},
		{"wrapped validation", fmt.Errorf("enqueue: %w", &ValidationError{Reason: "bad"}), false},
		{"session state", &SessionStateError{SessionID: "s1", State: "COMPLETED", Op: "answer"}, false},
		{"not ready", ErrNotReady, false},
		{"transient network", &TransientNetworkError{URL: "https://x", Err: errors.New("timeout")}, true},
		{"embedding unavailable", &EmbeddingUnavailableError{Provider: "openai", Err: errors.New("503")}, true},
		{"unknown", errors.New("boom"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(&ValidationError{Reason: "x"}))
	assert.True(t, IsValidation(fmt.Errorf("wrap: %w", &ValidationError{Reason: "x"})))
	assert.False(t, IsValidation(errors.New("other")))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "validation: title: empty",
		(&ValidationError{Field: "title", Reason: "empty"}).Error())
	assert.Equal(t, "validation: empty payload",
		(&ValidationError{Reason: "empty payload"}).Error())
	assert.Contains(t,
		(&TransientNetworkError{URL: "https://a", Err: errors.New("reset")}).Error(),
		"https://a")
	assert.Contains(t,
		(&SessionStateError{SessionID: "s9", State: "COMPLETED", Op: "answer"}).Error(),
		"COMPLETED")
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("dial tcp: refused")
	err := &TransientNetworkError{Err: inner}
	assert.True(t, errors.Is(err, inner))

	err2 := &EmbeddingUnavailableError{Provider: "local", Err: inner}
	assert.True(t, errors.Is(err2, inner))
}
