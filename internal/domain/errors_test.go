package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name      string
		err       error
		class     ErrorClass
		retryable bool
	}{
		{"validation", Validation("decode", base), ClassValidation, false},
		{"not found", NotFound("update", base), ClassNotFound, false},
		{"transient", Transient("fetch", base), ClassTransient, true},
		{"timeout", Timeout("poll", base), ClassTimeout, false},
		{"terminal", Terminal("generate", base), ClassTerminal, false},
		{"wrapped transient", fmt.Errorf("outer: %w", Transient("persist", base)), ClassTransient, true},
		{"plain error", base, ClassUnknown, true},
		{"context canceled", fmt.Errorf("poll: %w", context.Canceled), ClassTransient, true},
		{"deadline", context.DeadlineExceeded, ClassTimeout, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.class, ClassOf(tt.err))
			assert.Equal(t, tt.retryable, Retryable(tt.err))
		})
	}
}

func TestClassifiedErrorUnwraps(t *testing.T) {
	base := errors.New("disk full")
	err := Transient("persist", base)

	assert.ErrorIs(t, err, base)
	assert.Equal(t, "persist: disk full", err.Error())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateReceived, StateImageFetched))
	assert.True(t, CanTransition(StateQualityChecked, StateRejected))
	assert.True(t, CanTransition(StateGenerating, StateGenerationFailed))
	assert.True(t, CanTransition(StateCatalogUpdated, StateResponded))

	assert.False(t, CanTransition(StateReceived, StateGenerating))
	assert.False(t, CanTransition(StateRejected, StateCatalogUpdated))
	assert.False(t, CanTransition(StateResponded, StateReceived))
}
