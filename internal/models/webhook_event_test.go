package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionEvent(t *testing.T) {
	tests := []struct {
		from string
		to   string
		want bool
	}{
		{EventStatusReceived, EventStatusProcessing, true},
		{EventStatusReceived, EventStatusProcessed, true},
		{EventStatusReceived, EventStatusFailed, true},
		{EventStatusProcessing, EventStatusProcessed, true},
		{EventStatusProcessing, EventStatusFailed, true},

		// Backward moves
		{EventStatusProcessing, EventStatusReceived, false},
		{EventStatusProcessed, EventStatusProcessing, false},

		// Terminal states accept nothing
		{EventStatusProcessed, EventStatusFailed, false},
		{EventStatusFailed, EventStatusProcessed, false},
		{EventStatusFailed, EventStatusReceived, false},

		// Unknown statuses
		{"archived", EventStatusProcessed, false},
		{EventStatusReceived, "archived", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransitionEvent(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestIsTerminalEventStatus(t *testing.T) {
	assert.True(t, IsTerminalEventStatus(EventStatusProcessed))
	assert.True(t, IsTerminalEventStatus(EventStatusFailed))
	assert.False(t, IsTerminalEventStatus(EventStatusReceived))
	assert.False(t, IsTerminalEventStatus(EventStatusProcessing))
}
