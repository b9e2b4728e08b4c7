package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionState_IsTerminal(t *testing.T) {
	tests := []struct {
		state SessionState
		want  bool
	}{
		{SessionStateLoading, false},
		{SessionStatePlaying, false},
		{SessionStateEnded, true},
		{SessionStateStopped, true},
		{SessionStateFailed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.IsTerminal())
		})
	}
}

func TestPlaybackSession_Validate(t *testing.T) {
	s := &PlaybackSession{ManifestURL: "  "}
	assert.ErrorIs(t, s.Validate(), ErrManifestURLRequired)

	s.ManifestURL = "https://cdn.example/index.m3u8"
	assert.NoError(t, s.Validate())
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "playback_sessions", PlaybackSession{}.TableName())
	assert.Equal(t, "session_events", SessionEvent{}.TableName())
}
