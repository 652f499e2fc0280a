package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerdaemon/peerd/pkg/peer"
)

func TestStates_String(t *testing.T) {
	assert.Equal(t, "None", StateNone.String())
	assert.Equal(t, "Requested, InProgress", (StateRequested | StateInProgress).String())
	assert.Equal(t, "Completed, Cancelled", (StateCompleted | StateCancelled).String())
}

func TestStates_IsTerminal(t *testing.T) {
	assert.False(t, StateRequested.IsTerminal())
	assert.False(t, (StateRequested | StateInProgress).IsTerminal())
	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, (StateCompleted | StateTimedOut).IsTerminal())
}

func TestTerminalState_MapsReasons(t *testing.T) {
	tests := []struct {
		reason peer.CompletionReason
		want   States
	}{
		{peer.ReasonCompleted, StateCompleted},
		{peer.ReasonCancelled, StateCompleted | StateCancelled},
		{peer.ReasonTimedOut, StateCompleted | StateTimedOut},
		{peer.ReasonResponseLimitReached, StateCompleted | StateResponseLimitReached},
		{peer.ReasonFileLimitReached, StateCompleted | StateFileLimitReached},
		{peer.ReasonErrored, StateCompleted | StateErrored},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, terminalState(tt.reason), "reason %s", tt.reason)
	}
}

func TestSearch_ResponsesRoundTrip(t *testing.T) {
	s := Search{ID: "s1"}
	responses := []peer.Response{
		{
			Username:          "alice",
			Token:             7,
			HasFreeUploadSlot: true,
			Files:             []peer.File{{Filename: "a.flac", Size: 1024}},
		},
		{
			Username:    "bob",
			QueueLength: 3,
			LockedFiles: []peer.File{{Filename: "b.flac", Size: 2048}},
		},
	}
	require.NoError(t, s.SetResponses(responses))

	got, err := s.DecodeResponses()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].Username)
	assert.Equal(t, 1, got[1].LockedFileCount())
}

func TestSearch_WithoutResponsesElidesBlob(t *testing.T) {
	s := Search{ID: "s1"}
	require.NoError(t, s.SetResponses([]peer.Response{{Username: "alice"}}))

	stripped := s.WithoutResponses()
	assert.Nil(t, stripped.Responses)
	assert.NotNil(t, s.Responses, "original is untouched")
}
