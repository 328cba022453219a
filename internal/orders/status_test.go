package orders

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(StatusPending, StatusSettled))
	require.True(t, CanTransition(StatusPending, StatusExpired))
	require.True(t, CanTransition(StatusSettled, StatusRefunded))

	require.False(t, CanTransition(StatusPending, StatusRefunded))
	require.False(t, CanTransition(StatusSettled, StatusSettled))
	require.False(t, CanTransition(StatusSettled, StatusExpired))
	require.False(t, CanTransition(StatusRefunded, StatusSettled))
	require.False(t, CanTransition(Status("paid"), StatusSettled))
}

func TestTerminal(t *testing.T) {
	require.False(t, StatusPending.Terminal())
	require.True(t, StatusSettled.Terminal())
	require.True(t, StatusRefunded.Terminal())
}
