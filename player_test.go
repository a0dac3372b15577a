package rollback

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func remoteHandle(id int) PlayerHandle {
	return PlayerHandle{ID: id, Type: Remote}
}

func localHandle(id int) PlayerHandle {
	return PlayerHandle{ID: id, Type: Local}
}

// Universal property 1: the sequential-input law.
func TestPlayer_SequentialInputLaw(t *testing.T) {
	p := newPlayer[int](localHandle(0), 4, 16)

	for i := 0; i <= 6; i++ {
		require.True(t, p.addInput(int64(i), i*100))
	}

	require.EqualValues(t, 6, p.lastAddedStep)

	for i := 3; i <= 6; i++ {
		require.Equal(t, i*100, p.getInput(int64(i)))
	}
}

// Universal property 2: idempotence of duplicates.
func TestPlayer_DuplicateIsIdempotent(t *testing.T) {
	p := newPlayer[int](localHandle(0), 4, 16)

	require.True(t, p.addInput(0, 1))
	require.True(t, p.addInput(1, 2))

	require.True(t, p.addInput(2, 3))
	require.False(t, p.addInput(2, 999)) // duplicate, silently dropped

	require.EqualValues(t, 2, p.lastAddedStep)
	require.Equal(t, 3, p.getInput(2))
}

func TestPlayer_NonSequentialInputViolates(t *testing.T) {
	p := newPlayer[int](remoteHandle(0), 4, 16)
	require.True(t, p.addInput(0, 1))

	require.Panics(t, func() {
		p.addInput(2, 1) // skips step 1
	})
}

func TestPlayer_GetInput_ClampsNegativeAndOverflow(t *testing.T) {
	p := newPlayer[int](localHandle(0), 5, 16)

	for i := 0; i <= 2; i++ {
		require.True(t, p.addInput(int64(i), i))
	}

	require.Equal(t, p.getInput(-10), p.getInput(0))
	require.Equal(t, 2, p.getInput(100))
}

func TestPlayer_GetInput_AgedOutSlotViolates(t *testing.T) {
	p := newPlayer[int](localHandle(0), 3, 16)

	for i := 0; i <= 5; i++ {
		require.True(t, p.addInput(int64(i), i))
	}

	require.Panics(t, func() {
		p.getInput(0) // step 0 aged out of a window-3 ring after reaching step 5
	})
}

// Misprediction detection: only Remote players track it, and only while no
// earlier signal is pending.
func TestPlayer_MispredictionDetection_RemoteOnly(t *testing.T) {
	local := newPlayer[int](localHandle(0), 4, 16)
	for i := 0; i <= 4; i++ {
		require.True(t, local.addInput(int64(i), 42))
	}
	require.EqualValues(t, NullStep, local.lastConfirmedStep)

	remote := newPlayer[int](remoteHandle(1), 4, 16)
	// Steps 0..3 all default (zero value), no mismatch against the
	// zero-initialized ring.
	for i := 0; i < 4; i++ {
		require.True(t, remote.addInput(int64(i), 0))
	}
	require.EqualValues(t, NullStep, remote.lastConfirmedStep)

	// Step 4 was predicted as step 3's input (0, via getInput's clamp); the
	// new authoritative input (7) differs from it, so this is a
	// misprediction.
	require.True(t, remote.addInput(4, 7))
	require.EqualValues(t, 4, remote.lastConfirmedStep)
}

func TestPlayer_MispredictionSignal_NotOverwrittenWhilePending(t *testing.T) {
	remote := newPlayer[int](remoteHandle(1), 4, 16)
	for i := 0; i < 4; i++ {
		require.True(t, remote.addInput(int64(i), 0))
	}

	require.True(t, remote.addInput(4, 7))
	require.EqualValues(t, 4, remote.lastConfirmedStep)

	// While a signal is pending (not yet consumed by the session), a
	// further mismatch at step 5 does not overwrite it.
	require.True(t, remote.addInput(5, 99))
	require.EqualValues(t, 4, remote.lastConfirmedStep)
}

func TestPlayer_EstimatedLocalStep(t *testing.T) {
	p := newPlayer[int](remoteHandle(0), 8, 16)
	for i := 0; i <= 2; i++ {
		require.True(t, p.addInput(int64(i), 0))
	}

	p.pingMS = 48 // 3 update intervals
	require.EqualValues(t, 2+3, p.estimatedLocalStep())

	p.pingMS = 0
	require.EqualValues(t, 2, p.estimatedLocalStep())
}
