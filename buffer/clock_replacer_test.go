package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockReplacer_VictimOnEmpty(t *testing.T) {
	c := NewClockReplacer(8)
	v, ok := c.Victim()
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestClockReplacer_GivesSecondChance(t *testing.T) {
	c := NewClockReplacer(8)
	c.Unpin(1)
	c.Unpin(2)

	// First sweep clears frame 1's reference bit instead of evicting it,
	// then finds frame 2 still referenced and clears it too, wrapping back
	// around to frame 1 which now has a clear bit.
	v, ok := c.Victim()
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestClockReplacer_PinRemovesCandidate(t *testing.T) {
	c := NewClockReplacer(8)
	c.Unpin(1)
	c.Pin(1)
	assert.Equal(t, 0, c.Size())

	v, ok := c.Victim()
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestClockReplacer_NeverTracksAPageThatWasNeverUnpinned(t *testing.T) {
	c := NewClockReplacer(8)
	// Frame 0 has never been Unpinned, so it must never be a candidate even
	// though nothing has explicitly pinned it either.
	assert.Equal(t, 0, c.Size())
	_, ok := c.Victim()
	assert.False(t, ok)
}

func TestClockReplacer_UnpinTwiceDoesNotDuplicate(t *testing.T) {
	c := NewClockReplacer(8)
	c.Unpin(3)
	c.Unpin(3)
	assert.Equal(t, 1, c.Size())
}
