package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLruReplacer_VictimOnEmpty(t *testing.T) {
	r := NewLruReplacer(32)
	v, ok := r.Victim()
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestLruReplacer_UnpinTracksCandidate(t *testing.T) {
	r := NewLruReplacer(32)
	r.Unpin(7)
	require.Equal(t, 1, r.Size())

	v, ok := r.Victim()
	require.True(t, ok)
	assert.Equal(t, 7, v)
	assert.Equal(t, 0, r.Size())
}

func TestLruReplacer_VictimIsLeastRecentlyUnpinned(t *testing.T) {
	r := NewLruReplacer(32)
	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)

	v, ok := r.Victim()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = r.Victim()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestLruReplacer_PinRemovesCandidate(t *testing.T) {
	r := NewLruReplacer(32)
	r.Unpin(1)
	r.Unpin(2)
	r.Pin(1)

	require.Equal(t, 1, r.Size())
	v, ok := r.Victim()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestLruReplacer_PinOnUntrackedFrameIsNoop(t *testing.T) {
	r := NewLruReplacer(32)
	r.Pin(5)
	assert.Equal(t, 0, r.Size())
}

func TestLruReplacer_UnpinTwiceDoesNotDuplicate(t *testing.T) {
	r := NewLruReplacer(32)
	r.Unpin(1)
	r.Unpin(1)
	assert.Equal(t, 1, r.Size())
}
