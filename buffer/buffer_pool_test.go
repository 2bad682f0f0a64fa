package buffer

import (
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coredb/common"
	"coredb/disk"
)

func newTestPool(t *testing.T, path string, poolSize int) *BufferPoolManager {
	t.Helper()
	os.Remove(path)
	dm, _, err := disk.NewDiskManager(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		dm.Close()
		os.Remove(path)
	})
	return NewBufferPoolManager(poolSize, dm)
}

func TestBufferPoolManager_WritesAndReadsBackPages(t *testing.T) {
	bp := newTestPool(t, "tmp_rw.coredb", 4)

	pageIDs := make([]uint64, 0, 20)
	for i := 0; i < 20; i++ {
		var id uint64
		f := bp.NewPage(&id)
		require.NotNil(t, f)
		f.GetData()[0] = byte(i)
		bp.Unpin(id, true)
		pageIDs = append(pageIDs, id)
	}

	for i, id := range pageIDs {
		f := bp.Fetch(id)
		require.NotNil(t, f)
		assert.Equal(t, byte(i), f.GetData()[0])
		bp.Unpin(id, false)
	}
}

func TestBufferPoolManager_DoesNotCorruptPageContent(t *testing.T) {
	bp := newTestPool(t, "tmp_corrupt.coredb", 8)

	const n = 30
	randomPages := make([][]byte, n)
	pageIDs := make([]uint64, n)
	for i := 0; i < n; i++ {
		randomPages[i] = make([]byte, common.PageSize)
		rand.Read(randomPages[i])

		var id uint64
		f := bp.NewPage(&id)
		require.NotNil(t, f)
		copy(f.GetData(), randomPages[i])
		bp.Unpin(id, true)
		pageIDs[i] = id
	}

	for i, id := range pageIDs {
		f := bp.Fetch(id)
		require.NotNil(t, f)
		assert.Equal(t, randomPages[i], f.GetData())
		bp.Unpin(id, false)
	}
}

// TestBufferPoolManager_EvictsOnlyUnpinnedPages exercises the concrete
// scenario: a pool of 2 frames, both pinned by fresh pages, cannot make room
// for a third page until one of the first two is unpinned.
func TestBufferPoolManager_EvictsOnlyUnpinnedPages(t *testing.T) {
	bp := newTestPool(t, "tmp_evict.coredb", 2)

	var idA, idB uint64
	fA := bp.NewPage(&idA)
	fB := bp.NewPage(&idB)
	require.NotNil(t, fA)
	require.NotNil(t, fB)

	var idC uint64
	assert.Nil(t, bp.NewPage(&idC), "pool is full of pinned pages, NewPage must fail")

	require.True(t, bp.Unpin(idA, false))

	fC := bp.NewPage(&idC)
	require.NotNil(t, fC, "unpinning A must free a frame for C")
	assert.Nil(t, bp.Fetch(idA), "A should have been evicted to make room for C")
}

func TestBufferPoolManager_FlushWritesDirtyPageToDisk(t *testing.T) {
	bp := newTestPool(t, "tmp_flush.coredb", 4)

	var id uint64
	f := bp.NewPage(&id)
	require.NotNil(t, f)
	f.GetData()[0] = 0xAB
	require.True(t, bp.Unpin(id, true))

	require.True(t, bp.Flush(id))
	assert.False(t, f.IsDirty())
}

func TestBufferPoolManager_FlushAllPagesFlushesEveryResidentPage(t *testing.T) {
	bp := newTestPool(t, "tmp_flushall.coredb", 4)

	ids := make([]uint64, 0, 3)
	for i := 0; i < 3; i++ {
		var id uint64
		f := bp.NewPage(&id)
		require.NotNil(t, f)
		f.GetData()[0] = byte(i + 1)
		require.True(t, bp.Unpin(id, true))
		ids = append(ids, id)
	}

	require.NoError(t, bp.FlushAllPages())

	for _, id := range ids {
		f := bp.Fetch(id)
		require.NotNil(t, f)
		assert.False(t, f.IsDirty())
		bp.Unpin(id, false)
	}
}

func TestBufferPoolManager_DeletePageFailsWhilePinned(t *testing.T) {
	bp := newTestPool(t, "tmp_delete.coredb", 4)

	var id uint64
	f := bp.NewPage(&id)
	require.NotNil(t, f)

	assert.False(t, bp.DeletePage(id))

	require.True(t, bp.Unpin(id, false))
	assert.True(t, bp.DeletePage(id))
	_, resident := bp.pageTable[id]
	assert.False(t, resident, "a deleted page must no longer be resident")
}

func TestBufferPoolManager_UnpinUnknownPageFails(t *testing.T) {
	bp := newTestPool(t, "tmp_unpin_unknown.coredb", 4)
	assert.False(t, bp.Unpin(999, false))
}
