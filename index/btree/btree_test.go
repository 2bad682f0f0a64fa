package btree

import (
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coredb/buffer"
	"coredb/common"
	"coredb/disk"
)

func newTestTree(t *testing.T, path string, leafMax, internalMax int) *BTree {
	t.Helper()
	os.Remove(path)
	dm, _, err := disk.NewDiskManager(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		dm.Close()
		os.Remove(path)
	})
	bpm := buffer.NewBufferPoolManager(64, dm)
	header := disk.NewHeaderPage()
	return New("test-index", bpm, header, leafMax, internalMax)
}

func rid(n int64) RID {
	return RID{PageID: uint64(n), SlotNum: uint32(n)}
}

func collectKeys(t *testing.T, tree *BTree) []int64 {
	t.Helper()
	var keys []int64
	it := tree.Begin()
	defer it.Close()
	for it.Valid() {
		keys = append(keys, it.Key())
		it.Next()
	}
	return keys
}

func TestBTree_InsertAndGetValueRoundTrip(t *testing.T) {
	tree := newTestTree(t, "tmp_roundtrip.coredb", 4, 4)

	keys := []int64{5, 3, 8, 1, 9, 2, 7, 4, 6}
	for _, k := range keys {
		require.True(t, tree.Insert(k, rid(k)))
	}
	for _, k := range keys {
		v, ok := tree.GetValue(k)
		require.True(t, ok)
		assert.Equal(t, rid(k), v)
	}
	_, ok := tree.GetValue(100)
	assert.False(t, ok)
}

// TestBTree_DuplicateRejection exercises the concrete scenario: inserting an
// existing key returns false and leaves the original value untouched.
func TestBTree_DuplicateRejection(t *testing.T) {
	tree := newTestTree(t, "tmp_dup.coredb", 4, 4)

	assert.True(t, tree.Insert(7, rid(1)))
	assert.False(t, tree.Insert(7, rid(2)))

	v, ok := tree.GetValue(7)
	require.True(t, ok)
	assert.Equal(t, rid(1), v)
}

// TestBTree_InsertCausesLeafSplit exercises the concrete scenario: leaf_max=4,
// inserting 1..5 in order splits the root leaf with separator 3.
func TestBTree_InsertCausesLeafSplit(t *testing.T) {
	tree := newTestTree(t, "tmp_split.coredb", 4, 4)

	for k := int64(1); k <= 4; k++ {
		require.True(t, tree.Insert(k, rid(k)))
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, collectKeys(t, tree))

	require.True(t, tree.Insert(5, rid(5)))
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, collectKeys(t, tree))

	rootFrame := tree.bpm.Fetch(tree.rootPageID)
	require.NotNil(t, rootFrame)
	assert.False(t, PageTypeOf(rootFrame.GetData()), "root must now be internal")
	root := DeserializeInternal(rootFrame.GetData())
	require.Equal(t, 2, root.Size)
	assert.Equal(t, int64(3), root.KeyAt(1))
	tree.bpm.Unpin(root.PageID, false)

	leftFrame := tree.bpm.Fetch(root.ValueAt(0))
	require.NotNil(t, leftFrame)
	left := DeserializeLeaf(leftFrame.GetData())
	assert.Equal(t, []int64{1, 2}, left.Keys)
	tree.bpm.Unpin(left.PageID, false)

	rightFrame := tree.bpm.Fetch(root.ValueAt(1))
	require.NotNil(t, rightFrame)
	right := DeserializeLeaf(rightFrame.GetData())
	assert.Equal(t, []int64{3, 4, 5}, right.Keys)
	tree.bpm.Unpin(right.PageID, false)
}

// TestBTree_DeleteRedistributes exercises the concrete scenario: leaf_max=4
// (min=2), insert 1..6, delete 1 forces a redistribution from the right
// sibling rather than a coalesce.
func TestBTree_DeleteRedistributes(t *testing.T) {
	tree := newTestTree(t, "tmp_redistribute.coredb", 4, 4)

	for k := int64(1); k <= 6; k++ {
		require.True(t, tree.Insert(k, rid(k)))
	}
	tree.Remove(1)

	assert.Equal(t, []int64{2, 3, 4, 5, 6}, collectKeys(t, tree))

	rootFrame := tree.bpm.Fetch(tree.rootPageID)
	require.NotNil(t, rootFrame)
	root := DeserializeInternal(rootFrame.GetData())
	assert.Equal(t, int64(4), root.KeyAt(1))
	tree.bpm.Unpin(root.PageID, false)

	leftFrame := tree.bpm.Fetch(root.ValueAt(0))
	require.NotNil(t, leftFrame)
	left := DeserializeLeaf(leftFrame.GetData())
	assert.Equal(t, []int64{2, 3}, left.Keys)
	tree.bpm.Unpin(left.PageID, false)

	rightFrame := tree.bpm.Fetch(root.ValueAt(1))
	require.NotNil(t, rightFrame)
	right := DeserializeLeaf(rightFrame.GetData())
	assert.Equal(t, []int64{4, 5, 6}, right.Keys)
	tree.bpm.Unpin(right.PageID, false)

	_, ok := tree.GetValue(1)
	assert.False(t, ok)
}

// TestBTree_DeleteCoalescesToSingleRootLeaf exercises the concrete scenario:
// starting from the split tree of TestBTree_InsertCausesLeafSplit, deleting
// 5, 4, 3 in turn should coalesce the tree back down to a single leaf root.
func TestBTree_DeleteCoalescesToSingleRootLeaf(t *testing.T) {
	tree := newTestTree(t, "tmp_coalesce.coredb", 4, 4)

	for k := int64(1); k <= 5; k++ {
		require.True(t, tree.Insert(k, rid(k)))
	}

	tree.Remove(5)
	tree.Remove(4)
	tree.Remove(3)

	assert.Equal(t, []int64{1, 2}, collectKeys(t, tree))

	rootFrame := tree.bpm.Fetch(tree.rootPageID)
	require.NotNil(t, rootFrame)
	assert.True(t, PageTypeOf(rootFrame.GetData()), "root must have collapsed back to a leaf")
	root := DeserializeLeaf(rootFrame.GetData())
	assert.True(t, root.IsRoot())
	tree.bpm.Unpin(root.PageID, false)

	gotRoot, err := tree.header.GetRootId(tree.IndexName)
	require.NoError(t, err)
	assert.Equal(t, tree.rootPageID, gotRoot)
}

// TestBTree_DeleteCollapsesMultiLevelTreeBackToSingleLeaf exercises the
// concrete scenario: a tree deep enough to have an internal root with
// internal children (leaf_max=4, internal_max=4, 50 keys) shrinks, through
// repeated deletes, all the way back down to a single leaf root — this
// forces adjustRoot's internal.Size==1 branch to fire more than once as the
// tree loses levels, not just the single-level leaf-root case.
func TestBTree_DeleteCollapsesMultiLevelTreeBackToSingleLeaf(t *testing.T) {
	tree := newTestTree(t, "tmp_multicollapse.coredb", 4, 4)
	const n = 50
	for k := int64(1); k <= n; k++ {
		require.True(t, tree.Insert(k, rid(k)))
	}

	for k := int64(1); k <= n-2; k++ {
		tree.Remove(k)
	}

	assert.Equal(t, []int64{n - 1, n}, collectKeys(t, tree))

	rootFrame := tree.bpm.Fetch(tree.rootPageID)
	require.NotNil(t, rootFrame)
	assert.True(t, PageTypeOf(rootFrame.GetData()), "root must have collapsed all the way back to a leaf")
	root := DeserializeLeaf(rootFrame.GetData())
	assert.True(t, root.IsRoot())
	tree.bpm.Unpin(root.PageID, false)

	gotRoot, err := tree.header.GetRootId(tree.IndexName)
	require.NoError(t, err)
	assert.Equal(t, tree.rootPageID, gotRoot)
}

func TestBTree_RemoveAbsentKeyIsNoop(t *testing.T) {
	tree := newTestTree(t, "tmp_removeabsent.coredb", 4, 4)
	require.True(t, tree.Insert(1, rid(1)))
	tree.Remove(999)
	assert.Equal(t, []int64{1}, collectKeys(t, tree))
}

func TestBTree_InsertRemoveRoundTripRestoresKeySet(t *testing.T) {
	tree := newTestTree(t, "tmp_insertremove.coredb", 4, 4)
	for k := int64(1); k <= 20; k++ {
		require.True(t, tree.Insert(k, rid(k)))
	}
	tree.Remove(10)
	require.True(t, tree.Insert(10, rid(10)))
	want := make([]int64, 0, 20)
	for k := int64(1); k <= 20; k++ {
		want = append(want, k)
	}
	assert.Equal(t, want, collectKeys(t, tree))
}

func TestBTree_IteratorYieldsAscendingKeysWithBeginAt(t *testing.T) {
	tree := newTestTree(t, "tmp_beginat.coredb", 4, 4)
	for _, k := range []int64{10, 20, 30, 40, 50} {
		require.True(t, tree.Insert(k, rid(k)))
	}

	it := tree.BeginAt(25)
	defer it.Close()
	var got []int64
	for it.Valid() {
		got = append(got, it.Key())
		it.Next()
	}
	assert.Equal(t, []int64{30, 40, 50}, got)
}

func TestBTree_EmptyTreeGetValueFails(t *testing.T) {
	tree := newTestTree(t, "tmp_empty.coredb", 4, 4)
	assert.True(t, tree.IsEmpty())
	_, ok := tree.GetValue(1)
	assert.False(t, ok)

	it := tree.Begin()
	defer it.Close()
	assert.False(t, it.Valid())
}

// TestBTree_RemoveOnEmptyTreePanics exercises the concrete scenario: calling
// Remove before any key has ever been inserted panics with ErrInvalid,
// distinct from removing an absent key from a non-empty tree, which is a
// silent no-op (TestBTree_RemoveAbsentKeyIsNoop).
func TestBTree_RemoveOnEmptyTreePanics(t *testing.T) {
	tree := newTestTree(t, "tmp_removeempty.coredb", 4, 4)
	assert.PanicsWithValue(t, common.ErrInvalid, func() {
		tree.Remove(1)
	})
}

// TestBTree_IteratorDereferenceAtEndPanics exercises the concrete scenario:
// calling Key/Value on an exhausted iterator panics with ErrOutOfRange
// instead of a raw slice-index panic.
func TestBTree_IteratorDereferenceAtEndPanics(t *testing.T) {
	tree := newTestTree(t, "tmp_iterrange.coredb", 4, 4)
	require.True(t, tree.Insert(1, rid(1)))

	it := tree.Begin()
	defer it.Close()
	it.Next()
	require.False(t, it.Valid())

	assert.PanicsWithValue(t, common.ErrOutOfRange, func() { it.Key() })
	assert.PanicsWithValue(t, common.ErrOutOfRange, func() { it.Value() })
}

func TestBTree_ManyKeysInDescendingOrderStayBalanced(t *testing.T) {
	tree := newTestTree(t, "tmp_descending.coredb", 4, 4)
	const n = 100
	for k := int64(n); k >= 1; k-- {
		require.True(t, tree.Insert(k, rid(k)))
	}

	got := collectKeys(t, tree)
	require.Len(t, got, n)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i])
	}

	for k := int64(1); k <= n; k += 7 {
		tree.Remove(k)
	}
	for k := int64(1); k <= n; k += 7 {
		_, ok := tree.GetValue(k)
		assert.False(t, ok, "key %d should have been removed", k)
	}
}

func TestBTree_InsertFromFileAndRemoveFromFile(t *testing.T) {
	tree := newTestTree(t, "tmp_loadfile.coredb", 4, 4)

	insertPath := "tmp_loadfile_insert.txt"
	require.NoError(t, os.WriteFile(insertPath, []byte("1 100 0\n2 100 1\n3 101 0\n"), 0644))
	t.Cleanup(func() { os.Remove(insertPath) })

	require.NoError(t, tree.InsertFromFile(insertPath))
	v, ok := tree.GetValue(2)
	require.True(t, ok)
	assert.Equal(t, RID{PageID: 100, SlotNum: 1}, v)

	removePath := "tmp_loadfile_remove.txt"
	require.NoError(t, os.WriteFile(removePath, []byte("2\n"), 0644))
	t.Cleanup(func() { os.Remove(removePath) })

	require.NoError(t, tree.RemoveFromFile(removePath))
	_, ok = tree.GetValue(2)
	assert.False(t, ok)
}

// TestBTree_InternalNodeKeyBoundingInvariant checks that for every internal
// node, each child slot i>0 bounds its subtree's keys from below by
// KeyAt(i), and from above (exclusive) by KeyAt(i+1) where present.
func TestBTree_InternalNodeKeyBoundingInvariant(t *testing.T) {
	tree := newTestTree(t, "tmp_invariant.coredb", 4, 4)
	for k := int64(1); k <= 50; k++ {
		require.True(t, tree.Insert(k, rid(k)))
	}

	// lo is an inclusive lower bound and hi an exclusive upper bound on every
	// key in the subtree rooted at pageID.
	var walk func(pageID uint64, lo, hi int64)
	walk = func(pageID uint64, lo, hi int64) {
		f := tree.bpm.Fetch(pageID)
		require.NotNil(t, f)
		data := f.GetData()
		if PageTypeOf(data) {
			leaf := DeserializeLeaf(data)
			assert.GreaterOrEqual(t, leaf.Size, 0)
			for _, k := range leaf.Keys {
				assert.GreaterOrEqual(t, k, lo)
				assert.Less(t, k, hi)
			}
			tree.bpm.Unpin(pageID, false)
			return
		}
		internal := DeserializeInternal(data)
		children := append([]uint64(nil), internal.Children...)
		keys := append([]int64(nil), internal.Keys...)
		tree.bpm.Unpin(pageID, false)
		for i, c := range children {
			childLo, childHi := lo, hi
			if i > 0 {
				childLo = keys[i]
			}
			if i+1 < len(keys) {
				childHi = keys[i+1]
			}
			walk(c, childLo, childHi)
		}
	}
	walk(tree.rootPageID, math.MinInt64, math.MaxInt64)
}
