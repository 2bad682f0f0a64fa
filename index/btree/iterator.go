package btree

import (
	"coredb/common"
	"coredb/disk/pages"
)

// IndexIterator walks a leaf chain in key order starting from wherever
// Begin/BeginAt positioned it. It holds a pin on at most one leaf frame at a
// time; callers that stop iterating before reaching the end must call Close
// to release that pin, or it leaks until the process exits.
type IndexIterator struct {
	tree  *BTree
	frame *pages.Frame
	leaf  *LeafPage
	index int
	done  bool
}

// Valid reports whether the iterator is positioned on a real entry.
func (it *IndexIterator) Valid() bool {
	if it.done || it.leaf == nil {
		return false
	}
	return it.index < it.leaf.Size
}

// Key returns the key at the iterator's current position. Panics with
// common.ErrOutOfRange if !Valid.
func (it *IndexIterator) Key() int64 {
	if !it.Valid() {
		panic(common.ErrOutOfRange)
	}
	return it.leaf.Keys[it.index]
}

// Value returns the RID at the iterator's current position. Panics with
// common.ErrOutOfRange if !Valid.
func (it *IndexIterator) Value() RID {
	if !it.Valid() {
		panic(common.ErrOutOfRange)
	}
	return it.leaf.Values[it.index]
}

// Next advances the iterator by one entry, crossing into the next leaf via
// NextPageID and releasing the pin on the leaf being left behind. It is a
// no-op once the iterator is exhausted.
func (it *IndexIterator) Next() {
	if it.done || it.leaf == nil {
		return
	}
	it.index++
	if it.index < it.leaf.Size {
		return
	}

	nextID := it.leaf.NextPageID
	it.tree.bpm.Unpin(it.leaf.PageID, false)
	if nextID == common.InvalidPageID {
		it.frame = nil
		it.leaf = nil
		it.done = true
		return
	}

	frame := it.tree.bpm.Fetch(nextID)
	if frame == nil {
		it.frame = nil
		it.leaf = nil
		it.done = true
		return
	}
	it.frame = frame
	it.leaf = DeserializeLeaf(frame.GetData())
	it.index = 0
}

// Close releases the pin held on the iterator's current leaf, if any. Safe
// to call multiple times.
func (it *IndexIterator) Close() {
	if it.frame == nil {
		return
	}
	it.tree.bpm.Unpin(it.leaf.PageID, false)
	it.frame = nil
	it.leaf = nil
	it.done = true
}
