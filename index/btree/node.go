// Package btree implements a disk-backed B+Tree index on top of the buffer
// pool: two page layouts (leaf and internal) sharing a common header, and a
// tree façade that latch-crabs its way through them. Keys are int64 and
// values are record identifiers (RID); the tree does not know or care what
// a caller's key actually represents beyond that ordering.
package btree

import (
	"encoding/binary"

	"coredb/common"
)

// RID identifies a tuple's physical location: the heap page it lives on and
// its slot within that page. The B+Tree treats it as an opaque payload.
type RID struct {
	PageID  uint64
	SlotNum uint32
}

const ridSize = 8 + 4

type pageType byte

const (
	pageTypeInvalid pageType = iota
	pageTypeLeaf
	pageTypeInternal
)

// headerSize is the common prefix shared by leaf and internal pages: type,
// own id, parent id, size, max size.
const headerSize = 1 + 7 /*pad*/ + 8 + 8 + 4 + 4

// leafHeaderSize adds the sibling pointer used to chain leaves in key order.
const leafHeaderSize = headerSize + 8

const leafEntrySize = 8 + ridSize
const internalEntrySize = 8 + 8

type nodeHeader struct {
	PageID    uint64
	ParentID  uint64
	Size      int
	MaxSize   int
}

func (h *nodeHeader) IsRoot() bool { return h.ParentID == common.InvalidPageID }

func writeHeader(dst []byte, pt pageType, h nodeHeader) {
	dst[0] = byte(pt)
	binary.BigEndian.PutUint64(dst[8:16], h.PageID)
	binary.BigEndian.PutUint64(dst[16:24], h.ParentID)
	binary.BigEndian.PutUint32(dst[24:28], uint32(h.Size))
	binary.BigEndian.PutUint32(dst[28:32], uint32(h.MaxSize))
}

func readHeader(src []byte) (pageType, nodeHeader) {
	pt := pageType(src[0])
	h := nodeHeader{
		PageID:   binary.BigEndian.Uint64(src[8:16]),
		ParentID: binary.BigEndian.Uint64(src[16:24]),
		Size:     int(binary.BigEndian.Uint32(src[24:28])),
		MaxSize:  int(binary.BigEndian.Uint32(src[28:32])),
	}
	return pt, h
}

// PageTypeOf peeks at a raw frame's first byte to decide how to decode it.
func PageTypeOf(data []byte) bool {
	return pageType(data[0]) == pageTypeLeaf
}

// LeafPage holds sorted (key, RID) pairs and a pointer to the next leaf in
// key order, or common.InvalidPageID for the rightmost leaf.
type LeafPage struct {
	nodeHeader
	NextPageID uint64
	Keys       []int64
	Values     []RID
}

// NewLeafPage initializes an empty leaf with the given identity and capacity.
func NewLeafPage(pageID, parentID uint64, maxSize int) *LeafPage {
	return &LeafPage{
		nodeHeader: nodeHeader{PageID: pageID, ParentID: parentID, MaxSize: maxSize},
		NextPageID: common.InvalidPageID,
	}
}

// Serialize writes the leaf's content into dst, which must be at least
// PageSize bytes (the caller passes a Frame's data buffer).
func (l *LeafPage) Serialize(dst []byte) {
	writeHeader(dst, pageTypeLeaf, l.nodeHeader)
	binary.BigEndian.PutUint64(dst[32:40], l.NextPageID)
	off := leafHeaderSize
	for i := 0; i < l.Size; i++ {
		binary.BigEndian.PutUint64(dst[off:off+8], uint64(l.Keys[i]))
		binary.BigEndian.PutUint64(dst[off+8:off+16], l.Values[i].PageID)
		binary.BigEndian.PutUint32(dst[off+16:off+20], l.Values[i].SlotNum)
		off += leafEntrySize
	}
}

// DeserializeLeaf reconstructs a LeafPage previously written by Serialize.
func DeserializeLeaf(src []byte) *LeafPage {
	_, h := readHeader(src)
	l := &LeafPage{nodeHeader: h, NextPageID: binary.BigEndian.Uint64(src[32:40])}
	l.Keys = make([]int64, l.Size)
	l.Values = make([]RID, l.Size)
	off := leafHeaderSize
	for i := 0; i < l.Size; i++ {
		l.Keys[i] = int64(binary.BigEndian.Uint64(src[off : off+8]))
		l.Values[i] = RID{
			PageID:  binary.BigEndian.Uint64(src[off+8 : off+16]),
			SlotNum: binary.BigEndian.Uint32(src[off+16 : off+20]),
		}
		off += leafEntrySize
	}
	return l
}

// Lookup binary searches for key, returning its value and whether it was
// found.
func (l *LeafPage) Lookup(key int64) (RID, bool) {
	i := l.KeyIndex(key)
	if i < l.Size && l.Keys[i] == key {
		return l.Values[i], true
	}
	return RID{}, false
}

// KeyIndex returns the least index i with Keys[i] >= key (or Size if none).
func (l *LeafPage) KeyIndex(key int64) int {
	lo, hi := 0, l.Size
	for lo < hi {
		mid := (lo + hi) / 2
		if l.Keys[mid] < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Insert places (key, value) in sorted order and returns the new size. The
// caller must ensure key is not already present.
func (l *LeafPage) Insert(key int64, value RID) int {
	i := l.KeyIndex(key)
	l.Keys = append(l.Keys, 0)
	l.Values = append(l.Values, RID{})
	copy(l.Keys[i+1:], l.Keys[i:])
	copy(l.Values[i+1:], l.Values[i:])
	l.Keys[i] = key
	l.Values[i] = value
	l.Size++
	return l.Size
}

// RemoveAndDeleteRecord deletes key if present and returns the new size.
func (l *LeafPage) RemoveAndDeleteRecord(key int64) int {
	i := l.KeyIndex(key)
	if i >= l.Size || l.Keys[i] != key {
		return l.Size
	}
	l.Keys = append(l.Keys[:i], l.Keys[i+1:]...)
	l.Values = append(l.Values[:i], l.Values[i+1:]...)
	l.Size--
	return l.Size
}

// MoveHalfTo transfers the upper half of this leaf's entries to recipient,
// which must be freshly initialized and empty.
func (l *LeafPage) MoveHalfTo(recipient *LeafPage) {
	split := l.Size / 2
	recipient.Keys = append(recipient.Keys, l.Keys[split:]...)
	recipient.Values = append(recipient.Values, l.Values[split:]...)
	recipient.Size = len(recipient.Keys)
	l.Keys = l.Keys[:split]
	l.Values = l.Values[:split]
	l.Size = split
}

// MoveAllTo appends every entry of l onto sibling, which lies immediately to
// l's left, and carries over the leaf chain pointer so the linked list of
// leaves stays connected.
func (l *LeafPage) MoveAllTo(sibling *LeafPage) {
	sibling.Keys = append(sibling.Keys, l.Keys...)
	sibling.Values = append(sibling.Values, l.Values...)
	sibling.Size = len(sibling.Keys)
	sibling.NextPageID = l.NextPageID
	l.Size = 0
}

// MoveFirstToEndOf moves this leaf's first entry onto the end of recipient,
// which lies immediately to this leaf's left, for use when recipient is
// redistributing from its right neighbor.
func (l *LeafPage) MoveFirstToEndOf(recipient *LeafPage) {
	recipient.Keys = append(recipient.Keys, l.Keys[0])
	recipient.Values = append(recipient.Values, l.Values[0])
	recipient.Size++
	l.Keys = l.Keys[1:]
	l.Values = l.Values[1:]
	l.Size--
}

// MoveLastToFrontOf moves this leaf's last entry onto the front of
// recipient, which lies immediately to this leaf's right.
func (l *LeafPage) MoveLastToFrontOf(recipient *LeafPage) {
	last := l.Size - 1
	recipient.Keys = append([]int64{l.Keys[last]}, recipient.Keys...)
	recipient.Values = append([]RID{l.Values[last]}, recipient.Values...)
	recipient.Size++
	l.Keys = l.Keys[:last]
	l.Values = l.Values[:last]
	l.Size--
}

// InternalPage holds sorted (key, child page id) pairs; slot 0's key is a
// sentinel and never participates in comparisons.
type InternalPage struct {
	nodeHeader
	Keys     []int64
	Children []uint64
}

// NewInternalPage initializes an empty internal node.
func NewInternalPage(pageID, parentID uint64, maxSize int) *InternalPage {
	return &InternalPage{nodeHeader: nodeHeader{PageID: pageID, ParentID: parentID, MaxSize: maxSize}}
}

func (n *InternalPage) Serialize(dst []byte) {
	writeHeader(dst, pageTypeInternal, n.nodeHeader)
	off := headerSize
	for i := 0; i < n.Size; i++ {
		binary.BigEndian.PutUint64(dst[off:off+8], uint64(n.Keys[i]))
		binary.BigEndian.PutUint64(dst[off+8:off+16], n.Children[i])
		off += internalEntrySize
	}
}

func DeserializeInternal(src []byte) *InternalPage {
	_, h := readHeader(src)
	n := &InternalPage{nodeHeader: h}
	n.Keys = make([]int64, n.Size)
	n.Children = make([]uint64, n.Size)
	off := headerSize
	for i := 0; i < n.Size; i++ {
		n.Keys[i] = int64(binary.BigEndian.Uint64(src[off : off+8]))
		n.Children[i] = binary.BigEndian.Uint64(src[off+8 : off+16])
		off += internalEntrySize
	}
	return n
}

// Lookup returns the child page id to descend into for key: the child at
// the largest index i such that i == 0 or Keys[i] <= key.
func (n *InternalPage) Lookup(key int64) uint64 {
	lo, hi := 1, n.Size
	for lo < hi {
		mid := (lo + hi) / 2
		if n.Keys[mid] <= key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return n.Children[lo-1]
}

// PopulateNewRoot initializes this (freshly allocated) node as a new root
// with two children, used only when splitting the previous root.
func (n *InternalPage) PopulateNewRoot(left uint64, key int64, right uint64) {
	n.Keys = []int64{0, key}
	n.Children = []uint64{left, right}
	n.Size = 2
}

// InsertNodeAfter locates the slot whose child equals oldChild and inserts
// (key, newChild) immediately after it.
func (n *InternalPage) InsertNodeAfter(oldChild uint64, key int64, newChild uint64) {
	idx := n.ValueIndex(oldChild)
	n.Keys = append(n.Keys, 0)
	n.Children = append(n.Children, 0)
	copy(n.Keys[idx+2:], n.Keys[idx+1:])
	copy(n.Children[idx+2:], n.Children[idx+1:])
	n.Keys[idx+1] = key
	n.Children[idx+1] = newChild
	n.Size++
}

// ValueIndex returns the slot index holding childID.
func (n *InternalPage) ValueIndex(childID uint64) int {
	for i, c := range n.Children {
		if c == childID {
			return i
		}
	}
	return -1
}

func (n *InternalPage) ValueAt(i int) uint64   { return n.Children[i] }
func (n *InternalPage) KeyAt(i int) int64      { return n.Keys[i] }
func (n *InternalPage) SetKeyAt(i int, k int64) { n.Keys[i] = k }

// Remove deletes the entry at index, shifting later entries left.
func (n *InternalPage) Remove(index int) {
	n.Keys = append(n.Keys[:index], n.Keys[index+1:]...)
	n.Children = append(n.Children[:index], n.Children[index+1:]...)
	n.Size--
}

// MoveHalfTo transfers the upper half of entries to recipient. Reparenting
// the moved children is the caller's responsibility (it requires fetching
// each child page).
func (n *InternalPage) MoveHalfTo(recipient *InternalPage) {
	split := n.Size / 2
	recipient.Keys = append(recipient.Keys, n.Keys[split:]...)
	recipient.Children = append(recipient.Children, n.Children[split:]...)
	recipient.Size = len(recipient.Keys)
	n.Keys = n.Keys[:split]
	n.Children = n.Children[:split]
	n.Size = split
}

// MoveAllTo appends every entry of n onto left, setting the moved slot 0's
// key to middleKey (the separator pulled down from the parent).
func (n *InternalPage) MoveAllTo(left *InternalPage, middleKey int64) {
	if n.Size > 0 {
		n.Keys[0] = middleKey
	}
	left.Keys = append(left.Keys, n.Keys...)
	left.Children = append(left.Children, n.Children...)
	left.Size = len(left.Keys)
	n.Size = 0
}

// MoveFirstToEndOf moves n's first child to the end of recipient, which lies
// immediately to n's left. parentSeparator is the key currently separating
// recipient from n in the parent; it becomes the key of recipient's new last
// slot. n's new slot-0 key (its old second key) is the caller's
// responsibility to push back up as the new parent separator.
func (n *InternalPage) MoveFirstToEndOf(recipient *InternalPage, parentSeparator int64) {
	recipient.Keys = append(recipient.Keys, parentSeparator)
	recipient.Children = append(recipient.Children, n.Children[0])
	recipient.Size++
	n.Keys = n.Keys[1:]
	n.Children = n.Children[1:]
	n.Size--
}

// MoveLastToFrontOf moves n's last child to the front of recipient, which
// lies immediately to n's right. parentSeparator is the key currently
// separating n from recipient in the parent; it becomes recipient's new
// second key. n's removed last key is the caller's responsibility to push
// back up as the new parent separator.
func (n *InternalPage) MoveLastToFrontOf(recipient *InternalPage, parentSeparator int64) {
	last := n.Size - 1
	movedChild := n.Children[last]

	recipient.Keys = append([]int64{0, parentSeparator}, recipient.Keys[1:]...)
	recipient.Children = append([]uint64{movedChild}, recipient.Children...)
	recipient.Size++

	n.Keys = n.Keys[:last]
	n.Children = n.Children[:last]
	n.Size--
}
