package btree

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"coredb/buffer"
	"coredb/common"
	"coredb/disk"
	"coredb/disk/pages"
)

// BTree is a concurrent B+Tree index over int64 keys and RID values, backed
// entirely by pages fetched through a BufferPoolManager. Its root page id is
// persisted in a HeaderPage under IndexName so the tree can be reopened.
type BTree struct {
	IndexName string

	bpm    *buffer.BufferPoolManager
	header *disk.HeaderPage
	log    *zap.Logger

	leafMax     int
	internalMax int

	rootLatch  sync.Mutex
	rootPageID uint64
}

// Option configures a BTree at construction time.
type Option func(*BTree)

func WithLogger(l *zap.Logger) Option { return func(t *BTree) { t.log = l } }

// New opens (or, if the header holds no record for name, prepares to lazily
// create) a B+Tree identified by name. leafMax and internalMax bound the
// number of entries a node may hold before it must split.
func New(name string, bpm *buffer.BufferPoolManager, header *disk.HeaderPage, leafMax, internalMax int, opts ...Option) *BTree {
	t := &BTree{
		IndexName:   name,
		bpm:         bpm,
		header:      header,
		leafMax:     leafMax,
		internalMax: internalMax,
		rootPageID:  common.InvalidPageID,
		log:         zap.NewNop(),
	}
	if id, err := header.GetRootId(name); err == nil {
		t.rootPageID = id
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// IsEmpty reports whether the tree currently has no root page.
func (t *BTree) IsEmpty() bool {
	t.rootLatch.Lock()
	defer t.rootLatch.Unlock()
	return t.rootPageID == common.InvalidPageID
}

func (t *BTree) newLeaf(parentID uint64) (*pages.Frame, *LeafPage) {
	var id uint64
	f := t.bpm.NewPage(&id)
	if f == nil {
		panic(common.ErrOutOfMemory)
	}
	return f, NewLeafPage(id, parentID, t.leafMax)
}

func (t *BTree) newInternal(parentID uint64) (*pages.Frame, *InternalPage) {
	var id uint64
	f := t.bpm.NewPage(&id)
	if f == nil {
		panic(common.ErrOutOfMemory)
	}
	return f, NewInternalPage(id, parentID, t.internalMax)
}

// reparent updates childID's own header to point at newParent. It is used
// after a split or merge moves a child from one internal node to another.
func (t *BTree) reparent(childID, newParent uint64) {
	f := t.bpm.Fetch(childID)
	if f == nil {
		panic(common.ErrOutOfMemory)
	}
	data := f.GetData()
	if PageTypeOf(data) {
		l := DeserializeLeaf(data)
		l.ParentID = newParent
		l.Serialize(data)
	} else {
		n := DeserializeInternal(data)
		n.ParentID = newParent
		n.Serialize(data)
	}
	t.bpm.Unpin(childID, true)
}

// GetValue performs a read-only descent using shared latches, releasing a
// parent as soon as the child is latched (lock coupling).
func (t *BTree) GetValue(key int64) (RID, bool) {
	t.rootLatch.Lock()
	root := t.rootPageID
	t.rootLatch.Unlock()
	if root == common.InvalidPageID {
		return RID{}, false
	}

	frame := t.bpm.Fetch(root)
	if frame == nil {
		panic(common.ErrOutOfMemory)
	}
	frame.RLatch()

	for {
		data := frame.GetData()
		if PageTypeOf(data) {
			leaf := DeserializeLeaf(data)
			v, ok := leaf.Lookup(key)
			frame.RUnLatch()
			t.bpm.Unpin(leaf.PageID, false)
			return v, ok
		}

		internal := DeserializeInternal(data)
		childID := internal.Lookup(key)
		child := t.bpm.Fetch(childID)
		if child == nil {
			frame.RUnLatch()
			t.bpm.Unpin(internal.PageID, false)
			panic(common.ErrOutOfMemory)
		}
		child.RLatch()
		frame.RUnLatch()
		t.bpm.Unpin(internal.PageID, false)
		frame = child
	}
}

// safeForInsert reports whether a node has room for one more entry.
func safeForInsert(data []byte) bool {
	if PageTypeOf(data) {
		l := DeserializeLeaf(data)
		return l.Size < l.MaxSize
	}
	n := DeserializeInternal(data)
	return n.Size < n.MaxSize
}

// Insert adds (key, value), splitting nodes along the path as needed.
// Returns false if key is already present.
func (t *BTree) Insert(key int64, value RID) bool {
	t.rootLatch.Lock()
	rootHeld := true
	unlockRoot := func() {
		if rootHeld {
			t.rootLatch.Unlock()
			rootHeld = false
		}
	}

	if t.rootPageID == common.InvalidPageID {
		defer unlockRoot()
		frame, leaf := t.newLeaf(common.InvalidPageID)
		leaf.Insert(key, value)
		leaf.Serialize(frame.GetData())
		t.rootPageID = leaf.PageID
		t.persistRoot()
		t.bpm.Unpin(leaf.PageID, true)
		return true
	}

	var ancestors []*pages.Frame
	releaseAncestors := func(dirtyLast bool) {
		for i, f := range ancestors {
			dirty := dirtyLast && i == len(ancestors)-1
			f.WUnlatch()
			t.bpm.Unpin(f.GetPageId(), dirty)
		}
		ancestors = nil
		unlockRoot()
	}

	frame := t.bpm.Fetch(t.rootPageID)
	if frame == nil {
		unlockRoot()
		panic(common.ErrOutOfMemory)
	}
	frame.WLatch()

	for {
		ancestors = append(ancestors, frame)
		data := frame.GetData()

		if PageTypeOf(data) {
			leaf := DeserializeLeaf(data)
			if _, found := leaf.Lookup(key); found {
				releaseAncestors(false)
				return false
			}
			if leaf.Size < leaf.MaxSize {
				leaf.Insert(key, value)
				leaf.Serialize(data)
				releaseAncestors(true)
				return true
			}
			t.splitLeafAndPropagate(ancestors, leaf, key, value, &rootHeld)
			return true
		}

		internal := DeserializeInternal(data)
		childID := internal.Lookup(key)
		child := t.bpm.Fetch(childID)
		if child == nil {
			releaseAncestors(false)
			panic(common.ErrOutOfMemory)
		}
		child.WLatch()

		if safeForInsert(child.GetData()) {
			releaseAncestors(false)
		}
		frame = child
	}
}

// splitLeafAndPropagate is called with ancestors[len-1] the overflowing
// leaf, all entries write-latched, starting at the root or at the lowest
// node on the path that had room for one more entry. It performs the split,
// then walks back up ancestors (already-held write latches) to link the new
// sibling into the tree, splitting internal nodes in turn as needed.
func (t *BTree) splitLeafAndPropagate(ancestors []*pages.Frame, leaf *LeafPage, key int64, value RID, rootHeld *bool) {
	leafFrame := ancestors[len(ancestors)-1]
	ancestors = ancestors[:len(ancestors)-1]

	sibFrame, sibling := t.newLeaf(leaf.ParentID)
	leaf.MoveHalfTo(sibling)
	sibling.NextPageID = leaf.NextPageID
	leaf.NextPageID = sibling.PageID

	promoted := sibling.Keys[0]
	if key < promoted {
		leaf.Insert(key, value)
	} else {
		sibling.Insert(key, value)
	}
	leaf.Serialize(leafFrame.GetData())
	sibling.Serialize(sibFrame.GetData())

	oldID, newID, upKey := leaf.PageID, sibling.PageID, promoted

	leafFrame.WUnlatch()
	t.bpm.Unpin(oldID, true)

	t.insertIntoParentLoop(ancestors, oldID, upKey, newID, rootHeld)
}

// insertIntoParentLoop links (oldID, key, newID) into oldID's parent,
// splitting internal nodes up the ancestor chain as needed, until either a
// parent has room or a brand new root is created.
func (t *BTree) insertIntoParentLoop(ancestors []*pages.Frame, oldID uint64, key int64, newID uint64, rootHeld *bool) {
	releaseRemaining := func() {
		for _, f := range ancestors {
			f.WUnlatch()
			t.bpm.Unpin(f.GetPageId(), false)
		}
		if *rootHeld {
			t.rootLatch.Unlock()
			*rootHeld = false
		}
	}

	for {
		if len(ancestors) == 0 {
			// oldID was the root; create a fresh one above it.
			rootFrame, rootPage := t.newInternal(common.InvalidPageID)
			rootPage.PopulateNewRoot(oldID, key, newID)
			rootPage.Serialize(rootFrame.GetData())
			t.reparent(oldID, rootPage.PageID)
			t.reparent(newID, rootPage.PageID)
			t.rootPageID = rootPage.PageID
			t.persistRoot()
			t.bpm.Unpin(rootPage.PageID, true)
			t.bpm.Unpin(newID, true)
			releaseRemaining()
			return
		}

		parentFrame := ancestors[len(ancestors)-1]
		parentData := parentFrame.GetData()
		parent := DeserializeInternal(parentData)

		if parent.Size < parent.MaxSize {
			parent.InsertNodeAfter(oldID, key, newID)
			parent.Serialize(parentData)
			t.bpm.Unpin(newID, true)
			releaseRemaining()
			return
		}

		// Parent is full: insert then split it too, and keep propagating.
		parent.InsertNodeAfter(oldID, key, newID)
		t.bpm.Unpin(newID, true)

		newParentFrame, newParentPage := t.newInternal(parent.ParentID)
		parent.MoveHalfTo(newParentPage)
		medianKey := newParentPage.Keys[0]
		for _, childID := range newParentPage.Children {
			t.reparent(childID, newParentPage.PageID)
		}
		parent.Serialize(parentData)
		newParentPage.Serialize(newParentFrame.GetData())

		ancestors = ancestors[:len(ancestors)-1]
		parentFrame.WUnlatch()
		t.bpm.Unpin(parent.PageID, true)

		oldID, key, newID = parent.PageID, medianKey, newParentPage.PageID
	}
}

// persistRoot writes the current root page id into the HeaderPage, creating
// the record on first use.
func (t *BTree) persistRoot() {
	if err := t.header.UpdateRecord(t.IndexName, t.rootPageID); err != nil {
		if err := t.header.InsertRecord(t.IndexName, t.rootPageID); err != nil {
			t.log.Error("btree: failed to persist root", zap.String("index", t.IndexName), zap.Error(err))
		}
	}
}

// minLeafSize returns the minimum entry count a non-root leaf must keep:
// ceil(maxSize / 2).
func minLeafSize(maxSize int) int { return (maxSize + 1) / 2 }

// minInternalSize returns the minimum entry count a non-root internal node
// must keep, counting the sentinel slot 0: ceil((maxSize + 1) / 2).
func minInternalSize(maxSize int) int { return (maxSize + 2) / 2 }

// Remove deletes key from the tree, redistributing or coalescing nodes as
// needed to keep every non-root node at or above its minimum size. Removing
// an absent key from a non-empty tree is a silent no-op; calling Remove on
// an empty tree panics with common.ErrInvalid, since there is no structure
// to descend into at all.
func (t *BTree) Remove(key int64) {
	t.rootLatch.Lock()
	rootHeld := true
	unlockRoot := func() {
		if rootHeld {
			t.rootLatch.Unlock()
			rootHeld = false
		}
	}
	if t.rootPageID == common.InvalidPageID {
		unlockRoot()
		panic(common.ErrInvalid)
	}

	var ancestors []*pages.Frame
	releaseAncestors := func(dirtyLast bool) {
		for i, f := range ancestors {
			dirty := dirtyLast && i == len(ancestors)-1
			f.WUnlatch()
			t.bpm.Unpin(f.GetPageId(), dirty)
		}
		ancestors = nil
		unlockRoot()
	}

	frame := t.bpm.Fetch(t.rootPageID)
	if frame == nil {
		unlockRoot()
		panic(common.ErrOutOfMemory)
	}
	frame.WLatch()

	for {
		ancestors = append(ancestors, frame)
		data := frame.GetData()

		if PageTypeOf(data) {
			leaf := DeserializeLeaf(data)
			newSize := leaf.RemoveAndDeleteRecord(key)
			leaf.Serialize(data)

			if leaf.IsRoot() {
				if newSize == 0 {
					var toDelete []uint64
					t.adjustRoot(frame, &toDelete)
					unlockRoot()
					for _, id := range toDelete {
						t.bpm.DeletePage(id)
					}
					return
				}
				releaseAncestors(true)
				return
			}
			if newSize >= minLeafSize(leaf.MaxSize) {
				releaseAncestors(true)
				return
			}
			toDelete := t.coalesceOrRedistribute(ancestors)
			unlockRoot()
			for _, id := range toDelete {
				t.bpm.DeletePage(id)
			}
			return
		}

		internal := DeserializeInternal(data)
		childID := internal.Lookup(key)
		child := t.bpm.Fetch(childID)
		if child == nil {
			releaseAncestors(false)
			panic(common.ErrOutOfMemory)
		}
		child.WLatch()

		safe := false
		if PageTypeOf(child.GetData()) {
			cl := DeserializeLeaf(child.GetData())
			safe = cl.IsRoot() || cl.Size > minLeafSize(cl.MaxSize)
		} else {
			ci := DeserializeInternal(child.GetData())
			safe = ci.IsRoot() || ci.Size > minInternalSize(ci.MaxSize)
		}
		if safe {
			releaseAncestors(false)
		}
		frame = child
	}
}

// coalesceOrRedistribute is called with ancestors the write-latched path
// down to an underflowed non-root node (the last element), starting at the
// root or at the lowest node on the path that was safe for deletion. It is solely responsible for releasing every latch and pin in
// ancestors before returning, on every code path; it returns the page ids
// that should be handed to BPM.DeletePage once the caller has released the
// root latch.
func (t *BTree) coalesceOrRedistribute(ancestors []*pages.Frame) []uint64 {
	var toDelete []uint64
	releaseRest := func(dirtyLast bool) {
		for i, f := range ancestors {
			dirty := dirtyLast && i == len(ancestors)-1
			f.WUnlatch()
			t.bpm.Unpin(f.GetPageId(), dirty)
		}
		ancestors = nil
	}

	for {
		nodeFrame := ancestors[len(ancestors)-1]
		ancestors = ancestors[:len(ancestors)-1]
		nodeData := nodeFrame.GetData()
		nodeIsLeaf := PageTypeOf(nodeData)

		if len(ancestors) == 0 {
			t.adjustRoot(nodeFrame, &toDelete)
			return toDelete
		}

		parentFrame := ancestors[len(ancestors)-1]
		parent := DeserializeInternal(parentFrame.GetData())
		nodeID := frameOwnerID(nodeData)
		idx := parent.ValueIndex(nodeID)

		var siblingIdx int
		var isLeftSibling bool
		if idx > 0 {
			siblingIdx = idx - 1
			isLeftSibling = true
		} else {
			siblingIdx = idx + 1
			isLeftSibling = false
		}
		sibID := parent.ValueAt(siblingIdx)
		sibFrame := t.bpm.Fetch(sibID)
		if sibFrame == nil {
			panic(common.ErrOutOfMemory)
		}
		sibFrame.WLatch()
		sibData := sibFrame.GetData()

		var nodeSize, sibSize, maxSize int
		if nodeIsLeaf {
			nl := DeserializeLeaf(nodeData)
			sl := DeserializeLeaf(sibData)
			nodeSize, sibSize, maxSize = nl.Size, sl.Size, nl.MaxSize
		} else {
			ni := DeserializeInternal(nodeData)
			si := DeserializeInternal(sibData)
			nodeSize, sibSize, maxSize = ni.Size, si.Size, ni.MaxSize
		}

		if nodeSize+sibSize <= maxSize {
			// Coalesce: always fold the right participant into the left one.
			var leftFrame, rightFrame *pages.Frame
			var leftIdx int
			if isLeftSibling {
				leftFrame, rightFrame, leftIdx = sibFrame, nodeFrame, siblingIdx
			} else {
				leftFrame, rightFrame, leftIdx = nodeFrame, sibFrame, idx
			}
			separator := parent.KeyAt(leftIdx + 1)

			if nodeIsLeaf {
				left := DeserializeLeaf(leftFrame.GetData())
				right := DeserializeLeaf(rightFrame.GetData())
				right.MoveAllTo(left)
				left.NextPageID = right.NextPageID
				left.Serialize(leftFrame.GetData())
			} else {
				left := DeserializeInternal(leftFrame.GetData())
				right := DeserializeInternal(rightFrame.GetData())
				right.MoveAllTo(left, separator)
				for _, childID := range right.Children {
					t.reparent(childID, left.PageID)
				}
				left.Serialize(leftFrame.GetData())
			}

			toDelete = append(toDelete, frameOwnerID(rightFrame.GetData()))
			parent.Remove(leftIdx + 1)
			parent.Serialize(parentFrame.GetData())

			nodeFrame.WUnlatch()
			t.bpm.Unpin(frameOwnerID(nodeData), true)
			sibFrame.WUnlatch()
			t.bpm.Unpin(sibID, true)

			if parent.IsRoot() {
				if parent.Size == 1 {
					// parentFrame is the last remaining ancestor (the root
					// itself); collapse it onto its sole surviving child.
					ancestors = ancestors[:len(ancestors)-1]
					t.adjustRoot(parentFrame, &toDelete)
					return toDelete
				}
				// parentFrame (ancestors' last element) was just serialized
				// above; every remaining ancestor above it is untouched.
				releaseRest(true)
				return toDelete
			}
			if parent.Size >= minInternalSize(parent.MaxSize) {
				releaseRest(true)
				return toDelete
			}
			continue // recurse: parent itself now underflows
		}

		// Redistribute one entry from the sibling.
		if nodeIsLeaf {
			node := DeserializeLeaf(nodeData)
			sib := DeserializeLeaf(sibData)
			if isLeftSibling {
				sib.MoveLastToFrontOf(node)
				parent.SetKeyAt(idx, node.Keys[0])
			} else {
				sib.MoveFirstToEndOf(node)
				parent.SetKeyAt(siblingIdx, sib.Keys[0])
			}
			node.Serialize(nodeData)
			sib.Serialize(sibData)
		} else {
			node := DeserializeInternal(nodeData)
			sib := DeserializeInternal(sibData)
			if isLeftSibling {
				separator := parent.KeyAt(idx)
				promoted := sib.KeyAt(sib.Size - 1)
				sib.MoveLastToFrontOf(node, separator)
				t.reparent(node.Children[0], node.PageID)
				parent.SetKeyAt(idx, promoted)
			} else {
				separator := parent.KeyAt(siblingIdx)
				sib.MoveFirstToEndOf(node, separator)
				t.reparent(node.Children[node.Size-1], node.PageID)
				parent.SetKeyAt(siblingIdx, sib.KeyAt(0))
			}
			node.Serialize(nodeData)
			sib.Serialize(sibData)
		}
		parent.Serialize(parentFrame.GetData())

		nodeFrame.WUnlatch()
		t.bpm.Unpin(frameOwnerID(nodeData), true)
		sibFrame.WUnlatch()
		t.bpm.Unpin(sibID, true)
		releaseRest(true)
		return toDelete
	}
}

// adjustRoot implements the two root-shrinking cases, appending the old
// root's page id to *toDelete and unpinning/unlatching rootFrame in every
// case. By the time this is reached rootFrame's content always reflects a
// change made earlier in the coalesce/redistribute chain, so it is always
// unpinned dirty.
func (t *BTree) adjustRoot(rootFrame *pages.Frame, toDelete *[]uint64) {
	data := rootFrame.GetData()
	defer func() {
		rootFrame.WUnlatch()
		t.bpm.Unpin(frameOwnerID(data), true)
	}()

	if PageTypeOf(data) {
		leaf := DeserializeLeaf(data)
		if leaf.Size == 0 {
			t.rootPageID = common.InvalidPageID
			t.persistRoot()
			*toDelete = append(*toDelete, leaf.PageID)
		}
		return
	}

	internal := DeserializeInternal(data)
	if internal.Size == 1 {
		newRoot := internal.ValueAt(0)
		t.reparent(newRoot, common.InvalidPageID)
		t.rootPageID = newRoot
		t.persistRoot()
		*toDelete = append(*toDelete, internal.PageID)
	}
}

func frameOwnerID(data []byte) uint64 {
	_, h := readHeader(data)
	return h.PageID
}

// Begin returns an iterator positioned at the leftmost key of the tree.
func (t *BTree) Begin() *IndexIterator {
	t.rootLatch.Lock()
	root := t.rootPageID
	t.rootLatch.Unlock()
	if root == common.InvalidPageID {
		return &IndexIterator{tree: t, done: true}
	}

	frame := t.bpm.Fetch(root)
	if frame == nil {
		panic(common.ErrOutOfMemory)
	}
	for !PageTypeOf(frame.GetData()) {
		internal := DeserializeInternal(frame.GetData())
		next := t.bpm.Fetch(internal.Children[0])
		t.bpm.Unpin(internal.PageID, false)
		if next == nil {
			panic(common.ErrOutOfMemory)
		}
		frame = next
	}
	return &IndexIterator{tree: t, frame: frame, leaf: DeserializeLeaf(frame.GetData())}
}

// BeginAt returns an iterator positioned at the first key >= key.
func (t *BTree) BeginAt(key int64) *IndexIterator {
	t.rootLatch.Lock()
	root := t.rootPageID
	t.rootLatch.Unlock()
	if root == common.InvalidPageID {
		return &IndexIterator{tree: t, done: true}
	}

	frame := t.bpm.Fetch(root)
	if frame == nil {
		panic(common.ErrOutOfMemory)
	}
	for !PageTypeOf(frame.GetData()) {
		internal := DeserializeInternal(frame.GetData())
		childID := internal.Lookup(key)
		next := t.bpm.Fetch(childID)
		t.bpm.Unpin(internal.PageID, false)
		if next == nil {
			panic(common.ErrOutOfMemory)
		}
		frame = next
	}
	leaf := DeserializeLeaf(frame.GetData())
	index := leaf.KeyIndex(key)
	// Every key in this leaf is below key: the first key >= key, if any,
	// opens the next leaf in the chain.
	if index >= leaf.Size && leaf.NextPageID != common.InvalidPageID {
		next := t.bpm.Fetch(leaf.NextPageID)
		t.bpm.Unpin(leaf.PageID, false)
		if next == nil {
			panic(common.ErrOutOfMemory)
		}
		frame = next
		leaf = DeserializeLeaf(frame.GetData())
		index = 0
	}
	return &IndexIterator{tree: t, frame: frame, leaf: leaf, index: index}
}

// InsertFromFile bulk-loads (key, page_id, slot) triples from a
// whitespace-separated text file, one insertion per line.
func (t *BTree) InsertFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("btree: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return fmt.Errorf("btree: %s:%d: want 3 fields, got %d", path, line, len(fields))
		}
		key, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return fmt.Errorf("btree: %s:%d: bad key: %w", path, line, err)
		}
		pageID, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("btree: %s:%d: bad page id: %w", path, line, err)
		}
		slot, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return fmt.Errorf("btree: %s:%d: bad slot: %w", path, line, err)
		}
		t.Insert(key, RID{PageID: pageID, SlotNum: uint32(slot)})
	}
	return sc.Err()
}

// RemoveFromFile removes one key per line of a whitespace-separated text
// file (only the first field of each line is read).
func (t *BTree) RemoveFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("btree: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		key, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return fmt.Errorf("btree: %s:%d: bad key: %w", path, line, err)
		}
		t.Remove(key)
	}
	return sc.Err()
}
