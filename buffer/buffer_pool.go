// Package buffer implements the fixed-size buffer pool that mediates every
// access to on-disk pages: callers Fetch a page id, work on the returned
// frame, and Unpin it when done. The pool never grows past its configured
// capacity; once every frame is pinned, Fetch and NewPage fail rather than
// allocate more memory.
package buffer

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"coredb/disk"
	"coredb/disk/pages"
	"coredb/disk/wal"
	"coredb/pkg/metrics"
)

// BufferPoolManager is the sole path through which the B+Tree (or any other
// caller) reads and writes pages. It owns a fixed slice of Frames, a page
// table mapping resident page ids to frame indexes, a free list of frames
// that currently hold no page, and a Replacer that tracks unpinned frames
// as eviction candidates once the free list is exhausted.
type BufferPoolManager struct {
	mu sync.Mutex

	frames      []*pages.Frame
	pageTable   map[uint64]int
	freeList    []int
	replacer    Replacer
	diskManager disk.IDiskManager
	logManager  wal.LogManager

	log     *zap.Logger
	metrics *metrics.BufferPool
}

// Option configures a BufferPoolManager at construction time.
type Option func(*BufferPoolManager)

// WithLogManager wires a LogManager the pool consults before evicting a
// dirty frame. Defaults to wal.Noop.
func WithLogManager(lm wal.LogManager) Option {
	return func(b *BufferPoolManager) { b.logManager = lm }
}

// WithLogger overrides the zap logger used for diagnostic events.
func WithLogger(l *zap.Logger) Option {
	return func(b *BufferPoolManager) { b.log = l }
}

// WithMetrics overrides the prometheus counters the pool updates.
func WithMetrics(m *metrics.BufferPool) Option {
	return func(b *BufferPoolManager) { b.metrics = m }
}

// WithReplacer overrides the eviction policy. Defaults to LruReplacer.
func WithReplacer(r Replacer) Option {
	return func(b *BufferPoolManager) { b.replacer = r }
}

// NewBufferPoolManager builds a pool of poolSize frames backed by dm.
func NewBufferPoolManager(poolSize int, dm disk.IDiskManager, opts ...Option) *BufferPoolManager {
	frames := make([]*pages.Frame, poolSize)
	freeList := make([]int, poolSize)
	for i := 0; i < poolSize; i++ {
		frames[i] = pages.NewFrame()
		freeList[i] = i
	}

	b := &BufferPoolManager{
		frames:      frames,
		pageTable:   make(map[uint64]int, poolSize),
		freeList:    freeList,
		replacer:    NewLruReplacer(poolSize),
		diskManager: dm,
		logManager:  wal.Noop,
		log:         zap.NewNop(),
		metrics:     metrics.Noop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Fetch returns the frame holding pageID, reading it from disk into a free
// or evicted frame if it isn't already resident. The returned frame is
// pinned; callers must Unpin it exactly once. Fetch returns nil if the pool
// is full of pinned pages and nothing can be evicted.
func (b *BufferPoolManager) Fetch(pageID uint64) *pages.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	if idx, ok := b.pageTable[pageID]; ok {
		f := b.frames[idx]
		if f.GetPinCount() == 0 {
			b.metrics.PinnedPages.Inc()
		}
		f.IncrPinCount()
		b.replacer.Pin(idx)
		b.metrics.Hits.Inc()
		return f
	}
	b.metrics.Misses.Inc()

	idx, ok := b.allocFrame()
	if !ok {
		return nil
	}

	f := b.frames[idx]
	if err := b.diskManager.ReadPage(pageID, f.GetData()); err != nil {
		b.log.Error("fetch: read page failed", zap.Uint64("page_id", pageID), zap.Error(err))
		b.freeList = append(b.freeList, idx)
		return nil
	}
	f.SetPageId(pageID)
	f.IncrPinCount()
	b.pageTable[pageID] = idx
	b.metrics.PinnedPages.Inc()
	return f
}

// NewPage allocates a brand new page id via the disk manager, binds it to a
// free or evicted frame, and returns the pinned, zeroed frame. It returns
// nil (with *pageID left untouched) if the pool has no frame to give.
func (b *BufferPoolManager) NewPage(pageID *uint64) *pages.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, ok := b.allocFrame()
	if !ok {
		return nil
	}

	id, err := b.diskManager.AllocatePage()
	if err != nil {
		b.log.Error("new page: allocate failed", zap.Error(err))
		b.freeList = append(b.freeList, idx)
		return nil
	}

	f := b.frames[idx]
	f.SetPageId(id)
	f.IncrPinCount()
	b.pageTable[id] = idx
	b.metrics.PinnedPages.Inc()
	*pageID = id
	return f
}

// DeletePage removes pageID from the pool and reclaims its underlying disk
// space. It fails (returns false) if the page is still pinned; a page that
// was never resident is trivially deletable.
func (b *BufferPoolManager) DeletePage(pageID uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, ok := b.pageTable[pageID]
	if !ok {
		if err := b.diskManager.DeallocatePage(pageID); err != nil {
			b.log.Error("delete page: deallocate failed", zap.Uint64("page_id", pageID), zap.Error(err))
			return false
		}
		return true
	}

	f := b.frames[idx]
	if f.GetPinCount() > 0 {
		return false
	}

	b.replacer.Pin(idx)
	delete(b.pageTable, pageID)
	f.Reset()
	b.freeList = append(b.freeList, idx)

	if err := b.diskManager.DeallocatePage(pageID); err != nil {
		b.log.Error("delete page: deallocate failed", zap.Uint64("page_id", pageID), zap.Error(err))
		return false
	}
	return true
}

// Unpin drops one pin from pageID's frame, marking it dirty if isDirty is
// true (dirty is sticky: it never gets cleared by an Unpin(false)). Once the
// pin count reaches zero the frame becomes an eviction candidate. Unpin
// returns false if pageID isn't resident or was already fully unpinned.
func (b *BufferPoolManager) Unpin(pageID uint64, isDirty bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, ok := b.pageTable[pageID]
	if !ok {
		return false
	}

	f := b.frames[idx]
	if isDirty {
		f.SetDirty(true)
	}
	if f.GetPinCount() <= 0 {
		return false
	}

	f.DecrPinCount()
	if f.GetPinCount() == 0 {
		b.metrics.PinnedPages.Dec()
		b.replacer.Unpin(idx)
	}
	return true
}

// Flush writes pageID's frame content to disk if resident, regardless of
// its dirty flag, and clears the dirty flag on success.
func (b *BufferPoolManager) Flush(pageID uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(pageID)
}

func (b *BufferPoolManager) flushLocked(pageID uint64) bool {
	idx, ok := b.pageTable[pageID]
	if !ok {
		return false
	}
	f := b.frames[idx]
	if err := b.diskManager.WritePage(pageID, f.GetData()); err != nil {
		b.log.Error("flush: write page failed", zap.Uint64("page_id", pageID), zap.Error(err))
		return false
	}
	f.SetClean()
	b.metrics.Flushes.Inc()
	return true
}

// FlushAllPages writes every currently resident page to disk, dirty or not.
func (b *BufferPoolManager) FlushAllPages() error {
	b.mu.Lock()
	pageIDs := make([]uint64, 0, len(b.pageTable))
	for pid := range b.pageTable {
		pageIDs = append(pageIDs, pid)
	}
	b.mu.Unlock()

	for _, pid := range pageIDs {
		b.mu.Lock()
		ok := b.flushLocked(pid)
		b.mu.Unlock()
		if !ok {
			return fmt.Errorf("buffer: flush page %d failed", pid)
		}
	}
	return nil
}

// allocFrame returns a frame index ready to host a page: from the free list
// if one exists, otherwise by evicting the replacer's chosen victim. The
// caller must hold b.mu. Returns ok=false if the pool is exhausted.
func (b *BufferPoolManager) allocFrame() (int, bool) {
	if n := len(b.freeList); n > 0 {
		idx := b.freeList[n-1]
		b.freeList = b.freeList[:n-1]
		return idx, true
	}

	idx, ok := b.replacer.Victim()
	if !ok {
		return 0, false
	}

	victim := b.frames[idx]
	victimPageID := victim.GetPageId()
	if victim.IsDirty() {
		// Write-ahead: force the log manager before the data page, even
		// though this module implements no durable log of its own.
		_ = b.logManager.Flush()
		if err := b.diskManager.WritePage(victimPageID, victim.GetData()); err != nil {
			b.log.Error("evict: write page failed", zap.Uint64("page_id", victimPageID), zap.Error(err))
			b.replacer.Unpin(idx)
			return 0, false
		}
	}
	b.metrics.Evictions.Inc()

	delete(b.pageTable, victimPageID)
	victim.Reset()
	return idx, true
}

// PoolSize returns the total number of frames the pool manages.
func (b *BufferPoolManager) PoolSize() int {
	return len(b.frames)
}
