// Package pages defines the in-memory frame representation shared by the
// buffer pool and everything built on top of it (the B+Tree). A Frame is a fixed-size byte buffer plus the bookkeeping the
// BufferPoolManager and its callers need: pin count, dirty flag, and a
// reader/writer latch independent of the pool's own mutex.
package pages

import (
	"sync"

	"coredb/common"
)

// Frame is a page-sized in-memory slot that may host one resident page.
type Frame struct {
	pageID   uint64
	isDirty  bool
	rwLatch  sync.RWMutex
	pinCount int
	Data     []byte
}

// NewFrame allocates a zeroed frame not yet bound to any page.
func NewFrame() *Frame {
	return &Frame{
		pageID: common.InvalidPageID,
		Data:   make([]byte, common.PageSize),
	}
}

func (f *Frame) GetPageId() uint64 { return f.pageID }
func (f *Frame) SetPageId(id uint64) { f.pageID = id }

func (f *Frame) GetData() []byte { return f.Data }

func (f *Frame) GetPinCount() int  { return f.pinCount }
func (f *Frame) IncrPinCount()     { f.pinCount++ }
func (f *Frame) DecrPinCount() {
	if f.pinCount > 0 {
		f.pinCount--
	}
}

func (f *Frame) IsDirty() bool  { return f.isDirty }
func (f *Frame) SetDirty(dirty bool) { f.isDirty = f.isDirty || dirty }
func (f *Frame) SetClean()      { f.isDirty = false }

// Reset clears a frame's identity and content so it can be reused for a
// different page id, either after eviction or when it is placed on the free
// list.
func (f *Frame) Reset() {
	f.pageID = common.InvalidPageID
	f.pinCount = 0
	f.isDirty = false
	for i := range f.Data {
		f.Data[i] = 0
	}
}

func (f *Frame) WLatch()   { f.rwLatch.Lock() }
func (f *Frame) WUnlatch() { f.rwLatch.Unlock() }
func (f *Frame) RLatch()   { f.rwLatch.RLock() }
func (f *Frame) RUnLatch() { f.rwLatch.RUnlock() }
