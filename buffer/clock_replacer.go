package buffer

import (
	"container/list"
	"sync"
)

// ClockReplacer is a second-chance approximation of LRU. Only frames that
// have been Unpinned are ever in the candidate ring: a frame that was never
// unpinned, or that has since been Pinned, cannot be victimized. The clock
// hand persists across calls to Victim so a full sweep never revisits a
// frame it already cleared in the same pass.
type ClockReplacer struct {
	mu   sync.Mutex
	ring *list.List
	pos  map[int]*list.Element
	ref  map[int]bool
	hand *list.Element
}

func NewClockReplacer(size int) *ClockReplacer {
	return &ClockReplacer{
		ring: list.New(),
		pos:  make(map[int]*list.Element, size),
		ref:  make(map[int]bool, size),
	}
}

// Unpin adds frame to the candidate ring with its reference bit set, giving
// it one second chance before it can be victimized.
func (c *ClockReplacer) Unpin(frame int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pos[frame]; ok {
		return
	}
	elem := c.ring.PushBack(frame)
	c.pos[frame] = elem
	c.ref[frame] = true
	if c.hand == nil {
		c.hand = elem
	}
}

// Pin removes frame from the candidate ring, if present.
func (c *ClockReplacer) Pin(frame int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(frame)
}

func (c *ClockReplacer) remove(frame int) {
	elem, ok := c.pos[frame]
	if !ok {
		return
	}
	if c.hand == elem {
		c.hand = c.advance(elem)
	}
	c.ring.Remove(elem)
	delete(c.pos, frame)
	delete(c.ref, frame)
}

// advance returns the ring element following elem, wrapping to the front,
// or nil once elem is the only element left.
func (c *ClockReplacer) advance(elem *list.Element) *list.Element {
	next := elem.Next()
	if next == nil {
		next = c.ring.Front()
	}
	if next == elem {
		return nil
	}
	return next
}

// Victim sweeps the ring from the hand: a frame with its reference bit set
// is given a second chance and cleared instead of evicted; the first frame
// found with a clear bit is removed and returned.
func (c *ClockReplacer) Victim() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ring.Len() == 0 {
		return 0, false
	}

	for i := 0; i < 2*c.ring.Len()+1; i++ {
		if c.hand == nil {
			c.hand = c.ring.Front()
		}
		frame := c.hand.Value.(int)
		if c.ref[frame] {
			c.ref[frame] = false
			c.hand = c.advance(c.hand)
			continue
		}
		victim := frame
		c.hand = c.advance(c.hand)
		c.ring.Remove(c.pos[victim])
		delete(c.pos, victim)
		delete(c.ref, victim)
		return victim, true
	}
	return 0, false
}

func (c *ClockReplacer) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ring.Len()
}
