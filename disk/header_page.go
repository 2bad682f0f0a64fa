package disk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"coredb/common"
)

// ErrRecordNotFound is returned by GetRootId when no root has been persisted
// under the given index name yet.
var ErrRecordNotFound = errors.New("disk: header record not found")

// ErrRecordExists is returned by InsertRecord when the index name is already
// present; callers should use UpdateRecord instead.
var ErrRecordExists = errors.New("disk: header record already exists")

// entrySize is the fixed on-page footprint of one HeaderPage record: a
// length-prefixed name (up to maxNameLen bytes) followed by an 8-byte page id.
const maxNameLen = 55
const entrySize = 1 + maxNameLen + 8

// maxEntries bounds how many named indexes a single HeaderPage can track.
var maxEntries = (common.PageSize - 4) / entrySize

// HeaderPage is the well-known page id 0 record store mapping short index
// names to their current root page id. It is held in memory under its own
// lock and is not fetched through the buffer pool: callers build it from
// page 0's bytes with Deserialize and write it back with Serialize.
type HeaderPage struct {
	mu      sync.Mutex
	names   []string
	rootIDs []uint64
}

// NewHeaderPage returns an empty, in-memory HeaderPage for a brand-new
// database file. Deserialize builds one from an existing page 0 instead.
func NewHeaderPage() *HeaderPage {
	return &HeaderPage{}
}

// InsertRecord creates a new name -> rootPageID mapping.
func (h *HeaderPage) InsertRecord(name string, rootPageID uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(name) > maxNameLen {
		return fmt.Errorf("disk: index name %q exceeds %d bytes", name, maxNameLen)
	}
	for _, n := range h.names {
		if n == name {
			return ErrRecordExists
		}
	}
	if len(h.names) >= maxEntries {
		return fmt.Errorf("disk: header page is full (%d entries)", maxEntries)
	}
	h.names = append(h.names, name)
	h.rootIDs = append(h.rootIDs, rootPageID)
	return nil
}

// UpdateRecord overwrites the root page id for an existing name.
func (h *HeaderPage) UpdateRecord(name string, rootPageID uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, n := range h.names {
		if n == name {
			h.rootIDs[i] = rootPageID
			return nil
		}
	}
	return ErrRecordNotFound
}

// GetRootId returns the current root page id stored under name.
func (h *HeaderPage) GetRootId(name string) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, n := range h.names {
		if n == name {
			return h.rootIDs[i], nil
		}
	}
	return common.InvalidPageID, ErrRecordNotFound
}

// Serialize writes the header page's records into a PageSize-length buffer.
func (h *HeaderPage) Serialize(dst []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range dst {
		dst[i] = 0
	}
	binary.BigEndian.PutUint32(dst, uint32(len(h.names)))
	off := 4
	for i, name := range h.names {
		dst[off] = byte(len(name))
		copy(dst[off+1:off+1+maxNameLen], name)
		binary.BigEndian.PutUint64(dst[off+1+maxNameLen:off+entrySize], h.rootIDs[i])
		off += entrySize
	}
}

// Deserialize reconstructs a HeaderPage from bytes previously produced by
// Serialize.
func Deserialize(src []byte) *HeaderPage {
	h := &HeaderPage{}
	count := binary.BigEndian.Uint32(src)
	off := 4
	for i := uint32(0); i < count; i++ {
		nameLen := int(src[off])
		name := string(src[off+1 : off+1+nameLen])
		rootID := binary.BigEndian.Uint64(src[off+1+maxNameLen : off+entrySize])
		h.names = append(h.names, name)
		h.rootIDs = append(h.rootIDs, rootID)
		off += entrySize
	}
	return h
}
