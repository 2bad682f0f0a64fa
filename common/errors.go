package common

import "errors"

// ErrOutOfMemory is the panic value raised when the buffer pool cannot produce a frame
// because every frame is pinned. Callers must not retry internally.
var ErrOutOfMemory = errors.New("coredb: buffer pool out of memory, all frames pinned")

// ErrOutOfRange is the panic value raised when an iterator is dereferenced
// past its end.
var ErrOutOfRange = errors.New("coredb: iterator out of range")

// ErrInvalid is raised for an operation that is illegal on an empty
// structure, as distinct from a lookup that simply finds nothing.
var ErrInvalid = errors.New("coredb: invalid operation on empty structure")
