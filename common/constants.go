package common

// PageSize is the fixed size in bytes of every page moved between disk and
// a buffer pool frame.
const PageSize int = 4096

// InvalidPageID is the sentinel meaning "no page". Page id 0 is reserved for
// the HeaderPage, so it is never a valid data page id.
const InvalidPageID uint64 = 0

// HeaderPageID is the well-known page id of the database's HeaderPage.
const HeaderPageID uint64 = 0
