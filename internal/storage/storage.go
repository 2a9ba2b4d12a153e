package storage

import "errors"

const (
	// PageSize is the unit of disk I/O. Compile-time constant; changing it
	// makes existing database files unreadable.
	PageSize = 4096

	// RecordMetaSize is the number of bytes reserved in front of every
	// record payload for version metadata (original RID, begin/end
	// timestamps, next version pointer).
	RecordMetaSize = 32
)

// PageID addresses one page inside the database file.
type PageID uint32

const (
	// InvalidPageID marks "no page", e.g. the end of a page chain.
	InvalidPageID PageID = ^PageID(0)

	// MemoryPageID tags tuples that live only in memory and were never
	// persisted. Such tuples own their backing buffer.
	MemoryPageID PageID = ^PageID(0) - 1
)

// Valid reports whether the id refers to a page that can exist on disk.
func (id PageID) Valid() bool { return id < MemoryPageID }

var (
	ErrDiskIO         = errors.New("storage: disk I/O error")
	ErrPageOutOfRange = errors.New("storage: page id out of range")
	ErrBadSlot        = errors.New("storage: slot out of range or free")
	ErrNoSpace        = errors.New("storage: page has no space left")
)
