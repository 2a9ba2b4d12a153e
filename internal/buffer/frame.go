package buffer

import "github.com/tuannm99/waxdb/internal/storage"

// Frame holds one buffered page and its bookkeeping: the id of the resident
// page, the pin count, the dirty flag, the history of pin sequence numbers
// (consumed by LRU/LRU-K/LFU) and the clock strategy's last-chance bit.
type Frame struct {
	pageID     storage.PageID
	page       *storage.Page
	dirty      bool
	pinCount   int
	pinHistory []uint64
	lastChance bool
}

func newFrame() *Frame {
	return &Frame{
		pageID: storage.InvalidPageID,
		page:   storage.NewPage(storage.InvalidPageID),
	}
}

// Occupy resets the frame for a newly loaded page and records the first pin.
func (f *Frame) Occupy(pageID storage.PageID, ts uint64) {
	f.pageID = pageID
	f.page.SetID(pageID)
	f.dirty = false
	f.pinCount = 1
	f.lastChance = false
	f.pinHistory = f.pinHistory[:0]
	f.pinHistory = append(f.pinHistory, ts)
}

func (f *Frame) PageID() storage.PageID { return f.pageID }
func (f *Frame) Page() *storage.Page    { return f.page }

func (f *Frame) Occupied() bool { return f.pageID != storage.InvalidPageID }
func (f *Frame) Pinned() bool   { return f.pinCount > 0 }
func (f *Frame) PinCount() int  { return f.pinCount }
func (f *Frame) Dirty() bool    { return f.dirty }

func (f *Frame) pin(ts uint64) {
	f.pinCount++
	f.pinHistory = append(f.pinHistory, ts)
}

// LastPinTimestamp returns the most recent pin sequence number, or the
// maximum value when the frame was never pinned.
func (f *Frame) LastPinTimestamp() uint64 {
	if len(f.pinHistory) == 0 {
		return ^uint64(0)
	}
	return f.pinHistory[len(f.pinHistory)-1]
}

// PinTimestamp returns the i-th pin sequence number (oldest first).
func (f *Frame) PinTimestamp(i int) uint64 { return f.pinHistory[i] }

// CountPins returns how many times the frame has been pinned since it was
// last occupied.
func (f *Frame) CountPins() int { return len(f.pinHistory) }

// LastChance is the clock strategy's reference bit.
func (f *Frame) LastChance() bool        { return f.lastChance }
func (f *Frame) SetLastChance(set bool)  { f.lastChance = set }
