package storage

import "github.com/tuannm99/waxdb/pkg/bx"

// Slotted record page layout:
//
//	next page id (4 B) | slot count (2 B) | free ptr (2 B) | slot_0 | slot_1 | ... free space ... | record_1 | record_0
//	                                                                        ^--- free ptr moves down as records are appended
//
// A slot is start offset (2 B) plus size and free bit packed into 2 B
// (size << 1 | free). Erasing a record only sets the free bit; pages are
// never compacted.
const (
	recordPageHeaderSize = 8
	slotSize             = 4

	slotCountOffset = 4
	freePtrOffset   = 6
)

// RecordPage interprets a buffered page as a slotted record page. It is a
// thin view; the caller keeps the page pinned while using it.
type RecordPage struct {
	page *Page
}

func AsRecordPage(p *Page) RecordPage { return RecordPage{page: p} }

// FormatRecordPage initializes the header of a freshly allocated page.
func FormatRecordPage(p *Page) {
	p.SetNextPageID(InvalidPageID)
	bx.PutU16At(p.Data(), slotCountOffset, 0)
	bx.PutU16At(p.Data(), freePtrOffset, PageSize)
}

func (rp RecordPage) Page() *Page { return rp.page }

func (rp RecordPage) Slots() uint16 {
	return bx.U16At(rp.page.Data(), slotCountOffset)
}

func (rp RecordPage) freePtr() uint16 {
	return bx.U16At(rp.page.Data(), freePtrOffset)
}

func (rp RecordPage) slotOffset(slot uint16) int {
	return recordPageHeaderSize + int(slot)*slotSize
}

// SlotStart returns the byte offset of the record stored in the slot.
func (rp RecordPage) SlotStart(slot uint16) uint16 {
	return bx.U16At(rp.page.Data(), rp.slotOffset(slot))
}

// SlotSize returns the record size including its metadata prefix.
func (rp RecordPage) SlotSize(slot uint16) uint16 {
	return bx.U16At(rp.page.Data(), rp.slotOffset(slot)+2) >> 1
}

// IsFree reports whether the slot has been tombstoned.
func (rp RecordPage) IsFree(slot uint16) bool {
	return bx.U16At(rp.page.Data(), rp.slotOffset(slot)+2)&1 == 1
}

// SetFree flips the tombstone bit without touching the record bytes.
func (rp RecordPage) SetFree(slot uint16, free bool) {
	off := rp.slotOffset(slot) + 2
	v := bx.U16At(rp.page.Data(), off) &^ 1
	if free {
		v |= 1
	}
	bx.PutU16At(rp.page.Data(), off, v)
}

// FreeSpace returns the number of bytes available for one more slot plus its
// record. The slot directory grows upward, records grow downward.
func (rp RecordPage) FreeSpace() uint16 {
	used := recordPageHeaderSize + int(rp.Slots())*slotSize
	free := int(rp.freePtr()) - used
	if free < 0 {
		return 0
	}
	return uint16(free)
}

// HasSpaceFor reports whether a payload of the given size (plus record
// metadata and a new slot) still fits.
func (rp RecordPage) HasSpaceFor(payloadSize uint16) bool {
	return int(rp.FreeSpace()) > int(payloadSize)+RecordMetaSize+slotSize
}

// AllocateSlot reserves room for a payload of the given size plus the record
// metadata prefix and appends a slot for it. Returns the new slot index.
func (rp RecordPage) AllocateSlot(payloadSize uint16) (uint16, error) {
	recordSize := payloadSize + RecordMetaSize
	if int(rp.FreeSpace()) <= int(recordSize)+slotSize {
		return 0, ErrNoSpace
	}

	slot := rp.Slots()
	start := rp.freePtr() - recordSize

	bx.PutU16At(rp.page.Data(), freePtrOffset, start)
	bx.PutU16At(rp.page.Data(), slotCountOffset, slot+1)
	bx.PutU16At(rp.page.Data(), rp.slotOffset(slot), start)
	bx.PutU16At(rp.page.Data(), rp.slotOffset(slot)+2, recordSize<<1)

	return slot, nil
}

// Record returns the raw record bytes (metadata prefix included) of a slot.
func (rp RecordPage) Record(slot uint16) []byte {
	start := int(rp.SlotStart(slot))
	return rp.page.Data()[start : start+int(rp.SlotSize(slot))]
}

// Payload returns the record bytes of a slot without the metadata prefix.
func (rp RecordPage) Payload(slot uint16) []byte {
	return rp.Record(slot)[RecordMetaSize:]
}

// WriteRecord stores metadata and payload into a previously allocated slot.
func (rp RecordPage) WriteRecord(slot uint16, meta, payload []byte) {
	record := rp.Record(slot)
	copy(record[:RecordMetaSize], meta)
	copy(record[RecordMetaSize:], payload)
}

// Erase tombstones the slot. The space is reclaimed only if the whole page
// is recycled.
func (rp RecordPage) Erase(slot uint16) {
	rp.SetFree(slot, true)
}
