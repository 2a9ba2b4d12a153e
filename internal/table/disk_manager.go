package table

import (
	"github.com/tuannm99/waxdb/internal/buffer"
	"github.com/tuannm99/waxdb/internal/concurrency"
	"github.com/tuannm99/waxdb/internal/storage"
)

// DiskManager maps tuples to record pages. Every table owns two singly
// linked page chains: the table space with the current record versions and
// the time-travel space with versions displaced by updates.
type DiskManager struct {
	buffer *buffer.Manager
}

func NewDiskManager(bufferManager *buffer.Manager) *DiskManager {
	return &DiskManager{buffer: bufferManager}
}

// AddRow appends the tuple to the table space and returns its record id.
// The record starts living at the transaction's begin timestamp and is
// patched to the commit timestamp when the transaction commits.
func (dm *DiskManager) AddRow(txn *concurrency.Transaction, tbl *Table, tuple *Tuple) (storage.RecordID, error) {
	page, slot, err := dm.appendRow(txn, tbl, tuple)
	if err != nil {
		return storage.InvalidRecordID, err
	}
	rid := storage.NewRecordID(page.ID(), slot)
	if err := dm.buffer.Unpin(page.ID(), true); err != nil {
		return storage.InvalidRecordID, err
	}
	return rid, nil
}

// AddRowAndGet appends the tuple and returns a view of the stored record
// with its page still pinned. The caller unpins the page (dirty) when done.
func (dm *DiskManager) AddRowAndGet(txn *concurrency.Transaction, tbl *Table, tuple *Tuple) (*Tuple, error) {
	page, slot, err := dm.appendRow(txn, tbl, tuple)
	if err != nil {
		return nil, err
	}
	rp := storage.AsRecordPage(page)
	rid := storage.NewRecordID(page.ID(), slot)
	meta := concurrency.DecodeRecordMeta(rp.Record(slot))
	return NewTupleView(tbl.Schema(), rid, meta, rp.Payload(slot)), nil
}

func (dm *DiskManager) appendRow(txn *concurrency.Transaction, tbl *Table, tuple *Tuple) (*storage.Page, uint16, error) {
	tbl.Latch().Lock()
	defer tbl.Latch().Unlock()

	page, slot, err := dm.findPageForRow(tbl, false)
	if err != nil {
		return nil, 0, err
	}

	rid := storage.NewRecordID(page.ID(), slot)
	meta := concurrency.NewRecordMeta(rid, txn.BeginTimestamp())
	storage.AsRecordPage(page).WriteRecord(slot, meta.EncodeToBytes(), tuple.Data())
	return page, slot, nil
}

// CopyRowToTimeTravel stores a copy of the tuple's current version in the
// time-travel space, ending it at the transaction's begin timestamp. Updates
// call this before overwriting the record in place; deletes make no copy and
// only end-stamp the in-place record.
func (dm *DiskManager) CopyRowToTimeTravel(txn *concurrency.Transaction, tbl *Table, tuple *Tuple) (storage.RecordID, error) {
	tbl.Latch().Lock()
	defer tbl.Latch().Unlock()

	page, slot, err := dm.findPageForRow(tbl, true)
	if err != nil {
		return storage.InvalidRecordID, err
	}

	meta := tuple.Meta()
	meta.End = txn.BeginTimestamp()
	storage.AsRecordPage(page).WriteRecord(slot, meta.EncodeToBytes(), tuple.Data())

	rid := storage.NewRecordID(page.ID(), slot)
	if err := dm.buffer.Unpin(page.ID(), true); err != nil {
		return storage.InvalidRecordID, err
	}
	return rid, nil
}

// RemoveRow tombstones a record's slot.
func (dm *DiskManager) RemoveRow(tbl *Table, rid storage.RecordID) error {
	tbl.Latch().Lock()
	defer tbl.Latch().Unlock()

	page, err := dm.buffer.Pin(rid.PageID())
	if err != nil {
		return err
	}
	storage.AsRecordPage(page).Erase(rid.Slot())
	return dm.buffer.Unpin(rid.PageID(), true)
}

// ReadRows returns every record version on the page that is visible to the
// transaction. When the in-place version is invisible, the version chain is
// walked into the time-travel space; pages pinned during those walks are
// returned so the caller can unpin them after consuming the tuples.
func (dm *DiskManager) ReadRows(page *storage.Page, txn *concurrency.Transaction, schema *Schema) ([]*Tuple, map[storage.PageID]struct{}, error) {
	rp := storage.AsRecordPage(page)
	slots := rp.Slots()

	rows := make([]*Tuple, 0, slots)
	extraPages := make(map[storage.PageID]struct{})

	for slot := uint16(0); slot < slots; slot++ {
		if rp.IsFree(slot) {
			continue
		}

		meta := concurrency.DecodeRecordMeta(rp.Record(slot))
		rid := storage.NewRecordID(page.ID(), slot)
		if concurrency.Visible(txn.BeginTimestamp(), meta.Begin, meta.End) {
			rows = append(rows, NewTupleView(schema, rid, meta, rp.Payload(slot)))
			continue
		}

		row, err := dm.readOlderVersion(txn, schema, meta.Next, extraPages)
		if err != nil {
			releasePages(dm.buffer, extraPages)
			return nil, nil, err
		}
		if row != nil {
			rows = append(rows, row)
		}
	}

	return rows, extraPages, nil
}

// readOlderVersion walks the version chain until it finds a version visible
// to the transaction. Pages holding returned versions stay pinned and are
// recorded in extraPages.
func (dm *DiskManager) readOlderVersion(txn *concurrency.Transaction, schema *Schema, rid storage.RecordID, extraPages map[storage.PageID]struct{}) (*Tuple, error) {
	for rid.Valid() {
		page, err := dm.buffer.Pin(rid.PageID())
		if err != nil {
			return nil, err
		}
		rp := storage.AsRecordPage(page)

		if rp.IsFree(rid.Slot()) {
			if err := dm.buffer.Unpin(rid.PageID(), false); err != nil {
				return nil, err
			}
			return nil, nil
		}

		meta := concurrency.DecodeRecordMeta(rp.Record(rid.Slot()))
		if concurrency.Visible(txn.BeginTimestamp(), meta.Begin, meta.End) {
			if _, alreadyPinned := extraPages[rid.PageID()]; alreadyPinned {
				// One pin per page is enough for the caller to hold.
				if err := dm.buffer.Unpin(rid.PageID(), false); err != nil {
					return nil, err
				}
			} else {
				extraPages[rid.PageID()] = struct{}{}
			}
			return NewTupleView(schema, rid, meta, rp.Payload(rid.Slot())), nil
		}

		next := meta.Next
		if err := dm.buffer.Unpin(rid.PageID(), false); err != nil {
			return nil, err
		}
		rid = next
	}
	return nil, nil
}

// findPageForRow locates (or allocates) a page in the requested space with
// room for one row, allocates the slot and returns the page pinned. The
// caller holds the table latch.
func (dm *DiskManager) findPageForRow(tbl *Table, timeTravel bool) (*storage.Page, uint16, error) {
	startPageID := tbl.PageID()
	if timeTravel {
		switch {
		case tbl.LastTimeTravelPageID() != storage.InvalidPageID:
			startPageID = tbl.LastTimeTravelPageID()
		case tbl.TimeTravelPageID() != storage.InvalidPageID:
			startPageID = tbl.TimeTravelPageID()
		default:
			page, err := dm.buffer.Allocate()
			if err != nil {
				return nil, 0, err
			}
			tbl.SetTimeTravelPageID(page.ID())
			tbl.SetLastTimeTravelPageID(page.ID())
			if err := dm.buffer.Unpin(page.ID(), true); err != nil {
				return nil, 0, err
			}
			startPageID = page.ID()
		}
	} else if tbl.LastPageID() != storage.InvalidPageID {
		startPageID = tbl.LastPageID()
	}

	page, err := dm.buffer.Pin(startPageID)
	if err != nil {
		return nil, 0, err
	}

	rowSize := tbl.Schema().RowSize()
	for {
		rp := storage.AsRecordPage(page)
		if rp.HasSpaceFor(rowSize) {
			break
		}
		if page.HasNextPage() {
			nextID := page.NextPageID()
			if err := dm.buffer.Unpin(page.ID(), false); err != nil {
				return nil, 0, err
			}
			if page, err = dm.buffer.Pin(nextID); err != nil {
				return nil, 0, err
			}
			continue
		}

		newPage, err := dm.buffer.Allocate()
		if err != nil {
			_ = dm.buffer.Unpin(page.ID(), false)
			return nil, 0, err
		}
		page.SetNextPageID(newPage.ID())
		if err := dm.buffer.Unpin(page.ID(), true); err != nil {
			_ = dm.buffer.Unpin(newPage.ID(), false)
			return nil, 0, err
		}
		if timeTravel {
			tbl.SetLastTimeTravelPageID(newPage.ID())
		} else {
			tbl.SetLastPageID(newPage.ID())
		}
		page = newPage
		break
	}

	slot, err := storage.AsRecordPage(page).AllocateSlot(rowSize)
	if err != nil {
		_ = dm.buffer.Unpin(page.ID(), false)
		return nil, 0, err
	}
	return page, slot, nil
}

func releasePages(bufferManager *buffer.Manager, pages map[storage.PageID]struct{}) {
	for id := range pages {
		_ = bufferManager.Unpin(id, false)
	}
}

// ReleasePages unpins every page collected by ReadRows chain walks.
func (dm *DiskManager) ReleasePages(pages map[storage.PageID]struct{}) {
	releasePages(dm.buffer, pages)
}
