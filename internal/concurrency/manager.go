package concurrency

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tuannm99/waxdb/internal/buffer"
	"github.com/tuannm99/waxdb/internal/metrics"
	"github.com/tuannm99/waxdb/internal/storage"
)

// RowResolver rebuilds a predicate-checkable row from a raw record payload.
// Implemented by the database on top of the catalog; keeps this package free
// of schema knowledge.
type RowResolver interface {
	Row(tableID int32, rid storage.RecordID, payload []byte) (Row, error)
}

// Manager issues timestamps, creates transactions and commits or aborts
// them. Commits run optimistic serializable validation against every
// transaction that committed while the committing one was running.
type Manager struct {
	buffer *buffer.Manager
	rows   RowResolver
	log    zerolog.Logger
	met    *metrics.Metrics

	// Timestamp for the next transaction. Starts at 2; 0 is reserved for
	// infinity and 1 for the system bootstrap.
	next atomic.Uint64

	historyMu sync.RWMutex
	history   map[uint64]*Transaction
}

func NewManager(bufferManager *buffer.Manager, log zerolog.Logger, met *metrics.Metrics) *Manager {
	m := &Manager{
		buffer:  bufferManager,
		log:     log.With().Str("component", "txn").Logger(),
		met:     met,
		history: make(map[uint64]*Transaction),
	}
	m.next.Store(2)
	return m
}

// SetRowResolver wires the catalog-backed resolver after boot.
func (m *Manager) SetRowResolver(rows RowResolver) { m.rows = rows }

// NextTimestamp returns the current counter value, persisted to the
// metadata page at shutdown.
func (m *Manager) NextTimestamp() uint64 { return m.next.Load() }

// SetNextTimestamp restores the counter from the metadata page at startup.
func (m *Manager) SetNextTimestamp(ts uint64) { m.next.Store(ts) }

// Begin starts a new transaction with a fresh begin timestamp.
func (m *Manager) Begin(isolation IsolationLevel) *Transaction {
	t := newTransaction(isolation, NewTimestamp(m.next.Add(1)-1, false))
	m.met.TxnBegun.Inc()
	return t
}

// Commit claims a commit timestamp, validates the transaction and installs
// its writes. On validation failure the transaction is aborted and
// ErrTransactionConflict is returned.
func (m *Manager) Commit(txn *Transaction) error {
	if !txn.Active() {
		return ErrTransactionAborted
	}

	commitTime := m.next.Add(1) - 1
	txn.commit = NewTimestamp(commitTime, true)

	ok, err := m.validate(txn)
	if err != nil {
		m.abort(txn)
		return err
	}
	if !ok {
		m.met.TxnConflicts.Inc()
		m.abort(txn)
		return ErrTransactionConflict
	}

	if err := m.installWrites(txn); err != nil {
		// I/O failure while patching committed timestamps leaves the file
		// in an undefined state; surface it as corruption.
		return fmt.Errorf("concurrency: write phase failed, refusing further writes: %w", err)
	}

	m.historyMu.Lock()
	m.history[commitTime] = txn
	m.historyMu.Unlock()

	txn.state = StateCommitted
	m.met.TxnCommitted.Inc()
	return nil
}

// installWrites patches the timestamps of every written record to the
// commit timestamp of the transaction.
func (m *Manager) installWrites(txn *Transaction) error {
	commit := txn.CommitTimestamp()
	for _, w := range txn.WriteSet() {
		switch w.Type {
		case Inserted:
			if err := m.patchRecord(w.InPlaceRID, func(record []byte) {
				SetBeginTimestamp(record, commit)
			}); err != nil {
				return err
			}
		case Updated:
			if err := m.patchRecord(w.InPlaceRID, func(record []byte) {
				SetBeginTimestamp(record, commit)
			}); err != nil {
				return err
			}
			if err := m.patchRecord(w.OldVersion, func(record []byte) {
				SetEndTimestamp(record, commit)
			}); err != nil {
				return err
			}
		case Deleted:
			if err := m.patchRecord(w.InPlaceRID, func(record []byte) {
				SetEndTimestamp(record, commit)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Abort reverts every write of the transaction. Aborting an already aborted
// transaction is a no-op.
func (m *Manager) Abort(txn *Transaction) {
	if txn.state == StateAborted {
		return
	}
	m.abort(txn)
}

func (m *Manager) abort(txn *Transaction) {
	for _, w := range txn.WriteSet() {
		switch w.Type {
		case Inserted:
			// Free the slot; the record never became visible.
			if err := m.withRecordPage(w.InPlaceRID, true, func(rp storage.RecordPage) {
				rp.Erase(w.InPlaceRID.Slot())
			}); err != nil {
				m.log.Error().Err(err).Stringer("rid", w.InPlaceRID).Msg("abort: failed to free inserted record")
			}
		case Updated:
			if err := m.revertUpdate(w); err != nil {
				m.log.Error().Err(err).Stringer("rid", w.InPlaceRID).Msg("abort: failed to revert update")
			}
		case Deleted:
			// The record was only end-stamped with the uncommitted begin
			// timestamp; make it immortal again.
			if err := m.patchRecord(w.InPlaceRID, func(record []byte) {
				SetEndTimestamp(record, Infinity)
			}); err != nil {
				m.log.Error().Err(err).Stringer("rid", w.InPlaceRID).Msg("abort: failed to restore deleted record")
			}
		}
	}
	txn.state = StateAborted
	m.met.TxnAborted.Inc()
}

// revertUpdate copies the versioned old record from the time-travel space
// back in place and frees the time-travel slot.
func (m *Manager) revertUpdate(w WriteSetItem) error {
	oldPage, err := m.buffer.Pin(w.OldVersion.PageID())
	if err != nil {
		return err
	}
	oldRP := storage.AsRecordPage(oldPage)
	oldRecord := oldRP.Record(w.OldVersion.Slot())

	meta := DecodeRecordMeta(oldRecord)
	meta.End = Infinity

	inPage, err := m.buffer.Pin(w.InPlaceRID.PageID())
	if err != nil {
		_ = m.buffer.Unpin(w.OldVersion.PageID(), false)
		return err
	}
	inRP := storage.AsRecordPage(inPage)
	inRP.WriteRecord(w.InPlaceRID.Slot(), meta.EncodeToBytes(), oldRecord[storage.RecordMetaSize:])
	if err := m.buffer.Unpin(w.InPlaceRID.PageID(), true); err != nil {
		return err
	}

	oldRP.Erase(w.OldVersion.Slot())
	return m.buffer.Unpin(w.OldVersion.PageID(), true)
}

// Visible implements MVCC visibility: a version is visible to a transaction
// with begin timestamp txnBegin iff it was created at or before txnBegin and
// not ended at or before it. Uncommitted timestamps belong to running
// transactions: a version created by one is visible only to that
// transaction, and a pending delete hides the version only from its own
// transaction.
func Visible(txnBegin, begin, end Timestamp) bool {
	if begin.Committed() {
		if begin.Time() > txnBegin.Time() {
			return false
		}
	} else if begin != txnBegin {
		return false
	}

	if end.IsInfinity() {
		return true
	}
	if !end.Committed() {
		return end != txnBegin
	}
	return txnBegin.Time() < end.Time()
}

// IsVisible applies Visible for a transaction and a record's metadata.
func (m *Manager) IsVisible(txn *Transaction, meta RecordMeta) bool {
	return Visible(txn.BeginTimestamp(), meta.Begin, meta.End)
}

// validate checks the transaction against all transactions that committed
// between its begin and its commit timestamp.
func (m *Manager) validate(txn *Transaction) (bool, error) {
	concurrent := m.committedBetween(txn.BeginTimestamp().Time()+1, txn.CommitTimestamp().Time()-1)
	if len(concurrent) == 0 {
		return true, nil
	}

	if !validateWriteSkew(txn, concurrent) {
		m.log.Debug().Uint64("begin", txn.BeginTimestamp().Time()).Msg("validation failed: write skew")
		return false, nil
	}

	ok, err := m.validateScanSet(txn, concurrent)
	if err != nil {
		return false, err
	}
	if !ok {
		m.log.Debug().Uint64("begin", txn.BeginTimestamp().Time()).Msg("validation failed: scan set")
	}
	return ok, nil
}

// validateWriteSkew rejects the transaction when a concurrently committed
// transaction wrote a record this transaction has read.
func validateWriteSkew(txn *Transaction, concurrent []*Transaction) bool {
	readRecords := make(map[storage.RecordID]struct{}, len(txn.ReadSet()))
	for _, r := range txn.ReadSet() {
		readRecords[r.InPlaceRID] = struct{}{}
	}

	for _, other := range concurrent {
		for _, w := range other.WriteSet() {
			if _, ok := readRecords[w.InPlaceRID]; ok {
				return false
			}
		}
	}
	return true
}

// validateScanSet re-evaluates every scan predicate against the records
// written by concurrently committed transactions on the same table. A match
// means the scan would produce a different result now: a phantom.
func (m *Manager) validateScanSet(txn *Transaction, concurrent []*Transaction) (bool, error) {
	conflicts := make(map[int32][]WriteSetItem)
	for _, other := range concurrent {
		for _, w := range other.WriteSet() {
			conflicts[w.TableID] = append(conflicts[w.TableID], w)
		}
	}

	for _, scan := range txn.ScanSet() {
		writes, any := conflicts[scan.TableID]
		if !any {
			continue
		}
		ok, err := m.validateScanSetItem(scan, writes)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (m *Manager) validateScanSetItem(scan *ScanSetItem, writes []WriteSetItem) (bool, error) {
	for _, w := range writes {
		page, err := m.buffer.Pin(w.InPlaceRID.PageID())
		if err != nil {
			return false, err
		}
		rp := storage.AsRecordPage(page)

		matches := true
		if scan.Predicate != nil {
			row, err := m.rows.Row(scan.TableID, w.InPlaceRID, rp.Payload(w.InPlaceRID.Slot()))
			if err != nil {
				_ = m.buffer.Unpin(w.InPlaceRID.PageID(), false)
				return false, err
			}
			matches = scan.Predicate.Matches(row)
		}
		if err := m.buffer.Unpin(w.InPlaceRID.PageID(), false); err != nil {
			return false, err
		}
		if matches {
			return false, nil
		}
	}
	return true, nil
}

// committedBetween collects the transactions that committed in the closed
// time range [begin, end].
func (m *Manager) committedBetween(begin, end uint64) []*Transaction {
	if begin > end {
		return nil
	}

	var txns []*Transaction
	m.historyMu.RLock()
	defer m.historyMu.RUnlock()
	for t := begin; t <= end; t++ {
		if txn, ok := m.history[t]; ok {
			txns = append(txns, txn)
		}
	}
	return txns
}

// patchRecord pins the page of a record, mutates the record bytes and
// unpins dirty.
func (m *Manager) patchRecord(rid storage.RecordID, patch func(record []byte)) error {
	return m.withRecordPage(rid, true, func(rp storage.RecordPage) {
		patch(rp.Record(rid.Slot()))
	})
}

func (m *Manager) withRecordPage(rid storage.RecordID, dirty bool, fn func(rp storage.RecordPage)) error {
	page, err := m.buffer.Pin(rid.PageID())
	if err != nil {
		return err
	}
	fn(storage.AsRecordPage(page))
	return m.buffer.Unpin(rid.PageID(), dirty)
}
