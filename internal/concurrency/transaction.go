package concurrency

import (
	"errors"

	"github.com/tuannm99/waxdb/internal/storage"
)

// IsolationLevel of a transaction. Only Serializable is implemented.
type IsolationLevel uint8

const (
	Serializable IsolationLevel = iota
)

// TransactionState tracks the lifecycle of a transaction.
type TransactionState uint8

const (
	StateActive TransactionState = iota
	StateCommitted
	StateAborted
)

var (
	// ErrTransactionConflict is returned by Commit when validation against
	// concurrently committed transactions failed. The transaction has been
	// aborted; the caller may retry with a fresh one.
	ErrTransactionConflict = errors.New("concurrency: transaction conflicts with a concurrent commit")

	// ErrTransactionAborted is returned when operating on a transaction
	// that has already been aborted or committed.
	ErrTransactionAborted = errors.New("concurrency: transaction is no longer active")
)

// ModificationType classifies a write-set entry.
type ModificationType uint8

const (
	Inserted ModificationType = iota
	Updated
	Deleted
)

// ReadSetItem stores the in-place record identifier (needed to compare with
// concurrent write sets) and the record version that was actually read,
// which may live in the time-travel space.
type ReadSetItem struct {
	InPlaceRID storage.RecordID
	ReadRID    storage.RecordID
}

// WriteSetItem holds everything needed to commit or revert one write: the
// record written in place, the versioned copy it displaced (updates; inserts
// and deletes repeat the in-place RID) and the written payload size. Abort
// copies an old version back using the size of its time-travel slot.
type WriteSetItem struct {
	TableID     int32
	InPlaceRID  storage.RecordID
	OldVersion  storage.RecordID
	Type        ModificationType
	WrittenSize uint16
}

// ScanSetItem records that the transaction scanned a table with a predicate.
// A scan can miss records inserted, updated or deleted by a concurrent
// transaction, so it is re-validated at commit time.
type ScanSetItem struct {
	TableID   int32
	Predicate Matcher
}

// Transaction carries the begin and commit timestamps plus the read, write
// and scan sets. A transaction is used by one goroutine at a time.
type Transaction struct {
	isolation IsolationLevel
	begin     Timestamp
	commit    Timestamp
	state     TransactionState

	readSet  []ReadSetItem
	writeSet []WriteSetItem
	scanSet  []*ScanSetItem
}

func newTransaction(isolation IsolationLevel, begin Timestamp) *Transaction {
	return &Transaction{
		isolation: isolation,
		begin:     begin,
		commit:    Infinity,
	}
}

func (t *Transaction) IsolationLevel() IsolationLevel { return t.isolation }
func (t *Transaction) BeginTimestamp() Timestamp      { return t.begin }
func (t *Transaction) CommitTimestamp() Timestamp     { return t.commit }
func (t *Transaction) State() TransactionState        { return t.state }

// Active reports whether the transaction can still perform operations.
func (t *Transaction) Active() bool { return t.state == StateActive }

func (t *Transaction) AddToReadSet(item ReadSetItem)   { t.readSet = append(t.readSet, item) }
func (t *Transaction) AddToWriteSet(item WriteSetItem) { t.writeSet = append(t.writeSet, item) }
func (t *Transaction) AddToScanSet(item *ScanSetItem)  { t.scanSet = append(t.scanSet, item) }

func (t *Transaction) ReadSet() []ReadSetItem   { return t.readSet }
func (t *Transaction) WriteSet() []WriteSetItem { return t.writeSet }
func (t *Transaction) ScanSet() []*ScanSetItem  { return t.scanSet }
