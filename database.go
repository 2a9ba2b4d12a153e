// Package waxdb is a small relational storage engine: a paged file, a
// buffer pool with pluggable replacement, slotted record pages with
// version metadata, an MVCC transaction manager with optimistic
// serializable validation and B+-tree indexes. Query planning, execution
// operators and any network surface are external collaborators built on
// top of the Database API.
package waxdb

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tuannm99/waxdb/internal/buffer"
	"github.com/tuannm99/waxdb/internal/catalog"
	"github.com/tuannm99/waxdb/internal/concurrency"
	"github.com/tuannm99/waxdb/internal/config"
	"github.com/tuannm99/waxdb/internal/index/bplustree"
	"github.com/tuannm99/waxdb/internal/logger"
	"github.com/tuannm99/waxdb/internal/metrics"
	"github.com/tuannm99/waxdb/internal/storage"
	"github.com/tuannm99/waxdb/internal/table"
)

var (
	ErrDatabaseClosed = errors.New("waxdb: database is closed")
	ErrIndexExists    = errors.New("waxdb: index already exists")
	ErrIndexNotFound  = errors.New("waxdb: index not found")
	ErrIndexBadColumn = errors.New("waxdb: column type cannot be indexed")
	ErrRowNotVisible  = errors.New("waxdb: row is not visible to the transaction")
)

type indexKey struct {
	tableName string
	column    string
}

// Index is a B+-tree over one integer-typed column, mapping key values to
// the pages holding matching rows.
type Index struct {
	Meta catalog.IndexMeta
	tree *bplustree.Tree[int64, storage.PageID]

	// Single-writer correctness for the tree; readers share.
	mu sync.RWMutex
}

// Database owns all process-wide engine state: the page file, the buffer
// pool, the table disk manager, the transaction manager, the catalog and
// the index registry. Create one at startup and Close it at shutdown; all
// components receive explicit references instead of using globals.
type Database struct {
	cfg *config.Config
	log zerolog.Logger
	met *metrics.Metrics

	file    *storage.PageFile
	buffer  *buffer.Manager
	disk    *table.DiskManager
	txns    *concurrency.Manager
	catalog *catalog.Catalog

	indexMu sync.RWMutex
	indexes map[indexKey]*Index

	closed atomic.Bool
}

// Open boots a database from the configured file, creating and
// initializing it when empty.
func Open(cfg *config.Config) (*Database, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	met := metrics.New()

	file, err := storage.OpenPageFile(cfg.Storage.File, cfg.Storage.DirectIO)
	if err != nil {
		return nil, err
	}

	strategy, err := buffer.NewStrategy(cfg.Buffer.ReplacementStrategy, cfg.Buffer.Frames, cfg.Buffer.LRUK)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	bufferManager := buffer.NewManager(file, cfg.Buffer.Frames, strategy, log, met)
	diskManager := table.NewDiskManager(bufferManager)
	txnManager := concurrency.NewManager(bufferManager, log, met)
	cat := catalog.New(bufferManager, diskManager, txnManager, log)

	db := &Database{
		cfg:     cfg,
		log:     log,
		met:     met,
		file:    file,
		buffer:  bufferManager,
		disk:    diskManager,
		txns:    txnManager,
		catalog: cat,
		indexes: make(map[indexKey]*Index),
	}
	txnManager.SetRowResolver(db)

	if file.Count() == 0 {
		if err := cat.Initialize(); err != nil {
			_ = file.Close()
			return nil, err
		}
	}
	if err := cat.Boot(); err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := db.buildIndexes(); err != nil {
		_ = file.Close()
		return nil, err
	}

	log.Info().
		Str("file", cfg.Storage.File).
		Int("frames", cfg.Buffer.Frames).
		Str("strategy", cfg.Buffer.ReplacementStrategy).
		Msg("database open")
	return db, nil
}

// Close persists the timestamp counter and statistics, flushes every dirty
// page and closes the file. There is no write-ahead log; this flush is the
// durability point.
func (db *Database) Close() error {
	if db.closed.Swap(true) {
		return ErrDatabaseClosed
	}
	if err := db.catalog.Shutdown(); err != nil {
		return err
	}
	if err := db.buffer.Flush(); err != nil {
		return err
	}
	db.log.Info().Msg("database closed")
	return db.file.Close()
}

// Metrics exposes the engine's Prometheus registry for the embedding
// application to serve.
func (db *Database) Metrics() *metrics.Metrics { return db.met }

// Begin starts a serializable transaction.
func (db *Database) Begin() *concurrency.Transaction {
	return db.txns.Begin(concurrency.Serializable)
}

// Commit validates and commits. Returns concurrency.ErrTransactionConflict
// when validation failed; the transaction is aborted in that case and the
// caller may retry.
func (db *Database) Commit(txn *concurrency.Transaction) error {
	return db.txns.Commit(txn)
}

// Abort reverts all writes of the transaction. Safe to call repeatedly.
func (db *Database) Abort(txn *concurrency.Transaction) {
	db.txns.Abort(txn)
}

// Table resolves a table handle by name.
func (db *Database) Table(name string) (*table.Table, error) {
	return db.catalog.Table(name)
}

// CreateTable creates a table with the given columns inside txn.
func (db *Database) CreateTable(txn *concurrency.Transaction, name string, columns []table.Column) (*table.Table, error) {
	if db.closed.Load() {
		return nil, ErrDatabaseClosed
	}
	if !txn.Active() {
		return nil, concurrency.ErrTransactionAborted
	}
	return db.catalog.CreateTable(txn, name, columns)
}

// Insert appends a row to the table, records it in the transaction's write
// set and feeds the table's indexes.
func (db *Database) Insert(txn *concurrency.Transaction, tableName string, values []any) (storage.RecordID, error) {
	if db.closed.Load() {
		return storage.InvalidRecordID, ErrDatabaseClosed
	}
	if !txn.Active() {
		return storage.InvalidRecordID, concurrency.ErrTransactionAborted
	}

	tbl, err := db.catalog.Table(tableName)
	if err != nil {
		return storage.InvalidRecordID, err
	}

	row := table.NewMemoryTuple(tbl.Schema())
	if err := fillTuple(row, values); err != nil {
		return storage.InvalidRecordID, err
	}

	rid, err := db.disk.AddRow(txn, tbl, row)
	if err != nil {
		return storage.InvalidRecordID, err
	}
	txn.AddToWriteSet(concurrency.WriteSetItem{
		TableID:     tbl.ID(),
		InPlaceRID:  rid,
		OldVersion:  rid,
		Type:        concurrency.Inserted,
		WrittenSize: tbl.Schema().RowSize(),
	})
	db.catalog.AddCardinality(tbl.ID(), 1)
	db.feedIndexes(tbl, row, rid)
	return rid, nil
}

// Update overwrites a row in place after versioning the current record
// into the time-travel space. The row must come from a Scan, IndexGet or
// IndexRange of the same transaction.
func (db *Database) Update(txn *concurrency.Transaction, tableName string, row *table.Tuple, values []any) error {
	if db.closed.Load() {
		return ErrDatabaseClosed
	}
	if !txn.Active() {
		return concurrency.ErrTransactionAborted
	}

	tbl, err := db.catalog.Table(tableName)
	if err != nil {
		return err
	}

	inPlaceRID := row.Meta().OriginalRID
	oldVersionRID, err := db.disk.CopyRowToTimeTravel(txn, tbl, row)
	if err != nil {
		return err
	}

	updated := table.NewMemoryTuple(tbl.Schema())
	if err := fillTuple(updated, values); err != nil {
		return err
	}

	meta := concurrency.NewRecordMeta(inPlaceRID, txn.BeginTimestamp())
	meta.Next = oldVersionRID

	page, err := db.buffer.Pin(inPlaceRID.PageID())
	if err != nil {
		return err
	}
	storage.AsRecordPage(page).WriteRecord(inPlaceRID.Slot(), meta.EncodeToBytes(), updated.Data())
	if err := db.buffer.Unpin(inPlaceRID.PageID(), true); err != nil {
		return err
	}

	txn.AddToWriteSet(concurrency.WriteSetItem{
		TableID:     tbl.ID(),
		InPlaceRID:  inPlaceRID,
		OldVersion:  oldVersionRID,
		Type:        concurrency.Updated,
		WrittenSize: tbl.Schema().RowSize(),
	})
	db.feedIndexes(tbl, updated, inPlaceRID)
	return nil
}

// Delete ends the row at the transaction's begin timestamp. Commit patches
// the end to the commit timestamp; abort makes the row immortal again.
func (db *Database) Delete(txn *concurrency.Transaction, tableName string, row *table.Tuple) error {
	if db.closed.Load() {
		return ErrDatabaseClosed
	}
	if !txn.Active() {
		return concurrency.ErrTransactionAborted
	}

	tbl, err := db.catalog.Table(tableName)
	if err != nil {
		return err
	}

	inPlaceRID := row.Meta().OriginalRID
	page, err := db.buffer.Pin(inPlaceRID.PageID())
	if err != nil {
		return err
	}
	record := storage.AsRecordPage(page).Record(inPlaceRID.Slot())
	if !concurrency.TrySetEndTimestamp(record, concurrency.Infinity, txn.BeginTimestamp()) {
		_ = db.buffer.Unpin(inPlaceRID.PageID(), false)
		return ErrRowNotVisible
	}
	if err := db.buffer.Unpin(inPlaceRID.PageID(), true); err != nil {
		return err
	}

	txn.AddToWriteSet(concurrency.WriteSetItem{
		TableID:     tbl.ID(),
		InPlaceRID:  inPlaceRID,
		OldVersion:  inPlaceRID,
		Type:        concurrency.Deleted,
		WrittenSize: tbl.Schema().RowSize(),
	})
	db.catalog.AddCardinality(tbl.ID(), -1)
	return nil
}

// Scan walks the whole table and returns detached copies of every row
// visible to txn that matches the predicate (nil matches all). The scan is
// recorded in the read set and, with its predicate, in the scan set for
// phantom validation. Pages are pinned one chain page at a time, together
// with the time-travel pages its version chains reach; when that count
// exceeds the configured scan page limit a warning is logged and the scan
// continues.
func (db *Database) Scan(txn *concurrency.Transaction, tableName string, predicate concurrency.Matcher) ([]*table.Tuple, error) {
	if db.closed.Load() {
		return nil, ErrDatabaseClosed
	}
	if !txn.Active() {
		return nil, concurrency.ErrTransactionAborted
	}

	tbl, err := db.catalog.Table(tableName)
	if err != nil {
		return nil, err
	}

	rows, err := db.scanPages(txn, tbl, db.chainPages(tbl.PageID()), predicate)
	if err != nil {
		return nil, err
	}

	scanItem := &concurrency.ScanSetItem{TableID: tbl.ID()}
	if predicate != nil {
		scanItem.Predicate = predicate.Clone()
	}
	txn.AddToScanSet(scanItem)
	return rows, nil
}

// chainPages returns a page-id iterator over one page chain.
func (db *Database) chainPages(head storage.PageID) func() (storage.PageID, error) {
	next := head
	return func() (storage.PageID, error) {
		if next == storage.InvalidPageID {
			return storage.InvalidPageID, nil
		}
		current := next
		page, err := db.buffer.Pin(current)
		if err != nil {
			return storage.InvalidPageID, err
		}
		next = page.NextPageID()
		if err := db.buffer.Unpin(current, false); err != nil {
			return storage.InvalidPageID, err
		}
		return current, nil
	}
}

// scanPages reads the given pages, filters visible rows by the predicate
// and detaches matches into memory. Pins are released page batch by page
// batch; a batch holding more pins than scan.page_limit only logs a warning.
func (db *Database) scanPages(txn *concurrency.Transaction, tbl *table.Table, nextPage func() (storage.PageID, error), predicate concurrency.Matcher) ([]*table.Tuple, error) {
	var results []*table.Tuple

	pinnedLimit := db.cfg.Scan.PageLimit

	for {
		pageID, err := nextPage()
		if err != nil {
			return nil, err
		}
		if pageID == storage.InvalidPageID {
			return results, nil
		}

		page, err := db.buffer.Pin(pageID)
		if err != nil {
			return nil, err
		}

		rows, extraPages, err := db.disk.ReadRows(page, txn, tbl.Schema())
		if err != nil {
			_ = db.buffer.Unpin(pageID, false)
			return nil, err
		}
		if len(extraPages)+1 > pinnedLimit {
			db.log.Warn().
				Int("pinned", len(extraPages)+1).
				Int("limit", pinnedLimit).
				Str("table", tbl.Name()).
				Msg("scan pin count exceeds scan.page_limit")
		}

		for _, row := range rows {
			if predicate != nil && !predicate.Matches(row) {
				continue
			}
			txn.AddToReadSet(concurrency.ReadSetItem{
				InPlaceRID: row.Meta().OriginalRID,
				ReadRID:    row.RecordID(),
			})
			results = append(results, row.Copy())
		}

		db.disk.ReleasePages(extraPages)
		if err := db.buffer.Unpin(pageID, false); err != nil {
			return nil, err
		}
	}
}

// CreateBTreeIndex registers a B+-tree index over one integer-typed column
// and backfills it from the existing rows.
func (db *Database) CreateBTreeIndex(txn *concurrency.Transaction, tableName, column, indexName string, unique bool) error {
	if db.closed.Load() {
		return ErrDatabaseClosed
	}
	if !txn.Active() {
		return concurrency.ErrTransactionAborted
	}

	tbl, err := db.catalog.Table(tableName)
	if err != nil {
		return err
	}
	colIdx, ok := tbl.Schema().ColumnIndex(column)
	if !ok {
		return fmt.Errorf("%w: %s.%s", catalog.ErrColumnUnknown, tableName, column)
	}
	if !indexableType(tbl.Schema().Column(colIdx).Type) {
		return fmt.Errorf("%w: %s.%s is %s", ErrIndexBadColumn, tableName, column, tbl.Schema().Column(colIdx).Type)
	}

	key := indexKey{tableName: tableName, column: column}
	db.indexMu.Lock()
	if _, exists := db.indexes[key]; exists {
		db.indexMu.Unlock()
		return fmt.Errorf("%w: %s.%s", ErrIndexExists, tableName, column)
	}
	db.indexMu.Unlock()

	meta, err := db.catalog.CreateIndex(txn, tbl, column, indexName, unique)
	if err != nil {
		return err
	}

	idx := newIndex(meta)
	if err := db.backfillIndex(txn, tbl, idx); err != nil {
		return err
	}

	db.indexMu.Lock()
	db.indexes[key] = idx
	db.indexMu.Unlock()

	db.log.Info().Str("table", tableName).Str("column", column).Str("index", indexName).Msg("created index")
	return nil
}

// IndexGet returns the rows with column == key, located through the index.
// Falls back to the page the index points at; visibility and the exact key
// are re-checked against the page content.
func (db *Database) IndexGet(txn *concurrency.Transaction, tableName, column string, key int64) ([]*table.Tuple, error) {
	return db.IndexRange(txn, tableName, column, key, key)
}

// IndexRange returns the rows with column values in [from, to], located
// through the index.
func (db *Database) IndexRange(txn *concurrency.Transaction, tableName, column string, from, to int64) ([]*table.Tuple, error) {
	if db.closed.Load() {
		return nil, ErrDatabaseClosed
	}
	if !txn.Active() {
		return nil, concurrency.ErrTransactionAborted
	}

	tbl, err := db.catalog.Table(tableName)
	if err != nil {
		return nil, err
	}
	idx, err := db.index(tableName, column)
	if err != nil {
		return nil, err
	}
	colIdx, ok := tbl.Schema().ColumnIndex(column)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", catalog.ErrColumnUnknown, tableName, column)
	}

	idx.mu.RLock()
	pageIDs := idx.tree.GetRange(from, to)
	idx.mu.RUnlock()

	predicate := concurrency.AndMatcher{
		Left:  concurrency.NewCompareMatcher(colIdx, concurrency.CompareGE, from),
		Right: concurrency.NewCompareMatcher(colIdx, concurrency.CompareLE, to),
	}

	pages := pageIDs
	i := 0
	nextPage := func() (storage.PageID, error) {
		if i >= len(pages) {
			return storage.InvalidPageID, nil
		}
		id := pages[i]
		i++
		return id, nil
	}

	rows, err := db.scanPages(txn, tbl, nextPage, predicate)
	if err != nil {
		return nil, err
	}
	txn.AddToScanSet(&concurrency.ScanSetItem{TableID: tbl.ID(), Predicate: predicate.Clone()})
	return rows, nil
}

// Row implements concurrency.RowResolver: it rebuilds a predicate-checkable
// row from a raw record payload during scan-set validation.
func (db *Database) Row(tableID int32, rid storage.RecordID, payload []byte) (concurrency.Row, error) {
	tbl, err := db.catalog.TableByID(tableID)
	if err != nil {
		return nil, err
	}
	meta := concurrency.NewRecordMeta(rid, concurrency.Infinity)
	return table.NewTupleView(tbl.Schema(), rid, meta, payload), nil
}

func (db *Database) index(tableName, column string) (*Index, error) {
	db.indexMu.RLock()
	defer db.indexMu.RUnlock()
	idx, ok := db.indexes[indexKey{tableName: tableName, column: column}]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrIndexNotFound, tableName, column)
	}
	return idx, nil
}

func newIndex(meta catalog.IndexMeta) *Index {
	idx := &Index{Meta: meta}
	if meta.Unique {
		idx.tree = bplustree.NewUnique[int64, storage.PageID]()
	} else {
		idx.tree = bplustree.NewNonUnique[int64, storage.PageID]()
	}
	return idx
}

// buildIndexes recreates the trees for every index declared in the catalog
// by scanning their tables, as part of boot.
func (db *Database) buildIndexes() error {
	for _, meta := range db.catalog.Indices() {
		tbl, err := db.catalog.Table(meta.TableName)
		if err != nil {
			return err
		}
		idx := newIndex(meta)

		txn := db.txns.Begin(concurrency.Serializable)
		if err := db.backfillIndex(txn, tbl, idx); err != nil {
			db.txns.Abort(txn)
			return err
		}
		if err := db.txns.Commit(txn); err != nil {
			return err
		}

		db.indexMu.Lock()
		db.indexes[indexKey{tableName: meta.TableName, column: meta.Column}] = idx
		db.indexMu.Unlock()
	}
	return nil
}

func (db *Database) backfillIndex(txn *concurrency.Transaction, tbl *table.Table, idx *Index) error {
	colIdx, ok := tbl.Schema().ColumnIndex(idx.Meta.Column)
	if !ok {
		return fmt.Errorf("%w: %s.%s", catalog.ErrColumnUnknown, tbl.Name(), idx.Meta.Column)
	}

	rows, err := db.scanPages(txn, tbl, db.chainPages(tbl.PageID()), nil)
	if err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, row := range rows {
		key, ok := row.Field(colIdx).(int64)
		if !ok {
			continue
		}
		idx.tree.Put(key, row.Meta().OriginalRID.PageID())
	}
	return nil
}

// feedIndexes adds the row's key to every index of the table.
func (db *Database) feedIndexes(tbl *table.Table, row *table.Tuple, rid storage.RecordID) {
	db.indexMu.RLock()
	defer db.indexMu.RUnlock()
	for key, idx := range db.indexes {
		if key.tableName != tbl.Name() {
			continue
		}
		colIdx, ok := tbl.Schema().ColumnIndex(key.column)
		if !ok {
			continue
		}
		value, ok := row.Field(colIdx).(int64)
		if !ok {
			continue
		}
		idx.mu.Lock()
		idx.tree.Put(value, rid.PageID())
		idx.mu.Unlock()
	}
}

func indexableType(t table.Type) bool {
	switch t.ID {
	case table.Int, table.Long, table.Date:
		return true
	default:
		return false
	}
}

func fillTuple(row *table.Tuple, values []any) error {
	if len(values) != row.Schema().NumColumns() {
		return fmt.Errorf("%w: got %d values for %d columns", table.ErrTypeMismatch, len(values), row.Schema().NumColumns())
	}
	for i, v := range values {
		if err := row.Set(i, v); err != nil {
			return err
		}
	}
	return nil
}
