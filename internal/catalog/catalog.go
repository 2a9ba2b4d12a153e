// Package catalog maintains the system tables stored on the reserved pages
// of the database file and the runtime registry of table handles.
package catalog

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tuannm99/waxdb/internal/buffer"
	"github.com/tuannm99/waxdb/internal/concurrency"
	"github.com/tuannm99/waxdb/internal/storage"
	"github.com/tuannm99/waxdb/internal/table"
)

// Reserved page ids. Page 0 holds database metadata, pages 1..4 the system
// catalog: tables, columns, indices and table statistics.
const (
	MetadataPageID   = storage.PageID(0)
	TablesPageID     = storage.PageID(1)
	ColumnsPageID    = storage.PageID(2)
	IndicesPageID    = storage.PageID(3)
	StatisticsPageID = storage.PageID(4)
)

// Ids of the system tables themselves. They are "virtual": not described by
// catalog rows, their schemas are fixed in code.
const (
	tablesTableID     = int32(-1)
	columnsTableID    = int32(-2)
	indicesTableID    = int32(-3)
	statisticsTableID = int32(-4)
)

// BTreeIndexType is the only index type id stored in system_indices.
const BTreeIndexType = int32(0)

var (
	ErrTableExists   = errors.New("catalog: table already exists")
	ErrTableUnknown  = errors.New("catalog: unknown table")
	ErrColumnUnknown = errors.New("catalog: unknown column")
)

// IndexMeta describes one registered index.
type IndexMeta struct {
	ID        int32
	ColumnID  int32
	TableName string
	Column    string
	Name      string
	Unique    bool
}

type statisticsEntry struct {
	rid         storage.RecordID
	cardinality int64
}

type columnEntry struct {
	id    int32
	name  string
	typ   table.Type
}

// Catalog owns the system tables and the registry of user table handles.
type Catalog struct {
	buffer *buffer.Manager
	disk   *table.DiskManager
	txns   *concurrency.Manager
	log    zerolog.Logger

	systemTables     *table.Table
	systemColumns    *table.Table
	systemIndices    *table.Table
	systemStatistics *table.Table

	mu          sync.RWMutex
	tables      map[string]*table.Table
	tablesByID  map[int32]*table.Table
	tableRIDs   map[int32]storage.RecordID
	columnIDs   map[int32]map[string]int32 // table id -> column name -> column id
	indices     []IndexMeta
	statistics  map[int32]*statisticsEntry
	nextTableID int32
	nextColumnID int32
	nextIndexID  int32
}

func New(bufferManager *buffer.Manager, disk *table.DiskManager, txns *concurrency.Manager, log zerolog.Logger) *Catalog {
	c := &Catalog{
		buffer:       bufferManager,
		disk:         disk,
		txns:         txns,
		log:          log.With().Str("component", "catalog").Logger(),
		tables:       make(map[string]*table.Table),
		tablesByID:   make(map[int32]*table.Table),
		tableRIDs:    make(map[int32]storage.RecordID),
		columnIDs:    make(map[int32]map[string]int32),
		statistics:   make(map[int32]*statisticsEntry),
		nextTableID:  1,
		nextColumnID: 1,
		nextIndexID:  1,
	}
	c.systemTables = table.NewTable(tablesTableID, TablesPageID, storage.InvalidPageID, systemTablesSchema())
	c.systemColumns = table.NewTable(columnsTableID, ColumnsPageID, storage.InvalidPageID, systemColumnsSchema())
	c.systemIndices = table.NewTable(indicesTableID, IndicesPageID, storage.InvalidPageID, systemIndicesSchema())
	c.systemStatistics = table.NewTable(statisticsTableID, StatisticsPageID, storage.InvalidPageID, systemStatisticsSchema())
	for _, t := range []*table.Table{c.systemTables, c.systemColumns, c.systemIndices, c.systemStatistics} {
		c.tables[t.Name()] = t
		c.tablesByID[t.ID()] = t
	}
	return c
}

func systemTablesSchema() *table.Schema {
	return table.NewSchema("system_tables", []table.Column{
		{Name: "id", Type: table.MakeInt()},
		{Name: "name", Type: table.MakeChar(48)},
		{Name: "page", Type: table.MakeInt()},
		{Name: "time_travel_page", Type: table.MakeLong()},
	})
}

func systemColumnsSchema() *table.Schema {
	return table.NewSchema("system_columns", []table.Column{
		{Name: "id", Type: table.MakeInt()},
		{Name: "table_id", Type: table.MakeInt()},
		{Name: "type_id", Type: table.MakeInt()},
		{Name: "length", Type: table.MakeInt()},
		{Name: "name", Type: table.MakeChar(48)},
		{Name: "is_nullable", Type: table.MakeInt()},
		{Name: "is_unique", Type: table.MakeInt()},
		{Name: "is_primary_key", Type: table.MakeInt()},
	})
}

func systemIndicesSchema() *table.Schema {
	return table.NewSchema("system_indices", []table.Column{
		{Name: "id", Type: table.MakeInt()},
		{Name: "column_id", Type: table.MakeInt()},
		{Name: "type_id", Type: table.MakeInt()},
		{Name: "name", Type: table.MakeChar(48)},
		{Name: "is_unique", Type: table.MakeInt()},
	})
}

func systemStatisticsSchema() *table.Schema {
	return table.NewSchema("system_table_statistics", []table.Column{
		{Name: "table_id", Type: table.MakeInt()},
		{Name: "cardinality", Type: table.MakeLong()},
	})
}

// Initialize allocates the reserved pages of a fresh database file. The
// allocation order pins the well-known page ids.
func (c *Catalog) Initialize() error {
	meta, err := c.buffer.AllocateMeta()
	if err != nil {
		return err
	}
	if meta.ID() != MetadataPageID {
		return fmt.Errorf("catalog: metadata page allocated as %d", meta.ID())
	}
	storage.AsMetadataPage(meta).SetNextTransactionTimestamp(2)
	if err := c.buffer.Unpin(meta.ID(), true); err != nil {
		return err
	}

	for _, want := range []storage.PageID{TablesPageID, ColumnsPageID, IndicesPageID, StatisticsPageID} {
		page, err := c.buffer.Allocate()
		if err != nil {
			return err
		}
		if page.ID() != want {
			return fmt.Errorf("catalog: system page allocated as %d, want %d", page.ID(), want)
		}
		if err := c.buffer.Unpin(page.ID(), true); err != nil {
			return err
		}
	}
	return nil
}

// Boot reloads the timestamp counter and rebuilds all table handles,
// columns, indices and statistics from the catalog pages.
func (c *Catalog) Boot() error {
	meta, err := c.buffer.Pin(MetadataPageID)
	if err != nil {
		return err
	}
	c.txns.SetNextTimestamp(storage.AsMetadataPage(meta).NextTransactionTimestamp())
	if err := c.buffer.Unpin(MetadataPageID, false); err != nil {
		return err
	}

	bootTxn := c.txns.Begin(concurrency.Serializable)
	defer func() {
		if bootTxn.Active() {
			c.txns.Abort(bootTxn)
		}
	}()

	columns, err := c.loadColumns(bootTxn)
	if err != nil {
		return err
	}
	if err := c.loadTables(bootTxn, columns); err != nil {
		return err
	}
	if err := c.loadIndices(bootTxn); err != nil {
		return err
	}
	if err := c.loadStatistics(bootTxn); err != nil {
		return err
	}

	return c.txns.Commit(bootTxn)
}

// loadColumns groups the system_columns rows by table id, in insertion
// order.
func (c *Catalog) loadColumns(txn *concurrency.Transaction) (map[int32][]columnEntry, error) {
	columns := make(map[int32][]columnEntry)
	err := c.scanChain(txn, c.systemColumns, func(row *table.Tuple) error {
		id, _ := row.Get(0)
		tableID, _ := row.Get(1)
		typeID, _ := row.Get(2)
		length, _ := row.Get(3)
		name, _ := row.Get(4)

		entry := columnEntry{
			id:   id.(int32),
			name: name.(string),
			typ:  table.Type{ID: table.TypeID(typeID.(int32)), Length: uint16(length.(int32))},
		}
		tid := tableID.(int32)
		columns[tid] = append(columns[tid], entry)
		if entry.id >= c.nextColumnID {
			c.nextColumnID = entry.id + 1
		}
		return nil
	})
	return columns, err
}

func (c *Catalog) loadTables(txn *concurrency.Transaction, columns map[int32][]columnEntry) error {
	return c.scanChain(txn, c.systemTables, func(row *table.Tuple) error {
		id, _ := row.Get(0)
		name, _ := row.Get(1)
		pageID, _ := row.Get(2)
		timeTravelPageID, _ := row.Get(3)

		tableID := id.(int32)
		cols := make([]table.Column, 0, len(columns[tableID]))
		ids := make(map[string]int32, len(columns[tableID]))
		for _, entry := range columns[tableID] {
			cols = append(cols, table.Column{Name: entry.name, Type: entry.typ})
			ids[entry.name] = entry.id
		}

		schema := table.NewSchema(name.(string), cols)
		tbl := table.NewTable(tableID, storage.PageID(pageID.(int32)), storage.PageID(uint32(timeTravelPageID.(int64))), schema)

		c.mu.Lock()
		c.tables[tbl.Name()] = tbl
		c.tablesByID[tableID] = tbl
		c.tableRIDs[tableID] = row.RecordID()
		c.columnIDs[tableID] = ids
		if tableID >= c.nextTableID {
			c.nextTableID = tableID + 1
		}
		c.mu.Unlock()
		return nil
	})
}

func (c *Catalog) loadIndices(txn *concurrency.Transaction) error {
	return c.scanChain(txn, c.systemIndices, func(row *table.Tuple) error {
		id, _ := row.Get(0)
		columnID, _ := row.Get(1)
		name, _ := row.Get(3)
		isUnique, _ := row.Get(4)

		meta := IndexMeta{
			ID:       id.(int32),
			ColumnID: columnID.(int32),
			Name:     name.(string),
			Unique:   isUnique.(int32) != 0,
		}
		// Resolve the column id back to table and column names.
		c.mu.Lock()
		for tableID, cols := range c.columnIDs {
			for colName, colID := range cols {
				if colID == meta.ColumnID {
					meta.TableName = c.tablesByID[tableID].Name()
					meta.Column = colName
				}
			}
		}
		c.indices = append(c.indices, meta)
		if meta.ID >= c.nextIndexID {
			c.nextIndexID = meta.ID + 1
		}
		c.mu.Unlock()
		return nil
	})
}

func (c *Catalog) loadStatistics(txn *concurrency.Transaction) error {
	return c.scanChain(txn, c.systemStatistics, func(row *table.Tuple) error {
		tableID, _ := row.Get(0)
		cardinality, _ := row.Get(1)

		c.mu.Lock()
		c.statistics[tableID.(int32)] = &statisticsEntry{
			rid:         row.RecordID(),
			cardinality: cardinality.(int64),
		}
		c.mu.Unlock()
		return nil
	})
}

// scanChain walks all pages of a table chain and invokes fn for every
// visible row. Rows passed to fn view pinned pages; fn must copy what it
// keeps.
func (c *Catalog) scanChain(txn *concurrency.Transaction, tbl *table.Table, fn func(row *table.Tuple) error) error {
	pageID := tbl.PageID()
	for pageID != storage.InvalidPageID {
		page, err := c.buffer.Pin(pageID)
		if err != nil {
			return err
		}

		rows, extraPages, err := c.disk.ReadRows(page, txn, tbl.Schema())
		if err != nil {
			_ = c.buffer.Unpin(pageID, false)
			return err
		}
		for _, row := range rows {
			if err := fn(row); err != nil {
				c.disk.ReleasePages(extraPages)
				_ = c.buffer.Unpin(pageID, false)
				return err
			}
		}
		c.disk.ReleasePages(extraPages)

		nextPageID := page.NextPageID()
		if err := c.buffer.Unpin(pageID, false); err != nil {
			return err
		}
		pageID = nextPageID
	}
	return nil
}

// CreateTable allocates the head page of a new table and persists its
// schema in the catalog. The catalog rows join the transaction's write set,
// so an abort removes the table records again.
func (c *Catalog) CreateTable(txn *concurrency.Transaction, name string, columns []table.Column) (*table.Table, error) {
	c.mu.Lock()
	if _, exists := c.tables[name]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTableExists, name)
	}
	tableID := c.nextTableID
	c.nextTableID++
	c.mu.Unlock()

	headPage, err := c.buffer.Allocate()
	if err != nil {
		return nil, err
	}
	headPageID := headPage.ID()
	if err := c.buffer.Unpin(headPageID, true); err != nil {
		return nil, err
	}

	// system_tables row
	tableRow := table.NewMemoryTuple(c.systemTables.Schema())
	_ = tableRow.Set(0, tableID)
	_ = tableRow.Set(1, name)
	_ = tableRow.Set(2, int32(headPageID))
	_ = tableRow.Set(3, int64(uint32(storage.InvalidPageID)))
	tableRID, err := c.disk.AddRow(txn, c.systemTables, tableRow)
	if err != nil {
		return nil, err
	}
	txn.AddToWriteSet(concurrency.WriteSetItem{
		TableID:     c.systemTables.ID(),
		InPlaceRID:  tableRID,
		OldVersion:  tableRID,
		Type:        concurrency.Inserted,
		WrittenSize: c.systemTables.Schema().RowSize(),
	})

	// system_columns rows
	ids := make(map[string]int32, len(columns))
	for _, col := range columns {
		c.mu.Lock()
		columnID := c.nextColumnID
		c.nextColumnID++
		c.mu.Unlock()

		columnRow := table.NewMemoryTuple(c.systemColumns.Schema())
		_ = columnRow.Set(0, columnID)
		_ = columnRow.Set(1, tableID)
		_ = columnRow.Set(2, int32(col.Type.ID))
		_ = columnRow.Set(3, int32(col.Type.Length))
		_ = columnRow.Set(4, col.Name)
		_ = columnRow.Set(5, int32(0))
		_ = columnRow.Set(6, int32(0))
		_ = columnRow.Set(7, int32(0))
		columnRID, err := c.disk.AddRow(txn, c.systemColumns, columnRow)
		if err != nil {
			return nil, err
		}
		txn.AddToWriteSet(concurrency.WriteSetItem{
			TableID:     c.systemColumns.ID(),
			InPlaceRID:  columnRID,
			OldVersion:  columnRID,
			Type:        concurrency.Inserted,
			WrittenSize: c.systemColumns.Schema().RowSize(),
		})
		ids[col.Name] = columnID
	}

	// system_table_statistics row, starting at cardinality zero
	statisticsRow := table.NewMemoryTuple(c.systemStatistics.Schema())
	_ = statisticsRow.Set(0, tableID)
	_ = statisticsRow.Set(1, int64(0))
	statisticsRID, err := c.disk.AddRow(txn, c.systemStatistics, statisticsRow)
	if err != nil {
		return nil, err
	}
	txn.AddToWriteSet(concurrency.WriteSetItem{
		TableID:     c.systemStatistics.ID(),
		InPlaceRID:  statisticsRID,
		OldVersion:  statisticsRID,
		Type:        concurrency.Inserted,
		WrittenSize: c.systemStatistics.Schema().RowSize(),
	})

	schema := table.NewSchema(name, columns)
	tbl := table.NewTable(tableID, headPageID, storage.InvalidPageID, schema)

	c.mu.Lock()
	c.tables[name] = tbl
	c.tablesByID[tableID] = tbl
	c.tableRIDs[tableID] = tableRID
	c.columnIDs[tableID] = ids
	c.statistics[tableID] = &statisticsEntry{rid: statisticsRID}
	c.mu.Unlock()

	c.log.Info().Str("table", name).Int32("id", tableID).Msg("created table")
	return tbl, nil
}

// CreateIndex registers an index over one column in the catalog.
func (c *Catalog) CreateIndex(txn *concurrency.Transaction, tbl *table.Table, column, name string, unique bool) (IndexMeta, error) {
	c.mu.Lock()
	columnID, ok := c.columnIDs[tbl.ID()][column]
	if !ok {
		c.mu.Unlock()
		return IndexMeta{}, fmt.Errorf("%w: %s.%s", ErrColumnUnknown, tbl.Name(), column)
	}
	indexID := c.nextIndexID
	c.nextIndexID++
	c.mu.Unlock()

	row := table.NewMemoryTuple(c.systemIndices.Schema())
	_ = row.Set(0, indexID)
	_ = row.Set(1, columnID)
	_ = row.Set(2, BTreeIndexType)
	_ = row.Set(3, name)
	isUnique := int32(0)
	if unique {
		isUnique = 1
	}
	_ = row.Set(4, isUnique)

	rid, err := c.disk.AddRow(txn, c.systemIndices, row)
	if err != nil {
		return IndexMeta{}, err
	}
	txn.AddToWriteSet(concurrency.WriteSetItem{
		TableID:     c.systemIndices.ID(),
		InPlaceRID:  rid,
		OldVersion:  rid,
		Type:        concurrency.Inserted,
		WrittenSize: c.systemIndices.Schema().RowSize(),
	})

	meta := IndexMeta{
		ID:        indexID,
		ColumnID:  columnID,
		TableName: tbl.Name(),
		Column:    column,
		Name:      name,
		Unique:    unique,
	}
	c.mu.Lock()
	c.indices = append(c.indices, meta)
	c.mu.Unlock()
	return meta, nil
}

// Table resolves a table handle by name.
func (c *Catalog) Table(name string) (*table.Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tbl, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableUnknown, name)
	}
	return tbl, nil
}

// TableByID resolves a table handle by id, system tables included.
func (c *Catalog) TableByID(id int32) (*table.Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tbl, ok := c.tablesByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrTableUnknown, id)
	}
	return tbl, nil
}

// UserTables returns every non-virtual table handle.
func (c *Catalog) UserTables() []*table.Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tables := make([]*table.Table, 0, len(c.tables))
	for _, tbl := range c.tables {
		if !tbl.IsVirtual() {
			tables = append(tables, tbl)
		}
	}
	return tables
}

// Indices returns the registered index metadata.
func (c *Catalog) Indices() []IndexMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]IndexMeta(nil), c.indices...)
}

// Cardinality returns the tracked row count of a table.
func (c *Catalog) Cardinality(tableID int32) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if entry, ok := c.statistics[tableID]; ok {
		return entry.cardinality
	}
	return 0
}

// AddCardinality adjusts the tracked row count of a table.
func (c *Catalog) AddCardinality(tableID int32, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.statistics[tableID]; ok {
		entry.cardinality += delta
	}
}

// Shutdown persists the timestamp counter, the statistics and the
// time-travel chain heads. Runs single-threaded at close, so the records
// are patched in place.
func (c *Catalog) Shutdown() error {
	meta, err := c.buffer.Pin(MetadataPageID)
	if err != nil {
		return err
	}
	storage.AsMetadataPage(meta).SetNextTransactionTimestamp(c.txns.NextTimestamp())
	if err := c.buffer.Unpin(MetadataPageID, true); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for tableID, entry := range c.statistics {
		if !entry.rid.Valid() {
			continue
		}
		if err := c.patchRow(c.systemStatistics, entry.rid, 1, func(row *table.Tuple) error {
			return row.Set(1, entry.cardinality)
		}); err != nil {
			c.log.Error().Err(err).Int32("table", tableID).Msg("failed to persist statistics")
			return err
		}
	}

	// The time-travel head is allocated lazily after the catalog row was
	// written; sync it back so version chains survive a restart.
	for tableID, rid := range c.tableRIDs {
		tbl := c.tablesByID[tableID]
		if err := c.patchRow(c.systemTables, rid, 3, func(row *table.Tuple) error {
			return row.Set(3, int64(uint32(tbl.TimeTravelPageID())))
		}); err != nil {
			return err
		}
	}
	return nil
}

// patchRow mutates one column of a stored row in place.
func (c *Catalog) patchRow(tbl *table.Table, rid storage.RecordID, column int, patch func(row *table.Tuple) error) error {
	page, err := c.buffer.Pin(rid.PageID())
	if err != nil {
		return err
	}
	rp := storage.AsRecordPage(page)
	meta := concurrency.DecodeRecordMeta(rp.Record(rid.Slot()))
	row := table.NewTupleView(tbl.Schema(), rid, meta, rp.Payload(rid.Slot()))
	if err := patch(row); err != nil {
		_ = c.buffer.Unpin(rid.PageID(), false)
		return err
	}
	return c.buffer.Unpin(rid.PageID(), true)
}
