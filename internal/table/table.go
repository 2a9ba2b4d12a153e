package table

import (
	"sync"

	"github.com/tuannm99/waxdb/internal/storage"
)

// Table is the runtime handle of one table: id, schema and the heads of its
// two page chains. The table space holds the current record versions, the
// time-travel space the older versions displaced by updates.
// The last-page ids are append fast paths and are not persisted.
type Table struct {
	id     int32
	schema *Schema

	pageID           storage.PageID
	timeTravelPageID storage.PageID

	lastPageID           storage.PageID
	lastTimeTravelPageID storage.PageID

	// Serializes page allocation and chain linking between concurrent
	// writers appending to the same table.
	latch sync.Mutex
}

// VirtualTableID is the largest id of a virtual table. Tables with ids at or
// below it are not registered in the catalog, such as the system tables
// themselves (-1..-4).
const VirtualTableID = int32(-1)

func NewTable(id int32, pageID, timeTravelPageID storage.PageID, schema *Schema) *Table {
	return &Table{
		id:                   id,
		schema:               schema,
		pageID:               pageID,
		timeTravelPageID:     timeTravelPageID,
		lastPageID:           storage.InvalidPageID,
		lastTimeTravelPageID: storage.InvalidPageID,
	}
}

func (t *Table) ID() int32       { return t.id }
func (t *Table) Name() string    { return t.schema.TableName() }
func (t *Table) Schema() *Schema { return t.schema }

// PageID returns the head of the table-space chain.
func (t *Table) PageID() storage.PageID { return t.pageID }

// TimeTravelPageID returns the head of the time-travel chain, which is
// allocated lazily on the first update.
func (t *Table) TimeTravelPageID() storage.PageID        { return t.timeTravelPageID }
func (t *Table) SetTimeTravelPageID(id storage.PageID)   { t.timeTravelPageID = id }

func (t *Table) LastPageID() storage.PageID              { return t.lastPageID }
func (t *Table) SetLastPageID(id storage.PageID)         { t.lastPageID = id }
func (t *Table) LastTimeTravelPageID() storage.PageID    { return t.lastTimeTravelPageID }
func (t *Table) SetLastTimeTravelPageID(id storage.PageID) { t.lastTimeTravelPageID = id }

// IsVirtual reports whether the table lives outside the catalog.
func (t *Table) IsVirtual() bool { return t.id <= VirtualTableID }

// Latch returns the append latch of the table.
func (t *Table) Latch() *sync.Mutex { return &t.latch }
