package table

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/waxdb/internal/buffer"
	"github.com/tuannm99/waxdb/internal/concurrency"
	"github.com/tuannm99/waxdb/internal/logger"
	"github.com/tuannm99/waxdb/internal/metrics"
	"github.com/tuannm99/waxdb/internal/storage"
)

type testEnv struct {
	buffer *buffer.Manager
	disk   *DiskManager
	txns   *concurrency.Manager
}

func newTestEnv(t *testing.T, frames int) *testEnv {
	t.Helper()
	pf, err := storage.OpenPageFile(storage.InMemory, false)
	require.NoError(t, err)

	bm := buffer.NewManager(pf, frames, &buffer.LRUStrategy{}, logger.Nop(), metrics.Nop())
	return &testEnv{
		buffer: bm,
		disk:   NewDiskManager(bm),
		txns:   concurrency.NewManager(bm, logger.Nop(), metrics.Nop()),
	}
}

func (e *testEnv) newTable(t *testing.T, name string) *Table {
	t.Helper()
	page, err := e.buffer.Allocate()
	require.NoError(t, err)
	require.NoError(t, e.buffer.Unpin(page.ID(), true))

	schema := NewSchema(name, []Column{
		{Name: "id", Type: MakeInt()},
		{Name: "name", Type: MakeChar(16)},
	})
	return NewTable(1, page.ID(), storage.InvalidPageID, schema)
}

func (e *testEnv) readAll(t *testing.T, txn *concurrency.Transaction, tbl *Table) []*Tuple {
	t.Helper()
	var all []*Tuple
	pageID := tbl.PageID()
	for pageID != storage.InvalidPageID {
		page, err := e.buffer.Pin(pageID)
		require.NoError(t, err)

		rows, extra, err := e.disk.ReadRows(page, txn, tbl.Schema())
		require.NoError(t, err)
		for _, row := range rows {
			all = append(all, row.Copy())
		}
		e.disk.ReleasePages(extra)

		next := page.NextPageID()
		require.NoError(t, e.buffer.Unpin(pageID, false))
		pageID = next
	}
	return all
}

func makeRow(t *testing.T, tbl *Table, id int32, name string) *Tuple {
	t.Helper()
	row := NewMemoryTuple(tbl.Schema())
	require.NoError(t, row.Set(0, id))
	require.NoError(t, row.Set(1, name))
	return row
}

func TestAddAndReadRows(t *testing.T) {
	env := newTestEnv(t, 8)
	tbl := env.newTable(t, "users")
	txn := env.txns.Begin(concurrency.Serializable)

	rid0, err := env.disk.AddRow(txn, tbl, makeRow(t, tbl, 1, "ada"))
	require.NoError(t, err)
	rid1, err := env.disk.AddRow(txn, tbl, makeRow(t, tbl, 2, "bob"))
	require.NoError(t, err)
	assert.NotEqual(t, rid0, rid1)

	rows := env.readAll(t, txn, tbl)
	require.Len(t, rows, 2)

	id, err := rows[0].Get(0)
	require.NoError(t, err)
	assert.Equal(t, int32(1), id)
	name, err := rows[1].Get(1)
	require.NoError(t, err)
	assert.Equal(t, "bob", name)
}

func TestAddRowAndGetKeepsPagePinned(t *testing.T) {
	env := newTestEnv(t, 8)
	tbl := env.newTable(t, "users")
	txn := env.txns.Begin(concurrency.Serializable)

	row, err := env.disk.AddRowAndGet(txn, tbl, makeRow(t, tbl, 7, "grace"))
	require.NoError(t, err)

	pageID := row.RecordID().PageID()
	assert.Equal(t, 1, env.buffer.PinCount(pageID))

	id, err := row.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int32(7), id)

	require.NoError(t, env.buffer.Unpin(pageID, true))
}

func TestAppendGrowsPageChain(t *testing.T) {
	env := newTestEnv(t, 8)
	tbl := env.newTable(t, "users")
	txn := env.txns.Begin(concurrency.Serializable)

	// One row occupies rowSize + metadata + slot; force several pages.
	const n = 500
	for i := 0; i < n; i++ {
		_, err := env.disk.AddRow(txn, tbl, makeRow(t, tbl, int32(i), fmt.Sprintf("u%d", i)))
		require.NoError(t, err)
	}

	assert.NotEqual(t, storage.InvalidPageID, tbl.LastPageID(), "chain grew past the head page")
	assert.NotEqual(t, tbl.PageID(), tbl.LastPageID())

	rows := env.readAll(t, txn, tbl)
	assert.Len(t, rows, n)
}

func TestCopyRowToTimeTravelBuildsChain(t *testing.T) {
	env := newTestEnv(t, 8)
	tbl := env.newTable(t, "users")

	txn := env.txns.Begin(concurrency.Serializable)
	_, err := env.disk.AddRow(txn, tbl, makeRow(t, tbl, 1, "before"))
	require.NoError(t, err)

	rows := env.readAll(t, txn, tbl)
	require.Len(t, rows, 1)

	ttRID, err := env.disk.CopyRowToTimeTravel(txn, tbl, rows[0])
	require.NoError(t, err)
	assert.NotEqual(t, storage.InvalidPageID, tbl.TimeTravelPageID())
	assert.Equal(t, tbl.TimeTravelPageID(), ttRID.PageID())

	// The copy keeps the payload and ends at the writer's begin timestamp.
	page, err := env.buffer.Pin(ttRID.PageID())
	require.NoError(t, err)
	rp := storage.AsRecordPage(page)
	meta := concurrency.DecodeRecordMeta(rp.Record(ttRID.Slot()))
	assert.Equal(t, txn.BeginTimestamp(), meta.End)
	copied := NewTupleView(tbl.Schema(), ttRID, meta, rp.Payload(ttRID.Slot()))
	name, err := copied.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "before", name)
	require.NoError(t, env.buffer.Unpin(ttRID.PageID(), false))
}

func TestRemoveRowTombstonesSlot(t *testing.T) {
	env := newTestEnv(t, 8)
	tbl := env.newTable(t, "users")
	txn := env.txns.Begin(concurrency.Serializable)

	rid, err := env.disk.AddRow(txn, tbl, makeRow(t, tbl, 1, "gone"))
	require.NoError(t, err)
	require.NoError(t, env.disk.RemoveRow(tbl, rid))

	rows := env.readAll(t, txn, tbl)
	assert.Empty(t, rows)
}
