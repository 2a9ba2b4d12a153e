package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFormattedPage(t *testing.T) RecordPage {
	t.Helper()
	p := NewPage(7)
	FormatRecordPage(p)
	rp := AsRecordPage(p)

	assert.Equal(t, uint16(0), rp.Slots())
	assert.Equal(t, uint16(PageSize), rp.freePtr())
	assert.Equal(t, InvalidPageID, p.NextPageID())
	return rp
}

func TestRecordPageAllocateSlot(t *testing.T) {
	rp := newFormattedPage(t)

	slot, err := rp.AllocateSlot(100)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), slot)
	assert.Equal(t, uint16(1), rp.Slots())
	assert.Equal(t, uint16(PageSize-100-RecordMetaSize), rp.SlotStart(0))
	assert.Equal(t, uint16(100+RecordMetaSize), rp.SlotSize(0))
	assert.False(t, rp.IsFree(0))

	slot, err = rp.AllocateSlot(50)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), slot)
	assert.Equal(t, rp.SlotStart(0)-50-RecordMetaSize, rp.SlotStart(1))
}

func TestRecordPageWriteAndRead(t *testing.T) {
	rp := newFormattedPage(t)

	meta := bytes.Repeat([]byte{0xAB}, RecordMetaSize)
	payload := []byte("hello slotted world")

	slot, err := rp.AllocateSlot(uint16(len(payload)))
	require.NoError(t, err)
	rp.WriteRecord(slot, meta, payload)

	record := rp.Record(slot)
	assert.Equal(t, meta, record[:RecordMetaSize])
	assert.Equal(t, payload, rp.Payload(slot))
}

func TestRecordPageErase(t *testing.T) {
	rp := newFormattedPage(t)

	slot, err := rp.AllocateSlot(10)
	require.NoError(t, err)
	require.False(t, rp.IsFree(slot))

	rp.Erase(slot)
	assert.True(t, rp.IsFree(slot))

	// Tombstoning keeps the slot directory intact; no compaction happens.
	assert.Equal(t, uint16(1), rp.Slots())

	rp.SetFree(slot, false)
	assert.False(t, rp.IsFree(slot))
}

func TestRecordPageFreeSpaceAccounting(t *testing.T) {
	rp := newFormattedPage(t)

	before := rp.FreeSpace()
	_, err := rp.AllocateSlot(100)
	require.NoError(t, err)
	after := rp.FreeSpace()

	assert.Equal(t, int(before)-100-RecordMetaSize-slotSize, int(after))
}

func TestRecordPageNoSpace(t *testing.T) {
	rp := newFormattedPage(t)

	// One record bigger than the whole page must be rejected.
	_, err := rp.AllocateSlot(PageSize)
	require.ErrorIs(t, err, ErrNoSpace)

	// Fill the page with records until it runs out of space.
	count := 0
	for {
		if _, err := rp.AllocateSlot(200); err != nil {
			require.ErrorIs(t, err, ErrNoSpace)
			break
		}
		count++
	}
	assert.Positive(t, count)
	assert.False(t, rp.HasSpaceFor(200))
}
