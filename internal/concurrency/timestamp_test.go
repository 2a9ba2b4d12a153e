package concurrency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimestampPacking(t *testing.T) {
	ts := NewTimestamp(42, false)
	assert.Equal(t, uint64(42), ts.Time())
	assert.False(t, ts.Committed())
	assert.False(t, ts.IsInfinity())

	committed := NewTimestamp(42, true)
	assert.Equal(t, uint64(42), committed.Time())
	assert.True(t, committed.Committed())
	assert.NotEqual(t, ts, committed)
}

func TestTimestampInfinity(t *testing.T) {
	assert.True(t, Infinity.IsInfinity())
	assert.True(t, Infinity.Committed())
	assert.Equal(t, uint64(0), Infinity.Time())

	assert.False(t, NewTimestamp(0, false).IsInfinity())
	assert.True(t, NewTimestamp(0, true).IsInfinity())
}

func TestVisibility(t *testing.T) {
	committed := func(time uint64) Timestamp { return NewTimestamp(time, true) }
	running := func(time uint64) Timestamp { return NewTimestamp(time, false) }

	txnBegin := running(12)

	// A version committed before the transaction began is visible.
	assert.True(t, Visible(txnBegin, committed(11), Infinity))

	// A version committed after the transaction began is not.
	assert.False(t, Visible(txnBegin, committed(13), Infinity))

	// A transaction sees its own uncommitted writes, nobody else's.
	assert.True(t, Visible(txnBegin, running(12), Infinity))
	assert.False(t, Visible(txnBegin, running(10), Infinity))

	// A version that ended before the transaction began is gone.
	assert.False(t, Visible(txnBegin, committed(5), committed(11)))
	assert.False(t, Visible(txnBegin, committed(5), committed(12)))
	assert.True(t, Visible(txnBegin, committed(5), committed(13)))

	// A pending delete by another transaction hides nothing yet; the
	// deleting transaction itself no longer sees the version.
	assert.True(t, Visible(txnBegin, committed(5), running(20)))
	assert.False(t, Visible(txnBegin, committed(5), running(12)))
}

func TestRecordMetaRoundTrip(t *testing.T) {
	meta := NewRecordMeta(1234, NewTimestamp(7, false))
	assert.Equal(t, Infinity, meta.End)

	buf := meta.EncodeToBytes()
	decoded := DecodeRecordMeta(buf)
	assert.Equal(t, meta, decoded)
}

func TestTrySetTimestamps(t *testing.T) {
	meta := NewRecordMeta(1, NewTimestamp(3, false))
	record := meta.EncodeToBytes()

	// Guarded set succeeds only when the expected value matches.
	assert.False(t, TrySetBeginTimestamp(record, NewTimestamp(4, false), NewTimestamp(9, true)))
	assert.True(t, TrySetBeginTimestamp(record, NewTimestamp(3, false), NewTimestamp(9, true)))
	assert.Equal(t, NewTimestamp(9, true), DecodeRecordMeta(record).Begin)

	assert.True(t, TrySetEndTimestamp(record, Infinity, NewTimestamp(10, true)))
	assert.False(t, TrySetEndTimestamp(record, Infinity, NewTimestamp(11, true)))
	assert.Equal(t, NewTimestamp(10, true), DecodeRecordMeta(record).End)
}
