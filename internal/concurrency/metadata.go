package concurrency

import (
	"github.com/tuannm99/waxdb/internal/storage"
	"github.com/tuannm99/waxdb/pkg/bx"
)

// Record metadata layout, stored in front of every record payload:
//
//	original RID (8 B) | begin timestamp (8 B) | end timestamp (8 B) | next in version chain (8 B)
//
// The original RID points at the in-place record in the table space; for
// versioned copies in the time-travel space it leads back to the current
// version. The next pointer threads the version chain towards older
// versions.
const (
	metaOriginalOffset = 0
	metaBeginOffset    = 8
	metaEndOffset      = 16
	metaNextOffset     = 24
)

// RecordMeta is the decoded form of the metadata prefix.
type RecordMeta struct {
	OriginalRID storage.RecordID
	Begin       Timestamp
	End         Timestamp
	Next        storage.RecordID
}

// NewRecordMeta builds metadata for a freshly inserted record: alive from
// the given begin timestamp, never ending, no older versions.
func NewRecordMeta(original storage.RecordID, begin Timestamp) RecordMeta {
	return RecordMeta{
		OriginalRID: original,
		Begin:       begin,
		End:         Infinity,
		Next:        storage.InvalidRecordID,
	}
}

// DecodeRecordMeta reads the metadata prefix of a record.
func DecodeRecordMeta(record []byte) RecordMeta {
	return RecordMeta{
		OriginalRID: storage.RecordID(bx.U64At(record, metaOriginalOffset)),
		Begin:       Timestamp(bx.U64At(record, metaBeginOffset)),
		End:         Timestamp(bx.U64At(record, metaEndOffset)),
		Next:        storage.RecordID(bx.U64At(record, metaNextOffset)),
	}
}

// Encode writes the metadata into the first storage.RecordMetaSize bytes of
// the destination buffer.
func (m RecordMeta) Encode(dst []byte) {
	bx.PutU64At(dst, metaOriginalOffset, uint64(m.OriginalRID))
	bx.PutU64At(dst, metaBeginOffset, uint64(m.Begin))
	bx.PutU64At(dst, metaEndOffset, uint64(m.End))
	bx.PutU64At(dst, metaNextOffset, uint64(m.Next))
}

// EncodeToBytes is a convenience wrapper returning a fresh buffer.
func (m RecordMeta) EncodeToBytes() []byte {
	buf := make([]byte, storage.RecordMetaSize)
	m.Encode(buf)
	return buf
}

// The mutators below write directly into the pinned record bytes; callers
// hold the page pin and the relevant table latch.

func SetBeginTimestamp(record []byte, ts Timestamp) {
	bx.PutU64At(record, metaBeginOffset, uint64(ts))
}

func SetEndTimestamp(record []byte, ts Timestamp) {
	bx.PutU64At(record, metaEndOffset, uint64(ts))
}

func SetNextInVersionChain(record []byte, next storage.RecordID) {
	bx.PutU64At(record, metaNextOffset, uint64(next))
}

// TrySetBeginTimestamp installs ts only when the current begin timestamp
// still equals old.
func TrySetBeginTimestamp(record []byte, old, ts Timestamp) bool {
	if Timestamp(bx.U64At(record, metaBeginOffset)) != old {
		return false
	}
	SetBeginTimestamp(record, ts)
	return true
}

// TrySetEndTimestamp installs ts only when the current end timestamp still
// equals old.
func TrySetEndTimestamp(record []byte, old, ts Timestamp) bool {
	if Timestamp(bx.U64At(record, metaEndOffset)) != old {
		return false
	}
	SetEndTimestamp(record, ts)
	return true
}
