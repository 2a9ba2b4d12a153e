package table

import (
	"fmt"
	"math"
	"strings"

	"github.com/tuannm99/waxdb/internal/concurrency"
	"github.com/tuannm99/waxdb/internal/storage"
	"github.com/tuannm99/waxdb/pkg/bx"
)

// Tuple is one row. A tuple either views record bytes on a pinned page (the
// caller keeps the pin while using it) or owns an in-memory buffer, in which
// case its record id carries storage.MemoryPageID.
type Tuple struct {
	schema *Schema
	rid    storage.RecordID
	meta   concurrency.RecordMeta
	data   []byte
}

// NewTupleView wraps record bytes living on a pinned page.
func NewTupleView(schema *Schema, rid storage.RecordID, meta concurrency.RecordMeta, data []byte) *Tuple {
	return &Tuple{schema: schema, rid: rid, meta: meta, data: data}
}

// NewMemoryTuple creates a zeroed tuple that lives only in memory.
func NewMemoryTuple(schema *Schema) *Tuple {
	return &Tuple{
		schema: schema,
		rid:    storage.NewRecordID(storage.MemoryPageID, 0),
		meta:   concurrency.NewRecordMeta(storage.InvalidRecordID, concurrency.Infinity),
		data:   make([]byte, schema.RowSize()),
	}
}

// Copy detaches the tuple from its page into an owned in-memory buffer.
func (t *Tuple) Copy() *Tuple {
	data := make([]byte, len(t.data))
	copy(data, t.data)
	return &Tuple{schema: t.schema, rid: t.rid, meta: t.meta, data: data}
}

func (t *Tuple) Schema() *Schema                 { return t.schema }
func (t *Tuple) RecordID() storage.RecordID      { return t.rid }
func (t *Tuple) Meta() concurrency.RecordMeta    { return t.meta }
func (t *Tuple) Data() []byte                    { return t.data }

// InMemory reports whether the tuple owns its buffer rather than viewing a
// page.
func (t *Tuple) InMemory() bool {
	return t.rid.PageID() == storage.MemoryPageID
}

// Get returns the typed value of column i: int32, int64, float64, string or
// CalendarDate.
func (t *Tuple) Get(i int) (any, error) {
	if i < 0 || i >= t.schema.NumColumns() {
		return nil, ErrColumnUnknown
	}
	col := t.schema.Column(i)
	off := int(t.schema.Offset(i))

	switch col.Type.ID {
	case Int:
		return int32(bx.U32At(t.data, off)), nil
	case Long:
		return int64(bx.U64At(t.data, off)), nil
	case Decimal:
		return math.Float64frombits(bx.U64At(t.data, off)), nil
	case Char:
		raw := t.data[off : off+int(col.Type.Length)]
		return strings.TrimRight(string(raw), "\x00"), nil
	case Date:
		return CalendarDate(bx.U32At(t.data, off)), nil
	default:
		return nil, fmt.Errorf("%w: column %d has undefined type", ErrTypeMismatch, i)
	}
}

// Set stores a value into column i. Integer kinds are converted leniently;
// CHAR values longer than the column are rejected.
func (t *Tuple) Set(i int, value any) error {
	if i < 0 || i >= t.schema.NumColumns() {
		return ErrColumnUnknown
	}
	col := t.schema.Column(i)
	off := int(t.schema.Offset(i))

	switch col.Type.ID {
	case Int:
		v, ok := asInt64(value)
		if !ok {
			return fmt.Errorf("%w: column %q wants INT", ErrTypeMismatch, col.Name)
		}
		bx.PutU32At(t.data, off, uint32(int32(v)))
	case Long:
		v, ok := asInt64(value)
		if !ok {
			return fmt.Errorf("%w: column %q wants LONG", ErrTypeMismatch, col.Name)
		}
		bx.PutU64At(t.data, off, uint64(v))
	case Decimal:
		v, ok := asFloat64(value)
		if !ok {
			return fmt.Errorf("%w: column %q wants DECIMAL", ErrTypeMismatch, col.Name)
		}
		bx.PutU64At(t.data, off, math.Float64bits(v))
	case Char:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: column %q wants CHAR", ErrTypeMismatch, col.Name)
		}
		if len(s) > int(col.Type.Length) {
			return fmt.Errorf("%w: %q exceeds CHAR(%d)", ErrTypeMismatch, s, col.Type.Length)
		}
		raw := t.data[off : off+int(col.Type.Length)]
		clear(raw)
		copy(raw, s)
	case Date:
		d, ok := value.(CalendarDate)
		if !ok {
			return fmt.Errorf("%w: column %q wants DATE", ErrTypeMismatch, col.Name)
		}
		bx.PutU32At(t.data, off, uint32(d))
	default:
		return fmt.Errorf("%w: column %d has undefined type", ErrTypeMismatch, i)
	}
	return nil
}

// Field implements concurrency.Row: values normalized to int64, float64 or
// string so predicates compare without knowing the physical type.
func (t *Tuple) Field(i int) any {
	col := t.schema.Column(i)
	off := int(t.schema.Offset(i))
	switch col.Type.ID {
	case Int:
		return int64(int32(bx.U32At(t.data, off)))
	case Long:
		return int64(bx.U64At(t.data, off))
	case Decimal:
		return math.Float64frombits(bx.U64At(t.data, off))
	case Char:
		raw := t.data[off : off+int(col.Type.Length)]
		return strings.TrimRight(string(raw), "\x00")
	case Date:
		return int64(bx.U32At(t.data, off))
	default:
		return nil
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint32:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}
