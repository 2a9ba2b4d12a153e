package table

import "fmt"

// TypeID enumerates the column types the engine stores.
type TypeID uint16

const (
	Int TypeID = iota
	Long
	Decimal
	Char
	Date
	Undefined
)

// Type is a column type: an id plus a length for CHAR columns. All types
// have a fixed on-disk size, which keeps rows fixed-width and lets updates
// overwrite records in place.
type Type struct {
	ID     TypeID
	Length uint16
}

func MakeInt() Type                  { return Type{ID: Int} }
func MakeLong() Type                 { return Type{ID: Long} }
func MakeDecimal() Type              { return Type{ID: Decimal} }
func MakeChar(length uint16) Type    { return Type{ID: Char, Length: length} }
func MakeDate() Type                 { return Type{ID: Date} }

// Size returns the on-disk size of a value of this type in bytes.
func (t Type) Size() uint16 {
	switch t.ID {
	case Int:
		return 4
	case Long:
		return 8
	case Decimal:
		return 8
	case Char:
		return t.Length
	case Date:
		return 4
	default:
		return 0
	}
}

func (t Type) String() string {
	switch t.ID {
	case Int:
		return "INT"
	case Long:
		return "LONG"
	case Decimal:
		return "DECIMAL"
	case Char:
		return fmt.Sprintf("CHAR(%d)", t.Length)
	case Date:
		return "DATE"
	default:
		return "UNDEFINED"
	}
}
