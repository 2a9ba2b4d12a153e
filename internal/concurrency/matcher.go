package concurrency

// Row is the minimal tuple surface predicates evaluate against. Field
// returns the column value normalized to int64, float64 or string.
type Row interface {
	Field(index int) any
}

// Matcher is a clonable predicate over rows. Scans register their matcher in
// the transaction's scan set; commit validation re-evaluates it against the
// writes of concurrently committed transactions to detect phantoms.
type Matcher interface {
	Matches(row Row) bool
	Clone() Matcher
}

// Comparison selects the operator of a CompareMatcher.
type Comparison uint8

const (
	CompareEQ Comparison = iota
	CompareNEQ
	CompareLT
	CompareLE
	CompareGT
	CompareGE
)

// AlwaysTrueMatcher matches every row, as a nil scan predicate does.
type AlwaysTrueMatcher struct{}

func (AlwaysTrueMatcher) Matches(Row) bool { return true }
func (AlwaysTrueMatcher) Clone() Matcher   { return AlwaysTrueMatcher{} }

// AndMatcher matches when both operands match.
type AndMatcher struct {
	Left, Right Matcher
}

func (m AndMatcher) Matches(row Row) bool {
	return m.Left.Matches(row) && m.Right.Matches(row)
}

func (m AndMatcher) Clone() Matcher {
	return AndMatcher{Left: m.Left.Clone(), Right: m.Right.Clone()}
}

// OrMatcher matches when either operand matches.
type OrMatcher struct {
	Left, Right Matcher
}

func (m OrMatcher) Matches(row Row) bool {
	return m.Left.Matches(row) || m.Right.Matches(row)
}

func (m OrMatcher) Clone() Matcher {
	return OrMatcher{Left: m.Left.Clone(), Right: m.Right.Clone()}
}

// CompareMatcher compares one column with a constant.
type CompareMatcher struct {
	Column     int
	Comparison Comparison
	Value      any
}

// NewCompareMatcher normalizes the constant the same way Row.Field
// normalizes column values.
func NewCompareMatcher(column int, comparison Comparison, value any) CompareMatcher {
	return CompareMatcher{Column: column, Comparison: comparison, Value: normalize(value)}
}

func (m CompareMatcher) Matches(row Row) bool {
	cmp, ok := compareValues(row.Field(m.Column), m.Value)
	if !ok {
		return false
	}
	switch m.Comparison {
	case CompareEQ:
		return cmp == 0
	case CompareNEQ:
		return cmp != 0
	case CompareLT:
		return cmp < 0
	case CompareLE:
		return cmp <= 0
	case CompareGT:
		return cmp > 0
	case CompareGE:
		return cmp >= 0
	}
	return false
}

func (m CompareMatcher) Clone() Matcher { return m }

func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

func compareValues(a, b any) (int, bool) {
	switch x := normalize(a).(type) {
	case int64:
		switch y := normalize(b).(type) {
		case int64:
			return cmpOrdered(x, y), true
		case float64:
			return cmpOrdered(float64(x), y), true
		}
	case float64:
		switch y := normalize(b).(type) {
		case int64:
			return cmpOrdered(x, float64(y)), true
		case float64:
			return cmpOrdered(x, y), true
		}
	case string:
		if y, ok := normalize(b).(string); ok {
			return cmpOrdered(x, y), true
		}
	}
	return 0, false
}

func cmpOrdered[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
