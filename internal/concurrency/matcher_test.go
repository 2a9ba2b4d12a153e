package concurrency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeRow []any

func (r fakeRow) Field(i int) any { return r[i] }

func TestCompareMatcher(t *testing.T) {
	row := fakeRow{int64(10), "bob", 3.5}

	assert.True(t, NewCompareMatcher(0, CompareEQ, 10).Matches(row))
	assert.True(t, NewCompareMatcher(0, CompareLT, int64(18)).Matches(row))
	assert.False(t, NewCompareMatcher(0, CompareGT, int64(18)).Matches(row))
	assert.True(t, NewCompareMatcher(1, CompareEQ, "bob").Matches(row))
	assert.True(t, NewCompareMatcher(2, CompareGE, 3.5).Matches(row))

	// Mixed numeric widths compare after normalization.
	assert.True(t, NewCompareMatcher(0, CompareLE, 10.5).Matches(row))

	// Type confusion never matches.
	assert.False(t, NewCompareMatcher(1, CompareEQ, 7).Matches(row))
}

func TestCompositeMatchers(t *testing.T) {
	row := fakeRow{int64(10)}

	lt := NewCompareMatcher(0, CompareLT, 18)
	gt := NewCompareMatcher(0, CompareGT, 18)

	assert.True(t, AndMatcher{Left: AlwaysTrueMatcher{}, Right: lt}.Matches(row))
	assert.False(t, AndMatcher{Left: lt, Right: gt}.Matches(row))
	assert.True(t, OrMatcher{Left: lt, Right: gt}.Matches(row))

	clone := AndMatcher{Left: lt, Right: AlwaysTrueMatcher{}}.Clone()
	assert.True(t, clone.Matches(row))
}
