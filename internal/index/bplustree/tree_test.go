package bplustree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniquePointLookups(t *testing.T) {
	tree := NewUnique[int64, uint32]()
	for _, kv := range [][2]int64{{1, 100}, {3, 300}, {5, 500}, {7, 700}} {
		tree.Put(kv[0], uint32(kv[1]))
	}

	v, ok := tree.Get(5)
	require.True(t, ok)
	assert.Equal(t, uint32(500), v)

	_, ok = tree.Get(4)
	assert.False(t, ok)
}

func TestUniqueRange(t *testing.T) {
	tree := NewUnique[int64, uint32]()
	for _, kv := range [][2]int64{{1, 100}, {3, 300}, {5, 500}, {7, 700}} {
		tree.Put(kv[0], uint32(kv[1]))
	}

	assert.Equal(t, []uint32{300, 500}, tree.GetRange(2, 6))
	assert.Equal(t, []uint32{100, 300, 500, 700}, tree.GetRange(0, 100))
	assert.Empty(t, tree.GetRange(8, 9))
}

func TestUniqueDuplicatePutIsNoOp(t *testing.T) {
	tree := NewUnique[int64, uint32]()
	tree.Put(42, 1)
	tree.Put(42, 2)

	v, ok := tree.Get(42)
	require.True(t, ok)
	assert.Equal(t, uint32(1), v, "first value is retained")
}

func TestNonUniqueCollectsValueSets(t *testing.T) {
	tree := NewNonUnique[int64, uint32]()
	tree.Put(10, 7)
	tree.Put(10, 3)
	tree.Put(10, 7) // duplicate value collapses
	tree.Put(20, 9)

	set, ok := tree.Lookup(10)
	require.True(t, ok)
	assert.Equal(t, []uint32{3, 7}, set)

	assert.Equal(t, []uint32{3, 7, 9}, tree.GetRange(0, 100))
}

func TestManyInsertionsKeepTreeConsistent(t *testing.T) {
	tree := NewUnique[int64, uint32]()

	const n = 10_000
	// Spread insertions so splits happen on both ends and in the middle.
	for i := 0; i < n; i++ {
		key := int64((i * 7919) % n)
		tree.Put(key, uint32(key*2))
	}

	assert.Greater(t, tree.Height(), 1, "the tree must have split")

	for i := int64(0); i < n; i++ {
		v, ok := tree.Get(i)
		require.True(t, ok, "key %d missing", i)
		require.Equal(t, uint32(i*2), v)
	}

	_, ok := tree.Get(n)
	assert.False(t, ok)

	all := tree.GetRange(0, n)
	require.Len(t, all, n)
	for i := 1; i < len(all); i++ {
		require.Less(t, all[i-1], all[i], "range result must be sorted and unique")
	}
}

func TestRangeWalksLeafChainAcrossSplits(t *testing.T) {
	tree := NewUnique[int64, uint32]()
	const n = 500
	for i := 0; i < n; i++ {
		tree.Put(int64(i), uint32(i))
	}

	got := tree.GetRange(100, 399)
	require.Len(t, got, 300)
	assert.Equal(t, uint32(100), got[0])
	assert.Equal(t, uint32(399), got[len(got)-1])
}

func TestNonUniqueSplits(t *testing.T) {
	tree := NewNonUnique[int64, uint32]()
	const n = 2_000
	for i := 0; i < n; i++ {
		tree.Put(int64(i%100), uint32(i))
	}

	for key := int64(0); key < 100; key++ {
		set, ok := tree.Lookup(key)
		require.True(t, ok)
		assert.Len(t, set, n/100)
	}
}
