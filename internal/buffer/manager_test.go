package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/waxdb/internal/logger"
	"github.com/tuannm99/waxdb/internal/metrics"
	"github.com/tuannm99/waxdb/internal/storage"
)

func newTestManager(t *testing.T, frames int, strategy Strategy) (*Manager, *storage.PageFile) {
	t.Helper()
	pf, err := storage.OpenPageFile(storage.InMemory, false)
	require.NoError(t, err)
	return NewManager(pf, frames, strategy, logger.Nop(), metrics.Nop()), pf
}

func TestPinCountAccounting(t *testing.T) {
	m, _ := newTestManager(t, 4, &LRUStrategy{})

	p0, err := m.Allocate()
	require.NoError(t, err)
	id := p0.ID()
	assert.Equal(t, 1, m.PinCount(id))

	_, err = m.Pin(id)
	require.NoError(t, err)
	_, err = m.Pin(id)
	require.NoError(t, err)
	assert.Equal(t, 3, m.PinCount(id))

	require.NoError(t, m.Unpin(id, false))
	require.NoError(t, m.Unpin(id, false))
	require.NoError(t, m.Unpin(id, false))
	assert.Equal(t, 0, m.PinCount(id))

	require.ErrorIs(t, m.Unpin(id, false), ErrPageNotPinned)
}

func TestNoFreeFrameWhenAllPinned(t *testing.T) {
	m, _ := newTestManager(t, 2, &LRUStrategy{})

	p0, err := m.Allocate()
	require.NoError(t, err)
	id0 := p0.ID()
	p1, err := m.Allocate()
	require.NoError(t, err)

	// Pin p0 a second time; both frames now hold pinned pages.
	_, err = m.Pin(p0.ID())
	require.NoError(t, err)

	_, err = m.Allocate()
	require.ErrorIs(t, err, ErrNoFreeFrame)

	// Releasing p0 entirely frees a frame; a new page then replaces it.
	require.NoError(t, m.Unpin(p0.ID(), false))
	require.NoError(t, m.Unpin(p0.ID(), false))

	p3, err := m.Allocate()
	require.NoError(t, err)
	assert.True(t, m.Resident(p3.ID()))
	assert.False(t, m.Resident(id0), "the only unpinned frame held p0")
	assert.True(t, m.Resident(p1.ID()))
}

func TestPageRoundTripAcrossEviction(t *testing.T) {
	m, _ := newTestManager(t, 1, &LRUStrategy{})

	p0, err := m.Allocate()
	require.NoError(t, err)
	id0 := p0.ID()
	copy(p0.Data()[4:], "written at version one")
	require.NoError(t, m.Unpin(id0, true))

	// Loading a second page through the single frame evicts and flushes p0.
	p1, err := m.Allocate()
	require.NoError(t, err)
	require.NoError(t, m.Unpin(p1.ID(), false))
	assert.False(t, m.Resident(id0))

	reloaded, err := m.Pin(id0)
	require.NoError(t, err)
	assert.Equal(t, "written at version one", string(reloaded.Data()[4:4+22]))
	require.NoError(t, m.Unpin(id0, false))
}

func TestFlushWritesDirtyPages(t *testing.T) {
	m, pf := newTestManager(t, 4, &LRUStrategy{})

	p, err := m.Allocate()
	require.NoError(t, err)
	id := p.ID()
	copy(p.Data()[4:], "dirty bytes")
	require.NoError(t, m.Unpin(id, true))

	require.NoError(t, m.Flush())

	var raw [storage.PageSize]byte
	require.NoError(t, pf.ReadPage(id, raw[:]))
	assert.Equal(t, "dirty bytes", string(raw[4:4+11]))
}

func TestPinnedFramesNeverEvicted(t *testing.T) {
	strategies := map[string]func() Strategy{
		"random": func() Strategy { return &RandomStrategy{} },
		"lru":    func() Strategy { return &LRUStrategy{} },
		"lru-k":  func() Strategy { return &LRUKStrategy{k: 2} },
		"lfu":    func() Strategy { return &LFUStrategy{} },
		"clock":  func() Strategy { return &ClockStrategy{} },
	}

	for name, newStrategy := range strategies {
		t.Run(name, func(t *testing.T) {
			m, _ := newTestManager(t, 3, newStrategy())

			pinned, err := m.Allocate()
			require.NoError(t, err)

			// Fill and release the remaining frames.
			for i := 0; i < 2; i++ {
				p, err := m.Allocate()
				require.NoError(t, err)
				require.NoError(t, m.Unpin(p.ID(), false))
			}

			// Load enough new pages to churn through every evictable frame.
			for i := 0; i < 8; i++ {
				p, err := m.Allocate()
				require.NoError(t, err)
				require.NoError(t, m.Unpin(p.ID(), false))
				assert.True(t, m.Resident(pinned.ID()), "pinned page must stay resident")
			}

			require.NoError(t, m.Unpin(pinned.ID(), false))
		})
	}
}
