package buffer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tuannm99/waxdb/internal/metrics"
	"github.com/tuannm99/waxdb/internal/storage"
)

var (
	// ErrNoFreeFrame is returned when every frame is pinned and nothing can
	// be evicted. The caller is expected to abort its transaction.
	ErrNoFreeFrame = errors.New("buffer: no free frame available (all pinned)")

	// ErrPageNotPinned is returned when unpinning a page whose pin count is
	// already zero. This is a caller bug, not a runtime condition.
	ErrPageNotPinned = errors.New("buffer: page is not pinned")
)

// Manager is the buffer pool: a fixed array of frames mediating every page
// access. Pages stay resident while pinned; unpinned pages are recycled by
// the configured replacement strategy.
type Manager struct {
	file     *storage.PageFile
	strategy Strategy
	log      zerolog.Logger
	met      *metrics.Metrics

	mu        sync.Mutex
	frames    []*Frame
	pageTable map[storage.PageID]int
	pinSeq    uint64
	evicted   uint64

	// Staging buffer for reads into an already flushed victim frame, so a
	// failed read leaves the victim's content intact.
	scratch [storage.PageSize]byte
}

// NewManager creates a pool with the given number of frames.
func NewManager(file *storage.PageFile, frameCount int, strategy Strategy, log zerolog.Logger, met *metrics.Metrics) *Manager {
	frames := make([]*Frame, frameCount)
	for i := range frames {
		frames[i] = newFrame()
	}
	return &Manager{
		file:      file,
		strategy:  strategy,
		log:       log.With().Str("component", "buffer").Logger(),
		met:       met,
		frames:    frames,
		pageTable: make(map[storage.PageID]int, frameCount),
	}
}

// Pin returns the page, loading it from disk if necessary, and guarantees it
// stays resident until the matching Unpin.
func (m *Manager) Pin(pageID storage.PageID) (*storage.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pinLocked(pageID)
}

func (m *Manager) pinLocked(pageID storage.PageID) (*storage.Page, error) {
	m.pinSeq++
	ts := m.pinSeq

	if idx, ok := m.pageTable[pageID]; ok {
		f := m.frames[idx]
		f.pin(ts)
		f.SetLastChance(true)
		m.strategy.OnPin(idx, ts)
		m.met.PoolHits.Inc()
		return f.Page(), nil
	}
	m.met.PoolMisses.Inc()

	idx, err := m.freeFrameLocked()
	if err != nil {
		return nil, err
	}
	f := m.frames[idx]

	// Read into the scratch buffer first; if the read fails the victim
	// frame is left untouched (its dirty content was already flushed).
	if err := m.file.ReadPage(pageID, m.scratch[:]); err != nil {
		return nil, err
	}

	if f.Occupied() {
		delete(m.pageTable, f.PageID())
		m.evicted++
		m.met.PoolEvictions.Inc()
		m.log.Debug().Uint32("victim", uint32(f.PageID())).Uint32("page", uint32(pageID)).Msg("evicted frame")
	}

	f.Occupy(pageID, ts)
	f.SetLastChance(true)
	copy(f.Page().Data(), m.scratch[:])
	m.pageTable[pageID] = idx
	m.strategy.OnPin(idx, ts)
	return f.Page(), nil
}

// freeFrameLocked returns the index of a frame that may be overwritten: an
// unoccupied frame if one exists, otherwise a flushed victim chosen by the
// replacement strategy.
func (m *Manager) freeFrameLocked() (int, error) {
	for i, f := range m.frames {
		if !f.Occupied() {
			return i, nil
		}
	}

	idx, err := m.strategy.FindVictim(m.frames)
	if err != nil {
		return 0, err
	}
	victim := m.frames[idx]
	if victim.Pinned() {
		// A strategy must never hand out pinned frames.
		return 0, fmt.Errorf("buffer: strategy selected pinned frame %d", idx)
	}
	if victim.Dirty() {
		if err := m.file.WritePage(victim.PageID(), victim.Page().Data()); err != nil {
			return 0, err
		}
		victim.dirty = false
	}
	return idx, nil
}

// Unpin releases one pin and ORs the dirty flag into the frame.
func (m *Manager) Unpin(pageID storage.PageID, dirty bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d not resident", ErrPageNotPinned, pageID)
	}
	f := m.frames[idx]
	if !f.Pinned() {
		return fmt.Errorf("%w: page %d", ErrPageNotPinned, pageID)
	}
	f.pinCount--
	if dirty {
		f.dirty = true
	}
	return nil
}

// Allocate appends a fresh page to the file, pins it and formats it as an
// empty record page. The caller must unpin it.
func (m *Manager) Allocate() (*storage.Page, error) {
	page, err := m.allocateRaw()
	if err != nil {
		return nil, err
	}
	storage.FormatRecordPage(page)
	return page, nil
}

// AllocateMeta works like Allocate but leaves the page unformatted except
// for the next-page header. Used for the metadata page.
func (m *Manager) AllocateMeta() (*storage.Page, error) {
	return m.allocateRaw()
}

func (m *Manager) allocateRaw() (*storage.Page, error) {
	pageID, err := m.file.Allocate()
	if err != nil {
		return nil, err
	}
	m.met.PagesAllocated.Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	page, err := m.pinLocked(pageID)
	if err != nil {
		return nil, err
	}
	page.SetNextPageID(storage.InvalidPageID)
	return page, nil
}

// Flush writes every dirty resident page back to disk. Called at shutdown;
// there is no write-ahead log, so this is the only durability point.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.frames {
		if !f.Occupied() || !f.Dirty() {
			continue
		}
		if err := m.file.WritePage(f.PageID(), f.Page().Data()); err != nil {
			return err
		}
		f.dirty = false
	}
	return nil
}

// EvictedFrames returns how many frames have been recycled so far.
func (m *Manager) EvictedFrames() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evicted
}

// PinCount reports the current pin count of a page, zero when the page is
// not resident. Exposed for tests and introspection.
func (m *Manager) PinCount(pageID storage.PageID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.pageTable[pageID]; ok {
		return m.frames[idx].PinCount()
	}
	return 0
}

// Resident reports whether the page currently occupies a frame.
func (m *Manager) Resident(pageID storage.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pageTable[pageID]
	return ok
}
