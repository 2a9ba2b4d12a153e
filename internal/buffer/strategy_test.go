package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/waxdb/internal/config"
	"github.com/tuannm99/waxdb/internal/storage"
)

func occupiedFrames(n int) []*Frame {
	frames := make([]*Frame, n)
	for i := range frames {
		frames[i] = newFrame()
		frames[i].Occupy(storage.PageID(10+i), uint64(i+1))
		frames[i].pinCount = 0
	}
	return frames
}

func TestNewStrategy(t *testing.T) {
	for _, name := range []string{
		config.StrategyRandom, config.StrategyLRU, config.StrategyLRUK,
		config.StrategyLFU, config.StrategyClock,
	} {
		s, err := NewStrategy(name, 8, 2)
		require.NoError(t, err)
		require.NotNil(t, s)
	}

	_, err := NewStrategy("mru", 8, 2)
	require.Error(t, err)
}

func TestLRUPicksOldestLastPin(t *testing.T) {
	frames := occupiedFrames(3)
	// Re-pin frame 0 and 2 later; frame 1 keeps the oldest last pin.
	frames[0].pin(10)
	frames[2].pin(11)
	frames[0].pinCount = 0
	frames[2].pinCount = 0

	s := &LRUStrategy{}
	victim, err := s.FindVictim(frames)
	require.NoError(t, err)
	assert.Equal(t, 1, victim)
}

func TestLFUPicksLeastPinned(t *testing.T) {
	frames := occupiedFrames(3)
	frames[0].pin(10)
	frames[0].pin(11)
	frames[2].pin(12)
	frames[0].pinCount = 0
	frames[2].pinCount = 0

	s := &LFUStrategy{}
	victim, err := s.FindVictim(frames)
	require.NoError(t, err)
	assert.Equal(t, 1, victim)
}

func TestLRUKPrefersShortHistory(t *testing.T) {
	frames := occupiedFrames(3)
	// Frame 0: pins at 1, 10, 11 -> 2nd most recent is 10.
	frames[0].pin(10)
	frames[0].pin(11)
	// Frame 1: pins at 2, 12 -> 2nd most recent is 2.
	frames[1].pin(12)
	// Frame 2: single pin -> fewer than k pins, highest priority.
	frames[0].pinCount = 0
	frames[1].pinCount = 0

	s := &LRUKStrategy{k: 2}
	victim, err := s.FindVictim(frames)
	require.NoError(t, err)
	assert.Equal(t, 2, victim)

	// With frame 2 pinned, the oldest 2nd-most-recent pin wins.
	frames[2].pinCount = 1
	victim, err = s.FindVictim(frames)
	require.NoError(t, err)
	assert.Equal(t, 1, victim)
}

func TestRandomOnlyPicksUnpinned(t *testing.T) {
	frames := occupiedFrames(3)
	frames[0].pinCount = 1
	frames[2].pinCount = 1

	s := &RandomStrategy{}
	for i := 0; i < 16; i++ {
		victim, err := s.FindVictim(frames)
		require.NoError(t, err)
		assert.Equal(t, 1, victim)
	}
}

func TestClockSecondChance(t *testing.T) {
	frames := occupiedFrames(3)
	for _, f := range frames {
		f.SetLastChance(true)
	}

	s := &ClockStrategy{}

	// First sweep clears every reference bit, then evicts frame 0.
	victim, err := s.FindVictim(frames)
	require.NoError(t, err)
	assert.Equal(t, 0, victim)
	assert.False(t, frames[1].LastChance())
	assert.False(t, frames[2].LastChance())

	// The hand persists: the next victim is frame 1, no wrap needed.
	frames[0].Occupy(99, 50)
	frames[0].pinCount = 0
	victim, err = s.FindVictim(frames)
	require.NoError(t, err)
	assert.Equal(t, 1, victim)

	// A set bit buys frame 2 one round; the hand takes frame 0 instead.
	frames[1].Occupy(98, 51)
	frames[1].pinCount = 0
	frames[2].SetLastChance(true)
	victim, err = s.FindVictim(frames)
	require.NoError(t, err)
	assert.Equal(t, 0, victim)
	assert.False(t, frames[2].LastChance())
}

func TestStrategiesFailWhenAllPinned(t *testing.T) {
	frames := occupiedFrames(2)
	frames[0].pinCount = 1
	frames[1].pinCount = 1

	for _, s := range []Strategy{
		&RandomStrategy{}, &LRUStrategy{}, &LRUKStrategy{k: 2}, &LFUStrategy{}, &ClockStrategy{},
	} {
		_, err := s.FindVictim(frames)
		require.ErrorIs(t, err, ErrNoFreeFrame)
	}
}
