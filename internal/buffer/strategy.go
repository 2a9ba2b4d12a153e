package buffer

import (
	"fmt"
	"math/rand"

	"github.com/tuannm99/waxdb/internal/config"
)

// Strategy decides which frame is recycled when a page has to be loaded and
// no frame is free. FindVictim must only return occupied, unpinned frames.
// OnPin is called for every pin with the pool's monotonic sequence number.
type Strategy interface {
	FindVictim(frames []*Frame) (int, error)
	OnPin(frameIndex int, ts uint64)
}

// NewStrategy builds a strategy by its configuration name.
func NewStrategy(name string, frames, k int) (Strategy, error) {
	switch name {
	case config.StrategyRandom:
		return &RandomStrategy{}, nil
	case config.StrategyLRU:
		return &LRUStrategy{}, nil
	case config.StrategyLRUK:
		return &LRUKStrategy{k: k}, nil
	case config.StrategyLFU:
		return &LFUStrategy{}, nil
	case config.StrategyClock:
		return &ClockStrategy{}, nil
	default:
		return nil, fmt.Errorf("buffer: unknown replacement strategy %q", name)
	}
}

// RandomStrategy evicts a uniformly chosen unpinned frame.
type RandomStrategy struct{}

func (s *RandomStrategy) FindVictim(frames []*Frame) (int, error) {
	candidates := make([]int, 0, len(frames))
	for i, f := range frames {
		if f.Occupied() && !f.Pinned() {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return 0, ErrNoFreeFrame
	}
	return candidates[rand.Intn(len(candidates))], nil
}

func (s *RandomStrategy) OnPin(int, uint64) {}

// LRUStrategy evicts the unpinned frame with the oldest last pin.
type LRUStrategy struct{}

func (s *LRUStrategy) FindVictim(frames []*Frame) (int, error) {
	victim := -1
	var victimTS uint64
	for i, f := range frames {
		if !f.Occupied() || f.Pinned() {
			continue
		}
		if ts := f.LastPinTimestamp(); victim == -1 || ts < victimTS {
			victim, victimTS = i, ts
		}
	}
	if victim == -1 {
		return 0, ErrNoFreeFrame
	}
	return victim, nil
}

func (s *LRUStrategy) OnPin(int, uint64) {}

// LRUKStrategy evicts the unpinned frame with the oldest k-th most recent
// pin. Frames with fewer than k pins take priority (missing history counts
// as minus infinity).
type LRUKStrategy struct {
	k int
}

func (s *LRUKStrategy) FindVictim(frames []*Frame) (int, error) {
	victim := -1
	victimTS := ^uint64(0)
	for i, f := range frames {
		if !f.Occupied() || f.Pinned() {
			continue
		}
		var ts uint64
		if f.CountPins() >= s.k {
			ts = f.PinTimestamp(f.CountPins() - s.k)
			// Offset by one so a frame with full history never ties the
			// minus-infinity of a short-history frame.
			ts++
		}
		if victim == -1 || ts < victimTS {
			victim, victimTS = i, ts
		}
	}
	if victim == -1 {
		return 0, ErrNoFreeFrame
	}
	return victim, nil
}

func (s *LRUKStrategy) OnPin(int, uint64) {}

// LFUStrategy evicts the unpinned frame with the fewest pins overall.
type LFUStrategy struct{}

func (s *LFUStrategy) FindVictim(frames []*Frame) (int, error) {
	victim := -1
	victimPins := 0
	for i, f := range frames {
		if !f.Occupied() || f.Pinned() {
			continue
		}
		if victim == -1 || f.CountPins() < victimPins {
			victim, victimPins = i, f.CountPins()
		}
	}
	if victim == -1 {
		return 0, ErrNoFreeFrame
	}
	return victim, nil
}

func (s *LFUStrategy) OnPin(int, uint64) {}

// ClockStrategy implements second chance: the hand sweeps the frames in a
// circle; an unpinned frame with a clear reference bit is evicted, a set bit
// buys the frame one more round. The hand position persists across calls.
type ClockStrategy struct {
	hand int
}

func (s *ClockStrategy) FindVictim(frames []*Frame) (int, error) {
	// Two full sweeps are enough: the first can clear every bit, the
	// second must then find a victim unless all frames are pinned.
	for step := 0; step < 2*len(frames); step++ {
		i := s.hand
		s.hand = (s.hand + 1) % len(frames)

		f := frames[i]
		if !f.Occupied() || f.Pinned() {
			continue
		}
		if f.LastChance() {
			f.SetLastChance(false)
			continue
		}
		return i, nil
	}
	return 0, ErrNoFreeFrame
}

func (s *ClockStrategy) OnPin(int, uint64) {}
