package concurrency

import "fmt"

// Timestamp is a transaction time, e.g. the begin or end timestamp of a
// record version or the begin or commit time of a transaction. The value
// packs the "real" time (a global counter incremented for every new
// transaction and every commit) with a committed flag in the lowest bit.
//
// Time 0 with the committed flag set means "infinity": a version that never
// ends.
type Timestamp uint64

// Infinity is the never-ending timestamp.
const Infinity = Timestamp(1)

func NewTimestamp(time uint64, committed bool) Timestamp {
	t := Timestamp(time << 1)
	if committed {
		t |= 1
	}
	return t
}

// Committed reports whether the owning transaction has committed.
func (t Timestamp) Committed() bool { return t&1 == 1 }

// Time returns the raw counter value without the committed flag.
func (t Timestamp) Time() uint64 { return uint64(t >> 1) }

// IsInfinity reports whether this timestamp never ends.
func (t Timestamp) IsInfinity() bool { return t == Infinity }

func (t Timestamp) String() string {
	if t.IsInfinity() {
		return "ts(inf)"
	}
	return fmt.Sprintf("ts(%d,committed=%t)", t.Time(), t.Committed())
}
