package transcript

import (
	"strconv"
	"sync/atomic"
	"time"
)

// IDGenerator derives entry ids from wall-clock milliseconds scaled by 1e6, bumping
// by one when two ids are requested in the same millisecond. Ids are strictly
// increasing for the lifetime of the generator.
type IDGenerator struct {
	last atomic.Uint64
	now  func() time.Time
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

func (g *IDGenerator) Next() string {
	return strconv.FormatUint(g.nextSeq(), 10)
}

func (g *IDGenerator) nextSeq() uint64 {
	now := time.Now
	if g.now != nil {
		now = g.now
	}
	for {
		current := g.last.Load()
		next := uint64(now().UnixMilli()) * 1_000_000
		if next <= current {
			next = current + 1
		}
		if g.last.CompareAndSwap(current, next) {
			return next
		}
	}
}
