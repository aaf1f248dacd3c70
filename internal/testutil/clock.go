package testutil

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"dupefind/internal/dupe"
)

// fixedEpoch is where FixedClock and TickingClock start.
var fixedEpoch = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// StubClock is a dupe.Clock driven by the test. A clock with a step moves
// forward by it after every reading, so a run's start and finish differ.
type StubClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

var _ dupe.Clock = (*StubClock)(nil)

// NewStubClock creates a clock that always reads start.
func NewStubClock(start time.Time) *StubClock {
	return &StubClock{now: start}
}

// FixedClock reads 2024-01-15 10:30:00 UTC forever.
func FixedClock() *StubClock {
	return NewStubClock(fixedEpoch)
}

// TickingClock starts at the same instant as FixedClock and advances by
// step on every Now.
func TickingClock(step time.Duration) *StubClock {
	return &StubClock{now: fixedEpoch, step: step}
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// StubIDGenerator hands out run IDs "run-1", "run-2", ... and remembers them.
type StubIDGenerator struct {
	mu     sync.Mutex
	issued []string
}

var _ dupe.IDGenerator = (*StubIDGenerator)(nil)

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := fmt.Sprintf("run-%d", len(g.issued)+1)
	g.issued = append(g.issued, id)
	return id
}

// Issued returns the IDs handed out so far, oldest first.
func (g *StubIDGenerator) Issued() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.issued)
}
