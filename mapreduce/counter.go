package mapreduce

import (
	"sync"
	"sync/atomic"
)

// Counter is a concurrent-safe, integer-only job counter. Tasks of the same
// stage may increment it concurrently; its final value is only meaningful
// once every task of the stage has completed.
type Counter struct {
	sum int64
}

// Add increments the counter by delta.
func (c *Counter) Add(delta int64) {
	_ = atomic.AddInt64(&c.sum, delta)
}

// Value retrieves the current counter value.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.sum)
}

// Counters is a named set of counters shared by all the tasks of a job.
type Counters struct {
	mu       sync.Mutex
	counters map[string]*Counter
}

// NewCounters returns an empty counter set.
func NewCounters() *Counters {
	return &Counters{counters: make(map[string]*Counter)}
}

// Counter returns the counter with the specified name, registering it on
// first use.
func (cs *Counters) Counter(name string) *Counter {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	c, exists := cs.counters[name]
	if !exists {
		c = new(Counter)
		cs.counters[name] = c
	}

	return c
}

// Value returns the value of the named counter or 0 if it was never used.
func (cs *Counters) Value(name string) int64 {
	cs.mu.Lock()
	c, exists := cs.counters[name]
	cs.mu.Unlock()

	if !exists {
		return 0
	}

	return c.Value()
}

// Snapshot returns the current value of every registered counter.
func (cs *Counters) Snapshot() map[string]int64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	snapshot := make(map[string]int64, len(cs.counters))
	for name, c := range cs.counters {
		snapshot[name] = c.Value()
	}

	return snapshot
}
