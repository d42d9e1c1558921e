package telemetry

import (
	"sync"
	"time"
)

// OverflowValue replaces label values past their limit.
const OverflowValue = "other"

// CardinalityLimiter keeps metric label values bounded. Agents are created
// by API callers, so an "agent" label would otherwise grow without limit.
type CardinalityLimiter struct {
	limits map[string]int

	mu   sync.Mutex
	seen map[string]map[string]time.Time // metric.label -> value -> last use

	maxAge   time.Duration
	stopChan chan struct{}
	stopped  sync.Once
}

// NewCardinalityLimiter creates a limiter. Values unused for ten minutes are
// forgotten, freeing their slot.
func NewCardinalityLimiter(limits map[string]int) *CardinalityLimiter {
	c := &CardinalityLimiter{
		limits:   limits,
		seen:     make(map[string]map[string]time.Time),
		maxAge:   10 * time.Minute,
		stopChan: make(chan struct{}),
	}
	go c.cleanupLoop(5 * time.Minute)
	return c
}

// CheckAndLimit returns value, or OverflowValue when label of metric
// already holds its limit of other values.
func (c *CardinalityLimiter) CheckAndLimit(metric, label, value string) string {
	limit, ok := c.limits[label]
	if !ok {
		return value
	}

	key := metric + "." + label
	c.mu.Lock()
	defer c.mu.Unlock()

	values := c.seen[key]
	if values == nil {
		values = make(map[string]time.Time)
		c.seen[key] = values
	}
	if _, known := values[value]; !known && len(values) >= limit {
		return OverflowValue
	}
	values[value] = time.Now()
	return value
}

// CurrentCardinality is the number of tracked values over all limited
// labels. Labels without a limit pass through untracked.
func (c *CardinalityLimiter) CurrentCardinality() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, values := range c.seen {
		total += len(values)
	}
	return total
}

func (c *CardinalityLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup(time.Now().Add(-c.maxAge))
		case <-c.stopChan:
			return
		}
	}
}

func (c *CardinalityLimiter) cleanup(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, values := range c.seen {
		for v, last := range values {
			if last.Before(cutoff) {
				delete(values, v)
			}
		}
		if len(values) == 0 {
			delete(c.seen, key)
		}
	}
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (c *CardinalityLimiter) Stop() {
	c.stopped.Do(func() {
		close(c.stopChan)
	})
}
