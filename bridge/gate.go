package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jcmrest/jcmrest/mind"
)

// GateState is the lifecycle of a Gate.
type GateState int32

const (
	GateArmed GateState = iota
	GateSignaled
	GateConsumed
)

func (s GateState) String() string {
	switch s {
	case GateArmed:
		return "armed"
	case GateSignaled:
		return "signaled"
	case GateConsumed:
		return "consumed"
	}
	return "unknown"
}

// Gate is a single-use completion signal for one intention. It may be
// signaled before or after someone waits on it; only the first drop event
// for its intention counts.
type Gate struct {
	intentionID string

	once  sync.Once
	done  chan struct{}
	event mind.Event

	state      atomic.Int32
	mismatches atomic.Int64
}

// NewGate arms a gate for the given intention.
func NewGate(intentionID string) *Gate {
	return &Gate{
		intentionID: intentionID,
		done:        make(chan struct{}),
	}
}

// IntentionID is the intention the gate waits for.
func (g *Gate) IntentionID() string {
	return g.intentionID
}

// Signal offers ev to the gate. Events for other intentions are counted as
// mismatches and ignored, as are non-drop events. It reports whether ev
// resolved the gate.
func (g *Gate) Signal(ev mind.Event) bool {
	if ev.IntentionID != g.intentionID {
		g.mismatches.Add(1)
		return false
	}
	if ev.Kind != mind.EventDropped {
		return false
	}
	signaled := false
	g.once.Do(func() {
		g.event = ev
		g.state.Store(int32(GateSignaled))
		close(g.done)
		signaled = true
	})
	return signaled
}

// Done is closed once the gate is signaled.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the gate is signaled or ctx ends.
func (g *Gate) Wait(ctx context.Context) (mind.Event, error) {
	select {
	case <-g.done:
		return g.consume(), nil
	case <-ctx.Done():
		select {
		case <-g.done:
			return g.consume(), nil
		default:
		}
		return mind.Event{}, ctx.Err()
	}
}

func (g *Gate) consume() mind.Event {
	g.state.Store(int32(GateConsumed))
	return g.event
}

// State returns the current state.
func (g *Gate) State() GateState {
	return GateState(g.state.Load())
}

// Mismatches counts events that belonged to other intentions.
func (g *Gate) Mismatches() int64 {
	return g.mismatches.Load()
}
