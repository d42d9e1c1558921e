package mind

import (
	"sync"
	"sync/atomic"
)

// ListenerToken identifies a registered listener or log handler.
type ListenerToken uint64

var tokenSeq atomic.Uint64

func nextToken() ListenerToken {
	return ListenerToken(tokenSeq.Add(1))
}

type registered[T any] struct {
	token ListenerToken
	value T
}

// registry is a copy-on-write list. Iteration works on a snapshot, so
// callbacks may add or remove entries without deadlocking.
type registry[T any] struct {
	mu      sync.Mutex
	entries []registered[T]
}

func (r *registry[T]) add(v T) ListenerToken {
	tok := nextToken()
	r.mu.Lock()
	next := make([]registered[T], len(r.entries), len(r.entries)+1)
	copy(next, r.entries)
	r.entries = append(next, registered[T]{token: tok, value: v})
	r.mu.Unlock()
	return tok
}

func (r *registry[T]) remove(tok ListenerToken) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.token == tok {
			next := make([]registered[T], 0, len(r.entries)-1)
			next = append(next, r.entries[:i]...)
			r.entries = append(next, r.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *registry[T]) snapshot() []registered[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries
}

func (r *registry[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
