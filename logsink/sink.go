// Package logsink keeps an append-only log per agent.
//
// Agent output reaches the sink through a log handler attached the first
// time a buffer is ensured. Lines are rendered as "[dd-MM-yy HH:mm:ss] msg"
// and read back joined by newlines. Operations on the same agent are
// serialized; different agents proceed in parallel.
package logsink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jcmrest/jcmrest/core"
	"github.com/jcmrest/jcmrest/mind"
)

// TimestampLayout renders dd-MM-yy HH:mm:ss.
const TimestampLayout = "02-01-06 15:04:05"

// LogSource is an agent whose log records can be followed.
type LogSource interface {
	AddLogHandler(fn func(mind.LogRecord)) mind.ListenerToken
	RemoveLogHandler(tok mind.ListenerToken)
}

// Option configures a Sink.
type Option func(*Sink)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		s.now = now
	}
}

// WithLogger sets the logger for sink failures.
func WithLogger(logger core.Logger) Option {
	return func(s *Sink) {
		s.logger = core.WithComponent(logger, "framework/logsink")
	}
}

type attachment struct {
	source LogSource
	token  mind.ListenerToken
}

// Sink is the per-agent log service.
type Sink struct {
	store  Store
	now    func() time.Time
	logger core.Logger

	mu       sync.Mutex
	locks    map[string]*agentLock
	attached map[string]attachment
}

// New creates a sink over store.
func New(store Store, opts ...Option) *Sink {
	s := &Sink{
		store:    store,
		now:      time.Now,
		logger:   &core.NoOpLogger{},
		locks:    make(map[string]*agentLock),
		attached: make(map[string]attachment),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// agentLock serializes operations on one agent's buffer. refs counts holders
// and waiters so the entry can go once nobody uses it.
type agentLock struct {
	sync.Mutex
	refs int
}

// lock acquires the agent's lock and returns its release.
func (s *Sink) lock(agent string) func() {
	s.mu.Lock()
	l, ok := s.locks[agent]
	if !ok {
		l = &agentLock{}
		s.locks[agent] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, agent)
		}
		s.mu.Unlock()
	}
}

// Ensure creates the agent's buffer and, on the first call, starts copying
// the source's log records into it. Further calls do nothing.
func (s *Sink) Ensure(ctx context.Context, agent string, source LogSource) error {
	defer s.lock(agent)()

	s.mu.Lock()
	_, done := s.attached[agent]
	s.mu.Unlock()
	if done {
		return nil
	}

	if err := s.store.Ensure(ctx, agent); err != nil {
		return fmt.Errorf("ensure log of %s: %w", agent, err)
	}
	if source == nil {
		return nil
	}

	tok := source.AddLogHandler(func(rec mind.LogRecord) {
		if err := s.Append(context.Background(), agent, rec.Message); err != nil {
			s.logger.Error("Failed to append agent log", map[string]interface{}{
				"agent": agent,
				"error": err.Error(),
			})
		}
	})
	s.mu.Lock()
	s.attached[agent] = attachment{source: source, token: tok}
	s.mu.Unlock()
	return nil
}

// Append adds one timestamped line.
func (s *Sink) Append(ctx context.Context, agent, message string) error {
	defer s.lock(agent)()

	line := "[" + s.now().Format(TimestampLayout) + "] " + message
	if err := s.store.Append(ctx, agent, line); err != nil {
		return fmt.Errorf("append log of %s: %w", agent, err)
	}
	return nil
}

// Read returns the whole log of agent. ok is false when no buffer exists.
func (s *Sink) Read(ctx context.Context, agent string) (text string, ok bool, err error) {
	defer s.lock(agent)()

	lines, ok, err := s.store.Lines(ctx, agent)
	if err != nil {
		return "", false, fmt.Errorf("read log of %s: %w", agent, err)
	}
	return strings.Join(lines, "\n"), ok, nil
}

// Clear empties the buffer but keeps it and its handler.
func (s *Sink) Clear(ctx context.Context, agent string) error {
	defer s.lock(agent)()
	return s.store.Clear(ctx, agent)
}

// Delete removes the buffer and detaches from the agent.
func (s *Sink) Delete(ctx context.Context, agent string) error {
	defer s.lock(agent)()

	s.mu.Lock()
	att, ok := s.attached[agent]
	delete(s.attached, agent)
	s.mu.Unlock()
	if ok {
		att.source.RemoveLogHandler(att.token)
	}
	return s.store.Delete(ctx, agent)
}

// Agents lists agents with a buffer.
func (s *Sink) Agents(ctx context.Context) ([]string, error) {
	return s.store.Agents(ctx)
}
