// Package directory implements the directory facilitator: a map from agent
// names to the services they offer, each service carrying a type.
//
// Two implementations are provided behind the Directory interface:
// MemoryDirectory for single-process deployments and tests, and
// RedisDirectory for a directory shared between platform instances.
package directory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/jcmrest/jcmrest/core"
)

// DefaultType is the type recorded when a service is registered without one.
const DefaultType = "no-type"

// Service is one entry of an agent's service list.
type Service struct {
	Name string `json:"service"`
	Type string `json:"type"`
}

// Directory stores which agent provides which service.
type Directory interface {
	// Register adds service to agent. Registering an existing service
	// updates its type.
	Register(ctx context.Context, agent, service, typ string) error
	// RemoveService drops one service of agent. It fails with
	// core.ErrServiceNotFound when agent does not provide service.
	RemoveService(ctx context.Context, agent, service string) error
	// Deregister drops every service of agent.
	Deregister(ctx context.Context, agent string) error
	// Services lists agent's services sorted by name. An unknown agent has none.
	Services(ctx context.Context, agent string) ([]Service, error)
	// Providers lists the agents offering service, sorted.
	Providers(ctx context.Context, service string) ([]string, error)
	// All maps every agent with at least one service to its sorted service names.
	All(ctx context.Context) (map[string][]string, error)
}

func normalize(agent, service, typ string) (string, string, string, error) {
	agent = strings.TrimSpace(agent)
	service = strings.TrimSpace(service)
	if agent == "" || service == "" {
		return "", "", "", core.NewFrameworkError("directory.Register", "directory", core.ErrInvalidRequest)
	}
	typ = strings.TrimSpace(typ)
	if typ == "" {
		typ = DefaultType
	}
	return agent, service, typ, nil
}

// MemoryDirectory is an in-process Directory.
type MemoryDirectory struct {
	mu       sync.RWMutex
	services map[string]map[string]string // agent -> service -> type
	logger   core.Logger
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory(logger core.Logger) *MemoryDirectory {
	return &MemoryDirectory{
		services: make(map[string]map[string]string),
		logger:   core.WithComponent(logger, "framework/directory"),
	}
}

func (m *MemoryDirectory) Register(ctx context.Context, agent, service, typ string) error {
	agent, service, typ, err := normalize(agent, service, typ)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.services[agent] == nil {
		m.services[agent] = make(map[string]string)
	}
	m.services[agent][service] = typ

	m.logger.Debug("Service registered", map[string]interface{}{
		"agent":   agent,
		"service": service,
		"type":    typ,
	})
	return nil
}

func (m *MemoryDirectory) RemoveService(ctx context.Context, agent, service string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	svcs := m.services[agent]
	if _, ok := svcs[service]; !ok {
		return core.NewAgentError("directory.RemoveService", agent, core.ErrServiceNotFound)
	}
	delete(svcs, service)
	if len(svcs) == 0 {
		delete(m.services, agent)
	}
	return nil
}

func (m *MemoryDirectory) Deregister(ctx context.Context, agent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n := len(m.services[agent]); n > 0 {
		m.logger.Debug("Agent deregistered", map[string]interface{}{
			"agent":    agent,
			"services": n,
		})
	}
	delete(m.services, agent)
	return nil
}

func (m *MemoryDirectory) Services(ctx context.Context, agent string) ([]Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Service, 0, len(m.services[agent]))
	for name, typ := range m.services[agent] {
		out = append(out, Service{Name: name, Type: typ})
	}
	sortServices(out)
	return out, nil
}

func (m *MemoryDirectory) Providers(ctx context.Context, service string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var agents []string
	for agent, svcs := range m.services {
		if _, ok := svcs[service]; ok {
			agents = append(agents, agent)
		}
	}
	sort.Strings(agents)
	return agents, nil
}

func (m *MemoryDirectory) All(ctx context.Context) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]string, len(m.services))
	for agent, svcs := range m.services {
		names := make([]string, 0, len(svcs))
		for name := range svcs {
			names = append(names, name)
		}
		sort.Strings(names)
		out[agent] = names
	}
	return out, nil
}

func sortServices(s []Service) {
	sort.Slice(s, func(i, j int) bool { return s[i].Name < s[j].Name })
}
