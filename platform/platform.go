// Package platform owns the running agents and the services they share: the
// execution pool, the command bridge, the per-agent log sink and the
// directory facilitator.
//
// A Platform is an explicitly owned object. Nothing is global, so tests and
// embedding programs can run several platforms side by side.
//
// Usage:
//
//	cfg, _ := core.NewConfig(core.WithWorkers(4))
//	p, err := platform.New(cfg, platform.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := p.Start(); err != nil {
//	    return err
//	}
//	defer p.Shutdown(context.Background())
//
//	p.CreateAgent(ctx, "bob", "")
//	res, err := p.RunCommand(ctx, "bob", "X = 1+2")
package platform

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jcmrest/jcmrest/bridge"
	"github.com/jcmrest/jcmrest/core"
	"github.com/jcmrest/jcmrest/directory"
	"github.com/jcmrest/jcmrest/logsink"
	"github.com/jcmrest/jcmrest/mind"
	"github.com/jcmrest/jcmrest/pool"
)

// DefaultProgram is loaded when an agent is created without source code.
const DefaultProgram = `!start. +!start <- .print("Hi").`

// Option configures a Platform.
type Option func(*Platform)

// WithLogger sets the platform logger. Agents, pool, bridge and stores
// receive component loggers derived from it.
func WithLogger(logger core.Logger) Option {
	return func(p *Platform) {
		if logger != nil {
			p.baseLogger = logger
		}
	}
}

// WithTelemetry sets the telemetry used to trace commands.
func WithTelemetry(t core.Telemetry) Option {
	return func(p *Platform) {
		if t != nil {
			p.telemetry = t
		}
	}
}

// WithLogStore overrides the log store selected by configuration.
func WithLogStore(store logsink.Store) Option {
	return func(p *Platform) {
		p.logStore = store
	}
}

// WithDirectory overrides the directory selected by configuration.
func WithDirectory(df directory.Directory) Option {
	return func(p *Platform) {
		p.directory = df
	}
}

// WithSinkOptions passes options to the log sink.
func WithSinkOptions(opts ...logsink.Option) Option {
	return func(p *Platform) {
		p.sinkOpts = append(p.sinkOpts, opts...)
	}
}

// WithAgentOptions passes options to every agent the platform creates.
func WithAgentOptions(opts ...mind.Option) Option {
	return func(p *Platform) {
		p.agentOpts = append(p.agentOpts, opts...)
	}
}

// Platform runs agents and exposes the operations of the REST layer.
type Platform struct {
	config     *core.Config
	baseLogger core.Logger
	logger     core.Logger
	telemetry  core.Telemetry

	pool      *pool.Pool
	bridge    *bridge.Bridge
	logStore  logsink.Store
	sink      *logsink.Sink
	sinkOpts  []logsink.Option
	directory directory.Directory
	agentOpts []mind.Option
	closers   []func() error
	stores    []redisStore

	mu     sync.RWMutex
	agents map[string]*mind.Agent
}

// New builds a platform from cfg. A nil cfg means core.DefaultConfig().
// Redis-backed stores are connected here, so New fails when Redis is
// configured but unreachable.
func New(cfg *core.Config, opts ...Option) (*Platform, error) {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Platform{
		config:     cfg,
		baseLogger: &core.NoOpLogger{},
		telemetry:  &core.NoOpTelemetry{},
		agents:     make(map[string]*mind.Agent),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = core.WithComponent(p.baseLogger, "framework/platform")

	if p.logStore == nil {
		store, err := p.newLogStore()
		if err != nil {
			p.closeStores()
			return nil, err
		}
		p.logStore = store
	}
	if p.directory == nil {
		df, err := p.newDirectory()
		if err != nil {
			p.closeStores()
			return nil, err
		}
		p.directory = df
	}

	p.sink = logsink.New(p.logStore, append([]logsink.Option{logsink.WithLogger(p.baseLogger)}, p.sinkOpts...)...)
	p.pool = pool.New(pool.FromCoreConfig(cfg.Pool, p.baseLogger))

	b, err := bridge.NewBridge(p.pool, bridge.Config{
		CommandTimeout: cfg.Bridge.CommandTimeout,
		Registry:       handleRegistry{p},
		Logger:         p.baseLogger,
		Telemetry:      p.telemetry,
	})
	if err != nil {
		p.closeStores()
		return nil, err
	}
	p.bridge = b

	p.logger.Info("Platform created", map[string]interface{}{
		"name":               cfg.Name,
		"workers":            cfg.Pool.Workers,
		"command_timeout":    cfg.Bridge.CommandTimeout.String(),
		"log_provider":       cfg.LogSink.Provider,
		"directory_provider": cfg.Directory.Provider,
	})
	return p, nil
}

func (p *Platform) storeNamespace(sc core.StoreConfig) string {
	if sc.Namespace != "" {
		return sc.Namespace
	}
	return p.config.Namespace
}

func (p *Platform) newLogStore() (logsink.Store, error) {
	sc := p.config.LogSink
	if sc.Provider != core.ProviderRedis {
		return logsink.NewMemoryStore(), nil
	}
	client, err := core.NewRedisClient(core.RedisClientOptions{
		RedisURL:  sc.RedisURL,
		DB:        core.RedisDBAgentLogs,
		Namespace: p.storeNamespace(sc),
		Logger:    p.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect log store: %w", err)
	}
	p.closers = append(p.closers, client.Close)
	p.stores = append(p.stores, redisStore{name: "log", client: client})
	return logsink.NewRedisStore(client), nil
}

func (p *Platform) newDirectory() (directory.Directory, error) {
	sc := p.config.Directory
	if sc.Provider != core.ProviderRedis {
		return directory.NewMemoryDirectory(p.baseLogger), nil
	}
	client, err := core.NewRedisClient(core.RedisClientOptions{
		RedisURL:  sc.RedisURL,
		DB:        core.RedisDBDirectory,
		Namespace: p.storeNamespace(sc),
		Logger:    p.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect directory: %w", err)
	}
	p.closers = append(p.closers, client.Close)
	p.stores = append(p.stores, redisStore{name: "directory", client: client})
	return directory.NewRedisDirectory(client, p.baseLogger), nil
}

func (p *Platform) closeStores() {
	for _, c := range p.closers {
		if err := c(); err != nil {
			p.logger.Warn("Failed to close store", map[string]interface{}{"error": err.Error()})
		}
	}
	p.closers = nil
}

// Config returns the configuration the platform was built with.
func (p *Platform) Config() *core.Config {
	return p.config
}

// Bridge exposes the command bridge, mostly for its statistics.
func (p *Platform) Bridge() *bridge.Bridge {
	return p.bridge
}

// Pool exposes the execution pool.
func (p *Platform) Pool() *pool.Pool {
	return p.pool
}

// Start starts the execution pool. Agents can be created before Start, but
// commands fail with core.ErrPoolStopped until it is called.
func (p *Platform) Start() error {
	if err := p.pool.Start(); err != nil {
		return err
	}
	p.logger.Info("Platform started", map[string]interface{}{"name": p.config.Name})
	return nil
}

// Shutdown stops every agent, then the pool, then closes the stores.
func (p *Platform) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	agents := make([]*mind.Agent, 0, len(p.agents))
	for _, a := range p.agents {
		agents = append(agents, a)
	}
	p.agents = make(map[string]*mind.Agent)
	p.mu.Unlock()

	var g errgroup.Group
	for _, a := range agents {
		a := a
		g.Go(func() error {
			return a.Stop(ctx)
		})
	}
	agentErr := g.Wait()

	poolErr := p.pool.Stop(ctx)
	p.closeStores()

	p.logger.Info("Platform stopped", map[string]interface{}{
		"agents": len(agents),
	})
	if agentErr != nil {
		return agentErr
	}
	return poolErr
}

// CreateAgent parses source, starts a new agent and attaches its log. An
// empty source loads DefaultProgram.
func (p *Platform) CreateAgent(ctx context.Context, name, source string) (*mind.Agent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, core.NewFrameworkError("CreateAgent", "agent", core.ErrInvalidRequest)
	}
	if strings.TrimSpace(source) == "" {
		source = DefaultProgram
	}
	prog, err := mind.ParseProgram(source)
	if err != nil {
		return nil, core.NewAgentError("CreateAgent", name, err)
	}

	opts := append([]mind.Option{
		mind.WithLogger(p.baseLogger),
		mind.WithEnvironment(p),
	}, p.agentOpts...)
	a := mind.NewAgent(name, prog, opts...)

	p.mu.Lock()
	if _, exists := p.agents[name]; exists {
		p.mu.Unlock()
		return nil, core.NewAgentError("CreateAgent", name, core.ErrAgentAlreadyExists)
	}
	p.agents[name] = a
	p.mu.Unlock()

	// the log must follow the agent before its first cycle
	if err := p.sink.Ensure(ctx, name, a); err != nil {
		p.forget(name, a)
		return nil, err
	}
	if err := a.Start(); err != nil {
		p.forget(name, a)
		return nil, err
	}

	p.logger.Info("Agent created", map[string]interface{}{
		"agent": name,
		"plans": len(prog.Plans),
	})
	return a, nil
}

func (p *Platform) forget(name string, a *mind.Agent) {
	p.mu.Lock()
	if p.agents[name] == a {
		delete(p.agents, name)
	}
	p.mu.Unlock()
}

// KillAgent stops the agent, deletes its log and removes its services.
func (p *Platform) KillAgent(ctx context.Context, name string) error {
	p.mu.Lock()
	a, ok := p.agents[name]
	delete(p.agents, name)
	p.mu.Unlock()
	if !ok {
		return core.NewAgentError("KillAgent", name, core.ErrAgentNotFound)
	}

	stopErr := a.Stop(ctx)
	if err := p.sink.Delete(ctx, name); err != nil {
		p.logger.Warn("Failed to delete agent log", map[string]interface{}{
			"agent": name,
			"error": err.Error(),
		})
	}
	if err := p.directory.Deregister(ctx, name); err != nil {
		p.logger.Warn("Failed to deregister agent services", map[string]interface{}{
			"agent": name,
			"error": err.Error(),
		})
	}

	p.logger.Info("Agent killed", map[string]interface{}{"agent": name})
	return stopErr
}

// Lookup returns the named agent or core.ErrAgentNotFound.
func (p *Platform) Lookup(name string) (*mind.Agent, error) {
	p.mu.RLock()
	a, ok := p.agents[name]
	p.mu.RUnlock()
	if !ok {
		return nil, core.NewAgentError("Lookup", name, core.ErrAgentNotFound)
	}
	return a, nil
}

// Agents lists agent names, sorted.
func (p *Platform) Agents() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.agents))
	for n := range p.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// handleRegistry resolves names for the bridge.
type handleRegistry struct {
	p *Platform
}

func (r handleRegistry) Lookup(name string) (bridge.AgentHandle, error) {
	a, err := r.p.Lookup(name)
	if err != nil {
		return nil, err
	}
	return a, nil
}
