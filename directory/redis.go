package directory

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"

	"github.com/jcmrest/jcmrest/core"
)

// RedisDirectory keeps the directory in Redis so several platform instances
// can share it. Layout, under the client namespace:
//
//	df:index                  set of agents with at least one service
//	df:agents:<agent>         set of the agent's services
//	df:services:<service>     set of agents providing the service
//	df:type:<service>:<agent> type string
type RedisDirectory struct {
	client *core.RedisClient
	logger core.Logger
}

const dfIndexKey = "df:index"

// NewRedisDirectory wraps a connected client. Use core.RedisDBDirectory for its DB.
func NewRedisDirectory(client *core.RedisClient, logger core.Logger) *RedisDirectory {
	return &RedisDirectory{
		client: client,
		logger: core.WithComponent(logger, "framework/directory"),
	}
}

// unavailable marks a Redis failure so callers can tell it from a lookup miss.
func unavailable(err error) error {
	return core.NewFrameworkError("directory", "directory", fmt.Errorf("%w: %w", core.ErrDirectoryUnavailable, err))
}

func agentKey(agent string) string {
	return "df:agents:" + agent
}

func serviceKey(service string) string {
	return "df:services:" + service
}

func typeKey(service, agent string) string {
	return "df:type:" + service + ":" + agent
}

func (r *RedisDirectory) Register(ctx context.Context, agent, service, typ string) error {
	agent, service, typ, err := normalize(agent, service, typ)
	if err != nil {
		return err
	}

	c := r.client
	err = c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, c.Key(dfIndexKey), agent)
		pipe.SAdd(ctx, c.Key(agentKey(agent)), service)
		pipe.SAdd(ctx, c.Key(serviceKey(service)), agent)
		pipe.Set(ctx, c.Key(typeKey(service, agent)), typ, 0)
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to register service atomically", map[string]interface{}{
			"error":      err,
			"error_type": fmt.Sprintf("%T", err),
			"agent":      agent,
			"service":    service,
		})
		return unavailable(fmt.Errorf("failed to register service %s for %s: %w", service, agent, err))
	}

	r.logger.Debug("Service registered", map[string]interface{}{
		"agent":   agent,
		"service": service,
		"type":    typ,
	})
	return nil
}

func (r *RedisDirectory) RemoveService(ctx context.Context, agent, service string) error {
	c := r.client
	var removed *redis.IntCmd
	err := c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, c.Key(agentKey(agent)), service)
		pipe.SRem(ctx, c.Key(serviceKey(service)), agent)
		pipe.Del(ctx, c.Key(typeKey(service, agent)))
		return nil
	})
	if err != nil {
		return unavailable(fmt.Errorf("failed to remove service %s of %s: %w", service, agent, err))
	}
	if removed.Val() == 0 {
		return core.NewAgentError("directory.RemoveService", agent, core.ErrServiceNotFound)
	}

	// keep the index consistent with the (possibly now empty) service set
	left, err := c.Exists(ctx, agentKey(agent))
	if err != nil {
		return unavailable(fmt.Errorf("failed to check services of %s: %w", agent, err))
	}
	if !left {
		if err := c.SRem(ctx, dfIndexKey, agent); err != nil {
			return unavailable(err)
		}
	}
	return nil
}

func (r *RedisDirectory) Deregister(ctx context.Context, agent string) error {
	services, err := r.client.SMembers(ctx, agentKey(agent))
	if err != nil {
		return unavailable(fmt.Errorf("failed to read services of %s: %w", agent, err))
	}

	c := r.client
	err = c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, s := range services {
			pipe.SRem(ctx, c.Key(serviceKey(s)), agent)
			pipe.Del(ctx, c.Key(typeKey(s, agent)))
		}
		pipe.Del(ctx, c.Key(agentKey(agent)))
		pipe.SRem(ctx, c.Key(dfIndexKey), agent)
		return nil
	})
	if err != nil {
		r.logger.Warn("Failed to deregister agent", map[string]interface{}{
			"agent": agent,
			"error": err,
		})
		return unavailable(fmt.Errorf("failed to deregister %s: %w", agent, err))
	}
	return nil
}

func (r *RedisDirectory) Services(ctx context.Context, agent string) ([]Service, error) {
	names, err := r.client.SMembers(ctx, agentKey(agent))
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to read services of %s: %w", agent, err))
	}

	out := make([]Service, 0, len(names))
	for _, name := range names {
		typ, err := r.client.Get(ctx, typeKey(name, agent))
		if err == redis.Nil {
			typ = DefaultType
		} else if err != nil {
			return nil, unavailable(fmt.Errorf("failed to read type of %s: %w", name, err))
		}
		out = append(out, Service{Name: name, Type: typ})
	}
	sortServices(out)
	return out, nil
}

func (r *RedisDirectory) Providers(ctx context.Context, service string) ([]string, error) {
	agents, err := r.client.SMembers(ctx, serviceKey(service))
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to read providers of %s: %w", service, err))
	}
	sort.Strings(agents)
	return agents, nil
}

func (r *RedisDirectory) All(ctx context.Context) (map[string][]string, error) {
	agents, err := r.client.SMembers(ctx, dfIndexKey)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to read directory index: %w", err))
	}

	out := make(map[string][]string, len(agents))
	for _, agent := range agents {
		names, err := r.client.SMembers(ctx, agentKey(agent))
		if err != nil {
			return nil, unavailable(fmt.Errorf("failed to read services of %s: %w", agent, err))
		}
		if len(names) == 0 {
			continue
		}
		sort.Strings(names)
		out[agent] = names
	}
	return out, nil
}
