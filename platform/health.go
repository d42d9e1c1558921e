package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/jcmrest/jcmrest/core"
)

type redisStore struct {
	name   string
	client *core.RedisClient
}

// StoreHealth reports the state of one Redis-backed store.
type StoreHealth struct {
	Name      string            `json:"name"`
	DB        int               `json:"db"`
	Namespace string            `json:"namespace"`
	Status    core.HealthStatus `json:"status"`
	Error     string            `json:"error,omitempty"`
}

// HealthCheck pings every Redis-backed store the platform connected. The
// returned error joins the failures; in-memory stores are not listed.
func (p *Platform) HealthCheck(ctx context.Context) ([]StoreHealth, error) {
	out := make([]StoreHealth, 0, len(p.stores))
	var errs []error
	for _, s := range p.stores {
		h := StoreHealth{
			Name:      s.name,
			DB:        s.client.GetDB(),
			Namespace: s.client.GetNamespace(),
			Status:    core.HealthHealthy,
		}
		if err := s.client.HealthCheck(ctx); err != nil {
			h.Status = core.HealthUnhealthy
			h.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s store: %w", s.name, err))
		}
		out = append(out, h)
	}
	return out, errors.Join(errs...)
}
