// Package policy loads entity allowances from external sources and installs
// them into a limiter. Only the configured limit and window are read; limiter
// counters are never written back.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/codetesla51/entitylimit/limiter"
)

// Policy is the allowance configured for one entity.
type Policy struct {
	ID     string        `json:"id" yaml:"id"`
	Limit  int           `json:"limit" yaml:"limit"`
	Window time.Duration `json:"window" yaml:"window"`
}

func (p Policy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("policy has empty id: %w", limiter.ErrInvalidConfiguration)
	}
	if p.Limit < 1 || p.Window <= 0 {
		return fmt.Errorf("policy %q (limit=%d window=%s): %w", p.ID, p.Limit, p.Window, limiter.ErrInvalidConfiguration)
	}
	return nil
}

type Source interface {
	// Load returns every configured policy
	Load(ctx context.Context) ([]Policy, error)
}

// Apply loads policies from src and installs each one with Replace, so a
// reload restarts the window of every listed entity. Nothing is installed
// unless every policy is valid.
func Apply(ctx context.Context, l *limiter.Limiter, src Source) (int, error) {
	policies, err := src.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load policies: %w", err)
	}

	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return 0, err
		}
	}

	for i, p := range policies {
		if err := l.Replace(p.ID, p.Limit, p.Window); err != nil {
			return i, err
		}
	}
	return len(policies), nil
}
