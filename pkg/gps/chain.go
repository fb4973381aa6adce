package gps

import (
	"context"
	"fmt"

	"github.com/sitegate/sitegate/pkg"
)

// NamedProvider labels a provider inside a Chain
type NamedProvider struct {
	Name     string
	Provider pkg.LocationProvider
}

// Chain tries providers in priority order and returns the first fix
type Chain struct {
	providers []NamedProvider
}

// NewChain creates a provider chain
func NewChain(providers ...NamedProvider) *Chain {
	return &Chain{providers: providers}
}

// Len returns the number of providers in the chain
func (c *Chain) Len() int {
	return len(c.providers)
}

// CurrentLocation implements pkg.LocationProvider
func (c *Chain) CurrentLocation(ctx context.Context, req pkg.LocationRequest) (pkg.LocationSample, error) {
	var lastErr error
	for _, p := range c.providers {
		if ctx.Err() != nil {
			break
		}
		sample, err := p.Provider.CurrentLocation(ctx, req)
		if err == nil {
			if sample.Source == "" {
				sample.Source = p.Name
			}
			return sample, nil
		}
		lastErr = fmt.Errorf("%s: %w", p.Name, err)
	}

	if lastErr == nil {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
		} else {
			lastErr = fmt.Errorf("no location sources configured")
		}
	}
	return pkg.LocationSample{}, fmt.Errorf("%w: %v", pkg.ErrLocationUnavailable, lastErr)
}
