package prices

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/aristath/vaultpilot/internal/domain"
	"golang.org/x/sync/singleflight"
)

// CycleCache is a read-through price cache owned by one scheduler tick.
// It remembers misses too, so every vault in the tick sees the same
// snapshot for a given asset. Errors are not cached.
type CycleCache struct {
	source domain.PriceSource

	mu      sync.RWMutex
	known   map[string]domain.Price
	missing map[string]bool
	group   singleflight.Group
}

// NewCycleCache creates an empty cache in front of source
func NewCycleCache(source domain.PriceSource) *CycleCache {
	return &CycleCache{
		source:  source,
		known:   make(map[string]domain.Price),
		missing: make(map[string]bool),
	}
}

// GetPrices implements domain.PriceSource
func (c *CycleCache) GetPrices(ctx context.Context, assets []string) (map[string]domain.Price, error) {
	out, fetch := c.lookup(assets)
	if len(fetch) == 0 {
		return out, nil
	}

	sort.Strings(fetch)
	_, err, _ := c.group.Do(strings.Join(fetch, ","), func() (interface{}, error) {
		got, err := c.source.GetPrices(ctx, fetch)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		for _, a := range fetch {
			if p, ok := got[a]; ok {
				c.known[a] = p
			} else {
				c.missing[a] = true
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	out, _ = c.lookup(assets)
	return out, nil
}

// Size returns the number of assets resolved so far, hits and misses
func (c *CycleCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.known) + len(c.missing)
}

func (c *CycleCache) lookup(assets []string) (map[string]domain.Price, []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]domain.Price, len(assets))
	var fetch []string
	seen := make(map[string]bool, len(assets))
	for _, a := range assets {
		if seen[a] {
			continue
		}
		seen[a] = true
		if p, ok := c.known[a]; ok {
			out[a] = p
			continue
		}
		if !c.missing[a] {
			fetch = append(fetch, a)
		}
	}
	return out, fetch
}
