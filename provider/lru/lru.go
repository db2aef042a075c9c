// Package lru provides the default memo provider: a strict
// least-recently-used cache of fixed entry capacity. Eviction is
// deterministic (exactly the least-recently-used entry leaves when a new
// key is inserted at capacity), which the ristretto and bigcache providers
// do not guarantee.
package lru

import (
	"context"
	"errors"
	"time"

	hlru "github.com/hashicorp/golang-lru/v2"

	pr "github.com/unkn0wn-root/lockstore/provider"
)

type Provider struct {
	c *hlru.Cache[string, []byte]
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	// Capacity is the maximum number of entries.
	Capacity int
	// OnEvict is called whenever an entry leaves the cache, including
	// capacity-pressure eviction, explicit Del and Close. Optional.
	OnEvict func(key string)
}

func New(cfg Config) (*Provider, error) {
	if cfg.Capacity <= 0 {
		return nil, errors.New("lru: capacity must be positive")
	}
	var onEvict func(string, []byte)
	if cfg.OnEvict != nil {
		f := cfg.OnEvict
		onEvict = func(k string, _ []byte) { f(k) }
	}
	c, err := hlru.NewWithEvict[string, []byte](cfg.Capacity, onEvict)
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v, true, nil
}

// Set ignores cost and ttl: capacity is entry-count based and entry
// freshness is validated by the decorator's wire envelope on read.
func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.c.Add(key, value)
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Remove(key)
	return nil
}

func (p *Provider) Close(context.Context) error {
	p.c.Purge()
	return nil
}
