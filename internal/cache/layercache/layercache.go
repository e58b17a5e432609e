// Package layercache memoizes capability layer lookups per dataset. Lookups hit an in-process
// LRU first and an optional Redis tier second. Failed or empty lookups are never stored so a
// service that was down is asked again next time.
package layercache

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/geodata-retrieval/internal/cache"
	"github.com/mohammed-shakir/geodata-retrieval/internal/cache/keys"
	"github.com/mohammed-shakir/geodata-retrieval/internal/capabilities"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/model"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/observability"
	"github.com/mohammed-shakir/geodata-retrieval/internal/logger"
)

const (
	DefaultSize = 256
	DefaultTTL  = time.Hour
)

type Lister interface {
	ListLayers(ctx context.Context, serviceURL string, t model.ServiceType) capabilities.Layers
}

type Cache struct {
	lister Lister
	local  *expirable.LRU[string, []string]
	remote cache.Remote
	ttl    time.Duration
	logger *slog.Logger
}

// New wraps lister. remote may be nil to keep the memo in process only.
func New(lister Lister, remote cache.Remote, size int, ttl time.Duration, logger *slog.Logger) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		lister: lister,
		local:  expirable.NewLRU[string, []string](size, nil, ttl),
		remote: remote,
		ttl:    ttl,
		logger: logger,
	}
}

// LayersByDataset maps every dataset name to its layer names. Datasets missing from both
// tiers are resolved one after another; remote hits are fetched in one round trip.
func (c *Cache) LayersByDataset(ctx context.Context, datasets []model.Dataset) map[string][]string {
	out := make(map[string][]string, len(datasets))
	var misses []model.Dataset

	for _, ds := range datasets {
		if v, ok := c.local.Get(keys.Capabilities(ds.Type, ds.URL)); ok {
			observability.IncLayerCache("local", "hit")
			out[ds.Name] = slices.Clone(v)
			continue
		}
		observability.IncLayerCache("local", "miss")
		misses = append(misses, ds)
	}

	misses = c.fromRemote(ctx, misses, out)

	for _, ds := range misses {
		dctx := logger.WithDataset(ctx, ds.Name)
		res := c.lister.ListLayers(dctx, ds.URL, ds.Type)
		out[ds.Name] = res.Names
		if res.Err != nil || len(res.Names) == 0 {
			continue
		}
		c.store(dctx, keys.Capabilities(ds.Type, ds.URL), res.Names)
	}
	return out
}

// fromRemote fills out from Redis and returns the datasets still unresolved
func (c *Cache) fromRemote(ctx context.Context, misses []model.Dataset, out map[string][]string) []model.Dataset {
	if c.remote == nil || len(misses) == 0 {
		return misses
	}
	ks := make([]string, len(misses))
	for i, ds := range misses {
		ks[i] = keys.Capabilities(ds.Type, ds.URL)
	}
	found, err := c.remote.MGet(ctx, ks)
	if err != nil {
		observability.IncLayerCache("redis", "error")
		c.logger.WarnContext(ctx, "layer cache redis read failed", "err", err)
		return misses
	}

	rest := misses[:0:0]
	for i, ds := range misses {
		var names []string
		if b, ok := found[ks[i]]; ok && json.Unmarshal(b, &names) == nil && len(names) > 0 {
			observability.IncLayerCache("redis", "hit")
			c.local.Add(ks[i], names)
			out[ds.Name] = slices.Clone(names)
			continue
		}
		observability.IncLayerCache("redis", "miss")
		rest = append(rest, ds)
	}
	return rest
}

func (c *Cache) store(ctx context.Context, key string, names []string) {
	c.local.Add(key, slices.Clone(names))
	if c.remote == nil {
		return
	}
	b, err := json.Marshal(names)
	if err != nil {
		return
	}
	if err := c.remote.Set(ctx, key, b, c.ttl); err != nil {
		observability.IncLayerCache("redis", "error")
		c.logger.WarnContext(ctx, "layer cache redis write failed", "key", key, "err", err)
	}
}
