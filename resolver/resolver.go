// Package resolver maps the natural keys observed in crawler items
// (catalog urls, brand urls, parameter names, SKU articles) onto row ids,
// retrieving known rows from the store and queueing builders for the rest
// on the bulk loader. Within one chunk every key is looked up at most once.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wdatafacility/wdf/bulkload"
	"github.com/wdatafacility/wdf/schema"
	"github.com/wdatafacility/wdf/store"
)

// Kind enumerates the resolvable entity kinds, in resolution order.
// Brands resolve before SKUs so a SKU builder can reference its brand id.
type Kind int

const (
	KindCatalog Kind = iota
	KindBrand
	KindParameter
	KindSku
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindCatalog:
		return "catalog"
	case KindBrand:
		return "brand"
	case KindParameter:
		return "parameter"
	case KindSku:
		return "sku"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var kindSpecs = [numKinds]struct {
	table     *schema.Table
	keyColumn string
}{
	KindCatalog:   {schema.DictCatalogTable, "url"},
	KindBrand:     {schema.DictBrandTable, "url"},
	KindParameter: {schema.DictParameterTable, "name"},
	KindSku:       {schema.SkuTable, "article"},
}

// collected carries the build inputs gathered alongside a natural key.
type collected struct {
	name     *string
	level    int
	title    string
	url      string
	brandURL *string
}

// Resolver resolves natural keys for one marketplace. It is not safe for
// concurrent use; parallel imports each hold their own Resolver.
type Resolver struct {
	store       *store.Store
	marketplace uuid.UUID

	pending  [numKinds]map[string]*collected
	resolved [numKinds]map[string]uuid.UUID
	retained [numKinds]*lru.Cache[string, uuid.UUID]

	retrievedCount [numKinds]int
	createdCount   [numKinds]int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRetainedCache keeps up to size resolved ids per kind across chunks,
// trading memory for fewer dictionary lookups on large dumps.
func WithRetainedCache(size int) Option {
	return func(r *Resolver) {
		for k := Kind(0); k < numKinds; k++ {
			// Size is fixed and positive, so New cannot fail.
			r.retained[k], _ = lru.New[string, uuid.UUID](size)
		}
	}
}

// New returns a Resolver scoped to the given marketplace.
func New(st *store.Store, marketplace uuid.UUID, options ...Option) *Resolver {
	var r = &Resolver{store: st, marketplace: marketplace}
	for k := Kind(0); k < numKinds; k++ {
		r.pending[k] = make(map[string]*collected)
		r.resolved[k] = make(map[string]uuid.UUID)
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// Clear drops the per-chunk state. The retained cache survives.
func (r *Resolver) Clear() {
	for k := Kind(0); k < numKinds; k++ {
		r.pending[k] = make(map[string]*collected)
		r.resolved[k] = make(map[string]uuid.UUID)
	}
}

func (r *Resolver) collect(kind Kind, key string, c *collected) {
	if key == "" {
		return
	}
	if _, ok := r.pending[kind][key]; !ok {
		r.pending[kind][key] = c
	}
}

// CollectCatalog registers a catalog url for resolution.
func (r *Resolver) CollectCatalog(url string, name *string, level int) {
	r.collect(KindCatalog, url, &collected{name: name, level: level})
}

// CollectBrand registers a brand url for resolution.
func (r *Resolver) CollectBrand(url string, name *string) {
	r.collect(KindBrand, url, &collected{name: name})
}

// CollectParameter registers a parameter name for resolution.
func (r *Resolver) CollectParameter(name string) {
	r.collect(KindParameter, name, &collected{})
}

// CollectSku registers a SKU article for resolution. brandURL may be nil.
func (r *Resolver) CollectSku(article, title, url string, brandURL *string) {
	r.collect(KindSku, article, &collected{title: title, url: url, brandURL: brandURL})
}

// ID returns the resolved id for a key collected before the last Resolve.
func (r *Resolver) ID(kind Kind, key string) (uuid.UUID, bool) {
	var id, ok = r.resolved[kind][key]
	return id, ok
}

// RetrievedCount reports keys satisfied from the store or the retained
// cache since construction.
func (r *Resolver) RetrievedCount(kind Kind) int { return r.retrievedCount[kind] }

// CreatedCount reports rows built and queued since construction.
func (r *Resolver) CreatedCount(kind Kind) int { return r.createdCount[kind] }

// Resolve works through the pending keys kind by kind: known ids come from
// the retained cache or a store lookup, and each remaining key gets a fresh
// row queued on the loader under a generated id. Queued dictionary and SKU
// rows reach the store when the loader flushes, before any fact row that
// references them.
func (r *Resolver) Resolve(ctx context.Context, loader *bulkload.Loader) error {
	for k := Kind(0); k < numKinds; k++ {
		if err := r.resolveKind(ctx, k, loader); err != nil {
			return err
		}
		r.pending[k] = make(map[string]*collected)
	}
	return nil
}

func (r *Resolver) resolveKind(ctx context.Context, kind Kind, loader *bulkload.Loader) error {
	var spec = kindSpecs[kind]

	var missing []string
	for key := range r.pending[kind] {
		if _, ok := r.resolved[kind][key]; ok {
			continue
		}
		if r.retained[kind] != nil {
			if id, ok := r.retained[kind].Get(key); ok {
				r.resolved[kind][key] = id
				r.retrievedCount[kind]++
				continue
			}
		}
		missing = append(missing, key)
	}

	found, err := r.store.Lookup(ctx, spec.table, spec.keyColumn, missing)
	if err != nil {
		return fmt.Errorf("resolving %s keys: %w", kind, err)
	}
	for key, id := range found {
		r.resolved[kind][key] = id
		r.retrievedCount[kind]++
		if r.retained[kind] != nil {
			r.retained[kind].Add(key, id)
		}
	}

	for _, key := range missing {
		if _, ok := r.resolved[kind][key]; ok {
			continue
		}
		var id = uuid.New()
		loader.Add(r.build(kind, key, id, r.pending[kind][key]))
		r.resolved[kind][key] = id
		r.createdCount[kind]++
		if r.retained[kind] != nil {
			r.retained[kind].Add(key, id)
		}
	}
	return nil
}

func (r *Resolver) build(kind Kind, key string, id uuid.UUID, c *collected) schema.Row {
	var now = time.Now().UTC()
	switch kind {
	case KindCatalog:
		var level = c.level
		return &schema.DictCatalog{
			ID:            id,
			MarketplaceID: r.marketplace,
			Name:          c.name,
			URL:           key,
			Level:         &level,
			CreatedAt:     now,
		}
	case KindBrand:
		return &schema.DictBrand{
			ID:            id,
			MarketplaceID: r.marketplace,
			Name:          c.name,
			URL:           key,
			CreatedAt:     now,
		}
	case KindParameter:
		return &schema.DictParameter{
			ID:            id,
			MarketplaceID: r.marketplace,
			Name:          key,
			CreatedAt:     now,
		}
	case KindSku:
		var sku = &schema.Sku{
			ID:            id,
			MarketplaceID: r.marketplace,
			Article:       key,
			Title:         c.title,
			URL:           c.url,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		// Brands resolve before SKUs, so the brand id is already known
		// when the item named one.
		if c.brandURL != nil {
			if brandID, ok := r.resolved[KindBrand][*c.brandURL]; ok {
				var b = brandID
				sku.BrandID = &b
			}
		}
		return sku
	}
	panic(fmt.Sprintf("unknown kind %d", kind))
}
