// Package indexer runs the chunked ingestion pipeline: it pulls crawler
// items chunk by chunk, resolves their dictionary keys, and persists one
// Version plus fact rows per item through the bulk loader.
package indexer

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/wdatafacility/wdf/bulkload"
	"github.com/wdatafacility/wdf/dumps"
	"github.com/wdatafacility/wdf/resolver"
	"github.com/wdatafacility/wdf/schema"
	"github.com/wdatafacility/wdf/source"
	"github.com/wdatafacility/wdf/store"
)

// ItemSource feeds the pipeline with crawler items and job metadata.
// *source.Client implements it; tests substitute in-memory iterators.
type ItemSource interface {
	Metadata(ctx context.Context, job string) (source.JobMetadata, error)
	Items(job string, start, count, chunkSize int) source.ItemIterator
}

// Config parameterizes one Indexer.
type Config struct {
	// Crawler is the crawler slug; it scopes the dump and names the
	// marketplace dictionary row.
	Crawler string
	// GetChunkSize bounds one fetch from the item source.
	GetChunkSize int
	// SaveChunkSize bounds one loader flush slice.
	SaveChunkSize int
	// CopySafe allow-lists wide-text tables on the fast bulk path.
	CopySafe []string
	// RetainCache, when positive, keeps that many resolved ids per kind
	// across chunks.
	RetainCache int
}

// Validate inspects the Config.
func (c Config) Validate() error {
	if c.Crawler == "" {
		return fmt.Errorf("missing crawler slug")
	}
	if c.GetChunkSize <= 0 {
		return fmt.Errorf("get chunk size must be positive (got %d)", c.GetChunkSize)
	}
	if c.SaveChunkSize <= 0 {
		return fmt.Errorf("save chunk size must be positive (got %d)", c.SaveChunkSize)
	}
	return nil
}

// Indexer drives the prepare / import / wrap / prune lifecycle of one dump.
// It is not safe for concurrent use; parallel import windows each build
// their own Indexer over their own Store.
type Indexer struct {
	cfg    Config
	store  *store.Store
	src    ItemSource
	repo   *dumps.Repository
	dump   *dumps.Dump
	res    *resolver.Resolver
	loader *bulkload.Loader

	marketplace uuid.UUID
}

// New binds an Indexer to the (crawler, job) dump, creating the dump and
// the marketplace dictionary row on first touch and filling the dump's
// crawl statistics from job metadata when they are still missing.
func New(ctx context.Context, cfg Config, st *store.Store, src ItemSource, job string) (*Indexer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	marketplace, err := getOrCreateMarketplace(ctx, st, cfg.Crawler)
	if err != nil {
		return nil, err
	}

	var repo = dumps.NewRepository(st)
	dump, created, err := repo.GetOrCreate(ctx, cfg.Crawler, job)
	if err != nil {
		return nil, err
	}
	if created || dump.NeedsStats() {
		meta, err := src.Metadata(ctx, job)
		if err != nil {
			return nil, fmt.Errorf("loading job %s metadata: %w", job, err)
		}
		if err = repo.SetStats(ctx, dump, meta.StartedAt(), meta.EndedAt(), meta.ScrapyStats.ItemScrapedCount); err != nil {
			return nil, err
		}
	}

	var options []resolver.Option
	if cfg.RetainCache > 0 {
		options = append(options, resolver.WithRetainedCache(cfg.RetainCache))
	}

	return &Indexer{
		cfg:         cfg,
		store:       st,
		src:         src,
		repo:        repo,
		dump:        dump,
		res:         resolver.New(st, marketplace, options...),
		loader:      bulkload.New(st, cfg.SaveChunkSize, cfg.CopySafe...),
		marketplace: marketplace,
	}, nil
}

func getOrCreateMarketplace(ctx context.Context, st *store.Store, slug string) (uuid.UUID, error) {
	found, err := st.Lookup(ctx, schema.DictMarketplaceTable, "slug", []string{slug})
	if err != nil {
		return uuid.Nil, err
	}
	if id, ok := found[slug]; ok {
		return id, nil
	}

	var row = &schema.DictMarketplace{
		ID:        uuid.New(),
		Name:      slug,
		Slug:      slug,
		URL:       "",
		CreatedAt: time.Now().UTC(),
	}
	if err = st.InsertRow(ctx, row); err != nil {
		// A parallel indexer may have won the slug race.
		if found, lookupErr := st.Lookup(ctx, schema.DictMarketplaceTable, "slug", []string{slug}); lookupErr == nil {
			if id, ok := found[slug]; ok {
				return id, nil
			}
		}
		return uuid.Nil, fmt.Errorf("creating marketplace %s: %w", slug, err)
	}
	return row.ID, nil
}

// Dump returns the dump record this Indexer is bound to.
func (ix *Indexer) Dump() *dumps.Dump { return ix.dump }

// Advance moves the dump to the given state.
func (ix *Indexer) Advance(ctx context.Context, s dumps.State) error {
	return ix.repo.SetState(ctx, ix.dump, s)
}

// PrepareDump resolves every dictionary key and SKU of the job without
// writing versions, then marks the dump PREPARED. A dump that is already
// preparing or prepared is left alone; a dump past PREPARED is too late.
func (ix *Indexer) PrepareDump(ctx context.Context, start, count int) error {
	if ix.dump.State > dumps.StatePrepared {
		return &dumps.TooLateError{Job: ix.dump.Job, State: ix.dump.State}
	}
	if ix.dump.State > dumps.StateCreated {
		log.WithFields(log.Fields{
			"job":   ix.dump.Job,
			"state": ix.dump.State,
		}).Info("dump already prepared, skipping prepare step")
		return nil
	}

	if err := ix.repo.SetState(ctx, ix.dump, dumps.StatePreparing); err != nil {
		return err
	}
	if err := ix.processBatch(ctx, start, count, false); err != nil {
		return err
	}
	return ix.repo.SetState(ctx, ix.dump, dumps.StatePrepared)
}

// ImportDump writes the versions and facts of items[start, start+count)
// inside one transactional bracket. A dump past PROCESSING is too late.
func (ix *Indexer) ImportDump(ctx context.Context, start, count int) error {
	if ix.dump.State > dumps.StateProcessing {
		return &dumps.TooLateError{Job: ix.dump.Job, State: ix.dump.State}
	}

	if err := ix.repo.SetState(ctx, ix.dump, dumps.StateProcessing); err != nil {
		return err
	}
	if err := ix.store.Begin(ctx); err != nil {
		return err
	}
	if err := ix.processBatch(ctx, start, count, true); err != nil {
		_ = ix.store.Rollback()
		return err
	}
	return ix.store.Commit()
}

// WrapDump is the terminal consistency check: the dump's version count must
// equal the crawl's item count, else the dump is corrupted.
func (ix *Indexer) WrapDump(ctx context.Context) error {
	if ix.dump.ItemsCrawled == nil {
		return fmt.Errorf("dump %s has no crawl statistics", ix.dump.Job)
	}
	versions, err := ix.repo.VersionCount(ctx, ix.dump.ID)
	if err != nil {
		return err
	}
	if versions != *ix.dump.ItemsCrawled {
		return &dumps.CorruptedError{Job: ix.dump.Job, Versions: versions, ItemsCrawled: *ix.dump.ItemsCrawled}
	}
	return ix.repo.SetState(ctx, ix.dump, dumps.StateProcessed)
}

// PruneDump discards the dump's versions and facts so the job can be
// re-imported from scratch.
func (ix *Indexer) PruneDump(ctx context.Context) error {
	return ix.repo.Prune(ctx, ix.dump)
}

func (ix *Indexer) processBatch(ctx context.Context, start, count int, saveVersions bool) error {
	var it = ix.src.Items(ix.dump.Job, start, count, ix.cfg.GetChunkSize)
	var overallStarted = time.Now()
	var chunkNo, itemsCount = 1, 0
	var action = "prepared"
	if saveVersions {
		action = "saved"
	}

	for {
		// Cancellation lands on chunk boundaries so a committed chunk is
		// never half-written.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		chunk, err := it.Next(ctx)
		if err != nil {
			return fmt.Errorf("fetching chunk %d of job %s: %w", chunkNo, ix.dump.Job, err)
		}
		if chunk == nil {
			break
		}

		var chunkLog = log.WithFields(log.Fields{
			"job":   ix.dump.Job,
			"chunk": chunkNo,
		})
		ix.loader.Log = chunkLog

		var started = time.Now()
		if err = ix.processChunk(ctx, chunk, saveVersions); err != nil {
			return fmt.Errorf("processing chunk %d of job %s: %w", chunkNo, ix.dump.Job, err)
		}
		itemsCount += len(chunk)

		var elapsed = time.Since(started)
		chunkDurationSeconds.Observe(elapsed.Seconds())
		itemsTotal.WithLabelValues(action).Add(float64(len(chunk)))
		var rss = maxRSSMegabytes()
		maxRSSMegabytesGauge.Set(rss)

		chunkLog.WithFields(log.Fields{
			"action":   action,
			"items":    len(chunk),
			"elapsed":  elapsed.String(),
			"itemsMin": int(math.Round(float64(len(chunk)) / elapsed.Seconds() * 60)),
			"rssMB":    fmt.Sprintf("%.2f", rss),
		}).Info("chunk processed")

		chunkNo++
	}

	var overallElapsed = time.Since(overallStarted)
	var rate = 0
	if overallElapsed > 0 {
		rate = int(math.Round(float64(itemsCount) / overallElapsed.Seconds() * 60))
	}
	log.WithFields(log.Fields{
		"job":      ix.dump.Job,
		"items":    itemsCount,
		"elapsed":  overallElapsed.String(),
		"itemsMin": rate,
	}).Info("batch processed")
	return nil
}

func (ix *Indexer) processChunk(ctx context.Context, chunk []source.Item, saveVersions bool) error {
	ix.res.Clear()

	// Collect phase: every natural key of the chunk, keyed for one lookup.
	var articles = make([]string, len(chunk))
	for i := range chunk {
		article, err := ix.collect(&chunk[i])
		if err != nil {
			return err
		}
		articles[i] = article
	}

	if err := ix.res.Resolve(ctx, ix.loader); err != nil {
		return err
	}

	if saveVersions {
		for i := range chunk {
			if err := ix.saveItem(&chunk[i], articles[i]); err != nil {
				return err
			}
		}
	}

	return ix.loader.Done(ctx)
}

// collect registers the item's natural keys with the resolver and returns
// the guessed article the item's rows will be keyed by.
func (ix *Indexer) collect(item *source.Item) (string, error) {
	article, err := GuessArticle(item)
	if err != nil {
		return "", err
	}

	if item.CategoryURL != nil {
		var name = item.CategoryName
		if name == nil {
			name = item.CategoryURL
		}
		ix.res.CollectCatalog(*item.CategoryURL, name, 1)
	}
	if item.BrandURL != nil {
		ix.res.CollectBrand(*item.BrandURL, item.BrandName)
	}
	for name := range item.Features {
		ix.res.CollectParameter(name)
	}
	ix.res.CollectSku(article, truncateTitle(item.ProductName), item.ProductURL, item.BrandURL)
	return article, nil
}

func (ix *Indexer) saveItem(item *source.Item, article string) error {
	skuID, ok := ix.res.ID(resolver.KindSku, article)
	if !ok {
		return fmt.Errorf("sku %s was not resolved", article)
	}
	crawledAt, err := parseDate(item.ParseDate)
	if err != nil {
		return fmt.Errorf("parsing item date %q: %w", item.ParseDate, err)
	}
	var now = time.Now().UTC()

	var version = &schema.Version{
		ID:        uuid.New(),
		DumpID:    ix.dump.ID,
		SkuID:     skuID,
		CrawledAt: crawledAt,
		CreatedAt: now,
	}
	ix.loader.Add(version)

	if item.Price != nil {
		ix.loader.Add(&schema.Price{
			ID: uuid.New(), SkuID: skuID, VersionID: version.ID,
			Price: *item.Price, CreatedAt: now,
		})
	}
	if item.Rating != nil {
		ix.loader.Add(&schema.Rating{
			ID: uuid.New(), SkuID: skuID, VersionID: version.ID,
			Rating: item.Rating, CreatedAt: now,
		})
	}
	if item.PurchasesCount != nil {
		ix.loader.Add(&schema.Sales{
			ID: uuid.New(), SkuID: skuID, VersionID: version.ID,
			Sales: *item.PurchasesCount, CreatedAt: now,
		})
	}
	if item.ReviewsCount != nil {
		ix.loader.Add(&schema.Reviews{
			ID: uuid.New(), SkuID: skuID, VersionID: version.ID,
			Reviews: *item.ReviewsCount, CreatedAt: now,
		})
	}
	if item.CategoryPosition != nil && item.CategoryURL != nil {
		catalogID, ok := ix.res.ID(resolver.KindCatalog, *item.CategoryURL)
		if !ok {
			return fmt.Errorf("catalog %s was not resolved", *item.CategoryURL)
		}
		ix.loader.Add(&schema.Position{
			ID: uuid.New(), SkuID: skuID, VersionID: version.ID,
			CatalogID: catalogID, Absolute: *item.CategoryPosition, CreatedAt: now,
		})
	}
	for name, value := range item.Features {
		parameterID, ok := ix.res.ID(resolver.KindParameter, name)
		if !ok {
			return fmt.Errorf("parameter %s was not resolved", name)
		}
		ix.loader.Add(&schema.Parameter{
			ID: uuid.New(), SkuID: skuID, VersionID: version.ID,
			ParameterID: parameterID, Value: value, CreatedAt: now,
		})
	}
	return nil
}

var articleRe = regexp.MustCompile(`/catalog/(\d{1,20})/detail\.aspx`)

// GuessArticle returns the stable article a SKU is keyed by: the crawler's
// item id, unless it overflows the column, in which case the article is
// extracted from the product url.
func GuessArticle(item *source.Item) (string, error) {
	if item.WbID == "" {
		return "", fmt.Errorf("item %s has no id", item.ProductURL)
	}
	if len(item.WbID) <= schema.ArticleMaxLength {
		return item.WbID, nil
	}
	var m = articleRe.FindStringSubmatch(item.ProductURL)
	if m == nil {
		return "", fmt.Errorf("cannot guess article for item %s: id %q overflows and url has no article", item.ProductURL, item.WbID)
	}
	return m[1], nil
}

// truncateTitle clips an overlong product name to fit the title column.
func truncateTitle(title string) string {
	var runes = []rune(title)
	if len(runes) <= schema.TitleMaxLength {
		return title
	}
	return string(runes[:schema.TitleMaxLength-1])
}

var dateLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}
