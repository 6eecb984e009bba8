package dumps

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/wdatafacility/wdf/schema"
	"github.com/wdatafacility/wdf/store"
)

// Repository persists Dump records and runs the maintenance SQL.
type Repository struct {
	store *store.Store
}

// NewRepository returns a Repository over the given store.
func NewRepository(st *store.Store) *Repository {
	return &Repository{store: st}
}

const dumpColumns = "id, crawler, job, state, state_code, items_crawled, crawl_started_at, crawl_ended_at, created_at"

func scanDump(scan func(dest ...interface{}) error) (*Dump, error) {
	var d Dump
	var rawID, state string
	var stateCode int
	var items sql.NullInt64
	var startedAt, endedAt sql.NullTime

	if err := scan(&rawID, &d.Crawler, &d.Job, &state, &stateCode, &items, &startedAt, &endedAt, &d.CreatedAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parsing dump id: %w", err)
	}
	d.ID = id
	d.State = State(stateCode)
	if items.Valid {
		var n = int(items.Int64)
		d.ItemsCrawled = &n
	}
	if startedAt.Valid {
		var t = startedAt.Time
		d.CrawlStartedAt = &t
	}
	if endedAt.Valid {
		var t = endedAt.Time
		d.CrawlEndedAt = &t
	}
	return &d, nil
}

// Get loads the dump for (crawler, job), or nil if none exists.
func (r *Repository) Get(ctx context.Context, crawler, job string) (*Dump, error) {
	var row = r.store.QueryRow(ctx,
		"SELECT "+dumpColumns+" FROM wdf_dump WHERE crawler = ? AND job = ?", crawler, job)
	var d, err = scanDump(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("loading dump %s/%s: %w", crawler, job, err)
	}
	return d, nil
}

// GetOrCreate loads the dump for (crawler, job), creating it in CREATED
// state on first touch. The second return reports whether it was created.
func (r *Repository) GetOrCreate(ctx context.Context, crawler, job string) (*Dump, bool, error) {
	d, err := r.Get(ctx, crawler, job)
	if err != nil || d != nil {
		return d, false, err
	}

	d = &Dump{
		ID:        uuid.New(),
		Crawler:   crawler,
		Job:       job,
		State:     StateCreated,
		CreatedAt: time.Now().UTC(),
	}
	_, err = r.store.Exec(ctx,
		"INSERT INTO wdf_dump (id, crawler, job, state, state_code, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		d.ID.String(), d.Crawler, d.Job, d.State.String(), int(d.State), d.CreatedAt)
	if err != nil {
		// A parallel invocation may have won the (crawler, job) race.
		if existing, getErr := r.Get(ctx, crawler, job); getErr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("creating dump %s/%s: %w", crawler, job, err)
	}
	return d, true, nil
}

// SetState advances the dump's state.
func (r *Repository) SetState(ctx context.Context, d *Dump, s State) error {
	if _, err := r.store.Exec(ctx,
		"UPDATE wdf_dump SET state = ?, state_code = ? WHERE id = ?",
		s.String(), int(s), d.ID.String()); err != nil {
		return fmt.Errorf("setting dump %s state to %s: %w", d.Job, s, err)
	}
	d.State = s
	return nil
}

// SetStats fills the crawl statistics.
func (r *Repository) SetStats(ctx context.Context, d *Dump, startedAt, endedAt time.Time, itemsCrawled int) error {
	if _, err := r.store.Exec(ctx,
		"UPDATE wdf_dump SET crawl_started_at = ?, crawl_ended_at = ?, items_crawled = ? WHERE id = ?",
		startedAt, endedAt, itemsCrawled, d.ID.String()); err != nil {
		return fmt.Errorf("setting dump %s stats: %w", d.Job, err)
	}
	d.CrawlStartedAt = &startedAt
	d.CrawlEndedAt = &endedAt
	d.ItemsCrawled = &itemsCrawled
	return nil
}

// VersionCount counts the versions attached to the dump.
func (r *Repository) VersionCount(ctx context.Context, dumpID uuid.UUID) (int, error) {
	var n int
	var err = r.store.QueryRow(ctx,
		"SELECT COUNT(*) FROM wdf_version WHERE dump_id = ?", dumpID.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting versions: %w", err)
	}
	return n, nil
}

// Prune deletes the dump's fact rows, then its versions, then the dump
// itself, in one transaction. Dictionary rows and SKUs survive.
func (r *Repository) Prune(ctx context.Context, d *Dump) error {
	if err := r.store.Begin(ctx); err != nil {
		return err
	}

	var deleted int64
	for _, table := range schema.FactTables() {
		n, err := r.store.Exec(ctx, fmt.Sprintf(
			"DELETE FROM %s WHERE version_id IN (SELECT id FROM wdf_version WHERE dump_id = ?)",
			table.Name), d.ID.String())
		if err != nil {
			_ = r.store.Rollback()
			return fmt.Errorf("pruning %s: %w", table.Name, err)
		}
		deleted += n
	}

	versions, err := r.store.Exec(ctx, "DELETE FROM wdf_version WHERE dump_id = ?", d.ID.String())
	if err != nil {
		_ = r.store.Rollback()
		return fmt.Errorf("pruning versions: %w", err)
	}
	if _, err = r.store.Exec(ctx, "DELETE FROM wdf_dump WHERE id = ?", d.ID.String()); err != nil {
		_ = r.store.Rollback()
		return fmt.Errorf("pruning dump: %w", err)
	}
	if err = r.store.Commit(); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"job":      d.Job,
		"facts":    deleted,
		"versions": versions,
	}).Info("dump pruned")
	return nil
}

// Unfinished describes a dump that has not reached PROCESSED, with the gap
// between its crawl item count and its persisted versions.
type Unfinished struct {
	Dump     *Dump
	Versions int
	Diff     int
}

// ListUnfinished returns dumps below PROCESSED, or the dumps of one job
// when job is non-empty.
func (r *Repository) ListUnfinished(ctx context.Context, job string) ([]Unfinished, error) {
	var query = "SELECT " + dumpColumns +
		", (SELECT COUNT(*) FROM wdf_version v WHERE v.dump_id = wdf_dump.id)" +
		" FROM wdf_dump WHERE state_code < ? ORDER BY created_at"
	var args = []interface{}{int(StateProcessed)}
	if job != "" {
		query = "SELECT " + dumpColumns +
			", (SELECT COUNT(*) FROM wdf_version v WHERE v.dump_id = wdf_dump.id)" +
			" FROM wdf_dump WHERE job = ? ORDER BY created_at"
		args = []interface{}{job}
	}

	rows, err := r.store.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing unfinished dumps: %w", err)
	}
	defer rows.Close()

	var out []Unfinished
	for rows.Next() {
		var d Dump
		var rawID, state string
		var stateCode, versions int
		var items sql.NullInt64
		var startedAt, endedAt sql.NullTime
		if err = rows.Scan(&rawID, &d.Crawler, &d.Job, &state, &stateCode, &items,
			&startedAt, &endedAt, &d.CreatedAt, &versions); err != nil {
			return nil, fmt.Errorf("scanning unfinished dump: %w", err)
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("parsing dump id: %w", err)
		}
		d.ID = id
		d.State = State(stateCode)
		var diff = 0
		if items.Valid {
			var n = int(items.Int64)
			d.ItemsCrawled = &n
			diff = n - versions
		}
		if startedAt.Valid {
			var t = startedAt.Time
			d.CrawlStartedAt = &t
		}
		if endedAt.Valid {
			var t = endedAt.Time
			d.CrawlEndedAt = &t
		}
		out = append(out, Unfinished{Dump: &d, Versions: versions, Diff: diff})
	}
	return out, rows.Err()
}

// DuplicateArticles pages through SKU articles. With all=false only
// articles shared by more than one SKU are returned.
func (r *Repository) DuplicateArticles(ctx context.Context, limit, offset int, all bool) ([]string, error) {
	var query = "SELECT article FROM wdf_sku GROUP BY article HAVING COUNT(id) > 1 LIMIT ? OFFSET ?"
	if all {
		query = "SELECT DISTINCT article FROM wdf_sku LIMIT ? OFFSET ?"
	}
	rows, err := r.store.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing duplicate articles: %w", err)
	}
	defer rows.Close()

	var articles []string
	for rows.Next() {
		var a string
		if err = rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scanning article: %w", err)
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// MergeDuplicates consolidates every SKU sharing the article onto the
// oldest one: versions and all fact tables are re-pointed, the younger
// SKUs deleted, all in one transaction so concurrent readers never observe
// dangling facts.
func (r *Repository) MergeDuplicates(ctx context.Context, article string) error {
	if err := r.store.Begin(ctx); err != nil {
		return err
	}

	var winner string
	var err = r.store.QueryRow(ctx,
		"SELECT id FROM wdf_sku WHERE article = ? ORDER BY created_at ASC, id ASC LIMIT 1",
		article).Scan(&winner)
	if err == sql.ErrNoRows {
		return r.store.Commit()
	} else if err != nil {
		_ = r.store.Rollback()
		return fmt.Errorf("selecting oldest sku for article %s: %w", article, err)
	}

	var tables = append([]*schema.Table{schema.VersionTable}, schema.FactTables()...)
	var moved int64
	for _, table := range tables {
		n, err := r.store.Exec(ctx, fmt.Sprintf(
			"UPDATE %s SET sku_id = ? WHERE sku_id IN (SELECT id FROM wdf_sku WHERE article = ? AND id <> ?)",
			table.Name), winner, article, winner)
		if err != nil {
			_ = r.store.Rollback()
			return fmt.Errorf("re-pointing %s for article %s: %w", table.Name, article, err)
		}
		moved += n
	}

	losers, err := r.store.Exec(ctx,
		"DELETE FROM wdf_sku WHERE article = ? AND id <> ?", article, winner)
	if err != nil {
		_ = r.store.Rollback()
		return fmt.Errorf("deleting duplicate skus for article %s: %w", article, err)
	}
	if err = r.store.Commit(); err != nil {
		return err
	}

	if losers > 0 {
		log.WithFields(log.Fields{
			"article": article,
			"winner":  winner,
			"merged":  losers,
			"moved":   moved,
		}).Info("sku duplicates merged")
	}
	return nil
}
