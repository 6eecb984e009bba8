package dumps

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wdatafacility/wdf/schema"
	"github.com/wdatafacility/wdf/store"
)

func testRepository(t *testing.T) (*Repository, *store.Store) {
	var ctx = context.Background()
	var st, err = store.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))
	return NewRepository(st), st
}

func count(t *testing.T, st *store.Store, table string) int {
	var n int
	require.NoError(t, st.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func addSku(t *testing.T, st *store.Store, article string, createdAt time.Time) uuid.UUID {
	var sku = &schema.Sku{
		ID:            uuid.New(),
		MarketplaceID: uuid.New(),
		Article:       article,
		Title:         "Коврик",
		URL:           "https://example.com/catalog/" + article + "/detail.aspx",
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	require.NoError(t, st.InsertRow(context.Background(), sku))
	return sku.ID
}

func addVersion(t *testing.T, st *store.Store, dumpID, skuID uuid.UUID) uuid.UUID {
	var now = time.Now().UTC()
	var v = &schema.Version{ID: uuid.New(), DumpID: dumpID, SkuID: skuID, CrawledAt: now, CreatedAt: now}
	require.NoError(t, st.InsertRow(context.Background(), v))

	require.NoError(t, st.InsertRow(context.Background(), &schema.Price{
		ID: uuid.New(), SkuID: skuID, VersionID: v.ID, Price: 800, CreatedAt: now}))
	require.NoError(t, st.InsertRow(context.Background(), &schema.Reviews{
		ID: uuid.New(), SkuID: skuID, VersionID: v.ID, Reviews: 19, CreatedAt: now}))
	return v.ID
}

func TestGetOrCreate(t *testing.T) {
	var repo, _ = testRepository(t)
	var ctx = context.Background()

	d, created, err := repo.GetOrCreate(ctx, "wb", "123/1/1")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, StateCreated, d.State)
	require.True(t, d.NeedsStats())

	again, created, err := repo.GetOrCreate(ctx, "wb", "123/1/1")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, d.ID, again.ID)

	other, created, err := repo.GetOrCreate(ctx, "wb", "123/1/2")
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, d.ID, other.ID)
}

func TestSetStateAndStats(t *testing.T) {
	var repo, _ = testRepository(t)
	var ctx = context.Background()

	d, _, err := repo.GetOrCreate(ctx, "wb", "123/1/1")
	require.NoError(t, err)

	require.NoError(t, repo.SetState(ctx, d, StatePreparing))
	require.Equal(t, StatePreparing, d.State)

	var startedAt = time.Date(2020, 8, 10, 17, 0, 0, 0, time.UTC)
	var endedAt = startedAt.Add(time.Hour)
	require.NoError(t, repo.SetStats(ctx, d, startedAt, endedAt, 26))
	require.False(t, d.NeedsStats())

	reloaded, err := repo.Get(ctx, "wb", "123/1/1")
	require.NoError(t, err)
	require.Equal(t, StatePreparing, reloaded.State)
	require.Equal(t, 26, *reloaded.ItemsCrawled)
	require.True(t, startedAt.Equal(*reloaded.CrawlStartedAt))
	require.True(t, endedAt.Equal(*reloaded.CrawlEndedAt))
}

func TestStateOrdering(t *testing.T) {
	var ordered = []State{StateError, StateCreated, StatePreparing, StatePrepared,
		StateScheduling, StateScheduled, StateProcessing, StateProcessed}
	for i := 1; i != len(ordered); i++ {
		require.Less(t, int(ordered[i-1]), int(ordered[i]))
	}
	require.Equal(t, "prepared", StatePrepared.String())
	require.Equal(t, -1, int(StateError))
	require.Equal(t, 30, int(StateProcessed))
}

func TestVersionCountAndPrune(t *testing.T) {
	var repo, st = testRepository(t)
	var ctx = context.Background()

	d, _, err := repo.GetOrCreate(ctx, "wb", "123/1/1")
	require.NoError(t, err)

	var skuID = addSku(t, st, "11743005", time.Now().UTC())
	addVersion(t, st, d.ID, skuID)
	addVersion(t, st, d.ID, skuID)

	n, err := repo.VersionCount(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, repo.Prune(ctx, d))

	require.Equal(t, 0, count(t, st, "wdf_version"))
	require.Equal(t, 0, count(t, st, "wdf_price"))
	require.Equal(t, 0, count(t, st, "wdf_reviews"))
	require.Equal(t, 0, count(t, st, "wdf_dump"))
	// Dictionaries and SKUs survive a prune.
	require.Equal(t, 1, count(t, st, "wdf_sku"))
}

func TestListUnfinished(t *testing.T) {
	var repo, st = testRepository(t)
	var ctx = context.Background()

	done, _, err := repo.GetOrCreate(ctx, "wb", "123/1/1")
	require.NoError(t, err)
	require.NoError(t, repo.SetStats(ctx, done, time.Now().UTC(), time.Now().UTC(), 1))
	require.NoError(t, repo.SetState(ctx, done, StateProcessed))

	stuck, _, err := repo.GetOrCreate(ctx, "wb", "123/1/2")
	require.NoError(t, err)
	require.NoError(t, repo.SetStats(ctx, stuck, time.Now().UTC(), time.Now().UTC(), 3))
	require.NoError(t, repo.SetState(ctx, stuck, StateProcessing))

	var skuID = addSku(t, st, "11743005", time.Now().UTC())
	addVersion(t, st, stuck.ID, skuID)

	unfinished, err := repo.ListUnfinished(ctx, "")
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	require.Equal(t, "123/1/2", unfinished[0].Dump.Job)
	require.Equal(t, 1, unfinished[0].Versions)
	require.Equal(t, 2, unfinished[0].Diff)

	// Filtering by job ignores the state guard.
	byJob, err := repo.ListUnfinished(ctx, "123/1/1")
	require.NoError(t, err)
	require.Len(t, byJob, 1)
	require.Equal(t, StateProcessed, byJob[0].Dump.State)
}

func TestDuplicateArticles(t *testing.T) {
	var repo, st = testRepository(t)
	var ctx = context.Background()
	var now = time.Now().UTC()

	addSku(t, st, "11743005", now)
	addSku(t, st, "11743005", now.Add(time.Minute))
	addSku(t, st, "12381016", now)

	dupes, err := repo.DuplicateArticles(ctx, 10, 0, false)
	require.NoError(t, err)
	require.Equal(t, []string{"11743005"}, dupes)

	all, err := repo.DuplicateArticles(ctx, 10, 0, true)
	require.NoError(t, err)
	require.Len(t, all, 2)

	paged, err := repo.DuplicateArticles(ctx, 1, 1, true)
	require.NoError(t, err)
	require.Len(t, paged, 1)
}

func TestMergeDuplicates(t *testing.T) {
	var repo, st = testRepository(t)
	var ctx = context.Background()
	var now = time.Now().UTC()

	d, _, err := repo.GetOrCreate(ctx, "wb", "123/1/1")
	require.NoError(t, err)

	var oldest = addSku(t, st, "11743005", now.Add(-time.Hour))
	var younger = addSku(t, st, "11743005", now)
	var youngest = addSku(t, st, "11743005", now.Add(time.Minute))
	var other = addSku(t, st, "12381016", now)

	addVersion(t, st, d.ID, oldest)
	addVersion(t, st, d.ID, younger)
	addVersion(t, st, d.ID, youngest)
	addVersion(t, st, d.ID, other)

	require.NoError(t, repo.MergeDuplicates(ctx, "11743005"))

	require.Equal(t, 3, count(t, st, "wdf_sku"), "the two younger duplicates are deleted")

	var remaining int
	require.NoError(t, st.QueryRow(ctx,
		"SELECT COUNT(*) FROM wdf_sku WHERE article = ?", "11743005").Scan(&remaining))
	require.Equal(t, 1, remaining)

	for _, table := range []string{"wdf_version", "wdf_price", "wdf_reviews"} {
		var n int
		require.NoError(t, st.QueryRow(ctx, fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE sku_id = ?", table), oldest.String()).Scan(&n))
		require.Equal(t, 3, n, "%s rows must re-point to the oldest sku", table)
	}

	var untouched int
	require.NoError(t, st.QueryRow(ctx,
		"SELECT COUNT(*) FROM wdf_version WHERE sku_id = ?", other.String()).Scan(&untouched))
	require.Equal(t, 1, untouched)

	// Merging an article with no duplicates is a no-op.
	require.NoError(t, repo.MergeDuplicates(ctx, "12381016"))
	require.NoError(t, repo.MergeDuplicates(ctx, "99999999"))
	require.Equal(t, 3, count(t, st, "wdf_sku"))
}
