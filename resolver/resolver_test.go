package resolver

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wdatafacility/wdf/bulkload"
	"github.com/wdatafacility/wdf/store"
)

func testStore(t *testing.T) *store.Store {
	var ctx = context.Background()
	var st, err = store.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))
	return st
}

func count(t *testing.T, st *store.Store, table string) int {
	var n int
	require.NoError(t, st.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func strPtr(s string) *string { return &s }

func collectSample(r *Resolver) {
	r.CollectCatalog("https://example.com/catalog/kovriki", strPtr("Коврики"), 1)
	r.CollectBrand("https://example.com/brands/vita-famoso", strPtr("Vita Famoso"))
	r.CollectBrand("https://example.com/brands/trixie", strPtr("Trixie"))
	r.CollectParameter("Цвет")
	r.CollectParameter("Материал изделия")
	r.CollectSku("11743005", "Коврик", "https://example.com/catalog/11743005/detail.aspx",
		strPtr("https://example.com/brands/vita-famoso"))
	r.CollectSku("12381016", "Лоток", "https://example.com/catalog/12381016/detail.aspx", nil)
}

func TestResolveCreatesMissingRows(t *testing.T) {
	var st = testStore(t)
	var r = New(st, uuid.New())
	var loader = bulkload.New(st, 100)
	var ctx = context.Background()

	collectSample(r)
	require.NoError(t, r.Resolve(ctx, loader))
	require.NoError(t, loader.Done(ctx))

	require.Equal(t, 1, count(t, st, "wdf_dict_catalog"))
	require.Equal(t, 2, count(t, st, "wdf_dict_brand"))
	require.Equal(t, 2, count(t, st, "wdf_dict_parameter"))
	require.Equal(t, 2, count(t, st, "wdf_sku"))

	require.Equal(t, 1, r.CreatedCount(KindCatalog))
	require.Equal(t, 2, r.CreatedCount(KindBrand))
	require.Equal(t, 2, r.CreatedCount(KindParameter))
	require.Equal(t, 2, r.CreatedCount(KindSku))
	require.Equal(t, 0, r.RetrievedCount(KindSku))

	_, ok := r.ID(KindSku, "11743005")
	require.True(t, ok)
}

func TestResolveRetrievesExistingRows(t *testing.T) {
	var st = testStore(t)
	var marketplace = uuid.New()
	var ctx = context.Background()

	var first = New(st, marketplace)
	var loader = bulkload.New(st, 100)
	collectSample(first)
	require.NoError(t, first.Resolve(ctx, loader))
	require.NoError(t, loader.Done(ctx))

	wantSku, _ := first.ID(KindSku, "11743005")

	// A fresh resolver over the same store retrieves, never re-creates.
	var second = New(st, marketplace)
	collectSample(second)
	require.NoError(t, second.Resolve(ctx, loader))
	require.NoError(t, loader.Done(ctx))

	require.Equal(t, 0, second.CreatedCount(KindSku))
	require.Equal(t, 2, second.RetrievedCount(KindSku))
	require.Equal(t, 2, count(t, st, "wdf_sku"))

	gotSku, ok := second.ID(KindSku, "11743005")
	require.True(t, ok)
	require.Equal(t, wantSku, gotSku)
}

func TestResolveWiresBrandIntoSku(t *testing.T) {
	var st = testStore(t)
	var r = New(st, uuid.New())
	var loader = bulkload.New(st, 100)
	var ctx = context.Background()

	collectSample(r)
	require.NoError(t, r.Resolve(ctx, loader))
	require.NoError(t, loader.Done(ctx))

	brandID, ok := r.ID(KindBrand, "https://example.com/brands/vita-famoso")
	require.True(t, ok)

	var gotBrand *string
	require.NoError(t, st.QueryRow(ctx,
		"SELECT brand_id FROM wdf_sku WHERE article = ?", "11743005").Scan(&gotBrand))
	require.NotNil(t, gotBrand)
	require.Equal(t, brandID.String(), *gotBrand)

	// A SKU without a brand url keeps a NULL brand.
	require.NoError(t, st.QueryRow(ctx,
		"SELECT brand_id FROM wdf_sku WHERE article = ?", "12381016").Scan(&gotBrand))
	require.Nil(t, gotBrand)
}

func TestClearDropsChunkState(t *testing.T) {
	var st = testStore(t)
	var r = New(st, uuid.New())
	var loader = bulkload.New(st, 100)
	var ctx = context.Background()

	collectSample(r)
	require.NoError(t, r.Resolve(ctx, loader))
	require.NoError(t, loader.Done(ctx))

	r.Clear()
	_, ok := r.ID(KindSku, "11743005")
	require.False(t, ok)
}

func TestRetainedCacheSkipsLookups(t *testing.T) {
	var st = testStore(t)
	var r = New(st, uuid.New(), WithRetainedCache(128))
	var loader = bulkload.New(st, 100)
	var ctx = context.Background()

	collectSample(r)
	require.NoError(t, r.Resolve(ctx, loader))
	require.NoError(t, loader.Done(ctx))

	r.Clear()
	collectSample(r)
	require.NoError(t, r.Resolve(ctx, loader))
	require.NoError(t, loader.Done(ctx))

	// The second cycle is satisfied from the retained cache.
	require.Equal(t, 2, r.RetrievedCount(KindSku))
	require.Equal(t, 2, r.CreatedCount(KindSku))
	require.Equal(t, 2, count(t, st, "wdf_sku"))
}

func TestCollectDedupesWithinChunk(t *testing.T) {
	var st = testStore(t)
	var r = New(st, uuid.New())
	var loader = bulkload.New(st, 100)

	r.CollectParameter("Цвет")
	r.CollectParameter("Цвет")
	r.CollectBrand("https://example.com/brands/trixie", nil)
	r.CollectBrand("https://example.com/brands/trixie", strPtr("Trixie"))

	require.NoError(t, r.Resolve(context.Background(), loader))
	require.NoError(t, loader.Done(context.Background()))

	require.Equal(t, 1, r.CreatedCount(KindParameter))
	require.Equal(t, 1, r.CreatedCount(KindBrand))
}
