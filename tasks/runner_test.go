package tasks

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wdatafacility/wdf/dumps"
	"github.com/wdatafacility/wdf/indexer"
	"github.com/wdatafacility/wdf/source"
	"github.com/wdatafacility/wdf/store"
)

type fakeSource struct {
	items []source.Item
}

func (f *fakeSource) Metadata(context.Context, string) (source.JobMetadata, error) {
	var meta source.JobMetadata
	meta.RunningTime = 1597082400000
	meta.FinishedTime = 1597086000000
	meta.ScrapyStats.ItemScrapedCount = len(f.items)
	return meta, nil
}

func (f *fakeSource) Items(_ string, start, count, chunkSize int) source.ItemIterator {
	return source.NewSliceIterator(f.items, start, count, chunkSize)
}

func loadItems(t *testing.T) []source.Item {
	var raw, err = os.ReadFile("../indexer/testdata/items_list.json")
	require.NoError(t, err)
	var items []source.Item
	require.NoError(t, json.Unmarshal(raw, &items))
	return items
}

func testRunner(t *testing.T) (*Runner, *store.Store) {
	var ctx = context.Background()
	var st, err = store.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	var src = &fakeSource{items: loadItems(t)}
	var runner = &Runner{
		NewIndexer: func(ctx context.Context, job string) (*indexer.Indexer, func(), error) {
			var cfg = indexer.Config{Crawler: "wb", GetChunkSize: 10, SaveChunkSize: 50}
			idx, err := indexer.New(ctx, cfg, st, src, job)
			return idx, func() {}, err
		},
		GroupSize: 10,
		// The shared in-memory store serializes windows.
		Parallelism:   1,
		RetryInterval: time.Millisecond,
		MaxRetries:    2,
	}
	return runner, st
}

func count(t *testing.T, st *store.Store, table string) int {
	var n int
	require.NoError(t, st.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestImportJobRunsFullGraph(t *testing.T) {
	var runner, st = testRunner(t)
	var ctx = context.Background()

	require.NoError(t, runner.ImportJob(ctx, "123/1/1"))

	require.Equal(t, 26, count(t, st, "wdf_version"))
	require.Equal(t, 26, count(t, st, "wdf_sku"))
	require.Equal(t, 215, count(t, st, "wdf_parameter"))

	idx, cleanup, err := runner.NewIndexer(ctx, "123/1/1")
	require.NoError(t, err)
	defer cleanup()
	require.Equal(t, dumps.StateProcessed, idx.Dump().State)
}

func TestImportJobAbandonsTooLate(t *testing.T) {
	var runner, st = testRunner(t)
	var ctx = context.Background()

	// Another worker already carried the dump to its terminal state.
	idx, cleanup, err := runner.NewIndexer(ctx, "123/1/1")
	require.NoError(t, err)
	require.NoError(t, idx.Advance(ctx, dumps.StateProcessed))
	cleanup()

	require.NoError(t, runner.ImportJob(ctx, "123/1/1"))
	require.Equal(t, 0, count(t, st, "wdf_version"))
}

func TestPrepareJob(t *testing.T) {
	var runner, st = testRunner(t)
	var ctx = context.Background()

	require.NoError(t, runner.PrepareJob(ctx, "123/1/1"))

	require.Equal(t, 26, count(t, st, "wdf_sku"))
	require.Equal(t, 0, count(t, st, "wdf_version"))

	idx, cleanup, err := runner.NewIndexer(ctx, "123/1/1")
	require.NoError(t, err)
	defer cleanup()
	require.Equal(t, dumps.StatePrepared, idx.Dump().State)
}

func TestRetryGivesUpOnPermanentErrors(t *testing.T) {
	var runner, _ = testRunner(t)
	var calls = 0

	var err = runner.retry(context.Background(), func() error {
		calls++
		return &dumps.CorruptedError{Job: "123/1/1", Versions: 1, ItemsCrawled: 2}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls, "permanent errors must not retry")
}

func TestRetryRetriesTransientErrors(t *testing.T) {
	var runner, _ = testRunner(t)
	var calls = 0

	var err = runner.retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &source.TransientError{Cause: context.DeadlineExceeded}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryRetriesTooEarly(t *testing.T) {
	var runner, _ = testRunner(t)
	var calls = 0

	var err = runner.retry(context.Background(), func() error {
		calls++
		return &dumps.TooEarlyError{Job: "123/1/1", State: dumps.StateCreated, Required: dumps.StatePrepared}
	})
	require.Error(t, err)
	require.Equal(t, 3, calls, "two retries after the first attempt")
}
