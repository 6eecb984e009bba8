// Package bulkload collects heterogeneous entity rows and writes them in
// large slices through the store's fast binary path, falling back to
// row-level inserts when the fast path rejects input or is unavailable.
package bulkload

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wdatafacility/wdf/schema"
	"github.com/wdatafacility/wdf/store"
)

// Backend is the store surface the loader writes through. *store.Store
// satisfies it; tests substitute fakes to script fast-path rejections.
type Backend interface {
	HasCopy() bool
	CopyRows(ctx context.Context, table *schema.Table, rows []schema.Row) error
	InsertRow(ctx context.Context, row schema.Row) error
	Reset(ctx context.Context) error
}

// Loader queues rows per table and flushes them on Done. Within one Done
// invocation every row added before the call is persisted on return; table
// flush order is first-add order, and rows of one table may be reordered
// across the fast and row paths.
type Loader struct {
	store        Backend
	maxChunkSize int
	copySafe     map[string]struct{}

	order []*schema.Table
	fast  map[string][]schema.Row
	row   map[string][]schema.Row

	// Log scopes flush logging; the pipeline points it at the current
	// job/chunk entry.
	Log *log.Entry
}

// New returns a Loader flushing slices of at most maxChunkSize rows.
// copySafe names wide-text tables that are allowed on the fast path anyway.
func New(st Backend, maxChunkSize int, copySafe ...string) *Loader {
	var safe = make(map[string]struct{}, len(copySafe))
	for _, name := range copySafe {
		safe[name] = struct{}{}
	}
	return &Loader{
		store:        st,
		maxChunkSize: maxChunkSize,
		copySafe:     safe,
		fast:         make(map[string][]schema.Row),
		row:          make(map[string][]schema.Row),
		Log:          log.NewEntry(log.StandardLogger()),
	}
}

// Add queues a row for the next Done.
func (l *Loader) Add(row schema.Row) {
	var table = row.Table()
	if _, seen := l.fast[table.Name]; !seen {
		l.order = append(l.order, table)
		l.fast[table.Name] = nil
	}
	l.fast[table.Name] = append(l.fast[table.Name], row)
}

// Pending reports the number of queued rows.
func (l *Loader) Pending() int {
	var n = 0
	for _, q := range l.fast {
		n += len(q)
	}
	for _, q := range l.row {
		n += len(q)
	}
	return n
}

// Done flushes every queue. Tables flush in the order their first row was
// added, which the pipeline relies on for foreign-key ordering.
func (l *Loader) Done(ctx context.Context) error {
	for _, table := range l.order {
		if len(l.fast[table.Name]) == 0 && len(l.row[table.Name]) == 0 {
			continue
		}
		if err := l.commit(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) commit(ctx context.Context, table *schema.Table) error {
	// Wide-text tables frequently hold values that break the binary path's
	// framing, so they run on the row path unless explicitly allow-listed.
	var _, safe = l.copySafe[table.Name]
	if !l.store.HasCopy() || (table.WideText && !safe) {
		if table.WideText && l.store.HasCopy() && !safe {
			l.Log.WithField("table", table.Name).Debug("wide text columns, using row inserts instead of copy")
		}
		l.row[table.Name] = append(l.row[table.Name], l.fast[table.Name]...)
		l.fast[table.Name] = nil
	}

	if err := l.commitCopy(ctx, table); err != nil {
		return err
	}
	l.fast[table.Name] = nil

	if err := l.commitRows(ctx, table); err != nil {
		return err
	}
	l.row[table.Name] = nil

	return nil
}

// commitCopy drains the fast queue in slices. A slice whose load is rejected
// at a specific line evicts exactly that row to the row queue, resets the
// store bracket, and retries; the loop is bounded by the slice size.
func (l *Loader) commitCopy(ctx context.Context, table *schema.Table) error {
	var slices = split(l.fast[table.Name], l.maxChunkSize)

	for i, slice := range slices {
		for len(slice) > 0 {
			var started = time.Now()
			var err = l.store.CopyRows(ctx, table, slice)
			if err == nil {
				copyRowsTotal.WithLabelValues(table.Name).Add(float64(len(slice)))
				l.Log.WithFields(log.Fields{
					"table":   table.Name,
					"slice":   i + 1,
					"slices":  len(slices),
					"rows":    len(slice),
					"elapsed": time.Since(started).String(),
				}).Info("slice saved via copy")
				break
			}

			var rejected *store.RowRejectedError
			if !errors.As(err, &rejected) || rejected.Line < 1 || rejected.Line > len(slice) {
				return err
			}

			var evicted = slice[rejected.Line-1]
			l.Log.WithFields(log.Fields{
				"table": table.Name,
				"line":  rejected.Line,
				"row":   evicted.Values(),
			}).WithError(rejected.Cause).Error("copy rejected row, quarantining to row inserts")
			rejectedRowsTotal.WithLabelValues(table.Name).Inc()

			l.row[table.Name] = append(l.row[table.Name], evicted)
			slice = append(slice[:rejected.Line-1:rejected.Line-1], slice[rejected.Line:]...)

			if err = l.store.Reset(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Loader) commitRows(ctx context.Context, table *schema.Table) error {
	var slices = split(l.row[table.Name], l.maxChunkSize)

	for i, slice := range slices {
		var started = time.Now()
		for _, row := range slice {
			if err := l.store.InsertRow(ctx, row); err != nil {
				return err
			}
		}
		rowInsertsTotal.WithLabelValues(table.Name).Add(float64(len(slice)))
		l.Log.WithFields(log.Fields{
			"table":   table.Name,
			"slice":   i + 1,
			"slices":  len(slices),
			"rows":    len(slice),
			"elapsed": time.Since(started).String(),
		}).Info("slice saved via row inserts")
	}
	return nil
}

func split(queue []schema.Row, size int) [][]schema.Row {
	if size <= 0 {
		size = len(queue)
	}
	var slices [][]schema.Row
	for start := 0; start < len(queue); start += size {
		var end = start + size
		if end > len(queue) {
			end = len(queue)
		}
		slices = append(slices, queue[start:end])
	}
	return slices
}
