package bulkload

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var copyRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wdf_loader_copy_rows_total",
	Help: "counter of rows persisted through the fast binary bulk path",
}, []string{"table"})

var rowInsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wdf_loader_row_inserts_total",
	Help: "counter of rows persisted through the row-insert fallback path",
}, []string{"table"})

var rejectedRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wdf_loader_rejected_rows_total",
	Help: "counter of rows the fast bulk path rejected and quarantined to row inserts",
}, []string{"table"})
