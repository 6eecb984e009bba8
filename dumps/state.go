// Package dumps owns the Dump lifecycle record: the per-job state machine,
// its typed error taxonomy, and the offline maintenance operations (prune,
// duplicate merge, unfinished reconciliation).
package dumps

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is a Dump lifecycle state. State codes are monotonically
// non-decreasing under normal flow.
type State int

const (
	StateError      State = -1
	StateCreated    State = 0
	StatePreparing  State = 5
	StatePrepared   State = 10
	StateScheduling State = 15
	StateScheduled  State = 20
	StateProcessing State = 25
	StateProcessed  State = 30
)

func (s State) String() string {
	switch s {
	case StateError:
		return "error"
	case StateCreated:
		return "created"
	case StatePreparing:
		return "preparing"
	case StatePrepared:
		return "prepared"
	case StateScheduling:
		return "scheduling"
	case StateScheduled:
		return "scheduled"
	case StateProcessing:
		return "processing"
	case StateProcessed:
		return "processed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Dump represents one crawler job's ingestion lifecycle.
type Dump struct {
	ID        uuid.UUID
	Crawler   string
	Job       string
	State     State
	CreatedAt time.Time

	// Crawl statistics are filled once, from the item source's job
	// metadata, the first time the dump is touched.
	ItemsCrawled   *int
	CrawlStartedAt *time.Time
	CrawlEndedAt   *time.Time
}

// NeedsStats reports whether the crawl statistics still have to be loaded.
func (d *Dump) NeedsStats() bool {
	return d.ItemsCrawled == nil || d.CrawlStartedAt == nil || d.CrawlEndedAt == nil
}

// TooEarlyError reports that a dump's state is below the minimum a graph
// stage requires; the task layer backs off and retries.
type TooEarlyError struct {
	Job      string
	State    State
	Required State
}

func (e *TooEarlyError) Error() string {
	return fmt.Sprintf("dump %s is in state %s (%d), too early: requires at least %s (%d)",
		e.Job, e.State, int(e.State), e.Required, int(e.Required))
}

// TooLateError reports that a dump's state is above the maximum an
// operation allows; the operation is abandoned, not retried.
type TooLateError struct {
	Job   string
	State State
}

func (e *TooLateError) Error() string {
	return fmt.Sprintf("dump %s is in state %s (%d), too late for the requested operation",
		e.Job, e.State, int(e.State))
}

// CorruptedError reports that the terminal wrap check failed: the dump's
// version count diverges from the crawl's item count.
type CorruptedError struct {
	Job          string
	Versions     int
	ItemsCrawled int
}

func (e *CorruptedError) Error() string {
	if e.Versions > e.ItemsCrawled {
		return fmt.Sprintf("dump %s has more versions than job (%d > %d)", e.Job, e.Versions, e.ItemsCrawled)
	}
	return fmt.Sprintf("dump %s has less versions than job (%d < %d)", e.Job, e.Versions, e.ItemsCrawled)
}
