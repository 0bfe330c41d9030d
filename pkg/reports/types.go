package reports

import (
	"context"
	"io"
	"time"

	"github.com/pulseworks/readycheck/pkg/store"
)

type ReportType string

// Report kinds served by /v1/reports. The spend log answers "what did
// this owner cast and when"; the regen report aggregates tick stats per
// pool and phase; events is the raw journal slice.
const (
	ReportTypeSpendLog ReportType = "spend_log"
	ReportTypeRegen    ReportType = "regen"
	ReportTypeEvents   ReportType = "events"
)

// ReportParams is the common query window. Filters carry report-specific
// keys like owner_id and pool_id.
type ReportParams struct {
	Start   time.Time
	End     time.Time
	Filters map[string]interface{}
}

// ReportStore is the slice of the journal store that report generators
// read from.
type ReportStore interface {
	QueryEvents(ctx context.Context, filter store.EventFilter) ([]*store.Event, error)
	GetTickStats(ctx context.Context, filter store.StatFilter) ([]store.TickStat, error)
}

// Generator renders one report type as CSV.
type Generator interface {
	Generate(ctx context.Context, params ReportParams) (io.Reader, error)
}
