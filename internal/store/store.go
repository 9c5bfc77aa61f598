// Package store provides the session journal of published refresh cycles.
package store

import (
	"context"
	"time"

	"pnl-dashboard/internal/models"
)

// Journal records every published report for the lifetime of the process.
type Journal interface {
	// Cycles
	RecordCycle(ctx context.Context, report *models.Report) error
	ListCycles(ctx context.Context, filter CycleFilter) ([]models.CycleRecord, error)
	LatestCycle(ctx context.Context) (*models.CycleRecord, error)

	// Per-pair history
	PairHistory(ctx context.Context, pair models.Pair, limit int) ([]PairSnapshot, error)

	// Housekeeping
	Prune(ctx context.Context, keep int) (int64, error)

	// Lifecycle
	Close() error
}

// CycleFilter represents filters for listing journaled cycles.
type CycleFilter struct {
	Since        time.Time
	Limit        int
	IncludePairs bool
}

// PairSnapshot is one pair's summary as of a journaled cycle.
type PairSnapshot struct {
	Seq         uint64             `json:"seq"`
	GeneratedAt time.Time          `json:"generatedAt"`
	Summary     models.PairSummary `json:"pnl"`
}
