package stats

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/icms-refund/engine"
)

// CalculationCompleted is published after a calculation has been persisted.
type CalculationCompleted struct {
	ID                   string
	OwnerID              string
	Classification       engine.Classification
	MonthsCount          int
	TotalBaseValue       decimal.Decimal
	TotalCorrectedValue  decimal.Decimal
	FinalIndemnification decimal.Decimal
	Duration             time.Duration
	At                   time.Time
}

// NewCalculationCompleted builds the event from a stored record.
func NewCalculationCompleted(rec engine.Record, class engine.Classification, took time.Duration) CalculationCompleted {
	return CalculationCompleted{
		ID:                   rec.ID,
		OwnerID:              rec.OwnerID,
		Classification:       class,
		MonthsCount:          rec.Result.MonthsCount,
		TotalBaseValue:       rec.Result.TotalBaseValue,
		TotalCorrectedValue:  rec.Result.TotalCorrectedValue,
		FinalIndemnification: rec.Result.FinalIndemnification,
		Duration:             took,
		At:                   rec.CreatedAt,
	}
}
