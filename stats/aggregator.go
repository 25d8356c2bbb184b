/*
aggregator.go - Process-wide running totals of completed calculations

PURPOSE:
  Subscribes to CalculationCompleted on the event bus and keeps running
  sums for the dashboard, without touching the store. The engine has no
  idea this exists: observers hang off the bus, never off Calculate.

CONCURRENCY:
  Handle may be called from many request goroutines at once. All state is
  behind a mutex; Snapshot returns a copy.

SEE ALSO:
  - stats/metrics.go: Prometheus side of the same event
  - api/handlers.go: Publishes the event after Save
*/
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/icms-refund/engine"
)

// Snapshot is a point-in-time copy of the running totals.
type Snapshot struct {
	Calculations         int
	ByClassification     map[engine.Classification]int
	TotalMonths          int
	TotalBaseValue       decimal.Decimal
	TotalCorrectedValue  decimal.Decimal
	TotalIndemnification decimal.Decimal
	LastCalculationAt    time.Time
}

// Aggregator keeps running totals since process start.
type Aggregator struct {
	mu   sync.Mutex
	snap Snapshot
	log  *logrus.Logger
}

func NewAggregator(log *logrus.Logger) *Aggregator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Aggregator{
		snap: Snapshot{ByClassification: make(map[engine.Classification]int)},
		log:  log,
	}
}

// Register subscribes the aggregator to bus.
func (a *Aggregator) Register(bus EventBus) {
	bus.Subscribe(EventTypeOf[CalculationCompleted](), a.Handle)
}

// Handle consumes CalculationCompleted events.
func (a *Aggregator) Handle(_ context.Context, event any) error {
	var ev CalculationCompleted
	switch e := event.(type) {
	case CalculationCompleted:
		ev = e
	case *CalculationCompleted:
		if e == nil {
			return ErrNilEvent
		}
		ev = *e
	default:
		return fmt.Errorf("%w: %T", ErrInvalidEventType, event)
	}

	a.mu.Lock()
	a.snap.Calculations++
	a.snap.ByClassification[ev.Classification]++
	a.snap.TotalMonths += ev.MonthsCount
	a.snap.TotalBaseValue = a.snap.TotalBaseValue.Add(ev.TotalBaseValue)
	a.snap.TotalCorrectedValue = a.snap.TotalCorrectedValue.Add(ev.TotalCorrectedValue)
	a.snap.TotalIndemnification = a.snap.TotalIndemnification.Add(ev.FinalIndemnification)
	if ev.At.After(a.snap.LastCalculationAt) {
		a.snap.LastCalculationAt = ev.At
	}
	count := a.snap.Calculations
	a.mu.Unlock()

	AddIndemnification(ev.FinalIndemnification)

	a.log.WithFields(logrus.Fields{
		"calculation_id": ev.ID,
		"owner_id":       ev.OwnerID,
		"months":         ev.MonthsCount,
		"final":          ev.FinalIndemnification.StringFixed(2),
		"running_count":  count,
		"took":           ev.Duration.String(),
	}).Debug("calculation aggregated")
	return nil
}

// Snapshot returns a copy of the running totals.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.snap
	s.ByClassification = make(map[engine.Classification]int, len(a.snap.ByClassification))
	for k, v := range a.snap.ByClassification {
		s.ByClassification[k] = v
	}
	return s
}
