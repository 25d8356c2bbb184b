/*
reporter.go - Periodic log line with the running totals

PURPOSE:
  Writes the Aggregator snapshot to the log at a fixed interval so the
  totals survive in log storage even though the aggregate itself is
  in-memory and resets on restart.

CONFIGURATION:
  - Interval: How often to report (default: 1 hour)
  - Enabled:  Whether the reporter runs (default: true)

USAGE:
  reporter := stats.NewReporter(agg, logger)
  reporter.Start()
  // ... later
  reporter.Stop()
*/
package stats

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/icms-refund/engine"
)

// Reporter logs Aggregator snapshots on a ticker.
type Reporter struct {
	Aggregator *Aggregator
	Interval   time.Duration
	Enabled    bool

	log    *logrus.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewReporter(agg *Aggregator, log *logrus.Logger) *Reporter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reporter{
		Aggregator: agg,
		Interval:   1 * time.Hour,
		Enabled:    true,
		log:        log,
	}
}

// Start begins reporting. Calling Start on a running reporter is a no-op.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.Enabled || r.Interval <= 0 {
		r.log.Info("stats reporter disabled")
		return
	}
	if r.ticker != nil {
		return
	}

	r.ticker = time.NewTicker(r.Interval)
	r.stop = make(chan struct{})
	r.wg.Add(1)
	go r.run(r.ticker, r.stop)

	r.log.WithField("interval", r.Interval.String()).Info("stats reporter started")
}

// Stop stops the reporter and writes one final snapshot.
func (r *Reporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker == nil {
		return
	}
	r.ticker.Stop()
	close(r.stop)
	r.wg.Wait()
	r.ticker = nil
	r.report()
	r.log.Info("stats reporter stopped")
}

func (r *Reporter) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case <-ticker.C:
			r.report()
		case <-stop:
			return
		}
	}
}

func (r *Reporter) report() {
	snap := r.Aggregator.Snapshot()
	r.log.WithFields(logrus.Fields{
		"calculations":          snap.Calculations,
		"gd1":                   snap.ByClassification[engine.ClassGD1],
		"gd2":                   snap.ByClassification[engine.ClassGD2],
		"total_months":          snap.TotalMonths,
		"total_corrected":       snap.TotalCorrectedValue.StringFixed(2),
		"total_indemnification": snap.TotalIndemnification.StringFixed(2),
	}).Info("running totals")
}
