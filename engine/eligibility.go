package engine

import "time"

// =============================================================================
// ELIGIBILITY WINDOW
// =============================================================================

// DefaultReferenceDate is the regulatory date from which the reimbursement
// right accrues.
var DefaultReferenceDate = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

// WindowStart is the first eligible month: the later of the installation
// month and the reference month.
func WindowStart(installationDate, referenceDate time.Time) Month {
	return LaterMonth(MonthOf(installationDate), MonthOf(referenceDate))
}

// EligibleMonths counts whole months from the window start to currentDate.
// Only year and month matter; an installation on the 31st counts the same
// as one on the 1st. Never negative.
func EligibleMonths(installationDate, referenceDate, currentDate time.Time) int {
	n := MonthsBetween(WindowStart(installationDate, referenceDate), MonthOf(currentDate))
	if n < 0 {
		return 0
	}
	return n
}

// =============================================================================
// CLASSIFICATION - Upstream policy check, not used by Calculate
// =============================================================================

// Classification tells whether an installation falls under the grandfathered
// generation regime (GD1) or the current one (GD2).
type Classification string

const (
	ClassGD1 Classification = "GD1"
	ClassGD2 Classification = "GD2"
)

// DefaultGD1Cutoff separates grandfathered installations from current ones.
var DefaultGD1Cutoff = time.Date(2023, time.January, 6, 0, 0, 0, 0, time.UTC)

// Classify compares the full installation date (day included) with cutoff.
// GD1 installations are not affected yet; callers decide how to present it.
func Classify(installationDate, cutoff time.Time) Classification {
	if installationDate.Before(cutoff) {
		return ClassGD1
	}
	return ClassGD2
}

// Eligible reports whether the classification is entitled to reimbursement.
func (c Classification) Eligible() bool { return c == ClassGD2 }
