package contracts

import (
	"fmt"
	"time"
)

// Mode selects which listing endpoint a Query targets
type Mode string

const (
	ModeYearly  Mode = "yearly"
	ModeMonthly Mode = "monthly"
)

// Query limits mirrored from the backend's own validation
const (
	MinYear  = 2000
	MaxLimit = 500
)

// AllowedLimits are the "Top N" choices offered to the user
var AllowedLimits = []int{5, 10, 15, 20, 30, 50, 100}

// Query is the view the user selected (QueryState).
// Month is only meaningful when Mode is ModeMonthly.
type Query struct {
	Mode  Mode `json:"mode"`
	Year  int  `json:"year"`
	Month int  `json:"month"`
	Limit int  `json:"limit"`
}

// DefaultQuery returns the initial view: yearly, the given year and limit,
// month preset to the current month so switching to monthly has a sane value.
func DefaultQuery(year, limit int, now time.Time) Query {
	return Query{
		Mode:  ModeYearly,
		Year:  year,
		Month: int(now.Month()),
		Limit: limit,
	}
}

// Validate checks the query against the ranges the backend accepts
func (q Query) Validate(now time.Time) error {
	switch q.Mode {
	case ModeYearly, ModeMonthly:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeYearly, ModeMonthly, q.Mode)
	}

	if q.Year < MinYear || q.Year > now.Year() {
		return fmt.Errorf("year must be between %d and %d", MinYear, now.Year())
	}

	if q.Mode == ModeMonthly && (q.Month < 1 || q.Month > 12) {
		return fmt.Errorf("month must be between 1 and 12")
	}

	if q.Limit < 1 || q.Limit > MaxLimit {
		return fmt.Errorf("limit must be between 1 and %d", MaxLimit)
	}

	return nil
}

// Period renders the requested period, "2024" or "2024-03"
func (q Query) Period() string {
	if q.Mode == ModeMonthly {
		return fmt.Sprintf("%d-%02d", q.Year, q.Month)
	}
	return fmt.Sprintf("%d", q.Year)
}

// SelectableYears lists the current year and the nine before it, newest first
func SelectableYears(now time.Time) []int {
	years := make([]int, 10)
	for i := range years {
		years[i] = now.Year() - i
	}
	return years
}
