// Package period computes the reference window a reconciliation run
// reports over.
package period

import "time"

// Layout is the dd/mm/yyyy rendering used on report sheets and filenames.
const Layout = "02/01/2006"

// Period is a closed date interval.
type Period struct {
	Start time.Time
	End   time.Time
}

// Reference returns the reporting window for a run executed at t. On the
// last day of a month the window is the whole previous month; on any other
// day it runs from the first of the current month through t.
func Reference(t time.Time) Period {
	year, month, day := t.Date()
	if day == lastDay(year, month) {
		start := time.Date(year, month, 1, 0, 0, 0, 0, t.Location()).AddDate(0, -1, 0)
		end := time.Date(start.Year(), start.Month(), lastDay(start.Year(), start.Month()), 0, 0, 0, 0, t.Location())
		return Period{Start: start, End: end}
	}
	return Period{
		Start: time.Date(year, month, 1, 0, 0, 0, 0, t.Location()),
		End:   time.Date(year, month, day, 0, 0, 0, 0, t.Location()),
	}
}

func (p Period) StartString() string { return p.Start.Format(Layout) }
func (p Period) EndString() string   { return p.End.Format(Layout) }

func lastDay(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
