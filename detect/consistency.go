// Package detect holds the stateless rules the inspection pipeline applies
// to every file: timestamp reconciliation, content sniffing, keyword
// heuristics, entropy scoring, size plausibility, and LSB probing.
// Detectors are pure where possible so they test in isolation.
package detect

import "time"

// FormatTolerance is the slack allowed between a format-embedded timestamp
// and a filesystem timestamp before the gap becomes a finding. It is
// deliberately wider than the filesystem-internal tolerance.
const FormatTolerance = time.Minute

// Stamp is a timestamp that may or may not carry a zone. Format parsers
// produce zoneless values for dates written without offsets; those compare
// by clock fields rather than instants.
type Stamp struct {
	Time  time.Time
	Aware bool
}

func (s Stamp) IsZero() bool {
	return s.Time.IsZero()
}

// Display renders the stamp the way finding messages embed it. Zoned
// stamps keep their offset; zoneless ones show bare clock fields.
func (s Stamp) Display() string {
	if s.Aware {
		return s.Time.Format("2006-01-02 15:04:05-07:00")
	}
	return s.Time.Format("2006-01-02 15:04:05")
}

// StripZone rebuilds the clock fields in the local zone. Mixed comparisons
// truncate the zoned side this way; the resulting skew near DST or
// non-UTC zones is a known limitation kept for result stability.
func StripZone(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.Local)
}

func reconcile(a, b Stamp) (time.Time, time.Time) {
	at, bt := a.Time, b.Time
	if a.Aware && !b.Aware {
		at = StripZone(at)
	}
	if b.Aware && !a.Aware {
		bt = StripZone(bt)
	}
	return at, bt
}

// Before reports a < b after zone reconciliation.
func Before(a, b Stamp) bool {
	at, bt := reconcile(a, b)
	return at.Before(bt)
}

// After reports a > b after zone reconciliation.
func After(a, b Stamp) bool {
	at, bt := reconcile(a, b)
	return at.After(bt)
}

// SignificantlyAfter reports a > b by more than the tolerance.
func SignificantlyAfter(a, b Stamp, tolerance time.Duration) bool {
	at, bt := reconcile(a, b)
	return at.After(bt.Add(tolerance))
}

// SignificantlyBefore reports a < b by more than the tolerance.
func SignificantlyBefore(a, b Stamp, tolerance time.Duration) bool {
	at, bt := reconcile(a, b)
	return at.Before(bt.Add(-tolerance))
}
