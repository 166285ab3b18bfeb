package core

import "time"

// DefaultSyncDays is the trailing window fetched from the data source when
// no explicit window is given.
const DefaultSyncDays = 90

// Window is a half-open time interval [Start, End) used to scope fetches
// and aggregation.
type Window struct {
	Start time.Time
	End   time.Time
}

// DefaultWindow returns the trailing 90-day window ending at now.
func DefaultWindow(now time.Time) Window {
	return Window{Start: now.AddDate(0, 0, -DefaultSyncDays), End: now}
}

// TrailingDays returns the window covering the last n days ending at now.
func TrailingDays(now time.Time, n int) Window {
	return Window{Start: now.AddDate(0, 0, -n), End: now}
}

func (w Window) Validate() error {
	if w.End.Before(w.Start) {
		return ErrInvalidWindow
	}
	return nil
}

// Contains reports whether ts falls inside the window. A timestamp exactly
// at Start is included; one exactly at End is not.
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && ts.Before(w.End)
}
