package monitor

import "time"

// scopedTimer wraps a *time.Timer so stop is always safe to call,
// including on a zero-value or already-fired scopedTimer. This
// sidesteps the source inconsistency called out in spec.md §9 (a timer
// field initialized to null but compared against !== undefined);
// here the zero value is simply "no timer", nothing to compare against.
type scopedTimer struct {
	timer *time.Timer
}

// set (re)arms the timer to fire after d, stopping any previous timer
// first so at most one is ever pending.
func (s *scopedTimer) set(d time.Duration, fire func()) {
	s.stop()
	s.timer = time.AfterFunc(d, fire)
}

// stop cancels the timer if one is armed. Safe to call repeatedly and
// on a scopedTimer that was never set.
func (s *scopedTimer) stop() {
	if s.timer == nil {
		return
	}
	s.timer.Stop()
	s.timer = nil
}
