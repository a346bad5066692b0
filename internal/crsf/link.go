package crsf

import "time"

// DefaultFailsafe is how long the link stays up without a channels frame.
const DefaultFailsafe = 300 * time.Millisecond

// LinkTracker derives link up/down from channels-frame arrival times. Any
// byte refreshes LastReceive, but only a valid channels frame raises the
// link, and only a poll lowers it.
type LinkTracker struct {
	failsafe     time.Duration
	up           bool
	lastReceive  time.Time
	lastChannels time.Time
}

// NewLinkTracker returns a tracker in the down state; zero failsafe selects
// DefaultFailsafe.
func NewLinkTracker(failsafe time.Duration) *LinkTracker {
	if failsafe <= 0 {
		failsafe = DefaultFailsafe
	}
	return &LinkTracker{failsafe: failsafe}
}

// Touch records that a byte arrived.
func (l *LinkTracker) Touch(now time.Time) { l.lastReceive = now }

// ChannelsReceived records a valid channels frame and reports whether the
// link went from down to up.
func (l *LinkTracker) ChannelsReceived(now time.Time) bool {
	l.lastChannels = now
	if l.up {
		return false
	}
	l.up = true
	return true
}

// Check lowers the link when the last channels frame is older than the
// fail-safe window and reports whether it changed.
func (l *LinkTracker) Check(now time.Time) bool {
	if l.up && now.Sub(l.lastChannels) > l.failsafe {
		l.up = false
		return true
	}
	return false
}

func (l *LinkTracker) Up() bool                { return l.up }
func (l *LinkTracker) LastReceive() time.Time  { return l.lastReceive }
func (l *LinkTracker) LastChannels() time.Time { return l.lastChannels }
func (l *LinkTracker) Failsafe() time.Duration { return l.failsafe }
