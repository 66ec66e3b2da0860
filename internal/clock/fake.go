package clock

import "time"

// FakeClock is a manually advanced Clock for tests. The instant is
// normalized to UTC on construction so assertions never depend on the
// host zone.
type FakeClock struct {
	now time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (f *FakeClock) Now() time.Time {
	return f.now
}

// Advance moves the clock forward by d. Tests advance between
// operations, never during one, so no locking here.
func (f *FakeClock) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}
