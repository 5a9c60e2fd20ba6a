package clock

import "time"

// Clock abstracts time for components that schedule or stamp work.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock delegates to the runtime clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now().UTC() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }
