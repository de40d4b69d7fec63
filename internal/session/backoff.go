package session

import "time"

// backoff produces bounded exponential reconnect delays: base, 2*base, ...
// capped at cap. Reset after a successful connection.
type backoff struct {
	base time.Duration
	cap  time.Duration
	next time.Duration
}

func newBackoff(base, cap time.Duration) *backoff {
	return &backoff{base: base, cap: cap, next: base}
}

// Next returns the delay to wait before the upcoming attempt and advances
// the schedule.
func (b *backoff) Next() time.Duration {
	d := b.next
	doubled := b.next * 2
	if doubled > b.cap {
		doubled = b.cap
	}
	b.next = doubled
	return d
}

// Reset returns the schedule to the base delay.
func (b *backoff) Reset() {
	b.next = b.base
}
