package tcp

import "time"

// TimerKind distinguishes the purposes a Socket's single timer can serve.
// Only one timer is ever armed at a time; arming a new kind replaces
// whatever was previously scheduled.
type TimerKind int

const (
	TimerNone TimerKind = iota
	TimerRetransmit
	TimerFastRetransmit
	TimerZeroWindowProbe
	TimerTimeWait
	TimerKeepalive
	TimerDelayedACK
)

func (k TimerKind) String() string {
	switch k {
	case TimerNone:
		return "none"
	case TimerRetransmit:
		return "retransmit"
	case TimerFastRetransmit:
		return "fast-retransmit"
	case TimerZeroWindowProbe:
		return "zero-window-probe"
	case TimerTimeWait:
		return "time-wait"
	case TimerKeepalive:
		return "keepalive"
	case TimerDelayedACK:
		return "delayed-ack"
	default:
		return "unknown"
	}
}

// Timer is a tagged union: a socket holds at most one outstanding
// deadline, tagged with what it is for. It is a plain struct rather than a
// running goroutine timer; the owning Socket compares Deadline against
// "now" on every poll, matching a single-threaded, cooperative poll loop
// with no internal goroutines or locking.
type Timer struct {
	Kind     TimerKind
	Deadline time.Time

	// Backoffs counts Rearm calls since the timer was last armed or
	// disarmed. The zero-window-probe and keep-alive paths size their next
	// interval from it.
	Backoffs int
}

// Armed reports whether the timer is currently scheduled.
func (t Timer) Armed() bool { return t.Kind != TimerNone }

// Expired reports whether the timer is armed and its deadline has passed.
func (t Timer) Expired(now time.Time) bool {
	return t.Armed() && !now.Before(t.Deadline)
}

// Arm schedules kind to fire at now+d, resetting the backoff counter.
func (t *Timer) Arm(kind TimerKind, now time.Time, d time.Duration) {
	t.Kind = kind
	t.Deadline = now.Add(d)
	t.Backoffs = 0
}

// Disarm clears the timer, e.g. on a fresh ACK that covers all outstanding
// data.
func (t *Timer) Disarm() {
	t.Kind = TimerNone
	t.Deadline = time.Time{}
	t.Backoffs = 0
}

// Rearm reschedules the same kind at now+d and increments the backoff
// counter, used when a retransmit or zero-window-probe timer fires and is
// rescheduled with a longer interval.
func (t *Timer) Rearm(now time.Time, d time.Duration) {
	t.Deadline = now.Add(d)
	t.Backoffs++
}
