package kernel

import (
	"container/heap"
	"sort"
	"time"
)

// ClockMode selects how virtual time advances.
type ClockMode int

const (
	// RealTime tracks wall time scaled by the clock's Speed. With
	// Speed == Jump it behaves like Simulated until a finite speed is set.
	RealTime ClockMode = iota

	// Simulated never reads wall time. Time stands still while messages
	// are in flight and jumps straight to the next alarm when the system
	// is otherwise quiet. The mode is fixed at construction.
	Simulated
)

func (m ClockMode) String() string {
	if m == Simulated {
		return "simulated"
	}
	return "real-time"
}

// Speed is the clock speed relative to wall time: 2.0 runs twice as fast as
// real time, 0.1 ten times slower. The zero value Jump means "no pacing":
// time advances straight to the next scheduled event.
type Speed float64

// Jump is the speed value that disables wall pacing.
const Jump Speed = 0

// AlarmID identifies a scheduled alarm for cancellation.
type AlarmID uint64

// Alarm is a pending timed event. FireTime is absolute virtual seconds.
// IgnoreIf, when non-nil, is evaluated at fire time; a true result discards
// the alarm without routing its payload.
type Alarm struct {
	ID       AlarmID
	FireTime float64
	Owner    string
	Payload  Message
	IgnoreIf func() bool

	seq uint64 // insertion counter, breaks FireTime ties FIFO
}

// alarmHeap orders alarms by (FireTime, seq).
// Same shape as the canonical container/heap example.
type alarmHeap []*Alarm

func (h alarmHeap) Len() int { return len(h) }

func (h alarmHeap) Less(i, j int) bool {
	if h[i].FireTime != h[j].FireTime {
		return h[i].FireTime < h[j].FireTime
	}
	return h[i].seq < h[j].seq
}

func (h alarmHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *alarmHeap) Push(x any) {
	*h = append(*h, x.(*Alarm))
}

func (h *alarmHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Clock is the virtual time source. It is owned by the scheduler and reached
// by agents through their capability handle; it is not safe for concurrent
// use.
type Clock struct {
	mode  ClockMode
	speed Speed
	now   float64

	running       bool
	anchorWall    time.Time
	anchorVirtual float64

	alarms alarmHeap
	seq    uint64
	nextID AlarmID
}

// NewClock creates a clock at virtual time start. In Simulated mode the
// speed argument is ignored; time only moves by jumping.
func NewClock(mode ClockMode, speed Speed, start float64) *Clock {
	return &Clock{
		mode:   mode,
		speed:  speed,
		now:    start,
		alarms: make(alarmHeap, 0),
	}
}

// Mode returns the clock mode fixed at construction.
func (c *Clock) Mode() ClockMode { return c.mode }

// Speed returns the current speed. Jump means event-driven advance.
func (c *Clock) Speed() Speed { return c.speed }

// Now returns the current virtual time in seconds.
func (c *Clock) Now() float64 { return c.now }

// SetTime moves virtual time to t. Moving backwards is rejected while a run
// is active; between runs any value is accepted.
func (c *Clock) SetTime(t float64) error {
	if c.running && t < c.now {
		return newError(ErrClock, "cannot move time backwards: %v < %v", t, c.now)
	}
	c.now = t
	c.reanchor()
	return nil
}

// SetSpeed changes the pacing factor and re-anchors the wall/virtual
// correspondence so already-elapsed time is not re-scaled.
func (c *Clock) SetSpeed(s Speed) {
	c.speed = s
	c.reanchor()
}

// Jumps reports whether the clock advances by jumping to the next event
// rather than by tracking wall time.
func (c *Clock) Jumps() bool {
	return c.mode == Simulated || c.speed == Jump
}

// Advance recomputes virtual time from wall time. A no-op for jumping
// clocks; their time moves only through JumpTo.
func (c *Clock) Advance() float64 {
	if !c.running || c.Jumps() {
		return c.now
	}
	elapsed := time.Since(c.anchorWall).Seconds()
	t := c.anchorVirtual + elapsed*float64(c.speed)
	if t > c.now {
		c.now = t
	}
	return c.now
}

// JumpTo moves virtual time forward to t. Backwards jumps are ignored; time
// never moves backwards during a run.
func (c *Clock) JumpTo(t float64) {
	if t > c.now {
		c.now = t
		c.reanchor()
	}
}

func (c *Clock) resume() {
	c.running = true
	c.reanchor()
}

func (c *Clock) pause() {
	c.running = false
}

func (c *Clock) reanchor() {
	c.anchorWall = time.Now()
	c.anchorVirtual = c.now
}

// Schedule adds an alarm at absolute virtual time fireAt. Alarms in the past
// are clamped to now and fire on the next cycle. A nil payload becomes a
// wake Note addressed back to the owner.
func (c *Clock) Schedule(owner string, fireAt float64, payload Message, ignoreIf func() bool) AlarmID {
	if fireAt < c.now {
		fireAt = c.now
	}
	if payload == nil {
		payload = wakeNote(owner)
	}
	c.nextID++
	c.seq++
	heap.Push(&c.alarms, &Alarm{
		ID:       c.nextID,
		FireTime: fireAt,
		Owner:    owner,
		Payload:  payload,
		IgnoreIf: ignoreIf,
		seq:      c.seq,
	})
	return c.nextID
}

// Cancel removes the alarm with the given id. Returns false if no such alarm
// is pending.
func (c *Clock) Cancel(id AlarmID) bool {
	return c.filterAlarms(func(a *Alarm) bool { return a.ID != id }) > 0
}

// ClearAlarms discards pending alarms owned by owner ("" matches every
// owner), optionally restricted to payloads with the given topic ("" matches
// any topic). Returns the number of alarms removed.
func (c *Clock) ClearAlarms(owner, topic string) int {
	return c.filterAlarms(func(a *Alarm) bool {
		if owner != "" && a.Owner != owner {
			return true
		}
		if topic != "" && a.Payload.Topic() != topic {
			return true
		}
		return false
	})
}

// filterAlarms keeps alarms for which keep returns true and rebuilds the
// heap. Returns the number removed.
func (c *Clock) filterAlarms(keep func(*Alarm) bool) int {
	kept := c.alarms[:0]
	removed := 0
	for _, a := range c.alarms {
		if keep(a) {
			kept = append(kept, a)
		} else {
			removed++
		}
	}
	c.alarms = kept
	if removed > 0 {
		heap.Init(&c.alarms)
	}
	return removed
}

// PendingAlarms returns the number of scheduled alarms.
func (c *Clock) PendingAlarms() int { return len(c.alarms) }

// NextFireTime returns the earliest pending fire time.
func (c *Clock) NextFireTime() (float64, bool) {
	if len(c.alarms) == 0 {
		return 0, false
	}
	return c.alarms[0].FireTime, true
}

// PopDue removes and returns every alarm with FireTime <= now, in
// non-decreasing FireTime order with FIFO tie-breaking.
func (c *Clock) PopDue(now float64) []*Alarm {
	var due []*Alarm
	for len(c.alarms) > 0 && c.alarms[0].FireTime <= now {
		due = append(due, heap.Pop(&c.alarms).(*Alarm))
	}
	return due
}

// ListAlarms returns copies of the pending alarms for owner ("" lists all),
// sorted by (FireTime, insertion order). O(#alarms); intended for
// cooperative deduplication, not hot paths.
func (c *Clock) ListAlarms(owner string) []Alarm {
	var out []Alarm
	for _, a := range c.alarms {
		if owner == "" || a.Owner == owner {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FireTime != out[j].FireTime {
			return out[i].FireTime < out[j].FireTime
		}
		return out[i].seq < out[j].seq
	})
	return out
}
