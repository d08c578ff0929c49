package kernel

// Config groups scheduler construction parameters. The zero value is a
// strict, single-process scheduler on a simulated jump clock starting at
// virtual time 0 — the configuration every deterministic test wants.
type Config struct {
	// RealTime selects the wall-tracking clock. False = simulated jump
	// clock that never reads wall time.
	RealTime bool `yaml:"real_time" json:"real_time"`

	// ClockSpeed paces a real-time clock relative to wall time. Jump (0)
	// disables pacing; a real-time clock at Jump behaves like a simulated
	// one until a finite speed is set. Ignored in simulated mode.
	ClockSpeed Speed `yaml:"clock_speed" json:"clock_speed"`

	// StartTime is the initial virtual time in seconds.
	StartTime float64 `yaml:"start_time" json:"start_time"`

	// Tolerant disables the send-time copy-contract check ("open pointer"
	// performance mode). Off by default: strict is the safe setting.
	Tolerant bool `yaml:"tolerant" json:"tolerant"`

	// StrictRouting turns unknown-receiver drops and captured agent
	// faults into errors returned from Run instead of log lines.
	StrictRouting bool `yaml:"strict_routing" json:"strict_routing"`

	// Workers > 0 activates agents of one cycle on up to Workers
	// goroutines. Agents must then be serialisable (checked at Add) and
	// observable semantics are unchanged apart from wall-clock
	// throughput. 0 = single-goroutine.
	Workers int `yaml:"workers" json:"workers"`
}

func (c Config) clockMode() ClockMode {
	if c.RealTime {
		return RealTime
	}
	return Simulated
}

// RunOptions bounds one Run call. Exactly one termination condition ends
// the loop: a virtual-time budget, a cycle budget, an idle pause, or a
// pause/stop control event. Zero values mean "no bound".
type RunOptions struct {
	// Seconds bounds the run by virtual time: the scheduler pauses once
	// virtual time has advanced this far beyond the start of the run.
	Seconds float64

	// Iterations bounds the run by cycle count.
	Iterations int

	// PauseIfIdle returns from Run within one cycle of the mail queue,
	// the wake set and the due alarms all being empty.
	PauseIfIdle bool

	// ClockSpeed, when non-nil, is applied to the clock before the first
	// cycle.
	ClockSpeed *Speed
}
