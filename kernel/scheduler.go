package kernel

import (
	"encoding/gob"
	"io"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agentsim/agentsim/kernel/trace"
)

// operatingFrequency caps how often the loop spins when a real-time clock is
// waiting for wall time to catch up with the next event.
const operatingFrequency = 1000 // cycles per second

// Scheduler owns the agent registry, the global mail queue, the wake set,
// the subscription index and the clock, and drives them all from its cycle
// loop. It is single-goroutine except where noted: RequestClockSpeed may be
// called from other goroutines, and in parallel mode agent service calls
// (subscribe, alarms) are serialised internally.
type Scheduler struct {
	cfg   Config
	clock *Clock
	list  *MailingList

	agents map[string]Actor
	order  []string // registration order; defines activation order

	mail []Message
	wake map[string]struct{}

	cycle          uint64
	running        bool
	pauseRequested atomic.Bool
	stopRequested  atomic.Bool

	metrics  *Metrics
	tracelog *trace.CycleLog

	svcMu sync.Mutex // serialises subscription/alarm mutation in parallel mode

	ctrlMu        sync.Mutex
	pendingSpeeds []Speed

	copyChecked map[reflect.Type]error
}

// New constructs a scheduler from cfg. See Config for the zero-value
// defaults.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		cfg:         cfg,
		clock:       NewClock(cfg.clockMode(), cfg.ClockSpeed, cfg.StartTime),
		list:        NewMailingList(),
		agents:      make(map[string]Actor),
		wake:        make(map[string]struct{}),
		metrics:     &Metrics{},
		copyChecked: make(map[reflect.Type]error),
	}
	logrus.Debugf("scheduler created: clock=%s speed=%v workers=%d", s.clock.Mode(), cfg.ClockSpeed, cfg.Workers)
	return s
}

// Clock returns the scheduler-owned clock.
func (s *Scheduler) Clock() *Clock { return s.clock }

// Now returns the current virtual time.
func (s *Scheduler) Now() float64 { return s.clock.Now() }

// Metrics returns the live counters.
func (s *Scheduler) Metrics() *Metrics { return s.metrics }

// AttachTrace starts recording every routed message into l. Pass nil to stop
// recording.
func (s *Scheduler) AttachTrace(l *trace.CycleLog) { s.tracelog = l }

// Cycle returns the number of completed cycles.
func (s *Scheduler) Cycle() uint64 { return s.cycle }

// Agents returns a snapshot of the registry keyed by uuid.
func (s *Scheduler) Agents() map[string]Actor {
	out := make(map[string]Actor, len(s.agents))
	for id, ac := range s.agents {
		out[id] = ac
	}
	return out
}

// AgentIDs returns the registered uuids in registration order.
func (s *Scheduler) AgentIDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Agent looks up a registered agent by uuid.
func (s *Scheduler) Agent(id string) (Actor, bool) {
	ac, ok := s.agents[id]
	return ac, ok
}

// Add registers an actor: assigns a uuid if missing, auto-subscribes it to
// its own uuid and class tag, and runs Setup. The agent is first activated
// when it becomes hot — a delivery, a fired alarm, or KeepAwake; messages
// sent during Setup are collected on the next cycle. In parallel mode the
// actor must be serialisable; agents holding live handles (sockets,
// channels, functions) are rejected.
func (s *Scheduler) Add(ac Actor) error {
	if ac == nil {
		return newError(ErrRegistration, "cannot register a nil actor")
	}
	b := ac.Base()
	if b.k != nil {
		return newError(ErrRegistration, "agent %s is already registered", b)
	}
	if s.cfg.Workers > 0 {
		if err := gob.NewEncoder(io.Discard).Encode(ac); err != nil {
			return wrapError(ErrRegistration, err, "agent %s is not serialisable", b)
		}
		// gob silently skips chan and func fields, so reject them here.
		if v := reflect.Indirect(reflect.ValueOf(ac)); v.Kind() == reflect.Struct {
			for i := 0; i < v.NumField(); i++ {
				if k := v.Field(i).Kind(); k == reflect.Chan || k == reflect.Func {
					return newError(ErrRegistration, "agent %s is not serialisable: field %s is a %s",
						b, v.Type().Field(i).Name, k)
				}
			}
		}
	}
	if b.uuid == "" {
		b.uuid = uuid.NewString()
	}
	if _, dup := s.agents[b.uuid]; dup {
		return newError(ErrRegistration, "uuid %s is already registered", short(b.uuid))
	}
	if b.classTag == "" {
		b.classTag = "Agent"
	}
	if b.ops == nil {
		b.ops = make(map[string]Handler)
	}

	b.k = s
	b.state = SetupPending
	s.agents[b.uuid] = ac
	s.order = append(s.order, b.uuid)
	s.list.Subscribe(b.uuid, b.uuid)
	s.list.Subscribe(b.uuid, b.classTag)

	if err := s.guard(b.uuid, "setup", ac.Setup); err != nil {
		s.fault(b.uuid, "setup", err)
		return err
	}
	b.state = Live
	logrus.Debugf("registered agent %s", b)
	return nil
}

// Remove tears the agent down, drops its subscriptions and pending alarms,
// and deletes it from the registry. Messages sent during Teardown are still
// delivered.
func (s *Scheduler) Remove(ac Actor) error {
	if ac == nil {
		return newError(ErrRegistration, "cannot remove a nil actor")
	}
	return s.RemoveByUUID(ac.Base().uuid)
}

// RemoveByUUID removes the agent registered under id.
func (s *Scheduler) RemoveByUUID(id string) error {
	ac, ok := s.agents[id]
	if !ok {
		return newError(ErrRegistration, "no agent registered under uuid %s", short(id))
	}
	b := ac.Base()

	var terr error
	if b.state == Live {
		b.state = TeardownPending
		terr = s.guard(id, "teardown", ac.Teardown)
		if terr != nil {
			s.metrics.Faults++
			s.faultLog(id, "teardown", terr)
		}
	}
	s.mail = b.drainOutbox(s.mail)

	s.list.UnsubscribeAll(id)
	s.clock.ClearAlarms(id, "")
	delete(s.wake, id)
	delete(s.agents, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	b.state = Retired
	b.k = nil
	logrus.Debugf("removed agent %s", b)
	return terr
}

// Subscribe adds a registered agent to a topic's mailing list.
func (s *Scheduler) Subscribe(agentID, topic string) error {
	if topic == "" {
		return newError(ErrRouting, "cannot subscribe to an empty topic")
	}
	if _, ok := s.agents[agentID]; !ok {
		return newError(ErrRegistration, "no agent registered under uuid %s", short(agentID))
	}
	s.svcMu.Lock()
	s.list.Subscribe(agentID, topic)
	s.svcMu.Unlock()
	return nil
}

// Unsubscribe removes an agent from a topic's mailing list. Unsubscribing a
// topic that was never subscribed is a no-op.
func (s *Scheduler) Unsubscribe(agentID, topic string) error {
	if topic == "" {
		return newError(ErrRouting, "cannot unsubscribe from an empty topic")
	}
	s.svcMu.Lock()
	s.list.Unsubscribe(agentID, topic)
	s.svcMu.Unlock()
	return nil
}

// Subscribers returns the uuids subscribed to topic, sorted ascending.
func (s *Scheduler) Subscribers(topic string) []string { return s.list.Subscribers(topic) }

// Topics returns the topics the agent subscribes to, sorted ascending.
func (s *Scheduler) Topics(agentID string) []string { return s.list.Topics(agentID) }

// ListAlarms returns pending alarms for owner ("" lists all).
func (s *Scheduler) ListAlarms(owner string) []Alarm { return s.clock.ListAlarms(owner) }

// scheduleAlarm, cancelAlarm and clearAlarms serialise clock mutation for
// agents updating in parallel workers.
func (s *Scheduler) scheduleAlarm(owner string, at float64, payload Message, ignoreIf func() bool) AlarmID {
	s.svcMu.Lock()
	defer s.svcMu.Unlock()
	return s.clock.Schedule(owner, at, payload, ignoreIf)
}

func (s *Scheduler) cancelAlarm(id AlarmID) bool {
	s.svcMu.Lock()
	defer s.svcMu.Unlock()
	return s.clock.Cancel(id)
}

func (s *Scheduler) clearAlarms(owner, topic string) int {
	s.svcMu.Lock()
	defer s.svcMu.Unlock()
	return s.clock.ClearAlarms(owner, topic)
}

// Post injects a system-originated message into the mail queue for delivery
// on the next cycle. The sender may be empty.
func (s *Scheduler) Post(msg Message) error {
	if err := s.validateSend(msg); err != nil {
		return err
	}
	s.mail = append(s.mail, msg)
	return nil
}

// SetClockSpeedAsTimedEvent schedules a clock-speed change at absolute
// virtual time at. The change is a control alarm: when it fires, the clock
// re-anchors its wall/virtual correspondence and adopts the new speed.
func (s *Scheduler) SetClockSpeedAsTimedEvent(at float64, speed Speed) AlarmID {
	m := &speedChange{Note: NewNote("", "", topicSpeedChange), speed: speed}
	return s.clock.Schedule("", at, m, nil)
}

// SetPauseAt schedules a pause of the run at absolute virtual time at.
func (s *Scheduler) SetPauseAt(at float64) AlarmID {
	m := &pauseRequest{Note: NewNote("", "", topicPause)}
	return s.clock.Schedule("", at, m, nil)
}

// SetStopAt schedules a full shutdown (Stop) at absolute virtual time at.
func (s *Scheduler) SetStopAt(at float64) AlarmID {
	m := &stopRequest{Note: NewNote("", "", topicStop)}
	return s.clock.Schedule("", at, m, nil)
}

// RequestClockSpeed asks the scheduler to adopt a new clock speed at the
// start of its next cycle. Safe to call from other goroutines; this is the
// hook for configuration hot-reload.
func (s *Scheduler) RequestClockSpeed(speed Speed) {
	s.ctrlMu.Lock()
	s.pendingSpeeds = append(s.pendingSpeeds, speed)
	s.ctrlMu.Unlock()
}

// Run drives the cycle loop until the first bound in opts fires: virtual
// seconds elapsed, cycles executed, idleness (with PauseIfIdle), or a
// pause/stop control event. All agent state survives the return; a
// subsequent Run resumes. With StrictRouting, the first routing error or
// agent fault aborts the run and is returned.
func (s *Scheduler) Run(opts RunOptions) error {
	if s.running {
		return newError(ErrUnknown, "scheduler is already running")
	}
	if opts.ClockSpeed != nil {
		s.clock.SetSpeed(*opts.ClockSpeed)
	}
	s.running = true
	s.pauseRequested.Store(false)
	s.clock.resume()
	defer func() {
		s.running = false
		s.clock.pause()
	}()

	// The virtual-time bound is itself a timed event: a pause alarm at the
	// deadline. A jumping clock then advances straight to it.
	var deadlineAlarm AlarmID
	if opts.Seconds > 0 {
		deadlineAlarm = s.SetPauseAt(s.clock.Now() + opts.Seconds)
		defer s.clock.Cancel(deadlineAlarm)
	}

	iterations := 0
	for {
		s.applyControls()

		idle, err := s.runCycle()
		if err != nil {
			return err
		}
		iterations++

		if s.stopRequested.Swap(false) {
			return s.Stop()
		}
		if s.pauseRequested.Load() {
			return nil
		}
		if opts.Iterations > 0 && iterations >= opts.Iterations {
			return nil
		}
		if idle {
			if opts.PauseIfIdle {
				return nil
			}
			if s.clock.Jumps() && !s.hasKeepAwake() {
				// Nothing in flight, nothing scheduled, no keep-awake
				// agents and no wall clock to wait on: no event can
				// ever occur again.
				logrus.Debugf("scheduler idle with no pending events after %d cycles, pausing", iterations)
				return nil
			}
			if !s.clock.Jumps() {
				time.Sleep(time.Second / operatingFrequency)
			}
		}
	}
}

// hasKeepAwake reports whether any live agent asked to be activated every
// cycle.
func (s *Scheduler) hasKeepAwake() bool {
	for _, id := range s.order {
		b := s.agents[id].Base()
		if b.state == Live && b.KeepAwake {
			return true
		}
	}
	return false
}

// Stop tears down every live agent in reverse registration order and
// discards the registry, subscriptions, alarms and queued mail.
func (s *Scheduler) Stop() error {
	var first error
	for i := len(s.order) - 1; i >= 0; i-- {
		id := s.order[i]
		ac, ok := s.agents[id]
		if !ok {
			continue
		}
		b := ac.Base()
		if b.state != Live {
			continue
		}
		b.state = TeardownPending
		if err := s.guard(id, "teardown", ac.Teardown); err != nil {
			s.metrics.Faults++
			s.faultLog(id, "teardown", err)
			if first == nil && s.cfg.StrictRouting {
				first = err
			}
		}
		b.state = Retired
		b.k = nil
	}
	s.agents = make(map[string]Actor)
	s.order = nil
	s.list = NewMailingList()
	s.clock.ClearAlarms("", "")
	s.mail = nil
	s.wake = make(map[string]struct{})
	logrus.Debugf("scheduler stopped at t=%v after %d cycles", s.clock.Now(), s.cycle)
	return first
}

// runCycle executes one scheduler cycle:
//
//	collect outboxes → clock advance → fire alarms → flush mail → activate
//
// and reports whether the cycle was idle: no mail, no hot agents, and no
// alarms the clock could still reach (due ones in real-time mode, any
// pending ones on a jumping clock).
func (s *Scheduler) runCycle() (bool, error) {
	s.cycle++
	s.metrics.Cycles++

	// Collect sends made outside activations (Setup, between runs).
	for _, id := range s.order {
		s.mail = s.agents[id].Base().drainOutbox(s.mail)
	}

	// 1. Clock advance. A jumping clock moves only when nothing else can:
	// empty mail queue, empty wake set, alarms pending.
	if s.clock.Jumps() {
		if len(s.mail) == 0 && len(s.wake) == 0 {
			if t, ok := s.clock.NextFireTime(); ok {
				s.clock.JumpTo(t)
			}
		}
	} else {
		s.clock.Advance()
	}
	now := s.clock.Now()

	// 2. Fire due alarms in (fire time, insertion) order.
	for _, al := range s.clock.PopDue(now) {
		if al.IgnoreIf != nil && al.IgnoreIf() {
			s.metrics.AlarmsIgnored++
			logrus.Debugf("[cycle %d] alarm %d for %s ignored by predicate", s.cycle, al.ID, short(al.Owner))
			continue
		}
		if s.handleControl(al.Payload) {
			continue
		}
		s.metrics.AlarmsFired++
		if err := s.route(al.Payload); err != nil {
			return false, err
		}
	}

	// 3. Flush the mail queue through the router. Messages enqueued by
	// deliveries stay put until the next cycle: flush only this batch.
	batch := s.mail
	s.mail = nil
	for _, msg := range batch {
		if err := s.route(msg); err != nil {
			return false, err
		}
	}

	// 4. Activation pass: agents woken by deliveries or alarms, plus
	// keep-awake agents, each exactly once, in registration order.
	hot := make([]string, 0, len(s.wake))
	for _, id := range s.order {
		b := s.agents[id].Base()
		if b.state != Live {
			continue
		}
		if _, woken := s.wake[id]; woken || b.KeepAwake {
			hot = append(hot, id)
		}
	}
	s.wake = make(map[string]struct{})

	var ferr error
	if s.cfg.Workers > 0 && len(hot) > 1 {
		ferr = s.activateParallel(hot)
	} else {
		ferr = s.activateSerial(hot)
	}
	if ferr != nil && s.cfg.StrictRouting {
		return false, ferr
	}

	// Sends from this pass accumulate for the next cycle's flush.
	for _, id := range hot {
		if ac, ok := s.agents[id]; ok {
			s.mail = ac.Base().drainOutbox(s.mail)
		}
	}

	// A jumping clock turns any pending alarm into the next cycle's work,
	// so only a fully drained alarm heap counts as idle there; a real-time
	// clock is idle while alarms are due later than now.
	pending := false
	if t, ok := s.clock.NextFireTime(); ok && (s.clock.Jumps() || t <= now) {
		pending = true
	}
	idle := len(s.mail) == 0 && len(s.wake) == 0 && !pending
	return idle, nil
}

func (s *Scheduler) activateSerial(hot []string) error {
	var first error
	for _, id := range hot {
		ac, ok := s.agents[id]
		if !ok || ac.Base().state != Live {
			continue // removed or retired by an earlier activation
		}
		s.metrics.Activations++
		if err := s.guard(id, "update", ac.Update); err != nil {
			s.fault(id, "update", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// activateParallel runs the activation pass on up to cfg.Workers
// goroutines. Each agent runs in at most one worker; sends land in per-agent
// outboxes and are merged in activation order afterwards, so ordering
// guarantees match the serial pass.
func (s *Scheduler) activateParallel(hot []string) error {
	actors := make([]Actor, len(hot))
	for i, id := range hot {
		if ac, ok := s.agents[id]; ok && ac.Base().state == Live {
			actors[i] = ac
		}
	}

	errs := make([]error, len(hot))
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Workers)
	for i := range hot {
		if actors[i] == nil {
			continue
		}
		i := i
		s.metrics.Activations++
		g.Go(func() error {
			errs[i] = s.guard(hot[i], "update", actors[i].Update)
			return nil
		})
	}
	_ = g.Wait()

	var first error
	for i, id := range hot {
		if errs[i] == nil {
			continue
		}
		s.fault(id, "update", errs[i])
		if first == nil {
			first = errs[i]
		}
	}
	return first
}

// route resolves one message into recipients and delivers it. Routing
// precedence: known agent uuid (unicast plus snoop copies), class tag or
// other subscribed receiver string (multicast), empty receiver (broadcast by
// topic). The first recipient gets the original, every further one an
// independent copy.
func (s *Scheduler) route(msg Message) error {
	s.metrics.MessagesRouted++
	recv := msg.Receiver()
	topic := msg.Topic()

	var recipients []string
	switch {
	case recv != "":
		if _, known := s.agents[recv]; known {
			recipients = append(recipients, recv)
			for _, sub := range s.list.Subscribers(recv) {
				if sub != recv {
					recipients = append(recipients, sub)
				}
			}
		} else if s.list.HasSubscribers(recv) {
			recipients = s.list.Subscribers(recv)
		} else {
			s.metrics.Dropped++
			if s.cfg.StrictRouting {
				return newError(ErrRouting, "unknown receiver %s for topic %q", short(recv), topic)
			}
			logrus.Debugf("[cycle %d] unknown receiver %s for topic %q, message dropped", s.cycle, short(recv), topic)
			return nil
		}
	default:
		recipients = s.list.Subscribers(topic)
		if len(recipients) == 0 {
			s.metrics.Dropped++
			logrus.Debugf("[cycle %d] no subscribers for topic %q, message dropped", s.cycle, topic)
			return nil
		}
	}

	for i, id := range recipients {
		m := msg
		if i > 0 {
			m = msg.Copy()
			s.metrics.Copies++
		}
		s.deliver(id, m)
	}

	if s.tracelog != nil {
		s.tracelog.Record(trace.DeliveryRecord{
			Cycle:      s.cycle,
			Time:       s.clock.Now(),
			Topic:      topic,
			Sender:     msg.Sender(),
			Receiver:   recv,
			Recipients: recipients,
		})
	}
	return nil
}

// deliver appends to the recipient's inbox and marks it hot.
func (s *Scheduler) deliver(id string, msg Message) {
	ac, ok := s.agents[id]
	if !ok {
		s.metrics.Dropped++
		return
	}
	b := ac.Base()
	if b.state != Live && b.state != SetupPending {
		s.metrics.Dropped++
		return
	}
	b.inbox = append(b.inbox, msg)
	s.wake[id] = struct{}{}
	s.metrics.Deliveries++
}

// handleControl intercepts scheduler control payloads carried by alarms.
func (s *Scheduler) handleControl(msg Message) bool {
	switch m := msg.(type) {
	case *speedChange:
		logrus.Infof("[cycle %d] clock speed change to %v at t=%v", s.cycle, m.speed, s.clock.Now())
		s.clock.SetSpeed(m.speed)
		return true
	case *pauseRequest:
		s.pauseRequested.Store(true)
		return true
	case *stopRequest:
		s.stopRequested.Store(true)
		return true
	}
	return false
}

// applyControls drains thread-safe control requests at a cycle boundary.
func (s *Scheduler) applyControls() {
	s.ctrlMu.Lock()
	speeds := s.pendingSpeeds
	s.pendingSpeeds = nil
	s.ctrlMu.Unlock()
	for _, sp := range speeds {
		logrus.Infof("[cycle %d] clock speed change to %v (control request)", s.cycle, sp)
		s.clock.SetSpeed(sp)
	}
}

// validateSend enforces the message contract: non-nil, non-empty topic, and
// (unless Tolerant) a Copy that preserves the concrete type. The copy check
// runs once per dynamic message type and is cached.
func (s *Scheduler) validateSend(msg Message) error {
	if msg == nil {
		return newError(ErrMessageContract, "cannot send a nil message")
	}
	if msg.Topic() == "" {
		return newError(ErrMessageContract, "message of type %T has an empty topic", msg)
	}
	if s.cfg.Tolerant {
		return nil
	}
	t := reflect.TypeOf(msg)
	s.svcMu.Lock()
	defer s.svcMu.Unlock()
	if err, seen := s.copyChecked[t]; seen {
		return err
	}
	var err error
	if cp := msg.Copy(); cp == nil || reflect.TypeOf(cp) != t {
		err = newError(ErrMessageContract,
			"%T.Copy returned %T: embed kernel.Note and implement Copy on the concrete type", msg, cp)
	}
	s.copyChecked[t] = err
	return err
}

// guard runs an agent lifecycle hook, converting error returns and panics
// into agent faults.
func (s *Scheduler) guard(id, phase string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newError(ErrAgentFault, "agent %s panicked during %s: %v", short(id), phase, r)
		}
	}()
	if e := fn(); e != nil {
		return wrapError(ErrAgentFault, e, "agent %s failed during %s", short(id), phase)
	}
	return nil
}

// fault captures an agent fault: the agent is retired (teardown attempted,
// subscriptions and alarms discarded) and the scheduler continues.
func (s *Scheduler) fault(id, phase string, err error) {
	s.metrics.Faults++
	s.faultLog(id, phase, err)

	ac, ok := s.agents[id]
	if !ok {
		return
	}
	b := ac.Base()
	b.state = TeardownPending
	if terr := s.guard(id, "teardown", ac.Teardown); terr != nil {
		s.faultLog(id, "teardown", terr)
	}
	b.state = Retired
	s.list.UnsubscribeAll(id)
	s.clock.ClearAlarms(id, "")
	delete(s.wake, id)
}

// faultLog emits the structured fault line: cycle, virtual time, agent and
// kind.
func (s *Scheduler) faultLog(id, phase string, err error) {
	logrus.WithFields(logrus.Fields{
		"cycle": s.cycle,
		"time":  s.clock.Now(),
		"agent": short(id),
		"phase": phase,
		"kind":  ErrAgentFault.String(),
	}).Errorf("agent fault: %v", err)
}
