package kernel

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Lifecycle is the registration state of an agent.
type Lifecycle int

const (
	// Unregistered: not yet added to a scheduler.
	Unregistered Lifecycle = iota
	// SetupPending: added, Setup not yet run.
	SetupPending
	// Live: Setup completed; the agent is activatable.
	Live
	// TeardownPending: removal or shutdown in progress.
	TeardownPending
	// Retired: torn down, or faulted and withdrawn from activation.
	Retired
)

func (s Lifecycle) String() string {
	switch s {
	case SetupPending:
		return "setup_pending"
	case Live:
		return "live"
	case TeardownPending:
		return "teardown_pending"
	case Retired:
		return "retired"
	default:
		return "unregistered"
	}
}

// Handler reacts to one inbox message.
type Handler func(Message)

// Actor is the contract the scheduler drives. Concrete agents embed Agent,
// which provides Base and default lifecycle hooks (no-op Setup and Teardown,
// an Update that dispatches the inbox), and override the hooks they need:
//
//	type Player struct {
//	    kernel.Agent
//	}
//
//	func (p *Player) Setup() error {
//	    p.On("ball", p.hit)
//	    return p.Subscribe("match-events")
//	}
//
// Setup runs once at registration. Update runs whenever the agent is hot:
// non-empty inbox, a fired alarm, or KeepAwake. Teardown runs at removal or
// scheduler shutdown.
type Actor interface {
	Base() *Agent
	Setup() error
	Update() error
	Teardown() error
}

// Agent is the embeddable base carrying the kernel-maintained state: uuid,
// class tag, inbox, handler table and the capability handle to the owning
// scheduler. All sends, subscriptions and alarms go through this handle;
// agents never touch the scheduler's internals directly.
type Agent struct {
	// KeepAwake activates the agent every cycle, inbox or not.
	KeepAwake bool

	uuid     string
	classTag string
	inbox    []Message
	outbox   []Message
	ops      map[string]Handler
	state    Lifecycle
	k        *Scheduler
}

// NewAgent creates an agent base with the given class tag. The uuid is
// assigned at registration unless set with NewAgentWithUUID. The class tag
// is the multicast address shared by all agents of the same kind; it must
// not collide with an agent uuid.
func NewAgent(classTag string) Agent {
	return Agent{
		classTag: classTag,
		ops:      make(map[string]Handler),
	}
}

// NewAgentWithUUID creates an agent base with a caller-chosen uuid, which
// must be unique per scheduler. Intended for tests and inspection.
func NewAgentWithUUID(classTag, uuid string) Agent {
	a := NewAgent(classTag)
	a.uuid = uuid
	return a
}

// Base returns the embedded kernel state; it makes any embedding struct an
// Actor once the lifecycle hooks resolve.
func (a *Agent) Base() *Agent { return a }

// Setup is the default no-op lifecycle hook.
func (a *Agent) Setup() error { return nil }

// Update is the default activation body: drain the inbox through the
// handler table.
func (a *Agent) Update() error {
	a.Dispatch()
	return nil
}

// Teardown is the default no-op lifecycle hook.
func (a *Agent) Teardown() error { return nil }

// UUID returns the agent's stable identity ("" before registration if none
// was chosen).
func (a *Agent) UUID() string { return a.uuid }

// ClassTag returns the multicast tag declared for this agent type.
func (a *Agent) ClassTag() string { return a.classTag }

// State returns the lifecycle state.
func (a *Agent) State() Lifecycle { return a.state }

// On registers a handler for a topic. Later registrations replace earlier
// ones; a nil handler removes the entry.
func (a *Agent) On(topic string, fn Handler) {
	if a.ops == nil {
		a.ops = make(map[string]Handler)
	}
	if fn == nil {
		delete(a.ops, topic)
		return
	}
	a.ops[topic] = fn
}

// Dispatch drains the inbox through the handler table. Messages without a
// registered handler are dropped with a debug log line.
func (a *Agent) Dispatch() {
	for a.Messages() {
		msg := a.Receive()
		if fn, ok := a.ops[msg.Topic()]; ok {
			fn(msg)
		} else {
			logrus.Debugf("agent %s: no handler for topic %q, message dropped", short(a.uuid), msg.Topic())
		}
	}
}

// Messages reports whether the inbox is non-empty.
func (a *Agent) Messages() bool { return len(a.inbox) > 0 }

// Receive pops the oldest inbox message, or nil if the inbox is empty.
func (a *Agent) Receive() Message {
	if len(a.inbox) == 0 {
		return nil
	}
	msg := a.inbox[0]
	a.inbox = a.inbox[1:]
	return msg
}

// Send enqueues a message for delivery in the next cycle. An empty sender is
// filled in with this agent's uuid. The message is validated against the
// copy contract before it is accepted.
func (a *Agent) Send(msg Message) error {
	k, err := a.handle()
	if err != nil {
		return err
	}
	if err := k.validateSend(msg); err != nil {
		return err
	}
	if msg.Sender() == "" {
		if n, ok := msg.(interface{ SetSender(string) }); ok {
			n.SetSender(a.uuid)
		}
	}
	a.outbox = append(a.outbox, msg)
	return nil
}

// Subscribe adds this agent to the topic's mailing list. Subscribing to an
// agent uuid delivers a copy of every unicast message addressed to it.
func (a *Agent) Subscribe(topic string) error {
	k, err := a.handle()
	if err != nil {
		return err
	}
	return k.Subscribe(a.uuid, topic)
}

// Unsubscribe removes this agent from the topic's mailing list.
func (a *Agent) Unsubscribe(topic string) error {
	k, err := a.handle()
	if err != nil {
		return err
	}
	return k.Unsubscribe(a.uuid, topic)
}

// UnsubscribeAll drops every subscription held by this agent, including the
// automatic uuid and class-tag entries.
func (a *Agent) UnsubscribeAll() error {
	k, err := a.handle()
	if err != nil {
		return err
	}
	k.list.UnsubscribeAll(a.uuid)
	return nil
}

// Subscriptions returns the topics this agent currently listens for.
func (a *Agent) Subscriptions() []string {
	if a.k == nil {
		return nil
	}
	return a.k.list.Topics(a.uuid)
}

// Now returns the scheduler's current virtual time.
func (a *Agent) Now() float64 {
	if a.k == nil {
		return 0
	}
	return a.k.Now()
}

// SetAlarm schedules a wake-up delay seconds from now. A nil payload
// delivers a bare wake Note. Negative delays are rejected.
func (a *Agent) SetAlarm(delay float64, payload Message) (AlarmID, error) {
	return a.SetAlarmIf(delay, payload, nil)
}

// SetAlarmIf schedules a wake-up delay seconds from now with an ignore
// predicate: if ignoreIf returns true at fire time the alarm is discarded
// without delivering its payload. Used for conditional reminders.
func (a *Agent) SetAlarmIf(delay float64, payload Message, ignoreIf func() bool) (AlarmID, error) {
	k, err := a.handle()
	if err != nil {
		return 0, err
	}
	if delay < 0 {
		return 0, newError(ErrClock, "negative alarm delay %v", delay)
	}
	return k.scheduleAlarm(a.uuid, k.Now()+delay, payload, ignoreIf), nil
}

// SetAlarmAt schedules a wake-up at an absolute virtual time. Times in the
// past fire on the next cycle.
func (a *Agent) SetAlarmAt(t float64, payload Message) (AlarmID, error) {
	k, err := a.handle()
	if err != nil {
		return 0, err
	}
	return k.scheduleAlarm(a.uuid, t, payload, nil), nil
}

// CancelAlarm removes a pending alarm by id.
func (a *Agent) CancelAlarm(id AlarmID) bool {
	if a.k == nil {
		return false
	}
	return a.k.cancelAlarm(id)
}

// ListAlarms returns this agent's pending alarms sorted by fire time.
// Intended for cooperative deduplication: don't set another alarm if one is
// already pending.
func (a *Agent) ListAlarms() []Alarm {
	if a.k == nil {
		return nil
	}
	return a.k.clock.ListAlarms(a.uuid)
}

// ClearAlarms discards all pending alarms owned by this agent, optionally
// restricted to payloads with the given topic ("" matches any).
func (a *Agent) ClearAlarms(topic string) int {
	if a.k == nil {
		return 0
	}
	return a.k.clearAlarms(a.uuid, topic)
}

// Pause asks the scheduler to pause after the current cycle; Run returns and
// a later Run resumes where it left off.
func (a *Agent) Pause() {
	if a.k != nil {
		a.k.pauseRequested.Store(true)
	}
}

func (a *Agent) String() string {
	return fmt.Sprintf("<%s %s>", a.classTag, short(a.uuid))
}

func (a *Agent) handle() (*Scheduler, error) {
	if a.k == nil {
		return nil, newError(ErrRegistration, "agent %q is not registered with a scheduler", a.classTag)
	}
	return a.k, nil
}

// drainOutbox moves accumulated sends to the scheduler's mail queue,
// preserving append order.
func (a *Agent) drainOutbox(mail []Message) []Message {
	if len(a.outbox) == 0 {
		return mail
	}
	mail = append(mail, a.outbox...)
	a.outbox = a.outbox[:0]
	return mail
}
