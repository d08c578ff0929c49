package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_AddAssignsUUIDAndAutoSubscribes(t *testing.T) {
	s := New(Config{})
	a := newProbe("Worker")

	require.NoError(t, s.Add(a))

	assert.NotEmpty(t, a.UUID(), "Add must assign a uuid")
	assert.Equal(t, 1, a.setups, "Setup must run exactly once")
	assert.Equal(t, Live, a.State())
	assert.Contains(t, s.Topics(a.UUID()), a.UUID(), "auto-subscription to own uuid")
	assert.Contains(t, s.Topics(a.UUID()), "Worker", "auto-subscription to class tag")
}

func TestScheduler_DuplicateUUIDRejected(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Add(newProbeWithUUID("A", "fixed")))

	err := s.Add(newProbeWithUUID("A", "fixed"))
	require.Error(t, err)
	assert.True(t, HasKind(err, ErrRegistration))
}

func TestScheduler_DoubleAddRejected(t *testing.T) {
	s := New(Config{})
	a := newProbe("A")
	require.NoError(t, s.Add(a))

	err := s.Add(a)
	assert.True(t, HasKind(err, ErrRegistration))
}

func TestScheduler_RemoveTearsDownAndForgets(t *testing.T) {
	// GIVEN a registered agent with a subscription and a pending alarm
	s := New(Config{})
	a := newProbe("A")
	require.NoError(t, s.Add(a))
	require.NoError(t, a.Subscribe("news"))
	_, err := a.SetAlarm(10, nil)
	require.NoError(t, err)
	id := a.UUID()

	// WHEN it is removed
	require.NoError(t, s.Remove(a))

	// THEN teardown ran, and subscriptions, alarms and registry entry are gone
	assert.Equal(t, 1, a.teardowns)
	assert.Equal(t, Retired, a.State())
	assert.Empty(t, s.Topics(id))
	assert.Empty(t, s.ListAlarms(id))
	_, ok := s.Agent(id)
	assert.False(t, ok)
}

func TestScheduler_PingPong(t *testing.T) {
	// GIVEN player A, whose setup serves a ping to B, and player B, who
	// returns every ping as a pong
	s := New(Config{})
	a := newProbe("Player")
	b := newProbe("Player")
	require.NoError(t, s.Add(b))
	replied := 0
	b.onUpdate = func(p *probe) error {
		for _, m := range p.got[replied:] {
			replied++
			return p.Send(&ping{Note: NewNote(p.UUID(), m.Sender(), "hi"), Text: "pong"})
		}
		return nil
	}
	a.onSetup = func(p *probe) error {
		return p.Send(newPing(p.UUID(), b.UUID(), "hi"))
	}
	require.NoError(t, s.Add(a))

	// WHEN the scheduler runs 4 iterations
	require.NoError(t, s.Run(RunOptions{Iterations: 4}))

	// THEN each side received exactly one message and time never moved
	require.Len(t, b.got, 1)
	assert.Equal(t, "hi", b.got[0].(*ping).Text)
	require.Len(t, a.got, 1)
	assert.Equal(t, "pong", a.got[0].(*ping).Text)
	assert.Equal(t, 0.0, s.Now(), "no alarms: virtual time must not move")
}

func TestScheduler_NoIntraCycleDelivery(t *testing.T) {
	// GIVEN a sender that emits during its update and a subscribed receiver
	s := New(Config{})
	sender := newProbe("Sender")
	receiver := newProbe("Receiver")
	require.NoError(t, s.Add(sender))
	require.NoError(t, s.Add(receiver))
	require.NoError(t, s.Subscribe(receiver.UUID(), "news"))

	sender.KeepAwake = true
	sent := false
	sender.onUpdate = func(p *probe) error {
		if !sent {
			sent = true
			return p.Send(newTopicMsg(p.UUID(), "news"))
		}
		return nil
	}

	// WHEN exactly one cycle runs after the send
	require.NoError(t, s.Run(RunOptions{Iterations: 1}))

	// THEN the message is in no inbox yet
	assert.Empty(t, receiver.got, "message sent in cycle c must not be visible in cycle c")
	assert.False(t, receiver.Messages())

	// AND it arrives in the following cycle
	require.NoError(t, s.Run(RunOptions{Iterations: 1}))
	assert.Len(t, receiver.got, 1)
}

func TestScheduler_BroadcastFanOut(t *testing.T) {
	// GIVEN three subscribers of topic T, a sender and a bystander
	s := New(Config{})
	subs := []*probe{newProbe("Sub"), newProbe("Sub"), newProbe("Sub")}
	sender := newProbe("Sender")
	bystander := newProbe("Bystander")
	for _, p := range subs {
		require.NoError(t, s.Add(p))
		require.NoError(t, p.Subscribe("T"))
	}
	require.NoError(t, s.Add(sender))
	require.NoError(t, s.Add(bystander))

	// WHEN the sender broadcasts one message on T
	require.NoError(t, sender.Send(newTopicMsg(sender.UUID(), "T")))
	require.NoError(t, s.Run(RunOptions{Iterations: 1}))

	// THEN each subscriber has exactly one message; sender and bystander none
	for i, p := range subs {
		assert.Len(t, p.got, 1, "subscriber %d", i)
	}
	assert.Empty(t, sender.got)
	assert.Empty(t, bystander.got)
	assert.Equal(t, uint64(3), s.Metrics().Deliveries, "exactly n inbox enqueues for n subscribers")
}

func TestScheduler_DirectDeliveryWithSnoopCopies(t *testing.T) {
	// GIVEN B, and a snooper subscribed to B's uuid
	s := New(Config{})
	a := newProbeWithUUID("A", "aaa")
	b := newProbeWithUUID("B", "bbb")
	snoop := newProbeWithUUID("Snoop", "sss")
	for _, p := range []*probe{a, b, snoop} {
		require.NoError(t, s.Add(p))
	}
	require.NoError(t, snoop.Subscribe("bbb"))

	// Prime the per-type copy-contract cache so fan-out copies can be
	// counted exactly.
	copies := 0
	primer := &countingMsg{Note: NewNote("aaa", "bbb", "count"), Copies: &copies}
	require.NoError(t, a.Send(primer))
	require.NoError(t, s.Run(RunOptions{Iterations: 1}))
	copies = 0

	// WHEN A unicasts to B
	msg := &countingMsg{Note: NewNote("aaa", "bbb", "count"), Copies: &copies}
	require.NoError(t, a.Send(msg))
	require.NoError(t, s.Run(RunOptions{Iterations: 1}))

	// THEN B received the original instance and the snooper an independent copy
	require.Len(t, b.got, 2) // primer + msg
	assert.Same(t, msg, b.got[1], "addressed agent must receive the original")
	require.Len(t, snoop.got, 2)
	assert.NotSame(t, msg, snoop.got[1])
	assert.Equal(t, 1, copies, "exactly one Copy per extra recipient")
}

func TestScheduler_ClassTagMulticast(t *testing.T) {
	// GIVEN two agents sharing class tag Worker
	s := New(Config{})
	w1 := newProbeWithUUID("Worker", "w1")
	w2 := newProbeWithUUID("Worker", "w2")
	boss := newProbeWithUUID("Boss", "boss")
	for _, p := range []*probe{w1, w2, boss} {
		require.NoError(t, s.Add(p))
	}

	// WHEN the boss posts to the class tag
	msg := newPing("boss", "Worker", "all hands")
	require.NoError(t, boss.Send(msg))
	require.NoError(t, s.Run(RunOptions{Iterations: 1}))

	// THEN both workers hold one message each; the copy equals the original
	// in content but is a distinct instance
	require.Len(t, w1.got, 1)
	require.Len(t, w2.got, 1)
	first := w1.got[0].(*ping)
	second := w2.got[0].(*ping)
	assert.Same(t, msg, w1.got[0], "first recipient in uuid order gets the original")
	assert.NotSame(t, w1.got[0], w2.got[0])
	assert.Equal(t, first.Text, second.Text)
	assert.NotEqual(t, first.UUID(), second.UUID(), "copies carry their own identity")
}

func TestScheduler_UnknownReceiverDroppedByDefault(t *testing.T) {
	s := New(Config{})
	a := newProbe("A")
	require.NoError(t, s.Add(a))

	require.NoError(t, a.Send(newPing(a.UUID(), "nobody-home", "hi")))
	require.NoError(t, s.Run(RunOptions{Iterations: 1}))

	assert.Equal(t, uint64(1), s.Metrics().Dropped)
}

func TestScheduler_UnknownReceiverErrorsInStrictMode(t *testing.T) {
	s := New(Config{StrictRouting: true})
	a := newProbe("A")
	require.NoError(t, s.Add(a))

	require.NoError(t, a.Send(newPing(a.UUID(), "nobody-home", "hi")))
	err := s.Run(RunOptions{Iterations: 1})
	require.Error(t, err)
	assert.True(t, HasKind(err, ErrRouting))
}

func TestScheduler_AlarmInSimulatedTime(t *testing.T) {
	// GIVEN a simulated clock at 0 and an agent whose setup books an alarm
	// 5 seconds out
	s := New(Config{})
	a := newProbe("A")
	a.onSetup = func(p *probe) error {
		_, err := p.SetAlarm(5.0, nil)
		return err
	}
	require.NoError(t, s.Add(a))

	// WHEN one iteration runs
	require.NoError(t, s.Run(RunOptions{Iterations: 1}))

	// THEN the clock jumped to the alarm and the payload was delivered
	assert.Equal(t, 5.0, s.Now())
	require.Len(t, a.got, 1)
	assert.Equal(t, TopicWake, a.got[0].Topic())
}

func TestScheduler_RunDrainsAllAlarmsThenIdles(t *testing.T) {
	// GIVEN alarms at 1, 1.5 and 3 on a simulated clock
	s := New(Config{})
	a := newProbe("A")
	require.NoError(t, s.Add(a))
	for _, at := range []float64{1, 1.5, 3} {
		_, err := a.SetAlarm(at, nil)
		require.NoError(t, err)
	}

	// WHEN the scheduler runs until idle
	require.NoError(t, s.Run(RunOptions{PauseIfIdle: true}))

	// THEN time advanced through every alarm
	assert.Equal(t, 3.0, s.Now())
	assert.Empty(t, s.ListAlarms(a.UUID()))
	assert.Len(t, a.got, 3)
}

func TestScheduler_SecondsBoundStopsShortOfLaterAlarms(t *testing.T) {
	// GIVEN alarms at 1 and 3 on a simulated clock
	s := New(Config{})
	a := newProbe("A")
	require.NoError(t, s.Add(a))
	_, err := a.SetAlarm(1, nil)
	require.NoError(t, err)
	_, err = a.SetAlarm(3, nil)
	require.NoError(t, err)

	// WHEN the run is bounded to 2 virtual seconds
	require.NoError(t, s.Run(RunOptions{Seconds: 2}))

	// THEN time stopped exactly at the bound and the later alarm is pending
	assert.Equal(t, 2.0, s.Now())
	require.Len(t, s.ListAlarms(a.UUID()), 1)
	assert.Equal(t, 3.0, s.ListAlarms(a.UUID())[0].FireTime)
	assert.Len(t, a.got, 1)

	// AND a later unbounded run resumes and finishes the schedule
	require.NoError(t, s.Run(RunOptions{PauseIfIdle: true}))
	assert.Equal(t, 3.0, s.Now())
	assert.Len(t, a.got, 2)
}

func TestScheduler_IgnorePredicateDiscardsAlarm(t *testing.T) {
	// GIVEN one alarm whose predicate says "skip" and one unconditional
	s := New(Config{})
	a := newProbe("A")
	require.NoError(t, s.Add(a))
	_, err := a.SetAlarmIf(1, nil, func() bool { return true })
	require.NoError(t, err)
	_, err = a.SetAlarm(2, nil)
	require.NoError(t, err)

	require.NoError(t, s.Run(RunOptions{PauseIfIdle: true}))

	// THEN only the unconditional alarm delivered
	assert.Len(t, a.got, 1)
	assert.Equal(t, uint64(1), s.Metrics().AlarmsIgnored)
	assert.Equal(t, 2.0, s.Now())
}

func TestScheduler_PauseIfIdleReturnsPromptly(t *testing.T) {
	s := New(Config{})
	a := newProbe("A")
	require.NoError(t, s.Add(a))

	require.NoError(t, s.Run(RunOptions{PauseIfIdle: true}))

	assert.LessOrEqual(t, s.Metrics().Cycles, uint64(1), "idle run must end within one cycle")
}

func TestScheduler_KeepAwakeActivatesEveryCycleAndPauseStops(t *testing.T) {
	// GIVEN a keep-awake agent that pauses the scheduler on its third update
	s := New(Config{})
	a := newProbe("A")
	a.KeepAwake = true
	a.onUpdate = func(p *probe) error {
		if p.updates == 3 {
			p.Pause()
		}
		return nil
	}
	require.NoError(t, s.Add(a))

	require.NoError(t, s.Run(RunOptions{}))

	assert.Equal(t, 3, a.updates)
}

func TestScheduler_TimedClockSpeedChange(t *testing.T) {
	// GIVEN a real-time clock in jump mode with a speed change booked at t=3
	s := New(Config{RealTime: true, ClockSpeed: Jump})
	a := newProbe("A")
	require.NoError(t, s.Add(a))
	_, err := a.SetAlarm(3, nil)
	require.NoError(t, err)
	s.SetClockSpeedAsTimedEvent(3, Speed(2))

	// WHEN one iteration runs
	require.NoError(t, s.Run(RunOptions{Iterations: 1}))

	// THEN the jump reached t=3, the control alarm re-anchored the clock at
	// the new speed, and the agent's own alarm still delivered
	assert.Equal(t, 3.0, s.Now())
	assert.Equal(t, Speed(2), s.Clock().Speed())
	assert.Len(t, a.got, 1)
}

func TestScheduler_SetStopAtTearsDownEverything(t *testing.T) {
	s := New(Config{})
	a := newProbe("A")
	b := newProbe("B")
	require.NoError(t, s.Add(a))
	require.NoError(t, s.Add(b))
	s.SetStopAt(10)

	require.NoError(t, s.Run(RunOptions{}))

	assert.Equal(t, 1, a.teardowns)
	assert.Equal(t, 1, b.teardowns)
	assert.Empty(t, s.AgentIDs())
}

func TestScheduler_StopTearsDownInReverseRegistrationOrder(t *testing.T) {
	// GIVEN three agents recording their teardown order
	s := New(Config{})
	var order []string
	for _, uuid := range []string{"first", "second", "third"} {
		p := newProbeWithUUID("A", uuid)
		p.onTeardown = func(p *probe) { order = append(order, p.UUID()) }
		require.NoError(t, s.Add(p))
	}

	require.NoError(t, s.Stop())

	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestScheduler_AgentFaultIsCapturedAndAgentRetired(t *testing.T) {
	// GIVEN one faulty agent and one healthy keep-awake agent
	s := New(Config{})
	faulty := newProbe("Faulty")
	faulty.KeepAwake = true
	faulty.onUpdate = func(p *probe) error {
		panic("boom")
	}
	healthy := newProbe("Healthy")
	healthy.KeepAwake = true
	require.NoError(t, s.Add(faulty))
	require.NoError(t, s.Add(healthy))

	// WHEN two cycles run
	require.NoError(t, s.Run(RunOptions{Iterations: 2}))

	// THEN the fault was captured, the agent retired with teardown, and the
	// scheduler kept running the healthy agent
	assert.Equal(t, Retired, faulty.State())
	assert.Equal(t, 1, faulty.teardowns)
	assert.Equal(t, 1, faulty.updates, "retired agents are not activated again")
	assert.Equal(t, 2, healthy.updates)
	assert.Equal(t, uint64(1), s.Metrics().Faults)
	assert.Empty(t, s.Topics(faulty.UUID()))
}

func TestScheduler_AgentFaultAbortsRunInStrictMode(t *testing.T) {
	s := New(Config{StrictRouting: true})
	faulty := newProbe("Faulty")
	faulty.KeepAwake = true
	faulty.onUpdate = func(p *probe) error {
		panic("boom")
	}
	require.NoError(t, s.Add(faulty))

	err := s.Run(RunOptions{Iterations: 1})
	require.Error(t, err)
	assert.True(t, HasKind(err, ErrAgentFault))
}

func TestScheduler_SetupFaultReportedFromAdd(t *testing.T) {
	s := New(Config{})
	bad := newProbe("Bad")
	bad.onSetup = func(p *probe) error {
		panic("no thanks")
	}

	err := s.Add(bad)
	require.Error(t, err)
	assert.True(t, HasKind(err, ErrAgentFault))
}
