package kernel

// Shared test agents and messages. probe is the general-purpose agent with
// injectable hooks; relay is hook-free so it stays serialisable for
// parallel-mode tests.

type ping struct {
	Note
	Text string
}

func (m *ping) Copy() Message {
	cp := *m
	cp.Note = m.Note.CopyNote()
	return &cp
}

func newPing(sender, receiver, text string) *ping {
	return &ping{Note: NewNote(sender, receiver, "ping"), Text: text}
}

// topicMsg is a broadcast message with a caller-chosen topic.
type topicMsg struct {
	Note
}

func (m *topicMsg) Copy() Message {
	cp := *m
	cp.Note = m.Note.CopyNote()
	return &cp
}

func newTopicMsg(sender, topic string) *topicMsg {
	return &topicMsg{Note: NewNote(sender, "", topic)}
}

// slicedMsg embeds Note without implementing Copy: Copy returns a bare
// *Note, which the send-time contract check must reject.
type slicedMsg struct {
	Note
	Payload string
}

// countingMsg counts Copy calls through a shared counter.
type countingMsg struct {
	Note
	Copies *int
}

func (m *countingMsg) Copy() Message {
	*m.Copies++
	cp := *m
	cp.Note = m.Note.CopyNote()
	return &cp
}

// probe records lifecycle calls and stores everything it receives.
type probe struct {
	Agent
	setups    int
	updates   int
	teardowns int
	got       []Message

	onSetup    func(p *probe) error
	onUpdate   func(p *probe) error
	onTeardown func(p *probe)
}

func newProbe(tag string) *probe {
	return &probe{Agent: NewAgent(tag)}
}

func newProbeWithUUID(tag, uuid string) *probe {
	return &probe{Agent: NewAgentWithUUID(tag, uuid)}
}

func (p *probe) Setup() error {
	p.setups++
	if p.onSetup != nil {
		return p.onSetup(p)
	}
	return nil
}

func (p *probe) Update() error {
	p.updates++
	for p.Messages() {
		p.got = append(p.got, p.Receive())
	}
	if p.onUpdate != nil {
		return p.onUpdate(p)
	}
	return nil
}

func (p *probe) Teardown() error {
	p.teardowns++
	if p.onTeardown != nil {
		p.onTeardown(p)
	}
	return nil
}

// relay forwards every received ping to a fixed next hop, up to a hop
// budget. No function fields, so it passes the parallel-mode
// serialisability check.
type relay struct {
	Agent
	Next    string
	Budget  int
	Relayed int
}

func newRelay(uuid, next string, budget int) *relay {
	return &relay{Agent: NewAgentWithUUID("Relay", uuid), Next: next, Budget: budget}
}

func (r *relay) Update() error {
	for r.Messages() {
		msg := r.Receive()
		if r.Relayed >= r.Budget {
			continue
		}
		r.Relayed++
		fwd := newPing(r.UUID(), r.Next, msg.(*ping).Text)
		if err := r.Send(fwd); err != nil {
			return err
		}
	}
	return nil
}
