package kernel

import (
	"fmt"

	"github.com/google/uuid"
)

// Message is the envelope contract for everything exchanged between agents.
//
// Receiver selects the routing rule: a known agent uuid is unicast, a class
// tag multicasts to every agent declaring that tag, and the empty string
// broadcasts to all subscribers of Topic. Copy must return a semantically
// independent duplicate; the router calls it once per extra recipient during
// fan-out, so a shared payload must not leak mutable state between copies.
type Message interface {
	Sender() string
	Receiver() string
	Topic() string
	Copy() Message
}

// Note is the embeddable base envelope. Concrete message types embed Note,
// set sender/receiver/topic through it, and implement Copy returning their
// own type:
//
//	type Ping struct {
//	    kernel.Note
//	    Text string
//	}
//
//	func (p *Ping) Copy() kernel.Message {
//	    cp := *p
//	    cp.Note = p.Note.CopyNote()
//	    return &cp
//	}
//
// A type that embeds Note but does not implement Copy inherits Note's Copy,
// which returns a bare *Note and slices off the outer type. Strict-mode
// sends detect exactly that and reject the message.
type Note struct {
	sender   string
	receiver string
	topic    string
	uuid     string
}

// NewNote creates a base envelope. An empty sender is filled in by
// Agent.Send with the sending agent's uuid. An empty receiver means
// broadcast by topic.
func NewNote(sender, receiver, topic string) Note {
	return Note{
		sender:   sender,
		receiver: receiver,
		topic:    topic,
		uuid:     uuid.NewString(),
	}
}

// Sender returns the uuid of the sending agent ("" for system-originated).
func (n *Note) Sender() string { return n.sender }

// SetSender overwrites the sender uuid.
func (n *Note) SetSender(id string) { n.sender = id }

// Receiver returns the destination: an agent uuid, a class tag, or "" for
// broadcast.
func (n *Note) Receiver() string { return n.receiver }

// SetReceiver overwrites the receiver.
func (n *Note) SetReceiver(id string) { n.receiver = id }

// Topic returns the routing key.
func (n *Note) Topic() string { return n.topic }

// SetTopic overwrites the routing key.
func (n *Note) SetTopic(topic string) { n.topic = topic }

// UUID returns the per-instance message identity.
func (n *Note) UUID() string { return n.uuid }

// Copy returns an independent duplicate of the bare envelope with a fresh
// identity. Concrete message types must shadow this method; see the Note
// type comment.
func (n *Note) Copy() Message {
	cp := n.CopyNote()
	return &cp
}

// CopyNote duplicates the envelope with a fresh uuid. Intended for use
// inside Copy implementations of embedding types.
func (n *Note) CopyNote() Note {
	cp := *n
	cp.uuid = uuid.NewString()
	return cp
}

func (n *Note) String() string {
	return fmt.Sprintf("<%s %s→%s %s>", n.topic, short(n.sender), short(n.receiver), short(n.uuid))
}

// short trims a uuid to its tail for log lines.
func short(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	if id == "" {
		return "*"
	}
	return id
}

// TopicWake is the topic of the default alarm payload: agents that set an
// alarm without a payload receive a bare wake Note with this topic.
const TopicWake = "wake"

// wakeNote builds the default alarm payload addressed back to the owner.
func wakeNote(owner string) Message {
	n := NewNote(owner, owner, TopicWake)
	return &n
}

// Control payloads are scheduled as timed events by the scheduler itself and
// intercepted at alarm-fire time; they never reach agent inboxes.

const (
	topicSpeedChange = "kernel.speed-change"
	topicPause       = "kernel.pause"
	topicStop        = "kernel.stop"
)

type speedChange struct {
	Note
	speed Speed
}

func (m *speedChange) Copy() Message {
	cp := *m
	cp.Note = m.Note.CopyNote()
	return &cp
}

type pauseRequest struct {
	Note
}

func (m *pauseRequest) Copy() Message {
	cp := *m
	cp.Note = m.Note.CopyNote()
	return &cp
}

type stopRequest struct {
	Note
}

func (m *stopRequest) Copy() Message {
	cp := *m
	cp.Note = m.Note.CopyNote()
	return &cp
}
