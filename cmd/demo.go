// Demo agents for the run command. These live outside the kernel: they are
// ordinary embedders of the kernel API.

package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/agentsim/agentsim/kernel"
)

// Ball is the ping-pong demo message. The players swap sender and receiver
// and flip the topic on every hit.
type Ball struct {
	kernel.Note
	Volley int
}

func (b *Ball) Copy() kernel.Message {
	cp := *b
	cp.Note = b.Note.CopyNote()
	return &cp
}

// Player returns the ball until the rally limit is reached, then smashes.
type Player struct {
	kernel.Agent
	limit   int
	Volleys int
	Outcome string
}

func newPlayer(limit int) *Player {
	return &Player{Agent: kernel.NewAgent("Player"), limit: limit}
}

func (p *Player) Setup() error {
	p.On("ping", p.hit)
	p.On("pong", p.hit)
	p.On("smash", p.lose)
	return nil
}

func (p *Player) hit(msg kernel.Message) {
	ball := msg.(*Ball)
	ball.SetReceiver(ball.Sender())
	ball.SetSender(p.UUID())
	ball.Volley++
	p.Volleys++
	if ball.Volley >= p.limit {
		ball.SetTopic("smash")
		p.Outcome = "won"
	} else if ball.Topic() == "ping" {
		ball.SetTopic("pong")
	} else {
		ball.SetTopic("ping")
	}
	if err := p.Send(ball); err != nil {
		logrus.Warnf("player %s could not return the ball: %v", p.UUID(), err)
	}
}

func (p *Player) lose(kernel.Message) {
	p.Outcome = "beaten"
}

func (p *Player) serve(opponent string) error {
	ball := &Ball{Note: kernel.NewNote(p.UUID(), opponent, "ping")}
	return p.Send(ball)
}

// Scorekeeper subscribes to both player uuids and counts the snoop copies it
// receives — one per delivered ball.
type Scorekeeper struct {
	kernel.Agent
	Seen int
}

func newScorekeeper() *Scorekeeper {
	return &Scorekeeper{Agent: kernel.NewAgent("Scorekeeper")}
}

func (s *Scorekeeper) Update() error {
	for s.Messages() {
		s.Receive()
		s.Seen++
	}
	return nil
}

// Ticker wakes itself on a fixed alarm interval a configured number of
// times. With a jumping clock the whole schedule collapses into as many
// cycles as there are ticks.
type Ticker struct {
	kernel.Agent
	every float64
	left  int
	Ticks int
}

func newTicker(every float64, count int) *Ticker {
	return &Ticker{Agent: kernel.NewAgent("Ticker"), every: every, left: count}
}

func (t *Ticker) Setup() error {
	t.On(kernel.TopicWake, t.tick)
	_, err := t.SetAlarm(t.every, nil)
	return err
}

func (t *Ticker) tick(kernel.Message) {
	t.Ticks++
	t.left--
	logrus.Infof("tick %d at t=%.3f", t.Ticks, t.Now())
	if t.left > 0 {
		if _, err := t.SetAlarm(t.every, nil); err != nil {
			logrus.Warnf("ticker could not re-arm: %v", err)
		}
	}
}

// buildDemo registers the agents of the selected scenario.
func buildDemo(sched *kernel.Scheduler, name string) error {
	switch name {
	case "ping-pong":
		a := newPlayer(rallyLength)
		b := newPlayer(rallyLength)
		keeper := newScorekeeper()
		for _, ac := range []kernel.Actor{a, b, keeper} {
			if err := sched.Add(ac); err != nil {
				return err
			}
		}
		for _, player := range []*Player{a, b} {
			if err := sched.Subscribe(keeper.UUID(), player.UUID()); err != nil {
				return err
			}
		}
		return a.serve(b.UUID())
	case "alarms":
		return sched.Add(newTicker(tickEvery, tickCount))
	default:
		return fmt.Errorf("unknown demo %q (want ping-pong or alarms)", name)
	}
}
