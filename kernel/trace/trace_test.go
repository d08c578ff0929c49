package trace

import "testing"

func rec(cycle uint64, time float64, topic string, recipients ...string) DeliveryRecord {
	return DeliveryRecord{Cycle: cycle, Time: time, Topic: topic, Sender: "s", Recipients: recipients}
}

func TestEqual_IdenticalLogs(t *testing.T) {
	a := NewCycleLog()
	b := NewCycleLog()
	a.Record(rec(1, 0, "ping", "x"))
	a.Record(rec(2, 5, "pong", "y", "z"))
	b.Record(rec(1, 0, "ping", "x2")) // recipient ids differ across runs by design
	b.Record(rec(2, 5, "pong", "y2", "z2"))

	if !Equal(a, b) {
		t.Error("Equal: identical shapes reported different")
	}
}

func TestEqual_DetectsDivergence(t *testing.T) {
	base := NewCycleLog()
	base.Record(rec(1, 0, "ping", "x"))

	diffTopic := NewCycleLog()
	diffTopic.Record(rec(1, 0, "pong", "x"))
	if Equal(base, diffTopic) {
		t.Error("Equal: missed topic divergence")
	}

	diffTime := NewCycleLog()
	diffTime.Record(rec(1, 3, "ping", "x"))
	if Equal(base, diffTime) {
		t.Error("Equal: missed time divergence")
	}

	diffFanout := NewCycleLog()
	diffFanout.Record(rec(1, 0, "ping", "x", "y"))
	if Equal(base, diffFanout) {
		t.Error("Equal: missed fan-out divergence")
	}

	diffLen := NewCycleLog()
	if Equal(base, diffLen) {
		t.Error("Equal: missed length divergence")
	}
}

func TestSummarize(t *testing.T) {
	l := NewCycleLog()
	l.Record(rec(1, 0, "ping", "a"))
	l.Record(rec(1, 0, "ping", "b", "c"))
	l.Record(rec(2, 5, "pong", "a"))
	l.Records[2].Sender = "other"

	s := Summarize(l)
	if s.TotalMessages != 3 {
		t.Errorf("TotalMessages: got %d, want 3", s.TotalMessages)
	}
	if s.TotalDeliveries != 4 {
		t.Errorf("TotalDeliveries: got %d, want 4", s.TotalDeliveries)
	}
	if s.PerTopic["ping"] != 2 || s.PerTopic["pong"] != 1 {
		t.Errorf("PerTopic: got %v", s.PerTopic)
	}
	if s.PerCycle[1] != 2 || s.PerCycle[2] != 1 {
		t.Errorf("PerCycle: got %v", s.PerCycle)
	}
	if s.UniqueSenders != 2 {
		t.Errorf("UniqueSenders: got %d, want 2", s.UniqueSenders)
	}
}

func TestSummarize_NilLog(t *testing.T) {
	s := Summarize(nil)
	if s.TotalMessages != 0 || s.TotalDeliveries != 0 {
		t.Errorf("nil log summary: got %+v", s)
	}
}
