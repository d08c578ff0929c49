package trace

// Summary aggregates statistics from a CycleLog.
type Summary struct {
	TotalDeliveries int
	TotalMessages   int
	PerTopic        map[string]int // topic → messages routed
	PerCycle        map[uint64]int // cycle → messages routed
	UniqueSenders   int
}

// Summarize computes aggregate statistics from a CycleLog. Safe for nil or
// empty logs (returns zero-value fields).
func Summarize(l *CycleLog) *Summary {
	s := &Summary{
		PerTopic: make(map[string]int),
		PerCycle: make(map[uint64]int),
	}
	if l == nil {
		return s
	}

	senders := make(map[string]struct{})
	for _, r := range l.Records {
		s.TotalMessages++
		s.TotalDeliveries += len(r.Recipients)
		s.PerTopic[r.Topic]++
		s.PerCycle[r.Cycle]++
		if r.Sender != "" {
			senders[r.Sender] = struct{}{}
		}
	}
	s.UniqueSenders = len(senders)

	return s
}
