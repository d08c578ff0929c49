// Package trace provides per-cycle delivery recording for replay comparison.
// It has no dependency on kernel — it stores pure data types, so tests and
// tools can diff two runs without importing the scheduler.
package trace

// DeliveryRecord captures one routed message: which cycle and virtual time
// it was resolved at, its envelope fields, and the recipients it fanned out
// to (in delivery order).
type DeliveryRecord struct {
	Cycle      uint64
	Time       float64
	Topic      string
	Sender     string
	Receiver   string
	Recipients []string
}

// CycleLog collects delivery records during a run.
type CycleLog struct {
	Records []DeliveryRecord
}

// NewCycleLog creates a CycleLog ready for recording.
func NewCycleLog() *CycleLog {
	return &CycleLog{Records: make([]DeliveryRecord, 0)}
}

// Record appends a delivery record.
func (l *CycleLog) Record(r DeliveryRecord) {
	l.Records = append(l.Records, r)
}

// Len returns the number of recorded deliveries.
func (l *CycleLog) Len() int { return len(l.Records) }

// Equal reports whether two logs recorded the same deliveries in the same
// order, ignoring message identity (uuids are fresh per run by design).
func Equal(a, b *CycleLog) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Records) != len(b.Records) {
		return false
	}
	for i := range a.Records {
		if !recordsMatch(a.Records[i], b.Records[i]) {
			return false
		}
	}
	return true
}

func recordsMatch(x, y DeliveryRecord) bool {
	if x.Cycle != y.Cycle || x.Time != y.Time || x.Topic != y.Topic {
		return false
	}
	if len(x.Recipients) != len(y.Recipients) {
		return false
	}
	for i := range x.Recipients {
		if x.Recipients[i] != y.Recipients[i] {
			return false
		}
	}
	return true
}
