package kernel

import "fmt"

// Metrics aggregates counters about a scheduler's activity for final
// reporting and for assertions in tests.
type Metrics struct {
	Cycles         uint64 // scheduler cycles executed
	MessagesRouted uint64 // messages resolved by the router
	Deliveries     uint64 // inbox enqueues (originals and copies)
	Copies         uint64 // Copy() calls made during fan-out
	Dropped        uint64 // messages dropped (unknown receiver, no subscribers)
	AlarmsFired    uint64 // alarms whose payload was routed
	AlarmsIgnored  uint64 // alarms discarded by their ignore predicate
	Activations    uint64 // agent Update calls
	Faults         uint64 // captured agent faults
}

// Print displays the counters at the end of a run.
func (m *Metrics) Print() {
	fmt.Println("=== Kernel Metrics ===")
	fmt.Printf("Cycles            : %d\n", m.Cycles)
	fmt.Printf("Messages routed   : %d\n", m.MessagesRouted)
	fmt.Printf("Deliveries        : %d\n", m.Deliveries)
	fmt.Printf("Copies            : %d\n", m.Copies)
	fmt.Printf("Dropped           : %d\n", m.Dropped)
	fmt.Printf("Alarms fired      : %d\n", m.AlarmsFired)
	fmt.Printf("Alarms ignored    : %d\n", m.AlarmsIgnored)
	fmt.Printf("Activations       : %d\n", m.Activations)
	fmt.Printf("Faults            : %d\n", m.Faults)
}
