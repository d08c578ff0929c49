// Package kernel provides the core scheduler/router/clock triad for
// in-process multi-agent simulations.
//
// # Reading Guide
//
// Start with these three files to understand the kernel:
//   - message.go: the Message envelope contract and the Note base type
//   - agent.go: the embeddable Agent base, handler tables, and the Actor lifecycle
//   - scheduler.go: the cycle loop (clock advance → alarms → routing → activation)
//
// # Architecture
//
// The kernel package holds the moving parts; supporting concerns live in
// sub-packages:
//   - kernel/trace/: per-cycle delivery records for replay comparison
//   - kernel/journal/: optional SQLite persistence of delivery traces
//
// Agents communicate exclusively by messages. The scheduler owns the agent
// registry, the global mail queue, the wake set, the subscription index
// (MailingList) and the virtual Clock; agents reach these services only
// through the capability handle installed at registration.
//
// # Time
//
// The Clock runs in one of two modes. RealTime tracks wall time scaled by a
// Speed factor; Simulated never reads wall time and jumps straight to the
// next scheduled alarm whenever no messages are in flight. Speed changes
// mid-run are themselves timed events, so a simulation can switch between
// paced and as-fast-as-possible execution at a chosen virtual time.
package kernel
