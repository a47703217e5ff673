// Package sim provides the event generator for a fleet of simulated devices.
//
// # Reading Guide
//
// Start with these three files:
//   - device.go: a device's rate, sequence counter and random-walk value
//   - schedule_heap.go: the min-heap of (fire time, device index) entries
//   - generator.go: the pacing loop that pops, waits, advances and reschedules
//
// # Scheduling
//
// Every device owns exactly one heap entry at all times. Next pops the
// earliest, waits until its fire time on the injected clock, advances the
// device and pushes it back at fireAt + an exponential interval. The next fire
// time is anchored on the scheduled time, not the emission time, so a slow
// consumer causes catch-up bursts rather than drift.
//
// Randomness is partitioned per subsystem (see rng.go): the population draw
// uses the master seed, and each device samples from its own stream, so one
// device's draws never shift another's.
//
// Sub-packages:
//   - sim/trace/: emission records and per-device sequence checking
package sim
