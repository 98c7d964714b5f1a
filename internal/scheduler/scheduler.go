// Package scheduler implements the Poll Loop: the single-threaded
// cooperative scheduler that drives every timer, NetDevice poll, and
// ready process in the system. It is the only place control is
// relinquished to the platform; every other component yields promptly by
// returning when no further progress is possible.
package scheduler

import (
	"sort"
	"time"

	"github.com/marmos91/netboot/internal/logger"
)

// Pollable is any component the scheduler must poll once per iteration,
// in registration order (NetDevice.poll, §4.1).
type Pollable interface {
	Poll()
}

// Process is a unit of cooperative work. Run is called once per ready
// iteration; it must return promptly without blocking. Returning true
// keeps the process in the ready list for another call next iteration;
// returning false removes it (the process has finished).
type Process interface {
	Run() (again bool)
}

// timerEntry is an internal registration for a one-shot scheduled
// callback, ordered by (deadline, registration sequence): ties are
// broken in registration order.
type timerEntry struct {
	deadline time.Time
	seq      uint64
	fire     func(now time.Time)
	canceled bool
}

// TimerHandle lets a caller cancel a previously scheduled timer.
type TimerHandle struct {
	entry *timerEntry
}

// Cancel prevents the timer from firing if it has not already.
func (h TimerHandle) Cancel() {
	if h.entry != nil {
		h.entry.canceled = true
	}
}

// Scheduler owns the process list, the timer list, and the registered
// NetDevice pollables. It is an ordinary value created by New and passed
// to its users rather than global mutable state; there is no teardown
// call.
type Scheduler struct {
	now func() time.Time

	devices   []Pollable
	processes []Process

	timers  []*timerEntry
	timerSeq uint64

	// idle is invoked when an iteration produced no activity; in
	// production this is the platform HLT/WFI hook (internal/platform),
	// in tests it is typically left nil.
	idle func()
}

// New creates a Scheduler. clock defaults to time.Now.
func New(clock func() time.Time) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{now: clock}
}

// SetIdleHook installs the platform-yield callback invoked when an
// iteration makes no progress (HLT/WFI/none).
func (s *Scheduler) SetIdleHook(fn func()) {
	s.idle = fn
}

// RegisterDevice adds a NetDevice to the poll set. Order is preserved;
// devices are polled in registration order each iteration.
func (s *Scheduler) RegisterDevice(d Pollable) {
	s.devices = append(s.devices, d)
}

// UnregisterDevice removes a previously registered NetDevice.
func (s *Scheduler) UnregisterDevice(d Pollable) {
	for i, existing := range s.devices {
		if existing == d {
			s.devices = append(s.devices[:i], s.devices[i+1:]...)
			return
		}
	}
}

// AddProcess adds a process to the ready list (process_add).
func (s *Scheduler) AddProcess(p Process) {
	s.processes = append(s.processes, p)
}

// AfterFunc schedules fire to run once the clock reaches now+delta,
// ordered against other timers by deadline then registration sequence.
func (s *Scheduler) AfterFunc(delta time.Duration, fire func(now time.Time)) TimerHandle {
	s.timerSeq++
	e := &timerEntry{
		deadline: s.now().Add(delta),
		seq:      s.timerSeq,
		fire:     fire,
	}
	s.timers = append(s.timers, e)
	return TimerHandle{entry: e}
}

// RunOnce executes a single iteration of the poll loop: fire expired
// timers, poll every device, dispatch every ready process once. Returns
// whether any activity occurred, so the caller can decide whether to
// loop immediately or yield to the platform.
func (s *Scheduler) RunOnce() (activity bool) {
	if s.fireExpiredTimers() {
		activity = true
	}
	for _, d := range s.devices {
		d.Poll()
	}
	if len(s.devices) > 0 {
		activity = true
	}

	remaining := s.processes[:0]
	for _, p := range s.processes {
		if p.Run() {
			remaining = append(remaining, p)
			activity = true
		} else {
			activity = true
		}
	}
	s.processes = remaining

	return activity
}

// Run drives the poll loop until stop returns true, checked once per
// iteration. When an iteration produces no activity, the idle hook (if
// set) is invoked before the next check.
func (s *Scheduler) Run(stop func() bool) {
	for !stop() {
		if !s.RunOnce() {
			if s.idle != nil {
				s.idle()
			}
		}
	}
}

// fireExpiredTimers fires every timer whose deadline has passed, in
// (deadline, seq) order, removing them from the list.
func (s *Scheduler) fireExpiredTimers() bool {
	now := s.now()

	due := make([]*timerEntry, 0)
	kept := s.timers[:0]
	for _, e := range s.timers {
		if e.canceled {
			continue
		}
		if !now.Before(e.deadline) {
			due = append(due, e)
		} else {
			kept = append(kept, e)
		}
	}
	s.timers = kept

	if len(due) == 0 {
		return false
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})

	for _, e := range due {
		logger.Debug("timer fired", "seq", e.seq)
		e.fire(now)
	}
	return true
}

// PendingTimers returns the number of armed (non-canceled) timers, for
// tests and diagnostics.
func (s *Scheduler) PendingTimers() int {
	n := 0
	for _, e := range s.timers {
		if !e.canceled {
			n++
		}
	}
	return n
}
