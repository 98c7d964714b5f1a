package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDevice struct{ polls int }

func (d *countingDevice) Poll() { d.polls++ }

type nTimesProcess struct {
	remaining int
	runs      int
}

func (p *nTimesProcess) Run() bool {
	p.runs++
	p.remaining--
	return p.remaining > 0
}

func TestRunOncePollsAllDevices(t *testing.T) {
	s := New(nil)
	d1, d2 := &countingDevice{}, &countingDevice{}
	s.RegisterDevice(d1)
	s.RegisterDevice(d2)

	s.RunOnce()
	assert.Equal(t, 1, d1.polls)
	assert.Equal(t, 1, d2.polls)
}

func TestUnregisterDeviceStopsPolling(t *testing.T) {
	s := New(nil)
	d := &countingDevice{}
	s.RegisterDevice(d)
	s.UnregisterDevice(d)

	s.RunOnce()
	assert.Equal(t, 0, d.polls)
}

func TestProcessReturnsFalseToRemove(t *testing.T) {
	s := New(nil)
	p := &nTimesProcess{remaining: 2}
	s.AddProcess(p)

	s.RunOnce()
	s.RunOnce()
	assert.Equal(t, 2, p.runs)

	// Third iteration: process was removed, must not run again.
	s.RunOnce()
	assert.Equal(t, 2, p.runs)
}

func TestTimersFireInDeadlineOrder(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	s := New(clock)

	var fired []int
	s.AfterFunc(2*time.Second, func(time.Time) { fired = append(fired, 2) })
	s.AfterFunc(1*time.Second, func(time.Time) { fired = append(fired, 1) })

	now = now.Add(3 * time.Second)
	activity := s.RunOnce()

	require.True(t, activity)
	assert.Equal(t, []int{1, 2}, fired)
}

func TestTiesAreBrokenByRegistrationOrder(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	s := New(clock)

	var fired []int
	s.AfterFunc(time.Second, func(time.Time) { fired = append(fired, 1) })
	s.AfterFunc(time.Second, func(time.Time) { fired = append(fired, 2) })

	now = now.Add(time.Second)
	s.RunOnce()

	assert.Equal(t, []int{1, 2}, fired)
}

func TestCancelPreventsFiring(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	s := New(clock)

	fired := false
	h := s.AfterFunc(time.Second, func(time.Time) { fired = true })
	h.Cancel()

	now = now.Add(2 * time.Second)
	s.RunOnce()
	assert.False(t, fired)
}

func TestRunStopsOnPredicate(t *testing.T) {
	s := New(nil)
	iterations := 0
	idleCalls := 0
	s.SetIdleHook(func() { idleCalls++ })

	s.Run(func() bool {
		iterations++
		return iterations >= 3
	})

	assert.Equal(t, 3, iterations)
	assert.Equal(t, 2, idleCalls, "every iteration is idle with no devices/processes/timers")
}

func TestPendingTimersExcludesCanceled(t *testing.T) {
	s := New(nil)
	h1 := s.AfterFunc(time.Second, func(time.Time) {})
	s.AfterFunc(time.Second, func(time.Time) {})
	h1.Cancel()

	assert.Equal(t, 1, s.PendingTimers())
}
