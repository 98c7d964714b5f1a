package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time   { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func TestTimerFiresAfterDelta(t *testing.T) {
	fc := &fakeClock{now: time.Unix(0, 0)}
	timer := New(fc.Now, time.Second, 10*time.Second, 3)

	timer.Start(time.Second)
	assert.False(t, timer.Expired())

	fc.Advance(999 * time.Millisecond)
	assert.False(t, timer.Expired())

	fc.Advance(2 * time.Millisecond)
	assert.True(t, timer.Expired())
}

func TestBackoffDoublesUpToCeiling(t *testing.T) {
	fc := &fakeClock{now: time.Unix(0, 0)}
	timer := New(fc.Now, time.Second, 4*time.Second, 5)
	timer.Start(time.Second)

	require.True(t, timer.Backoff())
	assert.Equal(t, 2*time.Second, timer.current)

	require.True(t, timer.Backoff())
	assert.Equal(t, 4*time.Second, timer.current)

	require.True(t, timer.Backoff())
	assert.Equal(t, 4*time.Second, timer.current, "clamped at ceiling")
}

func TestBackoffFailsAfterMaxAttemptsAtCeiling(t *testing.T) {
	fc := &fakeClock{now: time.Unix(0, 0)}
	timer := New(fc.Now, time.Second, time.Second, 2)
	timer.Start(time.Second)

	require.True(t, timer.Backoff())
	require.True(t, timer.Backoff())
	assert.False(t, timer.Backoff())
	assert.False(t, timer.Running())
}

func TestStopCancelsTimer(t *testing.T) {
	fc := &fakeClock{now: time.Unix(0, 0)}
	timer := New(fc.Now, time.Second, 4*time.Second, 3)
	timer.Start(time.Second)
	timer.Stop()

	fc.Advance(10 * time.Second)
	assert.False(t, timer.Expired())
}

func TestNewDefaultUsesPackageConstants(t *testing.T) {
	timer := NewDefault(nil)
	assert.False(t, timer.Running())
}
