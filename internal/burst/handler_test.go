package burst

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farm-daq/l0readout/internal/monitoring"
	"github.com/farm-daq/l0readout/internal/timeutil"
)

func init() {
	// Burst transition notices are noise in test output.
	monitoring.SetLogger(nil)
}

func newTestHandler(startID uint32) (*Handler, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(time.Unix(1_700_000_000, 0))
	return NewHandler(startID, clock), clock
}

func TestInitializeIsStable(t *testing.T) {
	h, _ := newTestHandler(5)

	assert.True(t, h.IsInBurst())
	assert.Equal(t, uint32(5), h.CurrentBurstID())
	assert.Equal(t, uint32(5), h.NextBurstID())
	_, fired := h.LastFinishedBurstID()
	assert.False(t, fired)
}

func TestSetNextBurstIDStagesTransition(t *testing.T) {
	h, _ := newTestHandler(5)

	h.SetNextBurstID(6)

	assert.False(t, h.IsInBurst())
	assert.Equal(t, uint32(5), h.CurrentBurstID(), "current must not change before the debounce window")
	assert.Equal(t, uint32(6), h.NextBurstID())
}

func TestCheckBurstIDChangeDebounce(t *testing.T) {
	h, clock := newTestHandler(5)

	h.SetNextBurstID(6)

	// Inside the debounce window: no promotion.
	clock.Advance(999 * time.Millisecond)
	assert.False(t, h.CheckBurstIDChange())
	assert.Equal(t, uint32(5), h.CurrentBurstID())

	// Past the window: promoted, Stable again.
	clock.Advance(2 * time.Millisecond)
	assert.True(t, h.CheckBurstIDChange())
	assert.Equal(t, uint32(6), h.CurrentBurstID())
	assert.True(t, h.IsInBurst())

	// Further polls are no-ops.
	assert.False(t, h.CheckBurstIDChange())
}

func TestRepeatedEOBRestartsDebounce(t *testing.T) {
	h, clock := newTestHandler(5)

	h.SetNextBurstID(6)
	clock.Advance(900 * time.Millisecond)

	// A repeated marker with the same ID restarts the window.
	h.SetNextBurstID(6)
	clock.Advance(900 * time.Millisecond)
	assert.False(t, h.CheckBurstIDChange())
	assert.Equal(t, uint32(5), h.CurrentBurstID())

	clock.Advance(200 * time.Millisecond)
	assert.True(t, h.CheckBurstIDChange())
	assert.Equal(t, uint32(6), h.CurrentBurstID())
}

func TestCheckBurstIDChangeStableIsNoOp(t *testing.T) {
	h, clock := newTestHandler(5)
	clock.Advance(time.Hour)
	assert.False(t, h.CheckBurstIDChange())
	assert.Equal(t, uint32(5), h.CurrentBurstID())
}

func TestCheckBurstFinishedFiresOncePerTransition(t *testing.T) {
	h, clock := newTestHandler(5)

	var fired []uint32
	h.OnBurstFinished(func(id uint32) { fired = append(fired, id) })

	// Stable: nothing to finish.
	assert.False(t, h.CheckBurstFinished())

	h.SetNextBurstID(6)

	// The notification is for the outgoing burst, before promotion.
	assert.True(t, h.CheckBurstFinished())
	require.Equal(t, []uint32{5}, fired)
	last, ok := h.LastFinishedBurstID()
	require.True(t, ok)
	assert.Equal(t, uint32(5), last)

	// The drain delay ran on the winning poller's clock.
	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 1)
	assert.Equal(t, FinishDrainDelay, sleeps[0])

	// Same transition: at most once.
	assert.False(t, h.CheckBurstFinished())
	assert.Equal(t, []uint32{5}, fired)

	// After promotion the machine is Stable; still nothing new to finish.
	clock.Advance(PromoteDebounce + time.Millisecond)
	require.True(t, h.CheckBurstIDChange())
	assert.False(t, h.CheckBurstFinished())

	// Next transition fires for burst 6.
	h.SetNextBurstID(7)
	assert.True(t, h.CheckBurstFinished())
	assert.Equal(t, []uint32{5, 6}, fired)
}

func TestCheckBurstFinishedConcurrent(t *testing.T) {
	for iter := 0; iter < 100; iter++ {
		h, _ := newTestHandler(uint32(iter))

		var callbacks atomic.Int32
		h.OnBurstFinished(func(uint32) { callbacks.Add(1) })

		h.SetNextBurstID(uint32(iter) + 1)

		const pollers = 16
		var winners atomic.Int32
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i := 0; i < pollers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				// Each poller retries a few times, as a real poll loop would.
				for j := 0; j < 4; j++ {
					if h.CheckBurstFinished() {
						winners.Add(1)
					}
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), winners.Load(), "iteration %d: exactly one poll must fire the notification", iter)
		require.Equal(t, int32(1), callbacks.Load(), "iteration %d: callback invoked exactly once", iter)
		last, ok := h.LastFinishedBurstID()
		require.True(t, ok)
		require.Equal(t, h.CurrentBurstID(), last)
	}
}

func TestCheckBurstFinishedNoCallback(t *testing.T) {
	h, _ := newTestHandler(1)
	h.SetNextBurstID(2)

	// No registered callback: the transition still completes the
	// at-most-once bookkeeping.
	assert.True(t, h.CheckBurstFinished())
	last, ok := h.LastFinishedBurstID()
	require.True(t, ok)
	assert.Equal(t, uint32(1), last)
}

func TestTimeSinceLastEOB(t *testing.T) {
	h, clock := newTestHandler(5)

	h.SetNextBurstID(6)
	assert.Equal(t, time.Duration(0), h.TimeSinceLastEOB())

	clock.Advance(250 * time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, h.TimeSinceLastEOB())

	clock.Advance(250 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, h.TimeSinceLastEOB())

	// A new marker resets the measurement.
	h.SetNextBurstID(7)
	assert.Equal(t, time.Duration(0), h.TimeSinceLastEOB())
}

func TestRealClockDefault(t *testing.T) {
	h := NewHandler(3, nil)
	assert.True(t, h.IsInBurst())
	assert.Equal(t, uint32(3), h.CurrentBurstID())
	assert.Less(t, h.TimeSinceLastEOB(), time.Second)
}
