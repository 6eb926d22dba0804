// Package burst tracks the process-wide acquisition-cycle (burst) identifier.
//
// When an end-of-burst marker arrives, the next burst ID is staged rather
// than applied: fragments already in flight keep being attributed to the old
// burst until a debounce window has passed. Periodic pollers advance the
// machine and fire the burst-finished notification at most once per
// transition, however many goroutines poll concurrently.
package burst

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/farm-daq/l0readout/internal/monitoring"
	"github.com/farm-daq/l0readout/internal/timeutil"
)

const (
	// PromoteDebounce is how long after the last end-of-burst marker the
	// staged next ID waits before becoming the current ID. In-flight
	// fragments tagged under the old ID drain during this window.
	PromoteDebounce = 1000 * time.Millisecond

	// FinishDrainDelay is the pause before the burst-finished notification
	// fires, giving consumers still touching the outgoing burst time to let
	// go. The poller that wins the latch sleeps through it, so
	// CheckBurstFinished is briefly blocking for that one caller.
	FinishDrainDelay = 2 * time.Second
)

// Handler is the burst-ID state machine. All fields are accessed through
// atomics; it is safe to poll from any number of goroutines.
type Handler struct {
	clock timeutil.Clock

	current atomic.Uint32
	next    atomic.Uint32

	// lastFinished is the burst ID the finished notification last fired
	// for, or -1 before the first notification. Held as int64 so no valid
	// uint32 burst ID doubles as the sentinel.
	lastFinished atomic.Int64

	// eobNanos is the clock reading (UnixNano) of the most recent
	// SetNextBurstID call.
	eobNanos atomic.Int64

	// finishInFlight latches while one poller runs the finished
	// notification; others skip without blocking.
	finishInFlight atomic.Bool

	mu         sync.Mutex
	onFinished func(burstID uint32)
}

// NewHandler returns a Handler in the Stable state with both current and
// next set to startID. A nil clock defaults to the real clock.
func NewHandler(startID uint32, clock timeutil.Clock) *Handler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	h := &Handler{clock: clock}
	h.current.Store(startID)
	h.next.Store(startID)
	h.lastFinished.Store(-1)
	h.eobNanos.Store(clock.Now().UnixNano())
	return h
}

// OnBurstFinished registers the callback invoked once per burst transition,
// after the drain delay. It replaces any previously registered callback.
func (h *Handler) OnBurstFinished(f func(burstID uint32)) {
	h.mu.Lock()
	h.onFinished = f
	h.mu.Unlock()
}

// SetNextBurstID stages the burst ID that becomes active once the debounce
// window passes. Called whenever an end-of-burst marker is observed; repeat
// calls with the same ID just restart the window.
func (h *Handler) SetNextBurstID(id uint32) {
	h.next.Store(id)
	h.eobNanos.Store(h.clock.Now().UnixNano())
	monitoring.Logf("burst: staging burst ID change to %d", id)
}

// CurrentBurstID returns the burst ID in-flight fragments are attributed to.
func (h *Handler) CurrentBurstID() uint32 { return h.current.Load() }

// NextBurstID returns the staged burst ID. Equal to CurrentBurstID when no
// transition is pending.
func (h *Handler) NextBurstID() uint32 { return h.next.Load() }

// LastFinishedBurstID returns the burst the finished notification last fired
// for. fired is false before the first notification.
func (h *Handler) LastFinishedBurstID() (id uint32, fired bool) {
	v := h.lastFinished.Load()
	if v < 0 {
		return 0, false
	}
	return uint32(v), true
}

// IsInBurst reports whether the machine is Stable: current == next and no
// transition is pending.
func (h *Handler) IsInBurst() bool {
	return h.current.Load() == h.next.Load()
}

// TimeSinceLastEOB returns the elapsed time since the most recent
// SetNextBurstID call. Used for staleness monitoring by operator tooling.
func (h *Handler) TimeSinceLastEOB() time.Duration {
	return h.clock.Since(time.Unix(0, h.eobNanos.Load()))
}

// CheckBurstIDChange promotes the staged ID once the debounce window has
// elapsed. Poll it periodically from a driver goroutine; it never blocks.
// Returns true when a promotion happened on this call.
func (h *Handler) CheckBurstIDChange() bool {
	next := h.next.Load()
	if h.current.Load() == next {
		return false
	}
	if h.clock.Since(time.Unix(0, h.eobNanos.Load())) <= PromoteDebounce {
		return false
	}
	h.current.Store(next)
	monitoring.Logf("burst: current burst ID now %d", next)
	return true
}

// CheckBurstFinished fires the burst-finished notification for the outgoing
// burst, at most once per transition. Safe to poll from many goroutines:
// exactly one wins the in-flight latch, sleeps through the drain delay and
// invokes the callback; the rest return immediately. A transition whose
// winner is never polled again still fires on the next poll, so run this
// from a continuously ticking loop.
// Returns true when this call invoked the notification.
func (h *Handler) CheckBurstFinished() bool {
	if h.IsInBurst() {
		return false
	}
	outgoing := h.current.Load()
	if h.lastFinished.Load() == int64(outgoing) {
		return false
	}
	if !h.finishInFlight.CompareAndSwap(false, true) {
		return false
	}
	defer h.finishInFlight.Store(false)

	// Re-check under the latch: another poller may have finished this burst
	// between our first check and winning the latch.
	if h.lastFinished.Load() == int64(outgoing) {
		return false
	}

	h.clock.Sleep(FinishDrainDelay)

	h.mu.Lock()
	f := h.onFinished
	h.mu.Unlock()
	if f != nil {
		f(outgoing)
	}
	h.lastFinished.Store(int64(outgoing))
	monitoring.Logf("burst: burst %d finished", outgoing)
	return true
}
