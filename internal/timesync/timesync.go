// Package timesync replays historical server time on a client. The engine
// commits simulated time in ~1 s steps; a client animating at 60 fps walks
// a cursor through the received intervals, speeding up or slowing down to
// keep a healthy buffer, so motion reconstructed from history blobs stays
// smooth despite uneven server cadence.
package timesync

import (
	"errors"
	"fmt"
)

// ErrOutOfOrderStatus is returned when the engine status feed goes
// backwards; the client's view is broken and must be rebuilt.
var ErrOutOfOrderStatus = errors.New("engine status went backwards")

// Rate control bounds, milliseconds.
const (
	minBuffer = 100
	maxBuffer = 1000
	// maxLag is the hard bound on how far the cursor may trail the
	// newest server time.
	maxLag = 1250

	slowRate = 0.8
	fastRate = 1.2
)

// Interval is a span of server time the client has fully received.
type Interval struct {
	Start float64
	End   float64
}

// HistoricalTime is the playback cursor over received server intervals.
// Not safe for concurrent use; drive it from the render loop.
type HistoricalTime struct {
	intervals  []Interval
	prevClient *float64
	prevServer *float64
}

// NewHistoricalTime creates an empty cursor.
func NewHistoricalTime() *HistoricalTime {
	return &HistoricalTime{}
}

// ReceiveInterval ingests one engine status: the span of server time the
// latest step covered. Consecutive spans extend the current interval; a
// gap (engine restart) opens a new one; going backwards is fatal.
func (h *HistoricalTime) ReceiveInterval(start, end float64) error {
	if end < start {
		return fmt.Errorf("%w: interval end %v before start %v", ErrOutOfOrderStatus, end, start)
	}
	if len(h.intervals) == 0 {
		h.intervals = append(h.intervals, Interval{Start: start, End: end})
		return nil
	}
	last := &h.intervals[len(h.intervals)-1]
	if start < last.Start || end < last.End {
		return fmt.Errorf("%w: got [%v, %v] after [%v, %v]", ErrOutOfOrderStatus, start, end, last.Start, last.End)
	}
	if start <= last.End {
		last.End = end
		return nil
	}
	h.intervals = append(h.intervals, Interval{Start: start, End: end})
	return nil
}

// ServerTime advances the cursor for a frame rendered at clientNow and
// returns the server time to display. The cursor runs at 0.8×, 1×, or
// 1.2× real time depending on buffer health, never lags the newest data
// by more than maxLag, and never extrapolates past it.
func (h *HistoricalTime) ServerTime(clientNow float64) (float64, error) {
	if len(h.intervals) == 0 {
		return 0, errors.New("no server intervals received yet")
	}
	prevClient := clientNow
	if h.prevClient != nil {
		prevClient = *h.prevClient
	}
	prevServer := h.intervals[0].Start
	if h.prevServer != nil {
		prevServer = *h.prevServer
	}
	lastServer := h.intervals[len(h.intervals)-1].End

	rate := 1.0
	switch buffer := lastServer - prevServer; {
	case buffer < minBuffer:
		rate = slowRate
	case buffer > maxBuffer:
		rate = fastRate
	}

	serverTs := prevServer + (clientNow-prevClient)*rate
	if floor := lastServer - maxLag; serverTs < floor {
		serverTs = floor
	}

	// Clamp into the enclosing interval, snapping forward across gaps.
	enclosing := len(h.intervals) - 1
	for i, interval := range h.intervals {
		if serverTs <= interval.End {
			if serverTs < interval.Start {
				serverTs = interval.Start
			}
			enclosing = i
			break
		}
	}
	if serverTs > lastServer {
		serverTs = lastServer
	}

	// Keep the enclosing interval and its predecessor; older spans can
	// no longer be visited.
	if enclosing > 1 {
		h.intervals = h.intervals[enclosing-1:]
	}

	h.prevClient = &clientNow
	h.prevServer = &serverTs
	return serverTs, nil
}

// BufferHealth is how much received server time lies ahead of the
// playback cursor, for UI display.
func (h *HistoricalTime) BufferHealth() float64 {
	if len(h.intervals) == 0 || h.prevServer == nil {
		return 0
	}
	return h.intervals[len(h.intervals)-1].End - *h.prevServer
}
