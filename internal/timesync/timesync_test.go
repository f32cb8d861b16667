package timesync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRateSpeedsUpWithLargeBuffer(t *testing.T) {
	h := NewHistoricalTime()
	require.NoError(t, h.ReceiveInterval(0, 1000))
	require.NoError(t, h.ReceiveInterval(1000, 2000))

	// Prime the cursor at (clientNow=0, server=0).
	ts, err := h.ServerTime(0)
	require.NoError(t, err)
	require.Equal(t, 750.0, ts) // lagged more than 1250 ms behind 2000

	// Rebuild to test the pure rate step from a zero cursor.
	h = NewHistoricalTime()
	require.NoError(t, h.ReceiveInterval(0, 2000))
	h.prevClient = ptr(0.0)
	h.prevServer = ptr(0.0)

	ts, err = h.ServerTime(1000)
	require.NoError(t, err)
	// Buffer 2000 > 1000 so the cursor runs at 1.2x: 0 + 1000*1.2.
	require.Equal(t, 1200.0, ts)
}

func ptr(v float64) *float64 { return &v }

func TestNeverExtrapolatesPastReceivedData(t *testing.T) {
	h := NewHistoricalTime()
	require.NoError(t, h.ReceiveInterval(0, 500))

	ts, err := h.ServerTime(0)
	require.NoError(t, err)
	for clientNow := 100.0; clientNow <= 5000; clientNow += 100 {
		next, err := h.ServerTime(clientNow)
		require.NoError(t, err)
		require.GreaterOrEqual(t, next, ts, "server time must be monotonic")
		require.LessOrEqual(t, next, 500.0, "must not pass the newest server time")
		ts = next
	}
	require.Equal(t, 500.0, ts)
}

func TestHardLagClamp(t *testing.T) {
	h := NewHistoricalTime()
	require.NoError(t, h.ReceiveInterval(0, 10_000))

	ts, err := h.ServerTime(0)
	require.NoError(t, err)
	require.Equal(t, 10_000.0-1250, ts)
}

func TestSnapsForwardAcrossGaps(t *testing.T) {
	h := NewHistoricalTime()
	require.NoError(t, h.ReceiveInterval(0, 1000))
	// The engine was down for a while and came back.
	require.NoError(t, h.ReceiveInterval(5000, 6000))

	ts, err := h.ServerTime(0)
	require.NoError(t, err)
	// 6000-1250 = 4750 falls in the gap; snap to the next interval.
	require.Equal(t, 5000.0, ts)
}

func TestOutOfOrderStatusFatal(t *testing.T) {
	h := NewHistoricalTime()
	require.NoError(t, h.ReceiveInterval(1000, 2000))
	require.ErrorIs(t, h.ReceiveInterval(500, 800), ErrOutOfOrderStatus)
	require.ErrorIs(t, h.ReceiveInterval(1000, 1500), ErrOutOfOrderStatus)
	require.ErrorIs(t, h.ReceiveInterval(900, 400), ErrOutOfOrderStatus)
}

func TestConsecutiveStatusesExtendInterval(t *testing.T) {
	h := NewHistoricalTime()
	require.NoError(t, h.ReceiveInterval(0, 1000))
	require.NoError(t, h.ReceiveInterval(1000, 2000))
	require.NoError(t, h.ReceiveInterval(2000, 3000))
	require.Len(t, h.intervals, 1)
	require.Equal(t, Interval{Start: 0, End: 3000}, h.intervals[0])
}

func TestSlowRateWithThinBuffer(t *testing.T) {
	h := NewHistoricalTime()
	require.NoError(t, h.ReceiveInterval(0, 1000))
	h.prevClient = ptr(0.0)
	h.prevServer = ptr(950.0)

	ts, err := h.ServerTime(100)
	require.NoError(t, err)
	// Buffer 50 < 100: cursor runs at 0.8x, 950 + 100*0.8 = 1030 → clamped
	// to the interval end.
	require.Equal(t, 1000.0, ts)
}

func TestSlowRateProgress(t *testing.T) {
	h := NewHistoricalTime()
	require.NoError(t, h.ReceiveInterval(0, 2000))
	h.prevClient = ptr(0.0)
	h.prevServer = ptr(1950.0)

	ts, err := h.ServerTime(10)
	require.NoError(t, err)
	require.Equal(t, 1958.0, ts) // 1950 + 10*0.8
}

func TestBufferHealth(t *testing.T) {
	h := NewHistoricalTime()
	require.Equal(t, 0.0, h.BufferHealth())

	require.NoError(t, h.ReceiveInterval(0, 2000))
	_, err := h.ServerTime(0)
	require.NoError(t, err)
	require.Equal(t, 2000.0-750, h.BufferHealth())
}

func TestTrimsOldIntervals(t *testing.T) {
	h := NewHistoricalTime()
	require.NoError(t, h.ReceiveInterval(0, 100))
	require.NoError(t, h.ReceiveInterval(1000, 1100))
	require.NoError(t, h.ReceiveInterval(2000, 2100))
	require.NoError(t, h.ReceiveInterval(3000, 3100))
	require.Len(t, h.intervals, 4)

	// The cursor snaps into the third interval; the first is no longer
	// reachable and is dropped, while the predecessor and the future
	// interval remain.
	_, err := h.ServerTime(0)
	require.NoError(t, err)
	require.Len(t, h.intervals, 3)
	require.Equal(t, 1000.0, h.intervals[0].Start)
}
