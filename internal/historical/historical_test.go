package historical

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	h := History{
		"x": {InitialValue: 10, Samples: []Sample{{Time: 1, Value: 10}, {Time: 3, Value: 11.5}}},
		"y": {InitialValue: -7.25, Samples: nil},
		"velocity": {InitialValue: 0, Samples: []Sample{
			{Time: 16, Value: 0.5}, {Time: 32, Value: 0.75}, {Time: 48, Value: 0},
		}},
	}

	packed, err := Pack(h)
	require.NoError(t, err)

	got, err := Unpack(packed)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestPackIsDeterministic(t *testing.T) {
	h := History{
		"dy": {InitialValue: 1},
		"dx": {InitialValue: 2},
		"x":  {InitialValue: 3},
	}
	a, err := Pack(h)
	require.NoError(t, err)
	b, err := Pack(h)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestUnpackRejectsUnknownVersion(t *testing.T) {
	packed, err := Pack(History{"x": {InitialValue: 1}})
	require.NoError(t, err)
	binary.LittleEndian.PutUint16(packed[0:2], 9)

	_, err = Unpack(packed)
	require.ErrorIs(t, err, ErrUnknownVersion)
}

func TestUnpackRejectsTruncatedBlob(t *testing.T) {
	packed, err := Pack(History{"x": {InitialValue: 1, Samples: []Sample{{Time: 1, Value: 2}}}})
	require.NoError(t, err)

	_, err = Unpack(packed[:len(packed)-4])
	require.Error(t, err)
}

func TestBufferSamplesWrittenFields(t *testing.T) {
	// A location writes x on ticks 1, 3, 5 while y is never touched.
	b := NewBuffer(map[string]float64{"x": 10, "y": 7})
	b.Write(1, "x", 10)
	b.Write(3, "x", 11)
	b.Write(5, "x", 12)
	require.True(t, b.Dirty())

	packed, err := b.Flush()
	require.NoError(t, err)

	h, err := Unpack(packed)
	require.NoError(t, err)
	require.Equal(t, History{
		"x": {InitialValue: 10, Samples: []Sample{{Time: 1, Value: 10}, {Time: 3, Value: 11}, {Time: 5, Value: 12}}},
		"y": {InitialValue: 7, Samples: nil},
	}, h)

	// After a flush the next interval starts from the latest values.
	require.False(t, b.Dirty())
	b.Write(7, "x", 13)
	packed, err = b.Flush()
	require.NoError(t, err)
	h, err = Unpack(packed)
	require.NoError(t, err)
	require.Equal(t, 12.0, h["x"].InitialValue)
	require.Equal(t, []Sample{{Time: 7, Value: 13}}, h["x"].Samples)
}

func TestBufferCoalescesSameTickWrites(t *testing.T) {
	b := NewBuffer(map[string]float64{"x": 0})
	b.Write(16, "x", 1)
	b.Write(16, "x", 2)
	packed, err := b.Flush()
	require.NoError(t, err)
	h, err := Unpack(packed)
	require.NoError(t, err)
	require.Equal(t, []Sample{{Time: 16, Value: 2}}, h["x"].Samples)
}

func TestBufferIgnoresUntrackedFields(t *testing.T) {
	b := NewBuffer(map[string]float64{"x": 0})
	b.Write(1, "ghost", 42)
	b.Write(1, "x", 1)
	packed, err := b.Flush()
	require.NoError(t, err)
	h, err := Unpack(packed)
	require.NoError(t, err)
	_, ok := h["ghost"]
	require.False(t, ok)
	require.Len(t, h, 1)
}
