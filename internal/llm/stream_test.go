package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func feedAll(f *StopWordFilter, chunks []string) (string, bool) {
	var out string
	for _, chunk := range chunks {
		text, stopped := f.Feed(chunk)
		out += text
		if stopped {
			return out, true
		}
	}
	return out + f.Flush(), false
}

func TestStopWordInSingleChunk(t *testing.T) {
	f := NewStopWordFilter([]string{"\nBob:"})
	out, stopped := feedAll(f, []string{"Hello there!\nBob: hi"})
	require.True(t, stopped)
	require.Equal(t, "Hello there!", out)
}

func TestStopWordAcrossChunks(t *testing.T) {
	f := NewStopWordFilter([]string{"\nBob:"})
	out, stopped := feedAll(f, []string{"Nice day", "\nBo", "b: very nice"})
	require.True(t, stopped)
	require.Equal(t, "Nice day", out)
}

func TestPrefixThatNeverCompletesIsFlushed(t *testing.T) {
	f := NewStopWordFilter([]string{"\nBob:"})
	out, stopped := feedAll(f, []string{"See you\nBo", "at the market"})
	require.False(t, stopped)
	require.Equal(t, "See you\nBoat the market", out)
}

func TestHeldTailEmittedOnCleanEnd(t *testing.T) {
	f := NewStopWordFilter([]string{"STOP"})
	out, stopped := feedAll(f, []string{"half ST"})
	require.False(t, stopped)
	require.Equal(t, "half ST", out)
}

func TestMultipleStopWordsEarliestWins(t *testing.T) {
	f := NewStopWordFilter([]string{"XX", "YY"})
	out, stopped := feedAll(f, []string{"aaYYbbXX"})
	require.True(t, stopped)
	require.Equal(t, "aa", out)
}

func TestNoStopWords(t *testing.T) {
	f := NewStopWordFilter(nil)
	out, stopped := feedAll(f, []string{"plain ", "text"})
	require.False(t, stopped)
	require.Equal(t, "plain text", out)
}
