// Package historical records per-tick samples of numeric document fields
// and packs them into a compact binary blob. Clients unpack the blob and
// interpolate to reconstruct smooth motion from ~1 s server flushes.
package historical

import (
	"fmt"
	"sort"
)

// Sample is one observed value of a tracked field.
type Sample struct {
	Time  float64 `json:"time"`
	Value float64 `json:"value"`
}

// FieldHistory is the sample series of a single tracked field over one
// flush interval. InitialValue is the field's value at the start of the
// interval.
type FieldHistory struct {
	InitialValue float64  `json:"initialValue"`
	Samples      []Sample `json:"samples"`
}

// History maps field names to their sample series.
type History map[string]FieldHistory

// Buffer accumulates samples for one record between flushes. A sample is
// recorded for every tick in which a tracked field is written; writes of
// fields the buffer doesn't track are ignored. Two writes of the same field
// within one tick coalesce into the later value.
type Buffer struct {
	fields map[string]*FieldHistory
	last   map[string]float64
}

// NewBuffer starts a buffer from the record's current field values.
func NewBuffer(initial map[string]float64) *Buffer {
	b := &Buffer{
		fields: make(map[string]*FieldHistory, len(initial)),
		last:   make(map[string]float64, len(initial)),
	}
	for name, value := range initial {
		b.fields[name] = &FieldHistory{InitialValue: value}
		b.last[name] = value
	}
	return b
}

// Write records that a tracked field was set to value at time now.
func (b *Buffer) Write(now float64, name string, value float64) {
	fh, ok := b.fields[name]
	if !ok {
		return
	}
	if n := len(fh.Samples); n > 0 && fh.Samples[n-1].Time == now {
		fh.Samples[n-1].Value = value
	} else {
		fh.Samples = append(fh.Samples, Sample{Time: now, Value: value})
	}
	b.last[name] = value
}

// Last returns the most recently written value of a tracked field.
func (b *Buffer) Last(name string) (float64, bool) {
	v, ok := b.last[name]
	return v, ok
}

// Dirty reports whether any field accumulated samples since the last flush.
func (b *Buffer) Dirty() bool {
	for _, fh := range b.fields {
		if len(fh.Samples) > 0 {
			return true
		}
	}
	return false
}

// Flush packs the accumulated history and resets the buffer so the next
// interval starts from the current values.
func (b *Buffer) Flush() ([]byte, error) {
	h := make(History, len(b.fields))
	for name, fh := range b.fields {
		h[name] = *fh
	}
	packed, err := Pack(h)
	if err != nil {
		return nil, fmt.Errorf("pack history: %w", err)
	}
	for name, fh := range b.fields {
		fh.InitialValue = b.last[name]
		fh.Samples = nil
	}
	return packed, nil
}

// FieldNames returns the tracked field names in sorted order.
func (b *Buffer) FieldNames() []string {
	names := make([]string, 0, len(b.fields))
	for name := range b.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
