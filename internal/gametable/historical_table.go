package gametable

import (
	"fmt"

	"github.com/talgya/aitown/internal/historical"
	"github.com/talgya/aitown/internal/store"
)

// HistoricalPtr is the extra capability a historical row type exposes
// through its pointer: read and write the tracked numeric fields, and
// accept the packed history blob on flush.
type HistoricalPtr[T any] interface {
	*T
	HistoryFields() map[string]float64
	SetHistoryField(name string, value float64)
	SetHistory(blob []byte)
}

// HistoricalTable wraps a Table whose rows carry history-sampled numeric
// fields. Writes to tracked fields go through WriteFields so each write is
// sampled; on save the accumulated samples are packed onto each row.
type HistoricalTable[T Doc, PT HistoricalPtr[T]] struct {
	*Table[T]
	buffers map[string]*historical.Buffer
}

// LoadHistorical reads matching rows and starts a sample buffer per row
// from its current field values.
func LoadHistorical[T Doc, PT HistoricalPtr[T]](tx store.Tx, name string, eqs ...store.Eq) (*HistoricalTable[T, PT], error) {
	inner, err := Load[T](tx, name, eqs...)
	if err != nil {
		return nil, err
	}
	ht := &HistoricalTable[T, PT]{
		Table:   inner,
		buffers: make(map[string]*historical.Buffer, len(inner.data)),
	}
	for id, doc := range inner.data {
		ht.buffers[id] = historical.NewBuffer(PT(&doc).HistoryFields())
	}
	return ht, nil
}

// Insert persists a new row and starts its sample buffer.
func (t *HistoricalTable[T, PT]) Insert(doc T) (string, error) {
	id, err := t.Table.Insert(doc)
	if err != nil {
		return "", err
	}
	t.buffers[id] = historical.NewBuffer(PT(&doc).HistoryFields())
	return id, nil
}

// Delete removes the row and discards its buffer.
func (t *HistoricalTable[T, PT]) Delete(id string) error {
	if err := t.Table.Delete(id); err != nil {
		return err
	}
	delete(t.buffers, id)
	return nil
}

// WriteFields sets tracked numeric fields on a row at simulation time now,
// recording one sample per written field.
func (t *HistoricalTable[T, PT]) WriteFields(id string, now float64, fields map[string]float64) error {
	buf, exists := t.buffers[id]
	if !exists {
		return fmt.Errorf("write fields %s: %w: %s", t.name, ErrInvalidID, id)
	}
	err := t.Table.Update(id, func(doc *T) {
		for name, value := range fields {
			PT(doc).SetHistoryField(name, value)
		}
	})
	if err != nil {
		return err
	}
	for _, name := range buf.FieldNames() {
		if value, ok := fields[name]; ok {
			buf.Write(now, name, value)
		}
	}
	return nil
}

// Save packs each dirty row's sample buffer onto the row, then flushes the
// underlying table.
func (t *HistoricalTable[T, PT]) Save() error {
	for _, id := range t.ModifiedIDs() {
		buf, exists := t.buffers[id]
		if !exists || !buf.Dirty() {
			continue
		}
		blob, err := buf.Flush()
		if err != nil {
			return fmt.Errorf("save %s: %w", t.name, err)
		}
		if err := t.Table.Update(id, func(doc *T) {
			PT(doc).SetHistory(blob)
		}); err != nil {
			return err
		}
	}
	return t.Table.Save()
}
