// Package gametable provides the in-memory table cache the simulation
// mutates during a tick. Each table tracks which rows were modified or
// deleted and flushes exactly those on save. A table lives only for the
// duration of one engine transaction.
package gametable

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/talgya/aitown/internal/store"
)

// ErrInvalidID is returned when a row id does not exist in the table.
var ErrInvalidID = errors.New("invalid id")

// ErrInactiveID is returned when a row exists but is no longer active.
var ErrInactiveID = errors.New("inactive id")

// Doc is the capability a row type exposes to the table.
type Doc interface {
	DocID() string
	Active() bool
}

// Table caches one store table's rows for the duration of a transaction.
// Rows are held and handed out by value; the only mutation path is Update,
// so every change is observed and marked dirty.
type Table[T Doc] struct {
	name     string
	tx       store.Tx
	data     map[string]T
	modified map[string]struct{}
	deleted  map[string]struct{}
}

// Load reads every row matching the equality predicates into a fresh table.
func Load[T Doc](tx store.Tx, name string, eqs ...store.Eq) (*Table[T], error) {
	rows, err := tx.Query(name, eqs...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	t := &Table[T]{
		name:     name,
		tx:       tx,
		data:     make(map[string]T, len(rows)),
		modified: make(map[string]struct{}),
		deleted:  make(map[string]struct{}),
	}
	for _, raw := range rows {
		var doc T
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", name, err)
		}
		t.data[doc.DocID()] = doc
	}
	return t, nil
}

// Name returns the backing store table name.
func (t *Table[T]) Name() string { return t.name }

// Insert persists a new row and caches it. The row's id must be set.
func (t *Table[T]) Insert(doc T) (string, error) {
	id := doc.DocID()
	if id == "" {
		return "", fmt.Errorf("insert into %s: empty id", t.name)
	}
	if _, exists := t.data[id]; exists {
		return "", fmt.Errorf("insert into %s: duplicate id %s", t.name, id)
	}
	if err := t.tx.Insert(t.name, id, doc); err != nil {
		return "", fmt.Errorf("insert into %s: %w", t.name, err)
	}
	t.data[id] = doc
	delete(t.deleted, id)
	return id, nil
}

// Delete removes a row from the cache and marks it for deletion on save.
func (t *Table[T]) Delete(id string) error {
	if _, exists := t.data[id]; !exists {
		return fmt.Errorf("delete from %s: %w: %s", t.name, ErrInvalidID, id)
	}
	delete(t.data, id)
	delete(t.modified, id)
	t.deleted[id] = struct{}{}
	return nil
}

// Lookup returns a copy of an active row. Mutating the copy has no effect
// on the table; use Update to write.
func (t *Table[T]) Lookup(id string) (T, error) {
	var zero T
	doc, exists := t.data[id]
	if !exists {
		return zero, fmt.Errorf("lookup %s: %w: %s", t.name, ErrInvalidID, id)
	}
	if !doc.Active() {
		return zero, fmt.Errorf("lookup %s: %w: %s", t.name, ErrInactiveID, id)
	}
	return doc, nil
}

// Update applies fn to the row and marks it modified. The row may be
// inactive; deletes and deactivations go through here too.
func (t *Table[T]) Update(id string, fn func(doc *T)) error {
	doc, exists := t.data[id]
	if !exists {
		return fmt.Errorf("update %s: %w: %s", t.name, ErrInvalidID, id)
	}
	fn(&doc)
	if doc.DocID() != id {
		return fmt.Errorf("update %s: id changed from %s to %s", t.name, id, doc.DocID())
	}
	t.data[id] = doc
	t.modified[id] = struct{}{}
	return nil
}

// Find returns the first active row satisfying pred, in id order.
func (t *Table[T]) Find(pred func(doc T) bool) (T, bool) {
	var zero T
	for _, id := range t.ids() {
		doc := t.data[id]
		if doc.Active() && pred(doc) {
			return doc, true
		}
	}
	return zero, false
}

// Filter returns all active rows satisfying pred, in id order.
func (t *Table[T]) Filter(pred func(doc T) bool) []T {
	var out []T
	for _, id := range t.ids() {
		doc := t.data[id]
		if doc.Active() && pred(doc) {
			out = append(out, doc)
		}
	}
	return out
}

// All returns all active rows in id order.
func (t *Table[T]) All() []T {
	return t.Filter(func(T) bool { return true })
}

// FilterAny returns matching rows regardless of activeness, in id order.
// Post-mortem reads (a finished conversation's members) go through here.
func (t *Table[T]) FilterAny(pred func(doc T) bool) []T {
	var out []T
	for _, id := range t.ids() {
		doc := t.data[id]
		if pred(doc) {
			out = append(out, doc)
		}
	}
	return out
}

// ModifiedIDs returns the ids marked dirty since load, in id order.
func (t *Table[T]) ModifiedIDs() []string {
	ids := make([]string, 0, len(t.modified))
	for id := range t.modified {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Save flushes deletions and modifications to the store and clears both
// sets. Calling it again without further mutation writes nothing.
func (t *Table[T]) Save() error {
	for id := range t.deleted {
		if err := t.tx.Delete(t.name, id); err != nil {
			return fmt.Errorf("save %s: delete %s: %w", t.name, id, err)
		}
	}
	for _, id := range t.ModifiedIDs() {
		doc, exists := t.data[id]
		if !exists {
			continue
		}
		if err := t.tx.Replace(t.name, id, doc); err != nil {
			return fmt.Errorf("save %s: replace %s: %w", t.name, id, err)
		}
	}
	t.deleted = make(map[string]struct{})
	t.modified = make(map[string]struct{})
	return nil
}

func (t *Table[T]) ids() []string {
	ids := make([]string, 0, len(t.data))
	for id := range t.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
