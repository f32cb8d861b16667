package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store with the same transaction semantics as the
// SQLite implementation. It backs tests and throwaway worlds.
type Memory struct {
	mu     sync.Mutex
	tables map[string]map[string]json.RawMessage
	tasks  []Task
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]map[string]json.RawMessage)}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// RunTransaction runs fn against a staged copy of the store; on error the
// copy is discarded.
func (m *Memory) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := &memTx{
		tables: make(map[string]map[string]json.RawMessage, len(m.tables)),
	}
	for name, docs := range m.tables {
		copied := make(map[string]json.RawMessage, len(docs))
		for id, data := range docs {
			copied[id] = data
		}
		staged.tables[name] = copied
	}
	staged.tasks = append(staged.tasks, m.tasks...)

	if err := fn(staged); err != nil {
		return err
	}
	m.tables = staged.tables
	m.tasks = staged.tasks
	return nil
}

// ClaimDue removes and returns tasks that have come due.
func (m *Memory) ClaimDue(ctx context.Context, now int64, limit int) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sort.Slice(m.tasks, func(i, j int) bool { return m.tasks[i].RunAt < m.tasks[j].RunAt })
	var due []Task
	var rest []Task
	for _, t := range m.tasks {
		if t.RunAt <= now && len(due) < limit {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	m.tasks = rest
	return due, nil
}

type memTx struct {
	tables map[string]map[string]json.RawMessage
	tasks  []Task
}

func (t *memTx) table(name string) map[string]json.RawMessage {
	docs, ok := t.tables[name]
	if !ok {
		docs = make(map[string]json.RawMessage)
		t.tables[name] = docs
	}
	return docs
}

func (t *memTx) Get(table, id string, out any) error {
	data, ok := t.table(table)[id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	return json.Unmarshal(data, out)
}

func (t *memTx) Insert(table, id string, doc any) error {
	docs := t.table(table)
	if _, exists := docs[id]; exists {
		return fmt.Errorf("duplicate id %s/%s", table, id)
	}
	data, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	docs[id] = data
	return nil
}

func (t *memTx) Replace(table, id string, doc any) error {
	docs := t.table(table)
	if _, exists := docs[id]; !exists {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	data, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	docs[id] = data
	return nil
}

func (t *memTx) Delete(table, id string) error {
	delete(t.table(table), id)
	return nil
}

func (t *memTx) Query(table string, eqs ...Eq) ([]json.RawMessage, error) {
	var out []json.RawMessage
	ids := make([]string, 0, len(t.table(table)))
	for id := range t.table(table) {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		data := t.table(table)[id]
		if matches(data, eqs) {
			out = append(out, data)
		}
	}
	return out, nil
}

func (t *memTx) MaxInt(table, field string, eqs ...Eq) (int64, bool, error) {
	var max int64
	found := false
	for _, data := range t.table(table) {
		if !matches(data, eqs) {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return 0, false, err
		}
		v, ok := doc[field].(float64)
		if !ok {
			continue
		}
		if !found || int64(v) > max {
			max = int64(v)
			found = true
		}
	}
	return max, found, nil
}

func (t *memTx) Schedule(runAt int64, fn string, args any) error {
	data, err := marshalDoc(args)
	if err != nil {
		return err
	}
	t.tasks = append(t.tasks, Task{ID: uuid.NewString(), Fn: fn, Args: data, RunAt: runAt})
	return nil
}

func matches(data json.RawMessage, eqs []Eq) bool {
	if len(eqs) == 0 {
		return true
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	for _, eq := range eqs {
		if normalize(doc[eq.Field]) != normalize(eq.Value) {
			return false
		}
	}
	return true
}

// normalize folds JSON and Go scalar representations into comparable keys.
func normalize(v any) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case bool:
		return fmt.Sprintf("b:%v", x)
	case string:
		return "s:" + x
	case float64:
		return fmt.Sprintf("n:%v", x)
	case float32:
		return fmt.Sprintf("n:%v", float64(x))
	case int:
		return fmt.Sprintf("n:%v", float64(x))
	case int64:
		return fmt.Sprintf("n:%v", float64(x))
	default:
		return fmt.Sprintf("x:%v", x)
	}
}
