package minheap

import (
	"math/rand"
	"sort"
	"testing"
)

func TestPushPopSingleton(t *testing.T) {
	h := New(func(a, b int) bool { return a > b })
	h.Push(7)
	if got := h.Len(); got != 1 {
		t.Fatalf("expected length 1, got %d", got)
	}
	v, ok := h.Pop()
	if !ok || v != 7 {
		t.Fatalf("expected to pop 7, got %d (ok=%v)", v, ok)
	}
	if _, ok := h.Pop(); ok {
		t.Fatalf("pop on empty heap should report not ok")
	}
}

func TestPopReturnsComparatorOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	h := New(func(a, b float64) bool { return a > b })

	values := make([]float64, 200)
	for i := range values {
		values[i] = rng.Float64() * 1000
		h.Push(values[i])
	}
	sort.Float64s(values)

	for i, want := range values {
		got, ok := h.Pop()
		if !ok {
			t.Fatalf("heap empty after %d pops, expected %d", i, len(values))
		}
		if got != want {
			t.Fatalf("pop %d: expected %v, got %v", i, want, got)
		}
	}
	if h.Len() != 0 {
		t.Fatalf("expected empty heap, %d elements remain", h.Len())
	}
}

func TestPeekDoesNotRemove(t *testing.T) {
	h := New(func(a, b int) bool { return a > b })
	for _, v := range []int{5, 2, 9} {
		h.Push(v)
	}
	v, ok := h.Peek()
	if !ok || v != 2 {
		t.Fatalf("expected peek 2, got %d (ok=%v)", v, ok)
	}
	if h.Len() != 3 {
		t.Fatalf("peek changed heap length to %d", h.Len())
	}
}
