package task

import (
	"testing"
	"time"

	"github.com/quantaalpha/triald/internal/errors"
)

func TestRegistry_GetNotFound(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("missing")
	if err == nil {
		t.Fatal("expected NotFound for unknown id")
	}
	if !errors.IsNotFound(err) {
		t.Errorf("expected NotFound classification, got %v", err)
	}
}

func TestRegistry_AddAndGet(t *testing.T) {
	r := NewRegistry()
	tk := New(KindMining, nil, Progress{})
	r.Add(tk)

	got, err := r.Get(tk.ID())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != tk {
		t.Error("Get should return the registered task")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	r := NewRegistry()

	var ids []string
	for i := 0; i < 3; i++ {
		tk := New(KindMining, nil, Progress{})
		r.Add(tk)
		ids = append(ids, tk.ID())
		time.Sleep(2 * time.Millisecond) // distinct createdAt
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List returned %d tasks, want 3", len(list))
	}
	for i, tk := range list {
		want := ids[len(ids)-1-i]
		if tk.ID() != want {
			t.Errorf("position %d: got %s, want %s (createdAt descending)", i, tk.ID(), want)
		}
	}
}
