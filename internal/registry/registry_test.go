package registry

import "testing"

func TestRegistry(t *testing.T) {
	r := New()
	if got := r.Name("a"); got != "" {
		t.Fatalf("unknown name=%q, want empty", got)
	}

	r.Set("a", "alice")
	r.Set("b", "bob")
	if got := r.Name("a"); got != "alice" {
		t.Fatalf("name=%q, want alice", got)
	}
	if got := r.Len(); got != 2 {
		t.Fatalf("len=%d, want 2", got)
	}

	r.Set("a", "alicia")
	if got := r.Name("a"); got != "alicia" {
		t.Fatalf("name=%q, want alicia", got)
	}

	r.Remove("a")
	if got := r.Name("a"); got != "" {
		t.Fatalf("name after remove=%q, want empty", got)
	}
	if got := r.Len(); got != 1 {
		t.Fatalf("len=%d, want 1", got)
	}
}
