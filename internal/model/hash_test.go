package model

import "testing"

func TestContentHashOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "nested": map[string]any{"y": 1, "x": 2}}
	b := map[string]any{"a": 2, "b": 1, "nested": map[string]any{"x": 2, "y": 1}}

	ha, err := contentHash(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := contentHash(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Errorf("hash differs across key order: %s != %s", ha, hb)
	}
}

func TestContentHashChangesOnValueChange(t *testing.T) {
	a := map[string]any{"a": 1}
	b := map[string]any{"a": 2}
	ha, _ := contentHash(a)
	hb, _ := contentHash(b)
	if ha == hb {
		t.Error("expected different hashes for different values")
	}
}

func TestResourceHash(t *testing.T) {
	r := Resource{Values: map[string]any{"size": "db.t3.micro"}}
	h, err := r.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != 32 {
		t.Errorf("expected 32 hex chars, got %d (%s)", len(h), h)
	}
}
