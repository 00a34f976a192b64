package kv

import (
	"context"
	"testing"
)

func TestKeys(t *testing.T) {
	if got, want := CursorKey("user@example.com"), "history_cursor:user@example.com"; got != want {
		t.Errorf("CursorKey = %q, want %q", got, want)
	}
	if got, want := ProcessedKey("b@example.com", "<mid-1>"), "processed:b@example.com:<mid-1>"; got != want {
		t.Errorf("ProcessedKey = %q, want %q", got, want)
	}
}

func TestMemoryReadYourWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	_, ok, err := s.Get(ctx, "absent")
	if err != nil || ok {
		t.Fatalf("Get(absent) = ok %v, err %v; want absent, nil", ok, err)
	}

	if err := s.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || v != "v1" {
		t.Fatalf("Get(k) = %q, %v, %v; want \"v1\", true, nil", v, ok, err)
	}

	if err := s.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	v, _, _ = s.Get(ctx, "k")
	if v != "v2" {
		t.Errorf("Get(k) after overwrite = %q, want \"v2\"", v)
	}
}

func TestDSNFromPath(t *testing.T) {
	dsn, err := dsnFromPath("/tmp/state.db", nil)
	if err != nil {
		t.Fatalf("dsnFromPath() error = %v", err)
	}
	if dsn != "file:///tmp/state.db" {
		t.Errorf("dsnFromPath() = %q, want %q", dsn, "file:///tmp/state.db")
	}
}
