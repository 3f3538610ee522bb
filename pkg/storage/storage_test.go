package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func openTest(t *testing.T, ns string, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "client.sqlite"), ns, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, "production")

	if _, err := s.Get(ctx, "auth_token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
	}
	if err := s.Set(ctx, "auth_token", "abc", 0); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "auth_token")
	if err != nil || got != "abc" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if err := s.Delete(ctx, "auth_token"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "auth_token"); err != nil {
		t.Fatalf("second Delete should be a no-op, got %v", err)
	}
	if _, err := s.Get(ctx, "auth_token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete err = %v", err)
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "client.sqlite")
	prod, err := Open(path, "production")
	if err != nil {
		t.Fatal(err)
	}
	if err := prod.Set(ctx, "auth_token", "prod-token", 0); err != nil {
		t.Fatal(err)
	}
	prod.Close()

	local, err := Open(path, "local")
	if err != nil {
		t.Fatal(err)
	}
	defer local.Close()
	if _, err := local.Get(ctx, "auth_token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("token leaked across namespaces: err = %v", err)
	}
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := openTest(t, "local", WithClock(clk.Now))

	if err := s.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	clk.Advance(59 * time.Second)
	if v, err := s.Get(ctx, "k"); err != nil || v != "v" {
		t.Fatalf("before expiry: %q, %v", v, err)
	}
	clk.Advance(2 * time.Second)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after expiry err = %v, want ErrNotFound", err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, "local")
	in := []string{"belgrade", "novi sad"}
	if err := s.SetJSON(ctx, "recent", in, 0); err != nil {
		t.Fatal(err)
	}
	var out []string
	if err := s.GetJSON(ctx, "recent", &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[1] != "novi sad" {
		t.Fatalf("GetJSON = %v", out)
	}
}

func TestErrorLogRolls(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := openTest(t, "production", WithMaxErrors(3), WithClock(clk.Now))

	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		if _, err := s.AppendError(ctx, ErrorEntry{Operation: fmt.Sprintf("op%d", i), Message: "boom"}, 0); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := s.Errors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	if entries[0].Operation != "op4" || entries[2].Operation != "op2" {
		t.Errorf("unexpected order: %s .. %s", entries[0].Operation, entries[2].Operation)
	}
	if entries[0].ID == "" {
		t.Error("entry id not assigned")
	}
}

func TestErrorLogTTL(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := openTest(t, "production", WithClock(clk.Now))

	if _, err := s.AppendError(ctx, ErrorEntry{Operation: "short"}, time.Hour); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Second)
	if _, err := s.AppendError(ctx, ErrorEntry{Operation: "forever"}, 0); err != nil {
		t.Fatal(err)
	}
	clk.Advance(2 * time.Hour)
	entries, err := s.Errors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Operation != "forever" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestGeocodeCache(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, "local")
	if _, ok := s.CachedGeocode(ctx, "belgrade"); ok {
		t.Fatal("unexpected cache hit")
	}
	if err := s.StoreGeocode(ctx, "belgrade", `[]`); err != nil {
		t.Fatal(err)
	}
	if raw, ok := s.CachedGeocode(ctx, "belgrade"); !ok || raw != `[]` {
		t.Fatalf("CachedGeocode = %q, %v", raw, ok)
	}
}
