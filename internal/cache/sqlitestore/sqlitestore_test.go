package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestPutGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "api-cache-v1", "POST https://ai/x body=01", []byte(`{"lat":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := s.Get(ctx, "api-cache-v1", "POST https://ai/x body=01")
	if err != nil || !ok || string(got) != `{"lat":1}` {
		t.Fatalf("get=(%q,%v,%v)", got, ok, err)
	}

	// other tier does not see the entry
	if _, ok, _ := s.Get(ctx, "tile-cache-v1", "POST https://ai/x body=01"); ok {
		t.Fatal("tiers must be isolated")
	}
}

func TestPut_ReplacesWholesale(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_ = s.Put(ctx, "t", "k", []byte("first-and-longer"))
	_ = s.Put(ctx, "t", "k", []byte("2nd"))
	got, _, _ := s.Get(ctx, "t", "k")
	if string(got) != "2nd" {
		t.Fatalf("got %q want 2nd", got)
	}
}

func TestTiers_CreateListDrop(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateTier(ctx, "tile-cache-v1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = s.Put(ctx, "api-cache-v0", "k", []byte("v"))

	names, err := s.Tiers(ctx)
	if err != nil {
		t.Fatalf("tiers: %v", err)
	}
	if len(names) != 2 || names[0] != "api-cache-v0" || names[1] != "tile-cache-v1" {
		t.Fatalf("tiers=%v", names)
	}

	if err := s.DropTier(ctx, "api-cache-v0"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "api-cache-v0", "k"); ok {
		t.Fatal("entry survived tier drop")
	}
	names, _ = s.Tiers(ctx)
	if len(names) != 1 || names[0] != "tile-cache-v1" {
		t.Fatalf("tiers after drop=%v", names)
	}
}

func TestReopen_KeepsEntries(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, "tile-cache-v1", "GET https://a/1/0/0.png", []byte{0x89, 'P', 'N', 'G'})
	_ = s.Close()

	s2, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, ok, err := s2.Get(ctx, "tile-cache-v1", "GET https://a/1/0/0.png")
	if err != nil || !ok || len(got) != 4 || got[0] != 0x89 {
		t.Fatalf("after reopen get=(%v,%v,%v)", got, ok, err)
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
