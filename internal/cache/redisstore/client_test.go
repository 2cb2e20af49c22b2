package redisstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr(), WithNamespace("test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestPutGet_HappyPath_AndMissing(t *testing.T) {
	rc, mr := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Put(ctx, "tile-cache-v1", "GET https://a/1/2/3.png", []byte("png")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := rc.Get(ctx, "tile-cache-v1", "GET https://a/1/2/3.png")
	if err != nil || !ok || string(got) != "png" {
		t.Fatalf("Get=(%q,%v,%v)", got, ok, err)
	}

	_, ok, err = rc.Get(ctx, "tile-cache-v1", "missing")
	if err != nil || ok {
		t.Fatalf("missing Get=(%v,%v) want (false,nil)", ok, err)
	}

	if !mr.Exists("test:tier:tile-cache-v1") {
		t.Fatalf("expected hash key test:tier:tile-cache-v1; keys=%v", mr.Keys())
	}
	if ok, _ := mr.SIsMember("test:tiers", "tile-cache-v1"); !ok {
		t.Fatal("tier not registered")
	}
}

func TestPut_Overwrites(t *testing.T) {
	rc, _ := newMini(t)
	ctx := context.Background()

	_ = rc.Put(ctx, "api-cache-v1", "k", []byte("old"))
	_ = rc.Put(ctx, "api-cache-v1", "k", []byte("new"))
	got, _, _ := rc.Get(ctx, "api-cache-v1", "k")
	if string(got) != "new" {
		t.Fatalf("got %q want new", got)
	}
	n, err := rc.Len(ctx, "api-cache-v1")
	if err != nil || n != 1 {
		t.Fatalf("len=%d err=%v", n, err)
	}
}

func TestTiers_CreateAndDrop(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	if err := rc.CreateTier(ctx, "app-shell-cache-v1"); err != nil {
		t.Fatalf("CreateTier: %v", err)
	}
	_ = rc.Put(ctx, "tile-cache-v0", "k", []byte("old tile"))

	names, err := rc.Tiers(ctx)
	if err != nil {
		t.Fatalf("Tiers: %v", err)
	}
	if len(names) != 2 || names[0] != "app-shell-cache-v1" || names[1] != "tile-cache-v0" {
		t.Fatalf("tiers=%v", names)
	}

	if err := rc.DropTier(ctx, "tile-cache-v0"); err != nil {
		t.Fatalf("DropTier: %v", err)
	}
	if mr.Exists("test:tier:tile-cache-v0") {
		t.Fatal("tier hash survived drop")
	}
	names, _ = rc.Tiers(ctx)
	if len(names) != 1 || names[0] != "app-shell-cache-v1" {
		t.Fatalf("tiers after drop=%v", names)
	}
}

func TestContextCanceled_IsRespected(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Put(ctx, "t", "k", []byte("v")); err == nil {
		t.Fatalf("expected error on Put with canceled context")
	}
	if _, _, err := rc.Get(ctx, "t", "k"); err == nil {
		t.Fatalf("expected error on Get with canceled context")
	}
	if err := rc.DropTier(ctx, "t"); err == nil {
		t.Fatalf("expected error on DropTier with canceled context")
	}
}

func TestNew_RequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty address")
	}
}
