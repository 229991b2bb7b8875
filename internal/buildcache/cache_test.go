package buildcache_test

import (
	"context"
	"testing"

	"mirlang/internal/buildcache"
	"mirlang/internal/bytecode"
)

func openTestCache(t *testing.T) *buildcache.Cache {
	t.Helper()
	c, err := buildcache.Open(":memory:")
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	code := bytecode.Code{{Op: bytecode.PUSH, Arg: 7}, {Op: bytecode.PRINT}, {Op: bytecode.HALT}}
	hash := buildcache.Hash("print(7);")

	if err := c.Put(ctx, hash, code); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := c.Get(ctx, hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if len(*got) != len(code) || (*got)[0].Arg != 7 {
		t.Fatalf("got %v, want %v", *got, code)
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := openTestCache(t)
	_, ok, err := c.Get(context.Background(), buildcache.Hash("nonexistent"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected a cache miss")
	}
}

func TestBuildOrGetCachesAfterFirstCall(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	calls := 0
	build := func() (bytecode.Code, error) {
		calls++
		return bytecode.Code{{Op: bytecode.HALT}}, nil
	}

	if _, err := c.BuildOrGet(ctx, "same source", build); err != nil {
		t.Fatalf("first build: %v", err)
	}
	if _, err := c.BuildOrGet(ctx, "same source", build); err != nil {
		t.Fatalf("second build: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected build to run once, ran %d times", calls)
	}
}

func TestHashDiffersForDifferentSource(t *testing.T) {
	if buildcache.Hash("a") == buildcache.Hash("b") {
		t.Fatal("expected distinct source to hash differently")
	}
}
