package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	keys    map[string]time.Duration
	failSet bool
	deleted []string
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if f.failSet {
		return redis.NewBoolResult(false, errors.New("connection refused"))
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(f.keys, k)
	}
	f.deleted = append(f.deleted, keys...)
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestRedisGuard_FirstThenDuplicate(t *testing.T) {
	fake := &fakeRedis{keys: map[string]time.Duration{}}
	g := NewRedisGuard(fake, 0, nil)
	ctx := context.Background()

	first, err := g.FirstDelivery(ctx, "k1")
	if err != nil || !first {
		t.Fatalf("first delivery: got %v, %v", first, err)
	}
	if fake.keys["k1"] != DefaultTTL {
		t.Errorf("ttl = %v, want %v", fake.keys["k1"], DefaultTTL)
	}

	again, err := g.FirstDelivery(ctx, "k1")
	if err != nil || again {
		t.Fatalf("redelivery: got %v, %v", again, err)
	}
}

func TestRedisGuard_ReleaseAllowsRedelivery(t *testing.T) {
	fake := &fakeRedis{keys: map[string]time.Duration{}}
	g := NewRedisGuard(fake, time.Hour, nil)
	ctx := context.Background()

	_, _ = g.FirstDelivery(ctx, "k1")
	if err := g.Release(ctx, "k1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	first, err := g.FirstDelivery(ctx, "k1")
	if err != nil || !first {
		t.Fatalf("after release: got %v, %v", first, err)
	}
}

func TestRedisGuard_ErrorSurfaces(t *testing.T) {
	g := NewRedisGuard(&fakeRedis{keys: map[string]time.Duration{}, failSet: true}, time.Hour, nil)
	if _, err := g.FirstDelivery(context.Background(), "k1"); err == nil {
		t.Fatal("expected error")
	}
}
