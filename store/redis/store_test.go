//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/xraph/paysched/lease"
	redisstore "github.com/xraph/paysched/store/redis"
	"github.com/xraph/paysched/store/storetest"
)

// setupTestStore starts a Redis container and returns a lease store on it.
func setupTestStore(t *testing.T) *redisstore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	s := redisstore.New(client)
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return s
}

func TestLeaseConformance(t *testing.T) {
	s := setupTestStore(t)
	storetest.RunLease(t, func(*testing.T) lease.Store { return s })
}

func TestLockerOverRedis(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := lease.NewLocker(s, lease.WithHolder("a"), lease.WithTTL(time.Second))
	b := lease.NewLocker(s, lease.WithHolder("b"), lease.WithTTL(time.Second))

	release, ok, err := a.TryLock(ctx, lease.DailyRun)
	if err != nil || !ok {
		t.Fatalf("a.TryLock = %v, %v", ok, err)
	}
	if _, ok, _ := b.TryLock(ctx, lease.DailyRun); ok {
		t.Fatal("b must not acquire a held lease")
	}
	release()

	releaseB, ok, err := b.TryLock(ctx, lease.DailyRun)
	if err != nil || !ok {
		t.Fatalf("b.TryLock after release = %v, %v", ok, err)
	}
	releaseB()
}
