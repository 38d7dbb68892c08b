//go:build integration

package redis_test

import (
	"context"
	"os"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/creditgate"
	storeredis "github.com/ineyio/creditgate/store/redis"
	"github.com/ineyio/creditgate/store/storetest"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestStore(t *testing.T, client *goredis.Client) *storeredis.Store {
	t.Helper()
	// Use a unique prefix per test to avoid collisions.
	prefix := "test:" + t.Name() + ":"
	s := storeredis.New(client, storeredis.WithKeyPrefix(prefix))
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
	return s
}

func TestStore(t *testing.T) {
	client := newTestClient(t)
	storetest.Run(t, func(t *testing.T) creditgate.DocumentStore {
		return newTestStore(t, client)
	})
}

func TestKeyPrefixIsolation(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	s1 := storeredis.New(client, storeredis.WithKeyPrefix("test:iso1:"))
	s2 := storeredis.New(client, storeredis.WithKeyPrefix("test:iso2:"))
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, "test:iso*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})

	if _, err := s1.CreateWithSlot(ctx, creditgate.Document{UserID: "u1", Plan: creditgate.Ptr(creditgate.PlanFree)}, 3); err != nil {
		t.Fatalf("create s1: %v", err)
	}
	slot, err := s2.CreateWithSlot(ctx, creditgate.Document{UserID: "u1", Plan: creditgate.Ptr(creditgate.PlanPro)}, 3)
	if err != nil {
		t.Fatalf("create s2: %v", err)
	}
	if slot != 1 {
		t.Fatalf("s2 expected slot 1, got %d", slot)
	}

	d1, _ := s1.Get(ctx, "u1")
	d2, _ := s2.Get(ctx, "u1")
	if *d1.Plan != creditgate.PlanFree {
		t.Fatalf("s1 expected Free, got %s", *d1.Plan)
	}
	if *d2.Plan != creditgate.PlanPro {
		t.Fatalf("s2 expected Pro, got %s", *d2.Plan)
	}
}
