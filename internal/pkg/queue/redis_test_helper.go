package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qwikcal/qwikcal/internal/pkg/env"
)

// Queue tests run against a real Redis on an isolated database so they never
// touch application keys.
const isolatedQueueTestRedisDB = 13

func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	hosts := []string{env.GetEnv("CACHE_HOST", ""), "cache", "localhost", "127.0.0.1"}
	ports := []string{env.GetEnv("CACHE_PORT", ""), "6379"}
	passwords := []string{env.GetEnv("CACHE_PASSWORD", ""), ""}

	seen := make(map[string]struct{})
	var lastErr error
	for _, host := range hosts {
		if host == "" {
			continue
		}
		for _, port := range ports {
			if port == "" {
				continue
			}
			for _, password := range passwords {
				addr := fmt.Sprintf("%s:%s", host, port)
				if _, ok := seen[addr+"|"+password]; ok {
					continue
				}
				seen[addr+"|"+password] = struct{}{}

				client := redis.NewClient(&redis.Options{
					Addr:     addr,
					Password: password,
					DB:       isolatedQueueTestRedisDB,
				})
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				_, err := client.Ping(ctx).Result()
				cancel()
				if err == nil {
					t.Cleanup(func() { _ = client.Close() })
					return client
				}
				_ = client.Close()
				lastErr = err
			}
		}
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return nil
}

// newTestQueue builds a queue on a clean key namespace.
func newTestQueue(t *testing.T, name string, maxReceives int) *Queue {
	t.Helper()

	client := newTestRedisClient(t)
	q := NewQueue(client, name, maxReceives)
	resetQueueKeys(t, client, q)
	t.Cleanup(func() { resetQueueKeys(t, client, q) })
	return q
}

func resetQueueKeys(t *testing.T, client *redis.Client, q *Queue) {
	t.Helper()

	ctx := context.Background()
	keys := []string{q.pendingKey(), q.processingKey(), q.deadLetterKey()}

	iter := client.Scan(ctx, 0, "queue:"+q.name+":msg:*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		t.Fatalf("failed to scan redis keys: %v", err)
	}

	if err := client.Del(ctx, keys...).Err(); err != nil {
		t.Fatalf("failed to cleanup redis keys: %v", err)
	}
}
