package ratelimit

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemorySlidingWindow(t *testing.T) {
	m := NewMemory(10*time.Second, 25)
	start := time.Unix(1_800_000_000, 0)

	for i := 0; i < 25; i++ {
		ok, _ := m.Allow(t.Context(), "1:10.0.0.1", start.Add(time.Duration(i)*time.Millisecond))
		if !ok {
			t.Fatalf("hit %d should pass", i+1)
		}
	}
	if ok, _ := m.Allow(t.Context(), "1:10.0.0.1", start.Add(time.Second)); ok {
		t.Fatalf("26th hit inside the window should be limited")
	}
	if ok, _ := m.Allow(t.Context(), "2:10.0.0.1", start.Add(time.Second)); !ok {
		t.Fatalf("other keys are independent")
	}
	if ok, _ := m.Allow(t.Context(), "1:10.0.0.1", start.Add(11*time.Second)); !ok {
		t.Fatalf("hits should expire after the window")
	}
}

func TestRedisSlidingWindow(t *testing.T) {
	url := os.Getenv("AZQ_TEST_REDIS_URL")
	if url == "" {
		t.Skip("AZQ_TEST_REDIS_URL not set")
	}
	rdb, err := ConnectRedis(t.Context(), url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer rdb.Close()

	key := "test:" + time.Now().Format(time.RFC3339Nano)
	r := NewRedis(rdb, 10*time.Second, 3, nil)
	now := time.Now()
	for i := 0; i < 3; i++ {
		ok, err := r.Allow(t.Context(), key, now.Add(time.Duration(i)*time.Millisecond))
		if err != nil || !ok {
			t.Fatalf("hit %d = %v, %v", i+1, ok, err)
		}
	}
	if ok, err := r.Allow(t.Context(), key, now.Add(5*time.Millisecond)); err != nil || ok {
		t.Fatalf("4th hit = %v, %v; want limited", ok, err)
	}
	if ok, err := r.Allow(t.Context(), key, now.Add(11*time.Second)); err != nil || !ok {
		t.Fatalf("after window = %v, %v", ok, err)
	}
}

func TestRedisReleaseFailureIsLogged(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := NewRedis(rdb, 10*time.Second, 3, logger)

	r.release(t.Context(), redisKeyPrefix+"1:10.0.0.1", "member")
	if !strings.Contains(buf.String(), "rate limit release failed") {
		t.Fatalf("release error was not logged: %q", buf.String())
	}
}
