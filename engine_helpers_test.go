package goGuard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goGuard/store"
	"github.com/MrEthical07/goGuard/store/memory"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1760000000, 0).UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte(testSigningKey)
	cfg.OTP.Hash.Memory = 8 * 1024
	cfg.OTP.Hash.Time = 1
	cfg.Audit.RetryBackoff = time.Millisecond
	return cfg
}

type testEngine struct {
	*Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	store  *memory.Store
	sender *CaptureSender
	clock  *testClock
}

type engineOption func(*Builder)

func newTestEngine(t *testing.T, mutate func(*Config), opts ...engineOption) *testEngine {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	st := memory.New()
	sender := &CaptureSender{}
	clock := newTestClock()

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStores(st).
		WithSender(sender).
		WithClock(clock.Now)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})

	return &testEngine{
		Engine: engine,
		mr:     mr,
		rdb:    rdb,
		store:  st,
		sender: sender,
		clock:  clock,
	}
}

func (te *testEngine) eventsOfType(eventType string) []store.SecurityEvent {
	var out []store.SecurityEvent
	for _, e := range te.store.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func clientCtx() context.Context {
	return WithIdentity(context.Background(), Identity{
		IP:        "203.0.113.7",
		UserAgent: "guard-test/1.0",
		DeviceID:  "device-1",
	})
}
