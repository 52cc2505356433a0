//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/store/memory"
	"github.com/MrEthical07/goGuard/store/postgres"
)

// redisMode describes which Redis backend a suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns the set of Redis backends to test.
// miniredis is always available.
// Real Redis standalone is used when REDIS_ADDR is set (e.g. "127.0.0.1:6379").
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				// Flush the test DB to avoid state leaking between runs.
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	// Cluster mode: when REDIS_CLUSTER_ADDRS is set (comma-separated).
	if addrs := os.Getenv("REDIS_CLUSTER_ADDRS"); addrs != "" {
		modes = append(modes, redisMode{
			name: "cluster",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClusterClient(&redis.ClusterOptions{Addrs: splitAddrs(addrs)})
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis cluster: %v", err)
				}
				return rdb, func() { _ = rdb.Close() }
			},
		})
	}

	return modes
}

func splitAddrs(s string) []string {
	var addrs []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// storeBackend is one implementation of goGuard.Stores.
type storeBackend struct {
	name  string
	setup func(t *testing.T) goGuard.Stores
}

// storeBackends returns the in-memory store, plus Postgres when
// DATABASE_URL is set.
func storeBackends(t *testing.T) []storeBackend {
	t.Helper()
	backends := []storeBackend{
		{
			name:  "memory",
			setup: func(*testing.T) goGuard.Stores { return memory.New() },
		},
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		backends = append(backends, storeBackend{
			name: "postgres",
			setup: func(t *testing.T) goGuard.Stores {
				t.Helper()
				ctx := context.Background()
				s, err := postgres.Open(ctx, dsn)
				if err != nil {
					t.Skipf("cannot connect to Postgres: %v", err)
				}
				if err := s.Migrate(ctx); err != nil {
					s.Close()
					t.Fatalf("migrate failed: %v", err)
				}
				t.Cleanup(s.Close)
				return s
			},
		})
	}

	return backends
}

func newIntegrationEngine(t *testing.T, rdb redis.UniversalClient, stores goGuard.Stores, mutate func(*goGuard.Config)) *goGuard.Engine {
	t.Helper()

	cfg := goGuard.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("integration-signing-key-01234567")
	cfg.OTP.Hash.Memory = 8 * 1024
	cfg.OTP.Hash.Time = 1
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := goGuard.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStores(stores).
		WithSender(&goGuard.CaptureSender{}).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

// uniqueUser keeps rows from different runs apart on a shared database.
func uniqueUser(t *testing.T, suffix string) string {
	return t.Name() + "-" + suffix + "-" + time.Now().Format("150405.000000000")
}
