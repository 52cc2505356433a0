package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/store/memory"
)

const loadPolicy = "loadtest"

func main() {
	var (
		subjects    = flag.Int("subjects", 10000, "number of rate limit subjects")
		limit       = flag.Int("limit", 100, "requests allowed per subject per window")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations in the allow phase")
		chains      = flag.Int("chains", 2000, "refresh chains raced in the rotate phase")
		racers      = flag.Int("racers", 8, "concurrent rotations per refresh token")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *subjects <= 0 || *limit <= 0 || *concurrency <= 0 || *ops <= 0 || *chains <= 0 || *racers <= 1 {
		fmt.Fprintln(os.Stderr, "subjects, limit, concurrency, ops and chains must be > 0; racers must be > 1")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := goGuard.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("loadtest-signing-key-0123456789ab")
	cfg.RateLimit.Policies[loadPolicy] = goGuard.Policy{Name: loadPolicy, Limit: *limit, Window: time.Hour}
	cfg.Audit.Enabled = false

	engine, err := goGuard.New().
		WithConfig(cfg).
		WithRedis(client).
		WithStores(memory.New()).
		WithSender(goGuard.LogSender{}).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	allowStats, allowed := runAllowPhase(ctx, engine, *subjects, *ops, *concurrency)
	rotateStats, winners := runRotatePhase(ctx, engine, *chains, *racers)

	fmt.Println("---- results ----")
	printStats("allow", allowStats)
	fmt.Printf("allow: admitted=%d max_admissible=%d\n", allowed, min(*ops, *subjects**limit))
	printStats("rotate", rotateStats)
	fmt.Printf("rotate: chains=%d winners=%d reuse_detected=%d\n",
		*chains, winners, engine.Metrics().Value(goGuard.MetricRefreshReuseDetected))

	if allowed > int64(*subjects**limit) || winners > int64(*chains) {
		fmt.Fprintln(os.Stderr, "FAIL: admitted more than the limits allow")
		os.Exit(1)
	}
}

func runAllowPhase(ctx context.Context, engine *goGuard.Engine, subjects, ops, concurrency int) (phaseStats, int64) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		allowed   int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				subject := fmt.Sprintf("subject-%d", r.Intn(subjects))
				t0 := time.Now()
				d, err := engine.Allow(ctx, loadPolicy, subject)
				elapsed := time.Since(t0)
				switch {
				case err != nil:
					atomic.AddInt64(&failures, 1)
				case d.Allowed:
					atomic.AddInt64(&allowed, 1)
				}
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures), allowed
}

// runRotatePhase races racers rotations of one refresh token per chain.
// At most one rotation per chain may win.
func runRotatePhase(ctx context.Context, engine *goGuard.Engine, chains, racers int) (phaseStats, int64) {
	var (
		failures  int64
		winners   int64
		latencies = make([]time.Duration, 0, chains*racers)
		mu        sync.Mutex
	)

	tokens := make([]string, chains)
	for i := range tokens {
		pair, err := engine.IssueTokens(ctx, fmt.Sprintf("user-%d", i))
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		tokens[i] = pair.RefreshToken
	}

	start := time.Now()
	for _, token := range tokens {
		var (
			wg    sync.WaitGroup
			ready = make(chan struct{})
			won   int64
		)
		for r := 0; r < racers; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-ready
				t0 := time.Now()
				_, err := engine.Refresh(ctx, token)
				elapsed := time.Since(t0)
				if err == nil {
					atomic.AddInt64(&won, 1)
				} else {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}()
		}
		close(ready)
		wg.Wait()
		winners += won
	}
	total := time.Since(start)
	return computeStats(total, latencies, failures), winners
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
