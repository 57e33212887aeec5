// Command esimflow-loadtest measures session store throughput: concurrent
// reads, and lock-guarded read-modify-write cycles shaped like the
// engine's committed transitions.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/esimflow/internal"
	"github.com/MrEthical07/esimflow/internal/stores"
	"github.com/MrEthical07/esimflow/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/jessevdk/go-flags"
	"github.com/redis/go-redis/v9"
)

type options struct {
	Sessions    int    `long:"sessions" default:"20000" description:"number of sessions to seed"`
	Concurrency int    `long:"concurrency" default:"128" description:"number of concurrent workers"`
	Ops         int    `long:"ops" default:"100000" description:"operations per phase"`
	RedisAddr   string `long:"redis-addr" env:"REDIS_ADDR" description:"redis address; miniredis when empty"`
	Prefix      string `long:"prefix" default:"efload" description:"session key prefix"`
	Cache       int    `long:"cache" default:"0" description:"session LRU cache size; 0 disables"`
}

func main() {
	opts := &options{}
	if _, err := flags.Parse(opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}
	if opts.Sessions <= 0 || opts.Concurrency <= 0 || opts.Ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	client, cleanup, err := connect(opts.RedisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	store := session.NewStore(client, opts.Prefix, 24*time.Hour, true)
	if opts.Cache > 0 {
		store.EnableCache(opts.Cache, 5*time.Second)
	}
	locks := stores.NewLockStore(client, opts.Prefix+":lock")

	fmt.Printf("seeding %d sessions...\n", opts.Sessions)
	startSeed := time.Now()
	ids := make([]string, opts.Sessions)
	for i := range ids {
		sid, err := internal.NewSessionID()
		if err != nil {
			fmt.Fprintf(os.Stderr, "session id: %v\n", err)
			os.Exit(1)
		}
		ids[i] = sid.String()
		if err := store.Save(ctx, seedSession(ids[i], i)); err != nil {
			fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	read := runPhase(opts.Ops, opts.Concurrency, func(r *rand.Rand, _ int) error {
		_, err := store.Get(ctx, ids[r.Intn(len(ids))])
		return err
	})
	commit := runPhase(opts.Ops, opts.Concurrency, func(r *rand.Rand, op int) error {
		sid := ids[r.Intn(len(ids))]
		token, err := locks.Acquire(ctx, sid, 5*time.Second)
		if err != nil {
			return err
		}
		defer func() { _, _ = locks.Release(ctx, sid, token) }()

		_, err = store.Update(ctx, sid, func(s *session.Session) error {
			s.UpdatedAt = time.Now().Unix()
			s.SIMStatus = "op-" + strconv.Itoa(op)
			return nil
		})
		return err
	})

	fmt.Println("---- results ----")
	printStats("read", read)
	printStats("commit", commit)
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	fmt.Printf("using redis at %s\n", addr)
	return client, func() { _ = client.Close() }, nil
}

func seedSession(sid string, i int) *session.Session {
	now := time.Now().Unix()
	return &session.Session{
		ID:           sid,
		State:        session.StateMFAVerified,
		AccessToken:  "load-token-" + strconv.Itoa(i),
		MFASignature: "load-sig",
		MemberID:     "m-" + strconv.Itoa(i),
		MemberName:   "load",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// runPhase spreads ops calls of fn over concurrency workers and records
// per-call latency. A lock contention error counts as a failure.
func runPhase(ops, concurrency int, fn func(r *rand.Rand, op int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
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
				t0 := time.Now()
				err := fn(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
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
	switch {
	case len(samples) == 0:
		return 0
	case p <= 0:
		return samples[0]
	case p >= 100:
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
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
