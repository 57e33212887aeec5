package esimflow

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/esimflow/internal/upstream"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricMFAChallengeSent)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricMFAChallengeSent); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		20 * time.Millisecond,
		80 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		900 * time.Millisecond,
		2 * time.Second,
		4 * time.Second,
		12 * time.Second,
	}

	for _, d := range observations {
		m.Observe(MetricUpstreamLatency, d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricUpstreamLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}

	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsObserveIgnoresCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricLoginSuccess, time.Second)

	snap := m.Snapshot()
	if _, ok := snap.Histograms[MetricLoginSuccess]; ok {
		t.Fatal("counters must not grow histograms")
	}
	if snap.Counters[MetricLoginSuccess] != 0 {
		t.Fatal("Observe must not increment counters")
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginFailure)
	m.Inc(MetricLoginFailure)
	m.Observe(MetricUpstreamLatency, 2*time.Millisecond)

	snap := m.Snapshot()

	if snap.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("expected MetricLoginSuccess=1 got %d", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricLoginFailure] != 2 {
		t.Fatalf("expected MetricLoginFailure=2 got %d", snap.Counters[MetricLoginFailure])
	}
	if len(snap.Histograms[MetricUpstreamLatency]) != 8 {
		t.Fatalf("expected histogram length 8")
	}
	if snap.Histograms[MetricUpstreamLatency][0] != 1 {
		t.Fatalf("expected first histogram bucket=1 got %d", snap.Histograms[MetricUpstreamLatency][0])
	}
}

func TestEngineRecordsUpstreamLatency(t *testing.T) {
	env := newTestEnv(t, nil)
	env.carrier.on(upstream.OpVerifyCookie, func(upstream.Request) (*upstream.Response, error) {
		return &upstream.Response{Status: http.StatusUnauthorized, Body: []byte("no")}, nil
	})
	sid := env.newSession(t)

	if _, err := env.engine.LoginWithCookie(context.Background(), sid, "gg_session=abc"); err == nil {
		t.Fatal("expected cookie rejection")
	}

	snap := env.engine.MetricsSnapshot()
	var total uint64
	for _, v := range snap.Histograms[MetricUpstreamLatency] {
		total += v
	}
	if total != 1 {
		t.Fatalf("expected one upstream observation, got %d", total)
	}
	if snap.Counters[MetricCookieLoginFailure] != 1 {
		t.Fatalf("expected one cookie failure, got %d", snap.Counters[MetricCookieLoginFailure])
	}
}
