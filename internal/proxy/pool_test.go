package proxy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolEmptyGet(t *testing.T) {
	p := NewPool(nil, Config{}, nil)
	_, ok := p.Get()
	require.False(t, ok)
}

func TestPoolScoring(t *testing.T) {
	p := NewPool([]string{"http://p1:8080"}, Config{}, nil)

	p.Report("http://p1:8080", false)
	p.Report("http://p1:8080", false)
	recs := p.Snapshot()
	require.Len(t, recs, 1)
	require.Equal(t, 60, recs[0].Score)
	require.Equal(t, 2, recs[0].FailureCount)

	p.Report("http://p1:8080", true)
	recs = p.Snapshot()
	require.Equal(t, 70, recs[0].Score)
	require.Equal(t, 1, recs[0].SuccessCount)
}

func TestPoolScoreBounds(t *testing.T) {
	p := NewPool([]string{"http://p1:8080"}, Config{}, nil)

	for i := 0; i < 10; i++ {
		p.Report("http://p1:8080", false)
	}
	require.Equal(t, 0, p.Snapshot()[0].Score, "score floors at zero")

	for i := 0; i < 20; i++ {
		p.Report("http://p1:8080", true)
	}
	require.Equal(t, 100, p.Snapshot()[0].Score, "score caps at one hundred")
}

func TestPoolPrefersHealthy(t *testing.T) {
	p := NewPool([]string{"http://good:8080", "http://bad:8080"}, Config{HealthFloor: 50}, nil)

	// Drive the bad proxy below the floor.
	for i := 0; i < 3; i++ {
		p.Report("http://bad:8080", false)
	}
	for i := 0; i < 50; i++ {
		addr, ok := p.Get()
		require.True(t, ok)
		require.Equal(t, "http://good:8080", addr, "below-floor proxy must not be selected while a healthy one exists")
	}
}

func TestPoolFallsBackWhenAllUnhealthy(t *testing.T) {
	p := NewPool([]string{"http://p1:8080"}, Config{HealthFloor: 50}, nil)
	for i := 0; i < 5; i++ {
		p.Report("http://p1:8080", false)
	}
	addr, ok := p.Get()
	require.True(t, ok, "an all-unhealthy pool still serves so proxies can recover")
	require.Equal(t, "http://p1:8080", addr)
}

func TestPoolAddIsIdempotent(t *testing.T) {
	p := NewPool(nil, Config{}, nil)
	p.Add("http://p1:8080")
	p.Add("http://p1:8080")
	require.Len(t, p.Snapshot(), 1)
}

func TestPoolReportUnknownAddress(t *testing.T) {
	p := NewPool([]string{"http://p1:8080"}, Config{}, nil)
	p.Report("http://nope:1", false)
	require.Equal(t, 100, p.Snapshot()[0].Score)
}
