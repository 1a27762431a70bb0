package terrain

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geoforge/ctod/internal/cog"
	"github.com/geoforge/ctod/internal/tms"
)

func testKey(x int) WindowKey {
	return WindowKey{
		Dataset:    "/data/test.tif",
		TMS:        tms.WGS1984Quad,
		Z:          10,
		X:          x,
		Y:          5,
		Resampling: "bilinear",
		MeshParam:  20,
		Method:     "grid",
	}
}

func smallGrid() *cog.ElevationGrid {
	return &cog.ElevationGrid{Width: 2, Height: 2, Data: make([]float32, 4)}
}

func TestCoalescingSingleProduce(t *testing.T) {
	cache := NewWindowCache(1 << 20)
	defer cache.Stop()
	c := NewCoalescer(cache)

	var calls atomic.Int32
	produce := func() (*cog.ElevationGrid, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return smallGrid(), nil
	}

	const waiters = 32
	var wg sync.WaitGroup
	results := make([]*cog.ElevationGrid, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			grid, err := c.GetOrFetch(context.Background(), testKey(1), produce)
			if err != nil {
				t.Errorf("waiter %d: %v", i, err)
				return
			}
			results[i] = grid
		}(i)
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("produce ran %d times for %d concurrent waiters, want 1", got, waiters)
	}
	for i := 1; i < waiters; i++ {
		if results[i] != results[0] {
			t.Fatalf("waiter %d got a different grid handle", i)
		}
	}
}

func TestCoalescerCacheHitSkipsProduce(t *testing.T) {
	cache := NewWindowCache(1 << 20)
	defer cache.Stop()
	c := NewCoalescer(cache)

	var calls atomic.Int32
	produce := func() (*cog.ElevationGrid, error) {
		calls.Add(1)
		return smallGrid(), nil
	}

	if _, err := c.GetOrFetch(context.Background(), testKey(2), produce); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetOrFetch(context.Background(), testKey(2), produce); err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("produce ran %d times, want 1 (second call is a cache hit)", got)
	}
}

func TestCoalescerErrorFanOut(t *testing.T) {
	cache := NewWindowCache(1 << 20)
	defer cache.Stop()
	c := NewCoalescer(cache)

	wantErr := errors.New("read failed")
	produce := func() (*cog.ElevationGrid, error) {
		time.Sleep(10 * time.Millisecond)
		return nil, wantErr
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrFetch(context.Background(), testKey(3), produce)
			if !errors.Is(err, wantErr) {
				t.Errorf("err = %v, want the shared failure", err)
			}
		}()
	}
	wg.Wait()

	// A failed fetch must not poison the cache.
	if _, ok := cache.Get(testKey(3).Fingerprint()); ok {
		t.Error("failed fetch was cached")
	}
}

func TestCoalescerCancelledWaiterWorkContinues(t *testing.T) {
	cache := NewWindowCache(1 << 20)
	defer cache.Stop()
	c := NewCoalescer(cache)

	started := make(chan struct{})
	release := make(chan struct{})
	produce := func() (*cog.ElevationGrid, error) {
		close(started)
		<-release
		return smallGrid(), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(ctx, testKey(4), produce)
		done <- err
	}()

	<-started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled waiter got %v", err)
	}

	// The shared fetch keeps going and populates the cache.
	close(release)
	deadline := time.After(time.Second)
	for {
		if _, ok := cache.Get(testKey(4).Fingerprint()); ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("abandoned fetch never populated the cache")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWindowKeyFingerprint(t *testing.T) {
	a := testKey(1)
	b := testKey(1)
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("equal keys have different fingerprints")
	}

	// Every field participates in the identity.
	c := testKey(1)
	c.NoData = -32768
	if c.Fingerprint() == a.Fingerprint() {
		t.Error("NoData not part of the fingerprint")
	}
	d := testKey(1)
	d.Method = "martini"
	if d.Fingerprint() == a.Fingerprint() {
		t.Error("method not part of the fingerprint")
	}
}
