package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asyncedit/internal/model"
)

func region(x int32) model.RegionKey {
	return model.RegionKey{World: "world", Chunk: model.ChunkCoord{X: x}}
}

func TestPlacerRunsRegionTasksInOrder(t *testing.T) {
	p, stop := NewPlacer(context.Background(), PlacerCfg{Workers: 4})
	defer stop()

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 200; i++ {
		i := i
		require.NoError(t, p.Submit(region(0), func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, p.RunOrdered(context.Background(), region(0), func() {}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 200)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPlacerRunOrderedWaitsForQueuedWrites(t *testing.T) {
	p, stop := NewPlacer(context.Background(), PlacerCfg{Workers: 2})
	defer stop()

	release := make(chan struct{})
	var written atomic.Bool
	require.NoError(t, p.Submit(region(1), func() {
		<-release
		written.Store(true)
	}))

	observed := make(chan bool, 1)
	go func() {
		_ = p.RunOrdered(context.Background(), region(1), func() {
			observed <- written.Load()
		})
	}()

	select {
	case <-observed:
		t.Fatal("ordered run executed before the queued write")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	assert.True(t, <-observed)
}

func TestPlacerRunOrderedDoesNotWaitOnOtherRegions(t *testing.T) {
	p, stop := NewPlacer(context.Background(), PlacerCfg{Workers: 1})
	defer stop()

	release := make(chan struct{})
	require.NoError(t, p.Submit(region(1), func() { <-release }))
	defer close(release)

	ran := false
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.RunOrdered(ctx, region(2), func() { ran = true }))
	assert.True(t, ran)
}

func TestPlacerRunOrderedHonorsContext(t *testing.T) {
	p, stop := NewPlacer(context.Background(), PlacerCfg{Workers: 1})
	release := make(chan struct{})
	require.NoError(t, p.Submit(region(3), func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var ran atomic.Bool
	err := p.RunOrdered(ctx, region(3), func() { ran.Store(true) })
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(release)
	stop()
	assert.False(t, ran.Load(), "abandoned run must not execute")
}

func TestPlacerRunOrderedFinishesStartedRun(t *testing.T) {
	p, stop := NewPlacer(context.Background(), PlacerCfg{Workers: 1})
	defer stop()

	entered, release := make(chan struct{}), make(chan struct{})
	require.NoError(t, p.Submit(region(4), func() {
		close(entered)
		<-release
	}))
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	started, finish := make(chan struct{}), make(chan struct{})
	var ran atomic.Bool
	errc := make(chan error, 1)
	go func() {
		errc <- p.RunOrdered(ctx, region(4), func() {
			close(started)
			<-finish
			ran.Store(true)
		})
	}()

	require.Eventually(t, func() bool { return p.Pending() == 1 }, time.Second, time.Millisecond)
	close(release)
	<-started
	cancel()
	close(finish)
	require.NoError(t, <-errc)
	assert.True(t, ran.Load())
}

func TestPlacerStopRunsQueuedTasks(t *testing.T) {
	p, stop := NewPlacer(context.Background(), PlacerCfg{Workers: 1})

	release := make(chan struct{})
	var count atomic.Int32
	require.NoError(t, p.Submit(region(0), func() { <-release }))
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(region(int32(i+1)), func() { count.Add(1) }))
	}
	close(release)
	stop()

	assert.Equal(t, int32(10), count.Load())
	assert.Zero(t, p.Pending())
	assert.ErrorIs(t, p.Submit(region(0), func() {}), ErrPlacerClosed)
}

func TestPlacerSurvivesPanickingTask(t *testing.T) {
	p, stop := NewPlacer(context.Background(), PlacerCfg{Workers: 1})
	defer stop()

	require.NoError(t, p.Submit(region(0), func() { panic("boom") }))
	var ran atomic.Bool
	require.NoError(t, p.Submit(region(0), func() { ran.Store(true) }))
	require.NoError(t, p.RunOrdered(context.Background(), region(0), func() {}))
	assert.True(t, ran.Load())
}

func TestPlacerConcurrentWritersAndReaders(t *testing.T) {
	p, stop := NewPlacer(context.Background(), PlacerCfg{Workers: 4, ReadyQueue: 8})
	defer stop()

	const regions = 8
	const perRegion = 100
	var values [regions]atomic.Int64

	var wg sync.WaitGroup
	for r := 0; r < regions; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= perRegion; i++ {
				i := i
				assert.NoError(t, p.Submit(region(int32(r)), func() { values[r].Store(int64(i)) }))
				var seen int64
				assert.NoError(t, p.RunOrdered(context.Background(), region(int32(r)), func() {
					seen = values[r].Load()
				}))
				assert.Equal(t, int64(i), seen)
			}
		}()
	}
	wg.Wait()
}
