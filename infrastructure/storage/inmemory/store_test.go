package inmemory

import (
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/fllarpy/apm-demo/domain/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observation(op string, status int, d time.Duration) metrics.Observation {
	return metrics.Observation{
		Operation: op,
		Outcome:   metrics.OutcomeFromStatus(status),
		Duration:  d,
	}
}

func TestStore_CollectReturnsEachObservationOnce(t *testing.T) {
	store := NewStore()

	store.Record(observation("index", http.StatusOK, 2*time.Millisecond))
	store.Record(observation("error_function", http.StatusInternalServerError, time.Millisecond))

	first := store.Collect(time.Now())
	require.Equal(t, uint64(2), first.Observations)
	require.Contains(t, first.Operations, "index")
	require.Contains(t, first.Operations, "error_function")
	assert.Equal(t, uint64(1), first.Operations["index"].Calls[metrics.Outcome{Result: metrics.ResultOK, StatusCode: 200}])
	assert.Equal(t, uint64(1), first.Operations["error_function"].Calls[metrics.Outcome{Result: metrics.ResultError, StatusCode: 500}])

	second := store.Collect(time.Now())
	assert.True(t, second.Empty(), "observations must not be handed out twice")
	assert.Empty(t, second.Operations)

	store.Record(observation("slow_function", http.StatusOK, time.Second))
	third := store.Collect(time.Now())
	assert.Equal(t, uint64(1), third.Observations)
	assert.NotContains(t, third.Operations, "index")
}

func TestStore_CollectIntervalsAreContiguous(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewStore(WithClock(func() time.Time { return base }))

	d1 := store.Collect(base.Add(time.Second))
	d2 := store.Collect(base.Add(2 * time.Second))

	assert.Equal(t, base, d1.Start)
	assert.Equal(t, base.Add(time.Second), d1.End)
	assert.Equal(t, d1.End, d2.Start)
	assert.Equal(t, base.Add(2*time.Second), d2.End)
}

func TestStore_CollectedDeltaIsDetached(t *testing.T) {
	store := NewStore()
	store.Record(observation("index", http.StatusOK, time.Millisecond))

	delta := store.Collect(time.Now())
	store.Record(observation("index", http.StatusOK, time.Millisecond))

	assert.Equal(t, uint64(1), delta.Operations["index"].TotalCalls(), "later records must not leak into a collected delta")
}

func TestStore_SnapshotIsCumulative(t *testing.T) {
	store := NewStore()
	path := "index"

	store.Record(observation(path, http.StatusOK, 100*time.Millisecond))
	store.Collect(time.Now())
	store.Record(observation(path, http.StatusOK, 300*time.Millisecond))

	snapshot := store.GetSnapshot()
	require.Contains(t, snapshot.Operations, path)

	op := snapshot.Operations[path]
	assert.Equal(t, uint64(2), op.TotalCalls)
	assert.Equal(t, uint64(2), op.OKCalls)
	assert.Equal(t, uint64(0), op.ErrorCalls)
	assert.Equal(t, uint64(2), op.CallsByStatus[http.StatusOK])
	assert.InDelta(t, float64(200*time.Millisecond), float64(op.AvgDurationNs), float64(time.Microsecond))
	assert.Equal(t, uint64(2), snapshot.Raw[path].Durations.Count)
}

func TestStore_RecentErrors(t *testing.T) {
	store := NewStore()

	store.Record(observation("index", http.StatusOK, time.Millisecond))
	for i := 0; i < defaultEventBufferSize+5; i++ {
		store.Record(observation(fmt.Sprintf("op-%d", i), http.StatusInternalServerError, time.Millisecond))
	}

	errs := store.GetSnapshot().RecentErrors
	require.Len(t, errs, defaultEventBufferSize)
	assert.Equal(t, "op-5", errs[0].Operation, "oldest entries should be overwritten")
	assert.Equal(t, fmt.Sprintf("op-%d", defaultEventBufferSize+4), errs[len(errs)-1].Operation)
	assert.False(t, errs[0].Timestamp.IsZero(), "timestamp should be filled in on record")
}

func TestStore_ConcurrentRecordAndCollect(t *testing.T) {
	store := NewStore()

	const writers = 16
	const perWriter = 250

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				store.Record(observation("index", http.StatusOK, time.Microsecond))
			}
		}()
	}

	var collected uint64
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		select {
		case <-done:
			collected += store.Collect(time.Now()).Observations
			assert.Equal(t, uint64(writers*perWriter), collected, "no observation lost or duplicated")
			assert.Equal(t, uint64(writers*perWriter), store.GetSnapshot().Operations["index"].TotalCalls)
			return
		default:
			collected += store.Collect(time.Now()).Observations
		}
	}
}
