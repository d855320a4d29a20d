package inmemory

import (
	"sync"
	"time"

	"github.com/fllarpy/apm-demo/domain"
	"github.com/fllarpy/apm-demo/domain/metrics"
)

const (
	// Default buffer size for recent error observations.
	defaultEventBufferSize = 100
)

// --- Store Implementation ---

// Store is a thread-safe in-memory aggregation point for observations.
// It implements the domain.Store interface.
var _ domain.Store = (*Store)(nil)

// Store keeps two views of the same observations: a cumulative one for
// pull-style reporters and a pending one that is drained by Collect.
type Store struct {
	mu           sync.Mutex
	now          func() time.Time
	since        time.Time
	cumulative   map[string]*metrics.OperationMetrics
	pending      map[string]*metrics.OperationMetrics
	pendingStart time.Time
	pendingCount uint64
	errors       *ringBuffer[metrics.Observation]
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for interval boundaries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates and initializes a new Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:        time.Now,
		cumulative: make(map[string]*metrics.OperationMetrics),
		pending:    make(map[string]*metrics.OperationMetrics),
		errors:     newRingBuffer[metrics.Observation](defaultEventBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.since = s.now()
	s.pendingStart = s.since
	return s
}

// Record folds an observation into both the cumulative and pending views.
func (s *Store) Record(obs metrics.Observation) {
	if obs.Timestamp.IsZero() {
		obs.Timestamp = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	operationFor(s.cumulative, obs.Operation).Add(obs)
	operationFor(s.pending, obs.Operation).Add(obs)
	s.pendingCount++

	if obs.Outcome.IsError() {
		s.errors.add(obs)
	}
}

// Collect hands over everything recorded since the previous Collect and
// starts a new interval at now.
func (s *Store) Collect(now time.Time) *domain.Delta {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := &domain.Delta{
		Start:        s.pendingStart,
		End:          now,
		Operations:   make(map[string]metrics.OperationMetrics, len(s.pending)),
		Observations: s.pendingCount,
	}
	for name, m := range s.pending {
		delta.Operations[name] = *m
	}

	s.pending = make(map[string]*metrics.OperationMetrics)
	s.pendingStart = now
	s.pendingCount = 0
	return delta
}

// GetSnapshot returns a read-only copy of the cumulative metrics.
func (s *Store) GetSnapshot() *domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := &domain.Snapshot{
		Since:        s.since,
		Operations:   make(map[string]metrics.OperationSnapshot, len(s.cumulative)),
		RecentErrors: s.errors.getAll(),
		Raw:          make(map[string]metrics.OperationMetrics, len(s.cumulative)),
	}
	for name, m := range s.cumulative {
		c := m.Clone()
		snapshot.Raw[name] = c
		snapshot.Operations[name] = metrics.NewOperationSnapshot(c)
	}
	return snapshot
}

func operationFor(m map[string]*metrics.OperationMetrics, name string) *metrics.OperationMetrics {
	op, ok := m[name]
	if !ok {
		op = metrics.NewOperationMetrics()
		m[name] = op
	}
	return op
}

// --- Ring Buffer for Events ---

// ringBuffer is a generic, thread-unsafe circular buffer.
// The locking must be handled by the parent (Store).
type ringBuffer[T any] struct {
	buffer []T
	size   int
	start  int
	count  int
}

// newRingBuffer creates a new ring buffer of a given size.
func newRingBuffer[T any](size int) *ringBuffer[T] {
	return &ringBuffer[T]{
		buffer: make([]T, size),
		size:   size,
	}
}

// add inserts an element into the buffer, overwriting the oldest if full.
func (rb *ringBuffer[T]) add(item T) {
	index := (rb.start + rb.count) % rb.size
	rb.buffer[index] = item
	if rb.count < rb.size {
		rb.count++
	} else {
		rb.start = (rb.start + 1) % rb.size
	}
}

// getAll returns all elements in the buffer in order.
func (rb *ringBuffer[T]) getAll() []T {
	if rb.count == 0 {
		return nil
	}
	items := make([]T, rb.count)
	for i := 0; i < rb.count; i++ {
		items[i] = rb.buffer[(rb.start+i)%rb.size]
	}
	return items
}
