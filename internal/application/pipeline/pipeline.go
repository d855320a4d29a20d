package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fllarpy/apm-demo/domain"
	"github.com/fllarpy/apm-demo/domain/metrics"
	"github.com/fllarpy/apm-demo/internal/logger"
)

// transportLogEvery limits how often a failing collector is reported.
const transportLogEvery = 30 * time.Second

// Options configures a Pipeline.
type Options struct {
	// PushInterval is the period between two periodic exports.
	PushInterval time.Duration
	// ExportTimeout bounds a single periodic export. Zero means PushInterval.
	ExportTimeout time.Duration
}

// Stats are counters describing the pipeline's export history.
type Stats struct {
	Exports             uint64
	EmptyExports        uint64
	FailedExports       uint64
	DroppedObservations uint64
}

// Pipeline aggregates observations in a store and pushes them to an exporter
// every PushInterval and once more on ForceFlush.
type Pipeline struct {
	store    domain.StoreWriter
	exporter domain.Exporter
	opts     Options
	log      *zap.Logger
	now      func() time.Time

	// exportMu serializes periodic exports and forced flushes.
	exportMu sync.Mutex
	failLog  *rate.Limiter

	exports atomic.Uint64
	empty   atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	started  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

var _ domain.Recorder = (*Pipeline)(nil)

// New constructs the pipeline. It does not start the periodic export.
func New(store domain.StoreWriter, exporter domain.Exporter, opts Options, log *zap.Logger) (*Pipeline, error) {
	if store == nil || exporter == nil {
		return nil, errors.New("pipeline: store and exporter are required")
	}
	if opts.PushInterval <= 0 {
		return nil, &domain.ConfigurationError{
			Field: "exporter.push_interval",
			Value: opts.PushInterval.String(),
			Err:   errors.New("must be positive"),
		}
	}
	if opts.ExportTimeout <= 0 {
		opts.ExportTimeout = opts.PushInterval
	}
	return &Pipeline{
		store:    store,
		exporter: exporter,
		opts:     opts,
		log:      logger.OrNop(log),
		now:      time.Now,
		failLog:  rate.NewLimiter(rate.Every(transportLogEvery), 1),
		done:     make(chan struct{}),
	}, nil
}

// Record stores one observation. It never fails and never waits on an export.
func (p *Pipeline) Record(obs metrics.Observation) {
	p.store.Record(obs)
}

// Start launches the background goroutine that exports every PushInterval.
// Calling Start more than once has no effect.
func (p *Pipeline) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	ticker := time.NewTicker(p.opts.PushInterval)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.tick()
			case <-p.done:
				return
			}
		}
	}()
}

// Stop ends the periodic export and waits for an in-flight one to finish.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}

// tick performs one periodic export. A failed export drops its interval.
func (p *Pipeline) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.ExportTimeout)
	defer cancel()

	if err := p.export(ctx); err != nil && p.failLog.Allow() {
		p.log.Warn("Periodic metrics export failed, dropping interval",
			zap.Error(err),
			zap.Uint64("dropped_observations_total", p.dropped.Load()))
	}
}

// ForceFlush exports everything recorded since the last export and blocks
// until the attempt completes. It waits for a running periodic export first.
func (p *Pipeline) ForceFlush(ctx context.Context) error {
	if err := p.export(ctx); err != nil {
		return fmt.Errorf("force flush: %w", err)
	}
	return nil
}

func (p *Pipeline) export(ctx context.Context) error {
	p.exportMu.Lock()
	defer p.exportMu.Unlock()

	delta := p.store.Collect(p.now())
	p.exports.Inc()
	if delta.Empty() {
		// Still pushed so build_info stays alive between requests.
		p.empty.Inc()
		p.log.Debug("No observations in interval", zap.Time("start", delta.Start), zap.Time("end", delta.End))
	}
	if err := p.exporter.Export(ctx, delta); err != nil {
		p.failed.Inc()
		p.dropped.Add(delta.Observations)
		return err
	}
	return nil
}

// Shutdown stops the periodic export, performs the final forced flush and
// shuts the exporter down. Only the first call has an effect.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.Stop()

		flushErr := p.ForceFlush(ctx)
		if flushErr != nil {
			p.log.Error("Final metrics flush failed", zap.Error(flushErr))
		} else {
			p.log.Info("Final metrics flush completed", zap.Uint64("exports", p.exports.Load()))
		}
		p.shutdownErr = errors.Join(flushErr, p.exporter.Shutdown(ctx))
	})
	return p.shutdownErr
}

// Stats returns the export counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Exports:             p.exports.Load(),
		EmptyExports:        p.empty.Load(),
		FailedExports:       p.failed.Load(),
		DroppedObservations: p.dropped.Load(),
	}
}
