// Package rebuildworker periodically recomputes the topology snapshot from
// storage. Every run is a full rebuild; the engine has no incremental path.
package rebuildworker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"meshmap/core-go/internal/engine"
	"meshmap/core-go/internal/mesh"
	"meshmap/core-go/internal/metrics"
	"meshmap/core-go/internal/store"
)

// Source is the minimal storage interface the worker needs. *store.Store
// satisfies this.
type Source interface {
	Load(ctx context.Context) ([]mesh.PacketRecord, []mesh.KnownNode, error)
}

type Worker struct {
	log       zerolog.Logger
	src       Source
	eng       *engine.Engine
	interval  time.Duration
	retryBase time.Duration
	local     *mesh.LocalNode
	metrics   *metrics.Metrics

	current atomic.Pointer[engine.Snapshot]
	trigger chan struct{}
}

type Options struct {
	Interval  time.Duration
	RetryBase time.Duration
	Local     *mesh.LocalNode
}

func New(log zerolog.Logger, src Source, eng *engine.Engine, opts Options, m *metrics.Metrics) *Worker {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	retryBase := opts.RetryBase
	if retryBase <= 0 {
		retryBase = 5 * time.Second
	}

	return &Worker{
		log:       log,
		src:       src,
		eng:       eng,
		interval:  interval,
		retryBase: retryBase,
		local:     opts.Local,
		metrics:   m,
		trigger:   make(chan struct{}, 1),
	}
}

// Current returns the most recent snapshot, nil before the first successful
// rebuild.
func (w *Worker) Current() *engine.Snapshot {
	if w == nil {
		return nil
	}
	return w.current.Load()
}

// Trigger requests a rebuild ahead of schedule. Non-blocking; a rebuild
// already pending absorbs the request.
func (w *Worker) Trigger() {
	if w == nil {
		return
	}
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run rebuilds immediately, then on every interval tick or trigger, until the
// context is canceled. Failures back off exponentially before the next
// attempt.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.src == nil || w.eng == nil {
		return
	}

	var consecutiveFailures int
	runAndSchedule := func(timer *time.Timer) {
		if err := w.runOnce(ctx); err != nil {
			consecutiveFailures++
			timer.Reset(backoffDuration(w.retryBase, consecutiveFailures))
			return
		}
		consecutiveFailures = 0
		timer.Reset(w.interval)
	}

	// First build without waiting a full interval.
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			runAndSchedule(timer)
		case <-w.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			runAndSchedule(timer)
		}
	}
}

func backoffDuration(base time.Duration, failures int) time.Duration {
	if base <= 0 {
		base = 5 * time.Second
	}
	if failures <= 0 {
		return base
	}
	if failures > 6 {
		failures = 6
	}
	d := base * time.Duration(1<<failures)
	if d > 2*time.Minute {
		return 2 * time.Minute
	}
	return d
}

func (w *Worker) runOnce(ctx context.Context) error {
	start := time.Now()

	packets, nodes, err := w.src.Load(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoDatabase) {
			// Running without storage: publish an empty snapshot so the API
			// has something to serve.
			packets, nodes = nil, nil
		} else {
			w.log.Error().Err(err).Msg("rebuild failed to load input")
			w.metrics.IncRebuildFailure()
			return err
		}
	}

	snap := w.eng.Build(time.Now().UTC(), packets, nodes, w.local)
	w.current.Store(snap)

	w.metrics.IncRebuild()
	w.metrics.ObserveRebuildDuration(time.Since(start))
	w.metrics.SetSnapshotStats(
		snap.Topology.PacketCount,
		snap.Topology.SkippedPackets,
		len(snap.Topology.Edges),
		len(snap.Topology.Validated),
		len(snap.Topology.Hubs),
	)

	w.log.Info().
		Int("packets", snap.PacketCount).
		Int("nodes", snap.NodeCount).
		Dur("elapsed", time.Since(start)).
		Msg("rebuild completed")

	return nil
}
