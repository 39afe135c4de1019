package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowctl/burrow/pkg/events"
	"github.com/burrowctl/burrow/pkg/log"
	"github.com/burrowctl/burrow/pkg/metrics"
	"github.com/burrowctl/burrow/pkg/storage"
	"github.com/burrowctl/burrow/pkg/types"
)

// Liveness defaults: workers heartbeat every 15s and are considered
// stale after 60s of silence.
const (
	DefaultReapInterval   = 15 * time.Second
	DefaultStaleThreshold = 60 * time.Second
)

// StaleReaper demotes workers whose heartbeats have gone quiet. It only
// ever flips online workers to offline; it never deletes records and
// never touches the leader's own row.
type StaleReaper struct {
	store     storage.Store
	broker    *events.Broker
	interval  time.Duration
	threshold time.Duration
	logger    zerolog.Logger
}

// NewStaleReaper creates a reaper with the given sweep interval and
// staleness threshold; zero values take the defaults.
func NewStaleReaper(store storage.Store, broker *events.Broker, interval, threshold time.Duration) *StaleReaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	return &StaleReaper{
		store:     store,
		broker:    broker,
		interval:  interval,
		threshold: threshold,
		logger:    log.WithComponent("reaper"),
	}
}

// Run sweeps until the context is cancelled.
func (r *StaleReaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// Sweep demotes every stale online worker once. Exported so tests can
// drive it with a fixed clock.
func (r *StaleReaper) Sweep(now time.Time) {
	workers, err := r.store.ListWorkers(storage.WorkerFilter{Status: types.NodeStatusOnline})
	if err != nil {
		r.logger.Error().Err(err).Msg("Reaper sweep failed to list workers")
		return
	}

	cutoff := now.Add(-r.threshold)
	for _, worker := range workers {
		if worker.Role == types.NodeRoleLeader {
			continue
		}
		if !worker.LastSeen.Before(cutoff) {
			continue
		}

		hostname := worker.Hostname
		_, err := r.store.UpdateWorker(hostname, func(w *types.Worker) error {
			// Re-check under the write: a heartbeat may have landed
			// between the list and this update.
			if w.Status != types.NodeStatusOnline || !w.LastSeen.Before(cutoff) {
				return nil
			}
			w.Status = types.NodeStatusOffline
			return nil
		})
		if err != nil {
			r.logger.Error().Err(err).Str("hostname", hostname).Msg("Reaper demotion failed")
			continue
		}

		updated, err := r.store.GetWorker(hostname)
		if err != nil || updated.Status != types.NodeStatusOffline {
			continue
		}
		r.logger.Warn().
			Str("hostname", hostname).
			Time("last_seen", worker.LastSeen).
			Msg("Worker marked offline")
		metrics.WorkersMarkedOffline.Inc()
		r.broker.Emit(events.EventWorkerOffline, "worker "+hostname+" went offline", map[string]string{
			"hostname": hostname,
		})
	}
}
