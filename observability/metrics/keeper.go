package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type KeeperMetrics struct {
	ticks      *prometheus.CounterVec
	released   prometheus.Counter
	lastRunAge prometheus.Gauge
}

var (
	keeperOnce     sync.Once
	keeperRegistry *KeeperMetrics
)

func Keeper() *KeeperMetrics {
	keeperOnce.Do(func() {
		keeperRegistry = &KeeperMetrics{
			ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_keeper_ticks_total",
				Help: "Keeper polls segmented by outcome (idle, released, retry, failed).",
			}, []string{"outcome"}),
			released: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_keeper_released_total",
				Help: "Trades released by the bundled keeper.",
			}),
			lastRunAge: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "escrow_keeper_last_run_unix",
				Help: "Unix time of the last completed keeper poll.",
			}),
		}
		prometheus.MustRegister(
			keeperRegistry.ticks,
			keeperRegistry.released,
			keeperRegistry.lastRunAge,
		)
		for _, outcome := range []string{"idle", "released", "retry", "failed"} {
			keeperRegistry.ticks.WithLabelValues(outcome).Add(0)
		}
	})
	return keeperRegistry
}

func (m *KeeperMetrics) ObserveTick(outcome string, released int, unix int64) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.ticks.WithLabelValues(outcome).Inc()
	if released > 0 {
		m.released.Add(float64(released))
	}
	m.lastRunAge.Set(float64(unix))
}

type ArchiveMetrics struct {
	stored  *prometheus.CounterVec
	errors  prometheus.Counter
	resyncs prometheus.Counter
	skipped prometheus.Counter
}

var (
	archiveOnce     sync.Once
	archiveRegistry *ArchiveMetrics
)

func Archive() *ArchiveMetrics {
	archiveOnce.Do(func() {
		archiveRegistry = &ArchiveMetrics{
			stored: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_archive_stored_total",
				Help: "Notifications written to the archive by type.",
			}, []string{"type"}),
			errors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_archive_errors_total",
				Help: "Archive write failures.",
			}),
			resyncs: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_archive_resyncs_total",
				Help: "Resubscriptions triggered by a sequence gap.",
			}),
			skipped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_archive_skipped_total",
				Help: "Notifications no longer retained by the stream when the archive caught up.",
			}),
		}
		prometheus.MustRegister(archiveRegistry.stored, archiveRegistry.errors, archiveRegistry.resyncs, archiveRegistry.skipped)
	})
	return archiveRegistry
}

func (m *ArchiveMetrics) ObserveStored(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.stored.WithLabelValues(eventType).Inc()
}

func (m *ArchiveMetrics) IncError() {
	if m == nil {
		return
	}
	m.errors.Inc()
}

func (m *ArchiveMetrics) IncResync() {
	if m == nil {
		return
	}
	m.resyncs.Inc()
}

func (m *ArchiveMetrics) AddSkipped(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.skipped.Add(float64(n))
}
