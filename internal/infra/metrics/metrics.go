// Package metrics exposes Prometheus collectors for jukebox fills, album
// view rebuilds and the worker pool.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/edumarques81/stellar-jukebox/internal/domain/albums"
	"github.com/edumarques81/stellar-jukebox/internal/domain/candidates"
	"github.com/edumarques81/stellar-jukebox/internal/domain/jukebox"
	"github.com/edumarques81/stellar-jukebox/internal/infra/worker"
)

const namespace = "stellar_jukebox"

var jukeboxStates = []jukebox.State{jukebox.StateOff, jukebox.StateIdle, jukebox.StateFilling, jukebox.StateError}

// Metrics holds every collector of the gateway.
type Metrics struct {
	FillsTotal        *prometheus.CounterVec
	FillDuration      *prometheus.HistogramVec
	CandidatesTotal   *prometheus.CounterVec
	RecordsSeenTotal  *prometheus.CounterVec
	ShortfallsTotal   *prometheus.CounterVec
	PendingCandidates *prometheus.GaugeVec
	JukeboxState      *prometheus.GaugeVec

	AlbumRebuildsTotal   *prometheus.CounterVec
	AlbumRebuildDuration prometheus.Histogram
	AlbumViewAlbums      prometheus.Gauge
	AlbumViewSongs       prometheus.Gauge

	TasksTotal   *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FillsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fills_total",
				Help:      "Total number of candidate fills",
			},
			[]string{"partition", "kind", "status"},
		),
		FillDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fill_duration_seconds",
				Help:      "Candidate fill duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
			},
			[]string{"kind"},
		),
		CandidatesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candidates_selected_total",
				Help:      "Total number of candidates selected",
			},
			[]string{"partition", "kind"},
		),
		RecordsSeenTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_seen_total",
				Help:      "Total number of records passing the fill filters",
			},
			[]string{"kind"},
		),
		ShortfallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "shortfalls_total",
				Help:      "Fills returning fewer candidates than requested",
			},
			[]string{"partition", "kind"},
		),
		PendingCandidates: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_candidates",
				Help:      "Candidates waiting in the automatic pending queue",
			},
			[]string{"partition"},
		),
		JukeboxState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state",
				Help:      "Jukebox state per partition, 1 for the current state",
			},
			[]string{"partition", "state"},
		),
		AlbumRebuildsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "album_rebuilds_total",
				Help:      "Total number of album view rebuilds",
			},
			[]string{"status"},
		),
		AlbumRebuildDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "album_rebuild_duration_seconds",
				Help:      "Album view rebuild duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		AlbumViewAlbums: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "album_view_albums",
				Help:      "Albums in the published album view",
			},
		),
		AlbumViewSongs: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "album_view_songs",
				Help:      "Songs aggregated into the published album view",
			},
		),
		TasksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_tasks_total",
				Help:      "Total number of background tasks",
			},
			[]string{"kind", "status"},
		),
		TaskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "worker_task_duration_seconds",
				Help:      "Background task duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
	}
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, candidates.ErrConfiguration):
		return "configuration"
	case errors.Is(err, candidates.ErrProtocol):
		return "protocol"
	default:
		return "error"
	}
}

// FillFinished records a finished fill.
func (m *Metrics) FillFinished(partition string, kind candidates.Kind, res candidates.Result, err error, elapsed time.Duration) {
	m.FillsTotal.WithLabelValues(partition, string(kind), status(err)).Inc()
	m.FillDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	if err != nil {
		return
	}
	m.CandidatesTotal.WithLabelValues(partition, string(kind)).Add(float64(len(res.Candidates)))
	m.RecordsSeenTotal.WithLabelValues(string(kind)).Add(float64(res.Seen))
	if res.Shortfall {
		m.ShortfallsTotal.WithLabelValues(partition, string(kind)).Inc()
	}
}

// StateChanged records the current jukebox state of partition.
func (m *Metrics) StateChanged(partition string, state jukebox.State) {
	for _, s := range jukeboxStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.JukeboxState.WithLabelValues(partition, string(s)).Set(v)
	}
}

// PendingChanged records the pending queue length of partition.
func (m *Metrics) PendingChanged(partition string, pending int) {
	m.PendingCandidates.WithLabelValues(partition).Set(float64(pending))
}

// RebuildFinished records an album view rebuild.
func (m *Metrics) RebuildFinished(view *albums.View, err error) {
	m.AlbumRebuildsTotal.WithLabelValues(status(err)).Inc()
	if err != nil || view == nil {
		return
	}
	m.AlbumViewAlbums.Set(float64(view.Len()))
	m.AlbumViewSongs.Set(float64(view.Songs()))
}

// TaskFinished records a worker pool task.
func (m *Metrics) TaskFinished(kind worker.Kind, elapsed time.Duration, err error) {
	m.TasksTotal.WithLabelValues(string(kind), status(err)).Inc()
	m.TaskDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	if kind == worker.KindAlbumRebuild {
		m.AlbumRebuildDuration.Observe(elapsed.Seconds())
	}
}
