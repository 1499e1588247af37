package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "hrrr_extract"

// Metrics holds the Prometheus instruments for one extraction process.
type Metrics struct {
	HoursProcessed     prometheus.Counter
	HoursSkipped       prometheus.Counter
	BytesFetched       prometheus.Counter
	MessagesDecoded    prometheus.Counter
	UnmatchedVariables *prometheus.CounterVec // labels: variable
	MatchCandidates    prometheus.Histogram
	RecordsEmitted     prometheus.Counter
	RowsInserted       prometheus.Counter
	HourDuration       prometheus.Histogram
	LastSuccess        prometheus.Gauge
}

// NewMetrics creates the instruments and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HoursProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hours_processed_total",
			Help:      "Forecast hour files decoded and extracted.",
		}),
		HoursSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hours_skipped_total",
			Help:      "Forecast hour files missing from the source or empty.",
		}),
		BytesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_fetched_total",
			Help:      "Bytes of GRIB2 data read from object storage.",
		}),
		MessagesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_decoded_total",
			Help:      "GRIB2 messages listed across all decoded files.",
		}),
		UnmatchedVariables: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmatched_variables_total",
			Help:      "Requested variables with no matching message in an hour file.",
		}, []string{"variable"}),
		MatchCandidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_candidates",
			Help:      "Messages matching a requested variable within one hour file.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10},
		}),
		RecordsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_emitted_total",
			Help:      "Forecast records produced before deduplication.",
		}),
		RowsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_inserted_total",
			Help:      "Rows added to the forecast table.",
		}),
		HourDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hour_duration_seconds",
			Help:      "Time to fetch, decode and extract one forecast hour.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last completed ingest.",
		}),
	}

	reg.MustRegister(
		m.HoursProcessed,
		m.HoursSkipped,
		m.BytesFetched,
		m.MessagesDecoded,
		m.UnmatchedVariables,
		m.MatchCandidates,
		m.RecordsEmitted,
		m.RowsInserted,
		m.HourDuration,
		m.LastSuccess,
	)

	return m
}

// NewMetricsForTesting registers on a fresh registry so tests can build as
// many instances as they like.
func NewMetricsForTesting() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// Push sends everything gathered by g to a Pushgateway, replacing the
// previous push for the same job and run.
func Push(ctx context.Context, url, job, runID string, g prometheus.Gatherer) error {
	pusher := push.New(url, job).Gatherer(g)
	if runID != "" {
		pusher = pusher.Grouping("run_id", runID)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
