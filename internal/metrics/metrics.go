package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	DistributionRuns  prometheus.Counter
	ItemsQueued       prometheus.Counter
	RecipientsSkipped prometheus.Counter
	SendSuccesses     prometheus.Counter
	SendFailures      prometheus.Counter
	SendsDeferred     prometheus.Counter
	AuthFailures      prometheus.Counter
	CounterResets     *prometheus.CounterVec
	ItemsPurged       prometheus.Counter
	DispatchTime      prometheus.Histogram
	AvailableAccounts prometheus.Gauge
}

// NewMetrics creates new Prometheus metrics registered on the default registry
func NewMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewUnregistered creates metrics on a private registry, for tests and
// one-shot commands that may build more than one set.
func NewUnregistered() *Metrics {
	return newMetrics(promauto.With(prometheus.NewRegistry()))
}

func newMetrics(f promauto.Factory) *Metrics {
	return &Metrics{
		DistributionRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "outreach_relay_distribution_runs_total",
			Help: "Total number of campaign distribution runs",
		}),
		ItemsQueued: f.NewCounter(prometheus.CounterOpts{
			Name: "outreach_relay_items_queued_total",
			Help: "Total number of queue items created",
		}),
		RecipientsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "outreach_relay_recipients_skipped_total",
			Help: "Recipients skipped during distribution because no account was available",
		}),
		SendSuccesses: f.NewCounter(prometheus.CounterOpts{
			Name: "outreach_relay_send_successes_total",
			Help: "Total number of delivered emails",
		}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "outreach_relay_send_failures_total",
			Help: "Total number of failed deliveries",
		}),
		SendsDeferred: f.NewCounter(prometheus.CounterOpts{
			Name: "outreach_relay_sends_deferred_total",
			Help: "Due items left in the queue because their account had no capacity",
		}),
		AuthFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "outreach_relay_auth_failures_total",
			Help: "Deliveries that failed authentication and put the account in error",
		}),
		CounterResets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_relay_counter_resets_total",
			Help: "Account counter resets by kind",
		}, []string{"kind"}),
		ItemsPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "outreach_relay_items_purged_total",
			Help: "Terminal queue items deleted by the purge job",
		}),
		DispatchTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "outreach_relay_dispatch_duration_seconds",
			Help:    "Time spent delivering a single queue item",
			Buckets: prometheus.DefBuckets,
		}),
		AvailableAccounts: f.NewGauge(prometheus.GaugeOpts{
			Name: "outreach_relay_available_accounts",
			Help: "Accounts with remaining capacity at the last queue tick",
		}),
	}
}
