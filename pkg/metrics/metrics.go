package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_workers_total",
			Help: "Total number of workers by role and status",
		},
		[]string{"role", "status"},
	)

	ServicesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_services_total",
			Help: "Total number of service definitions",
		},
	)

	DeploymentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_deployments_total",
			Help: "Total number of deployments by status",
		},
		[]string{"status"},
	)

	TokensActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_join_tokens_active",
			Help: "Join tokens that are active, unexpired and not exhausted",
		},
	)

	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_heartbeats_total",
			Help: "Heartbeats received by result",
		},
		[]string{"result"},
	)

	WorkersMarkedOffline = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_workers_marked_offline_total",
			Help: "Workers marked offline by the stale reaper",
		},
	)

	DeploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_deploys_total",
			Help: "Deployment attempts by result",
		},
		[]string{"result"},
	)

	UpgradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_agent_upgrades_total",
			Help: "Agent upgrade attempts by result",
		},
		[]string{"result"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(ServicesTotal)
	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(TokensActive)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(WorkersMarkedOffline)
	prometheus.MustRegister(DeploysTotal)
	prometheus.MustRegister(UpgradesTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
