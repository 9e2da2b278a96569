package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LendingMetrics struct {
	rpcRequests     *prometheus.CounterVec
	rpcLatency      *prometheus.HistogramVec
	loanTransitions *prometheus.CounterVec
	loansPending    prometheus.Gauge
	loansActive     prometheus.Gauge
	poolUtilization prometheus.Gauge
	vouchesCreated  prometheus.Counter
	slashesApplied  prometheus.Counter
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lend_rpc_requests_total",
				Help: "Count of RPC requests by method and outcome.",
			}, []string{"method", "outcome"}),
			rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "lend_rpc_duration_seconds",
				Help:    "RPC handler latency by method.",
				Buckets: prometheus.DefBuckets,
			}, []string{"method"}),
			loanTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lend_loan_transitions_total",
				Help: "Count of loan state transitions by resulting state.",
			}, []string{"state"}),
			loansPending: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lend_loans_pending",
				Help: "Number of loans currently collecting vouches.",
			}),
			loansActive: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lend_loans_active",
				Help: "Number of disbursed, unsettled loans.",
			}),
			poolUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lend_pool_utilization",
				Help: "Fraction of pool liquidity currently lent out.",
			}),
			vouchesCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lend_vouches_created_total",
				Help: "Count of vouches registered across all loans.",
			}),
			slashesApplied: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lend_slashes_applied_total",
				Help: "Count of capital slashes executed against vouchers.",
			}),
		}
		prometheus.MustRegister(
			lendingRegistry.rpcRequests,
			lendingRegistry.rpcLatency,
			lendingRegistry.loanTransitions,
			lendingRegistry.loansPending,
			lendingRegistry.loansActive,
			lendingRegistry.poolUtilization,
			lendingRegistry.vouchesCreated,
			lendingRegistry.slashesApplied,
		)
	})
	return lendingRegistry
}

func (m *LendingMetrics) ObserveRPC(method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
	m.rpcLatency.WithLabelValues(method).Observe(seconds)
}

func (m *LendingMetrics) ObserveLoanTransition(state string) {
	if m == nil || state == "" {
		return
	}
	m.loanTransitions.WithLabelValues(state).Inc()
}

func (m *LendingMetrics) SetLoanGauges(pending, active int) {
	if m == nil {
		return
	}
	m.loansPending.Set(float64(pending))
	m.loansActive.Set(float64(active))
}

func (m *LendingMetrics) SetPoolUtilization(u float64) {
	if m == nil {
		return
	}
	m.poolUtilization.Set(u)
}

func (m *LendingMetrics) IncVouchCreated() {
	if m == nil {
		return
	}
	m.vouchesCreated.Inc()
}

func (m *LendingMetrics) IncSlashApplied() {
	if m == nil {
		return
	}
	m.slashesApplied.Inc()
}
