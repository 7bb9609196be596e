package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics
)

// VaultMetrics wraps collectors tracking the staking vault engine.
type VaultMetrics struct {
	operations        *prometheus.CounterVec
	operationLatency  *prometheus.HistogramVec
	guardRejections   *prometheus.CounterVec
	settlements       *prometheus.CounterVec
	settlementLatency *prometheus.HistogramVec
	totalShares       prometheus.Gauge
	outstanding       *prometheus.GaugeVec
	pauseEngaged      prometheus.Gauge
}

// NewVaultMetrics builds unregistered collectors. Tests register them on a
// private registry.
func NewVaultMetrics() *VaultMetrics {
	return &VaultMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stakevault",
			Subsystem: "vault",
			Name:      "operations_total",
			Help:      "Vault operations segmented by operation and outcome.",
		}, []string{"op", "outcome"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stakevault",
			Subsystem: "vault",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution of admitted vault operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		guardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stakevault",
			Subsystem: "vault",
			Name:      "guard_rejections_total",
			Help:      "Operations refused admission by the reentrancy guard.",
		}, []string{"op", "reason"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stakevault",
			Subsystem: "settlement",
			Name:      "attempts_total",
			Help:      "Settlement transfers segmented by bucket and status.",
		}, []string{"bucket", "status"}),
		settlementLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stakevault",
			Subsystem: "settlement",
			Name:      "transfer_duration_seconds",
			Help:      "Latency of ledger transfers made while settling buckets.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"bucket"}),
		totalShares: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stakevault",
			Subsystem: "vault",
			Name:      "total_shares",
			Help:      "Total staked shares.",
		}),
		outstanding: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stakevault",
			Subsystem: "settlement",
			Name:      "outstanding",
			Help:      "Crystallized amounts awaiting transfer, per bucket.",
		}, []string{"bucket"}),
		pauseEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stakevault",
			Subsystem: "vault",
			Name:      "pause_engaged",
			Help:      "Indicates whether the vault pause switch is active (1) or not (0).",
		}),
	}
}

// Collectors lists every collector for registration.
func (m *VaultMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.operations,
		m.operationLatency,
		m.guardRejections,
		m.settlements,
		m.settlementLatency,
		m.totalShares,
		m.outstanding,
		m.pauseEngaged,
	}
}

// Vault exposes the process-wide registry for the vault engine.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = NewVaultMetrics()
		prometheus.MustRegister(vaultRegistry.Collectors()...)
	})
	return vaultRegistry
}

// RecordOperation counts a handler outcome. Operations refused before
// admission report a zero duration and are not observed in the histogram.
func (m *VaultMetrics) RecordOperation(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	op = label(op)
	m.operations.WithLabelValues(op, label(outcome)).Inc()
	if d > 0 {
		m.operationLatency.WithLabelValues(op).Observe(d.Seconds())
	}
}

func (m *VaultMetrics) RecordGuardRejection(op, reason string) {
	if m == nil {
		return
	}
	m.guardRejections.WithLabelValues(label(op), label(reason)).Inc()
}

func (m *VaultMetrics) RecordSettlement(bucket, status string, d time.Duration) {
	if m == nil {
		return
	}
	bucket = label(bucket)
	m.settlements.WithLabelValues(bucket, label(status)).Inc()
	m.settlementLatency.WithLabelValues(bucket).Observe(d.Seconds())
}

// RecordState updates the share and outstanding-claim gauges.
func (m *VaultMetrics) RecordState(totalShares *big.Int, outstanding map[string]*big.Int) {
	if m == nil {
		return
	}
	m.totalShares.Set(bigToFloat(totalShares))
	for bucket, value := range outstanding {
		m.outstanding.WithLabelValues(label(bucket)).Set(bigToFloat(value))
	}
}

// SetPaused toggles the pause_engaged gauge.
func (m *VaultMetrics) SetPaused(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.pauseEngaged.Set(1)
		return
	}
	m.pauseEngaged.Set(0)
}

func label(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
