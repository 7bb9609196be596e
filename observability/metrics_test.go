package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestVaultMetricsRecordOutcomes(t *testing.T) {
	m := NewVaultMetrics()
	reg := prometheus.NewRegistry()
	reg.MustRegister(m.Collectors()...)

	m.RecordOperation("stake", "ok", 5*time.Millisecond)
	m.RecordOperation("stake", "busy", 0)
	m.RecordOperation("Stake", "OK", time.Millisecond)
	m.RecordGuardRejection("claim", "principal")
	m.RecordSettlement("reward", "failed", time.Millisecond)
	m.RecordState(big.NewInt(400), map[string]*big.Int{"stake": big.NewInt(45), "fee": big.NewInt(5)})
	m.SetPaused(true)

	if got := testutil.ToFloat64(m.operations.WithLabelValues("stake", "ok")); got != 2 {
		t.Fatalf("stake ok: got %v want 2", got)
	}
	if got := testutil.ToFloat64(m.guardRejections.WithLabelValues("claim", "principal")); got != 1 {
		t.Fatalf("guard rejections: got %v", got)
	}
	if got := testutil.ToFloat64(m.settlements.WithLabelValues("reward", "failed")); got != 1 {
		t.Fatalf("settlement attempts: got %v", got)
	}
	if got := testutil.ToFloat64(m.totalShares); got != 400 {
		t.Fatalf("total shares: got %v", got)
	}
	if got := testutil.ToFloat64(m.outstanding.WithLabelValues("fee")); got != 5 {
		t.Fatalf("outstanding fee: got %v", got)
	}
	if got := testutil.ToFloat64(m.pauseEngaged); got != 1 {
		t.Fatalf("pause gauge: got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var latency *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "stakevault_vault_operation_duration_seconds" {
			latency = mf
		}
	}
	if latency == nil {
		t.Fatalf("operation latency histogram not exported")
	}
	if count := latency.GetMetric()[0].GetHistogram().GetSampleCount(); count != 2 {
		t.Fatalf("refused operations must not be timed, got %d samples", count)
	}
}

func TestNilVaultMetricsAreSafe(t *testing.T) {
	var m *VaultMetrics
	m.RecordOperation("stake", "ok", time.Second)
	m.RecordState(nil, nil)
	m.SetPaused(true)
}
