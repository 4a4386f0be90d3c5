package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Recorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordLedgerOperation("debit", "ok", 5*time.Millisecond)
	m.RecordLedgerOperation("debit", "insufficient_funds", time.Millisecond)
	m.RecordSettlement("approve", "rejected")
	m.RecordBroadcast(3, 1)
	m.SetWorkersRunning(4)
	m.RecordGateCheck(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerOperations.WithLabelValues("debit", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClaimSettlements.WithLabelValues("approve", "rejected")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.BroadcastDeliveries.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BroadcastDeliveries.WithLabelValues("failed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.WorkersRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GateChecks.WithLabelValues("blocked")))
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordLedgerOperation("credit", "ok", time.Millisecond)
		m.RecordMemberJoin(true)
		m.SetWorkersRunning(1)
	})
}
