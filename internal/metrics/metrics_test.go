package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMissingDays(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith("test", reg)

	m.RecordMissingDays(3)
	m.RecordMissingDays(0)
	m.RecordMissingDays(2)

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() != "test_ledger_missing_days_total" {
			continue
		}
		found = true
		// a single unlabelled series no matter how many owners report gaps
		require.Len(t, f.GetMetric(), 1)
		assert.Empty(t, f.GetMetric()[0].GetLabel())
		assert.Equal(t, 5.0, f.GetMetric()[0].GetCounter().GetValue())
	}
	assert.True(t, found)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordMissingDays(4)
	})
}
