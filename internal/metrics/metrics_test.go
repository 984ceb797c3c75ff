package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/nevilshah235/claimledger-sub000/internal/metrics"
)

func TestNew_RegistersAllCollectorsWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.PipelineOutcomes.WithLabelValues("AUTO_APPROVED").Inc()
	m.StageDuration.WithLabelValues("fraud", "success").Observe(0.5)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "claimledger_pipeline_outcomes_total" {
			found = true
			require.Len(t, f.Metric, 1)
			require.Equal(t, float64(1), f.Metric[0].GetCounter().GetValue())
		}
	}
	require.True(t, found)
}
