package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

func TestBillingMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBillingMetrics(reg, logger.Nop())

	m.IncOverageMutation("employee", "create", OutcomeSuccess)
	m.IncOverageMutation("employee", "create", OutcomeSuccess)
	m.AddCounterDrift("location", 0)
	m.AddCounterDrift("location", 3)

	impl := m.(*billingMetrics)
	assert.Equal(t, 2.0, testutil.ToFloat64(impl.overageMutations.WithLabelValues("employee", "create", OutcomeSuccess)))
	assert.Equal(t, 3.0, testutil.ToFloat64(impl.counterDrift.WithLabelValues("location")))
}

func TestSystemMetricsWithoutPool(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSystemMetrics(reg, nil, logger.Nop())
	m.Record()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["system_goroutines"])
	assert.True(t, names["db_pool_idle_conns"])
}
