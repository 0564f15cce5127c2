package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"fortio.org/assert"
)

func TestRecordRequestIncrementsCounters(t *testing.T) {
	before := testutil.ToFloat64(requestsTotal.WithLabelValues("HTTP"))
	RecordRequest("HTTP", 2, 100, 50)
	after := testutil.ToFloat64(requestsTotal.WithLabelValues("HTTP"))
	assert.Equal(t, before+1, after)
}

func TestClassLabel(t *testing.T) {
	assert.Equal(t, "2xx", classLabel(2))
	assert.Equal(t, "3xx", classLabel(3))
	assert.Equal(t, "5xx", classLabel(5))
	assert.Equal(t, "error", classLabel(0))
}

func TestSetActiveClientsUpdatesGauge(t *testing.T) {
	SetActiveClients("batch1", 7)
	assert.Equal(t, float64(7), testutil.ToFloat64(activeClients.WithLabelValues("batch1")))
	SetActiveClients("batch1", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(activeClients.WithLabelValues("batch1")))
}

func TestMaybeStartDisabledByDefault(t *testing.T) {
	old := *MetricsPortFlag
	defer func() { *MetricsPortFlag = old }()
	*MetricsPortFlag = ""
	assert.True(t, MaybeStart() == nil)
}
