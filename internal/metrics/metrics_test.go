package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRun(t *testing.T) {
	c := NewCollector(1.2, 30)
	c.ObserveRun("simulate", "Success", 150*time.Millisecond)
	c.ObserveRun("simulate", "Success", time.Second)
	c.ObserveRun("optimize", "Failed", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.RunsTotal.WithLabelValues("simulate", "Success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RunsTotal.WithLabelValues("optimize", "Failed")))
	assert.Equal(t, 1.2, testutil.ToFloat64(c.OvercrowdingFactor))
	assert.Equal(t, 30.0, testutil.ToFloat64(c.DeadRunSpeed))
}

func TestObserveSolve(t *testing.T) {
	c := NewCollector(1, 30)
	c.ObserveSolve("OPTIMAL", 17, 20*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SolverRuns.WithLabelValues("OPTIMAL")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.SolverNodes))
}

func TestPublisherMetricsAdapter(t *testing.T) {
	c := NewCollector(1, 30)
	pm := PublisherMetrics{C: c}
	pm.NATSSetConnected(true)
	pm.NATSPublishedInc()
	pm.NATSPublishErrInc()
	pm.PublishObserve(time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSPublishErrs))
	pm.NATSSetConnected(false)
	assert.Zero(t, testutil.ToFloat64(c.NATSConnected))
}

func TestHandlerExposesRegistry(t *testing.T) {
	c := NewCollector(1, 30)
	c.PassengersCompleted.Add(5)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "fleetsim_passengers_completed_total 5"))
}
