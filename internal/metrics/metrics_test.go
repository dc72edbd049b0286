package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := Default()
	m.WatchdogState.Set(2)
	m.AlarmsRaisedTotal.WithLabelValues("Robot", "true").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "robotcell_watchdog_state 2")
	assert.Contains(t, string(body), `robotcell_alarms_raised_total{blocking="true",device="Robot"}`)
}
