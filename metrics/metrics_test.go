package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := New()
	m.Frame("cam-1", false)
	m.Frame("cam-1", false)
	m.Frame("cam-1", true)
	m.Alarm("cam-1")
	m.Error("cam-2")
	m.StreamStarted("cam-1")
	m.ObserveStage("infer", 12*time.Millisecond)

	assert.Equal(t, uint64(2), m.FramesProcessed.Load())
	assert.Equal(t, uint64(1), m.FramesSkipped.Load())
	assert.Equal(t, uint64(1), m.InferenceErrors.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alarmsByStream.WithLabelValues("cam-1")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageLatency))

	m.StreamStopped("cam-1")
	assert.Equal(t, int64(0), m.ActiveStreams.Load())
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Alarm("cam-1")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "helmet_alarms_total 1")
	assert.Contains(t, string(body), `helmet_stream_alarms_total{stream="cam-1"} 1`)
	assert.Contains(t, string(body), "helmet_active_streams 0")
}
