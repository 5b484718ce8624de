package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	EnsureRegistered()
	m := getMetrics()

	t.Run("should count tool failures separately", func(t *testing.T) {
		before := testutil.ToFloat64(m.toolErrorsTotal.WithLabelValues("search"))
		RecordToolExecution("search", 10*time.Millisecond, false)
		RecordToolExecution("search", 10*time.Millisecond, true)

		assert.Equal(t, before+1, testutil.ToFloat64(m.toolErrorsTotal.WithLabelValues("search")))
	})

	t.Run("should skip zero token counts", func(t *testing.T) {
		RecordTokenUsage("metrics-test", 12, 3, 0, 0)

		assert.Equal(t, float64(12), testutil.ToFloat64(m.modelTokens.WithLabelValues("metrics-test", "input")))
		assert.Equal(t, float64(3), testutil.ToFloat64(m.modelTokens.WithLabelValues("metrics-test", "output")))
	})

	t.Run("should track active sessions", func(t *testing.T) {
		SetActiveSessions(4)
		assert.Equal(t, float64(4), testutil.ToFloat64(m.activeSessions))
	})
}

func TestMetricsHandler(t *testing.T) {
	RecordChatRequest("buffered", true)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "parley_chat_requests_total")
}
