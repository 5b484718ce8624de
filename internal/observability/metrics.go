package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parley"

type moduleMetrics struct {
	activeSessions      prometheus.Gauge
	sessionEvictions    prometheus.Counter
	sessionTruncations  prometheus.Counter
	sessionSaveDuration prometheus.Histogram

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentIterations  prometheus.Histogram
	modelRetries     *prometheus.CounterVec
	modelTokens      *prometheus.CounterVec
	cacheAnnotations prometheus.Histogram

	chatRequests  *prometheus.CounterVec
	streamClients prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_sessions",
					Help:      "Current number of chat sessions held in memory.",
				},
			),
			sessionEvictions: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_evictions_total",
					Help:      "Sessions removed after exceeding the idle timeout.",
				},
			),
			sessionTruncations: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_truncations_total",
					Help:      "Appends that dropped old messages to honour the history cap.",
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_save_duration_seconds",
					Help:      "Session append duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_execution_total",
					Help:      "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_errors_total",
					Help:      "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "agent_run_total",
					Help:      "Total orchestrator runs by provider and status.",
				},
				[]string{"provider", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_run_duration_seconds",
					Help:      "Orchestrator run duration in seconds by provider.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			agentIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_iterations",
					Help:      "Agent state visits per orchestrator run.",
					Buckets:   []float64{1, 2, 3, 4, 6, 8, 10, 15},
				},
			),
			modelRetries: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "model_retries_total",
					Help:      "Model calls retried after a transient failure, by provider.",
				},
				[]string{"provider"},
			),
			modelTokens: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "model_tokens_total",
					Help:      "Tokens reported by the model, by provider and kind.",
				},
				[]string{"provider", "kind"},
			),
			cacheAnnotations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "cache_annotations",
					Help:      "Cache markers placed per assembled request.",
					Buckets:   []float64{0, 1, 2, 3},
				},
			),
			chatRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "chat_requests_total",
					Help:      "Chat requests by delivery mode and status.",
				},
				[]string{"mode", "status"},
			),
			streamClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "log_stream_clients",
					Help:      "Observers currently attached to the live event feed.",
				},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionEvictions,
			m.sessionTruncations,
			m.sessionSaveDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentIterations,
			m.modelRetries,
			m.modelTokens,
			m.cacheAnnotations,
			m.chatRequests,
			m.streamClients,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionEvictions(count int) {
	getMetrics().sessionEvictions.Add(float64(count))
}

func RecordSessionTruncation() {
	getMetrics().sessionTruncations.Inc()
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, status(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordAgentRun(provider string, duration time.Duration, iterations int, success bool) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(provider, status(success)).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.agentIterations.Observe(float64(iterations))
}

func RecordModelRetry(provider string) {
	getMetrics().modelRetries.WithLabelValues(provider).Inc()
}

// RecordTokenUsage adds one usage report. Zero counts are skipped so that
// providers without cache accounting do not create empty series.
func RecordTokenUsage(provider string, input, output, cacheCreation, cacheRead int64) {
	m := getMetrics()
	for kind, n := range map[string]int64{
		"input":          input,
		"output":         output,
		"cache_creation": cacheCreation,
		"cache_read":     cacheRead,
	} {
		if n > 0 {
			m.modelTokens.WithLabelValues(provider, kind).Add(float64(n))
		}
	}
}

func RecordCacheAnnotations(count int) {
	getMetrics().cacheAnnotations.Observe(float64(count))
}

func RecordChatRequest(mode string, success bool) {
	getMetrics().chatRequests.WithLabelValues(mode, status(success)).Inc()
}

func SetStreamClients(count int) {
	getMetrics().streamClients.Set(float64(count))
}
