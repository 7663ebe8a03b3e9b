package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hatbot_messages_received_total",
		Help: "Total number of inbound messages",
	}, []string{"chat_type"})

	dispatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hatbot_dispatch_outcomes_total",
		Help: "Dispatch pipeline results by outcome",
	}, []string{"outcome"})

	// AI metrics
	aiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hatbot_ai_request_duration_seconds",
		Help:    "Duration of generation requests including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "status"})

	aiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hatbot_ai_requests_total",
		Help: "Total number of generation requests",
	}, []string{"provider", "status"})

	retryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hatbot_retry_attempts_total",
		Help: "Retries scheduled by policy",
	}, []string{"policy"})

	messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hatbot_messages_sent_total",
		Help: "Outbound deliveries by status",
	}, []string{"status"})

	activeWindows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hatbot_active_rate_windows",
		Help: "Number of tracked rate limit windows",
	})

	activeChats = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hatbot_active_conversations",
		Help: "Number of chats with stored conversation turns",
	})
)

// Dispatch outcomes
const (
	OutcomeReplied     = "replied"
	OutcomeNotEngaged  = "not_engaged"
	OutcomeTooLong     = "too_long"
	OutcomeRateLimited = "rate_limited"
	OutcomeNoReply     = "no_reply"
	OutcomePanic       = "panic"
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordMessageReceived records a received message
func (m *Metrics) RecordMessageReceived(chatType string) {
	messagesReceived.WithLabelValues(chatType).Inc()
}

// RecordDispatch records the pipeline outcome for one message
func (m *Metrics) RecordDispatch(outcome string) {
	dispatchOutcomes.WithLabelValues(outcome).Inc()
}

// RecordAIRequest records a generation request
func (m *Metrics) RecordAIRequest(provider, status string, duration time.Duration) {
	aiRequestDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
	aiRequestsTotal.WithLabelValues(provider, status).Inc()
}

// RecordRetry records one scheduled retry
func (m *Metrics) RecordRetry(policy string) {
	retryAttempts.WithLabelValues(policy).Inc()
}

// RecordMessageSent records a delivery attempt result
func (m *Metrics) RecordMessageSent(status string) {
	messagesSent.WithLabelValues(status).Inc()
}

// SetActiveWindows sets the number of live rate windows
func (m *Metrics) SetActiveWindows(count float64) {
	activeWindows.Set(count)
}

// SetActiveChats sets the number of chats with stored history
func (m *Metrics) SetActiveChats(count float64) {
	activeChats.Set(count)
}

// StatusFunc produces the JSON body served on /status.
type StatusFunc func(ctx context.Context) interface{}

// NewMetricsRouter builds the router for metrics, health and status.
func NewMetricsRouter(path string, status StatusFunc) *mux.Router {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	if status != nil {
		router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(status(r.Context())); err != nil {
				http.Error(w, "encode status", http.StatusInternalServerError)
			}
		}).Methods(http.MethodGet)
	}

	return router
}

// NewMetricsServer returns the HTTP server for the metrics router. The caller
// owns ListenAndServe and Shutdown.
func NewMetricsServer(port int, path string, status StatusFunc) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      NewMetricsRouter(path, status),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
