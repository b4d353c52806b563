package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type cycleResult string

const (
	cycleOK      cycleResult = "ok"
	cyclePartial cycleResult = "partial"
	cycleFailed  cycleResult = "failed"
)

type blockResult string

const (
	blockOK          blockResult = "ok"
	blockFailed      blockResult = "failed"
	blockDecodeError blockResult = "decode_error"
)

// Metrics 輪詢指標
//
// 所有方法在 nil receiver 上都是 no-op，未啟用指標時不需要判斷。
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	blockReads    *prometheus.CounterVec
	readFailures  prometheus.Counter
	retries       prometheus.Counter
	connects      prometheus.Counter
	lastSuccess   prometheus.Gauge
	fieldValues   *prometheus.GaugeVec
}

// NewMetrics 建立指標並註冊到獨立的 registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ovumpoll_cycles_total",
			Help: "Polling cycles by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ovumpoll_cycle_duration_seconds",
			Help:    "Duration of a polling cycle.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		blockReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ovumpoll_block_reads_total",
			Help: "Register block reads by block and result.",
		}, []string{"block", "result"}),
		readFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ovumpoll_read_failures_total",
			Help: "Failed read attempts, including ones recovered by a retry.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ovumpoll_read_retries_total",
			Help: "Read retries after backoff and reconnect.",
		}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ovumpoll_connects_total",
			Help: "Successful connection establishments.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ovumpoll_last_success_timestamp_seconds",
			Help: "Unix time of the last cycle that produced a snapshot.",
		}),
		fieldValues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ovumpoll_field_value",
			Help: "Numeric snapshot fields of the last cycle.",
		}, []string{"field", "unit"}),
	}

	m.registry.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.blockReads,
		m.readFailures,
		m.retries,
		m.connects,
		m.lastSuccess,
		m.fieldValues,
	)
	return m
}

// Registry 取得 prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) connected() {
	if m == nil {
		return
	}
	m.connects.Inc()
}

func (m *Metrics) readFailed() {
	if m == nil {
		return
	}
	m.readFailures.Inc()
}

func (m *Metrics) retried() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) blockRead(block string, result blockResult) {
	if m == nil {
		return
	}
	m.blockReads.WithLabelValues(block, string(result)).Inc()
}

func (m *Metrics) cycleDone(result cycleResult, elapsed time.Duration, snapshot Snapshot) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(string(result)).Inc()
	m.cycleDuration.Observe(elapsed.Seconds())

	// 只保留本週期的欄位
	m.fieldValues.Reset()
	if len(snapshot) == 0 {
		return
	}
	m.lastSuccess.SetToCurrentTime()
	for key := range snapshot {
		v, ok := snapshot.Float(key)
		if !ok {
			continue
		}
		m.fieldValues.WithLabelValues(key, SensorFor(key).Unit).Set(v)
	}
}

// StatusSource 提供最新快照與狀態
type StatusSource interface {
	Status() SchedulerStatus
}

// MetricsServer 指標與快照 HTTP 伺服器
type MetricsServer struct {
	metrics *Metrics
	source  StatusSource
	logger  *zap.Logger
	server  *http.Server
}

// NewMetricsServer 建立 HTTP 伺服器
func NewMetricsServer(metrics *Metrics, source StatusSource, logger *zap.Logger) *MetricsServer {
	return &MetricsServer{
		metrics: metrics,
		source:  source,
		logger:  logger,
	}
}

// Handler 返回路由
func (s *MetricsServer) Handler(endpoint string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(endpoint, promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	return mux
}

// Start 啟動 HTTP 伺服器 (背景執行)
func (s *MetricsServer) Start(endpoint string, port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(endpoint),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("啟動指標伺服器", zap.String("addr", addr), zap.String("endpoint", endpoint))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("指標伺服器錯誤", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown 關閉 HTTP 伺服器
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleHealth 處理 /health 請求
func (s *MetricsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// handleReady 處理 /ready 請求，第一次成功輪詢後才就緒
func (s *MetricsServer) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.source == nil || !s.source.Status().Available {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// handleSnapshot 處理 /snapshot 請求
func (s *MetricsServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.source == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "no data"})
		return
	}
	json.NewEncoder(w).Encode(s.source.Status())
}
