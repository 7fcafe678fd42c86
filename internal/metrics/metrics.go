package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StreamConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sipmon_stream_connected",
		Help: "1 while the monitor event stream is open",
	})

	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sipmon_stream_reconnects_total",
		Help: "Reconnect cycles entered after a stream failure",
	})

	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipmon_events_received_total",
		Help: "Stream events applied, by event type",
	}, []string{"type"})

	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sipmon_refresh_duration_seconds",
		Help:    "Wall time of a full REST refresh fan-out",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	})

	RefreshErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipmon_refresh_errors_total",
		Help: "Failed refreshes by kind",
	}, []string{"kind"})

	ConfigSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipmon_config_saves_total",
		Help: "Configuration saves by reload outcome",
	}, []string{"status"})

	LogBufferLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sipmon_log_buffer_length",
		Help: "Log lines currently buffered",
	})
)
