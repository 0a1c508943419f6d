// Package metrics - Prometheus метрики конвейера сканера.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Приём данных ============

// PriceUpdates - количество опубликованных обновлений по биржам
var PriceUpdates = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbscanner",
		Subsystem: "ingest",
		Name:      "price_updates_total",
		Help:      "Total number of price updates published per exchange",
	},
	[]string{"exchange"},
)

// DroppedMessages - сообщения, отброшенные при декодировании
var DroppedMessages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbscanner",
		Subsystem: "ingest",
		Name:      "dropped_messages_total",
		Help:      "Messages dropped during decode (schema mismatch or zero quote)",
	},
	[]string{"exchange", "reason"},
)

// Reconnects - перезапуски коннекторов
var Reconnects = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbscanner",
		Subsystem: "ingest",
		Name:      "reconnects_total",
		Help:      "Connector restarts after a failed run",
	},
	[]string{"exchange"},
)

// ============ Сканер ============

// ScanLatency - время обработки одного обновления сканером
var ScanLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "arbscanner",
		Subsystem: "scanner",
		Name:      "scan_latency_ms",
		Help:      "Time to process one price update in milliseconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
)

// Opportunities - найденные арбитражные возможности (после cooldown)
var Opportunities = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbscanner",
		Subsystem: "scanner",
		Name:      "opportunities_total",
		Help:      "Arbitrage opportunities emitted after filters and cooldown",
	},
	[]string{"symbol"},
)

// BusLag - события, потерянные сканером из-за отставания от шины
var BusLag = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "arbscanner",
		Subsystem: "scanner",
		Name:      "bus_lag_skipped_total",
		Help:      "Price updates skipped because the scanner lagged behind the bus",
	},
)

// ============ Уведомления ============

// Notifications - результаты отправки callback'ов
var Notifications = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbscanner",
		Subsystem: "notifier",
		Name:      "notifications_total",
		Help:      "Callback delivery results",
	},
	[]string{"status"},
)
