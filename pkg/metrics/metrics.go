// Package metrics exposes Prometheus instrumentation for the refresh
// pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "wattsync_"

	resultSuccess = "success"
	resultError   = "error"
	resultLimited = "limited"
)

var (
	registerOnce sync.Once

	refreshCycles  *prometheus.CounterVec
	refreshLatency *prometheus.HistogramVec

	recordsWritten *prometheus.CounterVec

	apiErrors *prometheus.CounterVec

	lastRefresh *prometheus.GaugeVec
)

// Init registers the refresh pipeline metrics. Safe to call more than
// once.
func Init() {
	registerOnce.Do(func() {
		refreshCycles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "refresh_cycles_total",
				Help: "Total refresh cycles by result",
			},
			[]string{"pdl", "result"},
		)
		refreshLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "refresh_latency_seconds",
				Help:    "Refresh cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"pdl"},
		)

		recordsWritten = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "records_written_total",
				Help: "Total statistic points written by mode and kind",
			},
			[]string{"pdl", "mode", "kind"},
		)

		apiErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "meter_api_errors_total",
				Help: "Total metering API failures by reason",
			},
			[]string{"pdl", "reason"},
		)

		lastRefresh = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "last_refresh_timestamp_seconds",
				Help: "Unix time of the last successful refresh",
			},
			[]string{"pdl"},
		)

		prometheus.MustRegister(
			refreshCycles,
			refreshLatency,
			recordsWritten,
			apiErrors,
			lastRefresh,
		)
	})
}

// ObserveRefresh records the outcome of one refresh cycle.
func ObserveRefresh(pdl string, start time.Time, err error) {
	if refreshCycles == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	refreshCycles.WithLabelValues(pdl, result).Inc()
	refreshLatency.WithLabelValues(pdl).Observe(time.Since(start).Seconds())
	if err == nil {
		lastRefresh.WithLabelValues(pdl).SetToCurrentTime()
	}
}

// ObserveRecords counts statistic points written for a mode. kind is
// "energy" or "cost".
func ObserveRecords(pdl, mode, kind string, n int) {
	if recordsWritten == nil || n == 0 {
		return
	}
	recordsWritten.WithLabelValues(pdl, mode, kind).Add(float64(n))
}

// ObserveAPIError counts a metering API failure. limited distinguishes
// quota exhaustion from hard errors.
func ObserveAPIError(pdl string, limited bool) {
	if apiErrors == nil {
		return
	}
	reason := resultError
	if limited {
		reason = resultLimited
	}
	apiErrors.WithLabelValues(pdl, reason).Inc()
}
