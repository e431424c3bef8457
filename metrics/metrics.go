// Package metrics exposes the Prometheus counters and gauges a
// running byztime provider or consumer publishes about its own
// health: publish/read counts, protocol errors, recovered faults, and
// the current offset and error estimate.
//
// Modeled on etalazz-vsa's internal/ratelimiter/telemetry/churn
// package: a package-level prometheus.Collector set registered once
// in init, with plain functions on top so call sites never touch the
// prometheus API directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"byztime/stamp"
)

var (
	publishesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "byztime_publishes_total",
		Help: "Total number of offsets published by a provider.",
	})
	readsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "byztime_reads_total",
		Help: "Total number of successful consumer reads.",
	})
	protocolErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "byztime_protocol_errors_total",
		Help: "Total number of reads that failed entry validation.",
	})
	recoveredFaultsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "byztime_recovered_faults_total",
		Help: "Total number of memory faults recovered by faultguard.Guarded instead of crashing the process.",
	})
	eraMismatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "byztime_era_mismatches_total",
		Help: "Total number of consumer opens that found a region clock-era token different from the current boot's.",
	})
	currentOffsetSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "byztime_current_offset_seconds",
		Help: "Most recently published local-to-global offset, in seconds.",
	})
	currentErrorSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "byztime_current_error_seconds",
		Help: "Most recently published error-bound estimate, in seconds.",
	})
)

func init() {
	prometheus.MustRegister(
		publishesTotal,
		readsTotal,
		protocolErrorsTotal,
		recoveredFaultsTotal,
		eraMismatchesTotal,
		currentOffsetSeconds,
		currentErrorSeconds,
	)
}

// ObservePublish records a provider-side SetOffset call and updates
// the current-offset/current-error gauges to match.
func ObservePublish(offset, errStamp stamp.Stamp) {
	publishesTotal.Inc()
	currentOffsetSeconds.Set(stampSeconds(offset))
	currentErrorSeconds.Set(stampSeconds(errStamp))
}

// ObserveRead records a successful consumer-side read.
func ObserveRead() {
	readsTotal.Inc()
}

// ObserveProtocolError records a read that surfaced a ProtocolError to
// its caller.
func ObserveProtocolError() {
	protocolErrorsTotal.Inc()
}

// ObserveRecoveredFault records a memory fault that faultguard.Guarded
// converted into an error instead of letting it crash the process.
func ObserveRecoveredFault() {
	recoveredFaultsTotal.Inc()
}

// ObserveEraMismatch records a consumer open that found the region's
// clock-era token different from the current boot's.
func ObserveEraMismatch() {
	eraMismatchesTotal.Inc()
}

func stampSeconds(s stamp.Stamp) float64 {
	return float64(s.Sec) + float64(s.Nsec)/float64(stamp.Billion)
}
