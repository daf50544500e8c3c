// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "sessions_created_total",
		Help:      "Attendance sessions opened.",
	})

	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "sessions_ended_total",
		Help:      "Sessions that transitioned to ended, by reason.",
	}, []string{"reason"})

	ActiveTimers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendance",
		Name:      "session_timers_armed",
		Help:      "Expiry timers currently armed in this process.",
	})

	Marks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "marks_total",
		Help:      "Attendance mark attempts by outcome.",
	}, []string{"outcome"})

	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "verifications_total",
		Help:      "Face verification attempts by outcome.",
	}, []string{"outcome"})

	VerifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "attendance",
		Name:      "verify_duration_seconds",
		Help:      "Time spent in the face verification pipeline.",
		Buckets:   prometheus.DefBuckets,
	})

	DeviceDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "device_decisions_total",
		Help:      "Device binding decisions on login.",
	}, []string{"decision"})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "store_errors_total",
		Help:      "State store backend failures, by operation.",
	}, []string{"op"})
)
