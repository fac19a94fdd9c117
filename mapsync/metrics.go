package mapsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// acks by operation and classified result (success, validation, critical, malformed, timeout)
	ackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapsync_ack_total",
		Help: "Mutation acknowledgments by operation and result",
	}, []string{"operation", "result"})

	ackDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mapsync_ack_duration_seconds",
		Help:    "Time from send to acknowledgment",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"operation"})

	recoveryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapsync_recovery_total",
		Help: "Error recovery decisions by ack kind",
	}, []string{"kind"})

	remoteEventTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapsync_remote_events_total",
		Help: "Remote events applied to the local document",
	}, []string{"strategy", "event"})

	reconnectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapsync_reconnect_total",
		Help: "Transport connect attempts",
	}, []string{"channel"})
)
