package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signd_credential_uploads_total",
		Help: "Credential upload attempts by outcome",
	}, []string{"outcome"})

	signsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signd_sign_requests_total",
		Help: "Sign requests by outcome",
	}, []string{"outcome"})

	signDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "signd_sign_duration_seconds",
		Help:    "Wall time of successful sign requests",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)
