package locker

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "deploylock"

type metrics struct {
	lockCounter       *prometheus.CounterVec
	unlockCounter     *prometheus.CounterVec
	checkCounter      *prometheus.CounterVec
	contendedCounter  prometheus.Counter
	requestsHistogram *prometheus.HistogramVec
}

func newMetrics() *metrics {
	return &metrics{
		lockCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_requests_total",
				Help:      "The total number of lock requests by outcome",
			},
			[]string{"status"},
		),
		unlockCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unlock_requests_total",
				Help:      "The total number of unlock requests by outcome",
			},
			[]string{"result"},
		),
		checkCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "check_requests_total",
				Help:      "The total number of check requests by result",
			},
			[]string{"result"},
		),
		contendedCounter: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_contentions_total",
				Help:      "The total number of lock claims lost to a concurrent claim",
			},
		),
		requestsHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "The duration of the requests in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"operation"},
		),
	}
}

func (m *metrics) register(registerer prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.lockCounter,
		m.unlockCounter,
		m.checkCounter,
		m.contendedCounter,
		m.requestsHistogram,
	} {
		if err := registerer.Register(c); err != nil {
			return err
		}
	}

	return nil
}
