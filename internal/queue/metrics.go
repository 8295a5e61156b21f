package queue

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobRetries   *prometheus.CounterVec
	durationSecs = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600}
)

func initMetrics() {
	metricsOnce.Do(func() {
		jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chief",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Count of processed jobs by queue and outcome",
		}, []string{"queue", "outcome"})

		jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chief",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Latency distribution of job handlers",
			Buckets:   durationSecs,
		}, []string{"queue"})

		jobRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chief",
			Subsystem: "worker",
			Name:      "job_retries_total",
			Help:      "Number of handler retries",
		}, []string{"queue"})

		collectors := []prometheus.Collector{jobsTotal, jobDuration, jobRetries}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						if collector == jobsTotal {
							jobsTotal = v
						} else if collector == jobRetries {
							jobRetries = v
						}
					case *prometheus.HistogramVec:
						jobDuration = v
					}
				}
			}
		}
	})
}

func recordJob(queue, outcome string, duration time.Duration) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(queue, outcome).Inc()
	jobDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

func recordRetry(queue string) {
	if jobRetries == nil {
		return
	}
	jobRetries.WithLabelValues(queue).Inc()
}
