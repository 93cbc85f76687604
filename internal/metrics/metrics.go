// Package metrics exposes counters and gauges for the job lifecycle over a
// Prometheus registry. A nil *Collector is a valid no-op, so callers never
// guard metric calls on whether metrics are enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the service's Prometheus metrics. Each collector carries
// its own registry so repeated construction (tests, both binaries in one
// process) never collides.
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted   prometheus.Counter
	jobsCompleted   prometheus.Counter
	jobsFailed      prometheus.Counter
	jobsCancelled   prometheus.Counter
	eventsPublished prometheus.Counter

	queueDepth  prometheus.Gauge
	workersBusy prometheus.Gauge
	subscribers prometheus.Gauge

	jobDuration prometheus.Histogram
}

// NewCollector creates and registers the metric set.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exerceo_jobs_submitted_total",
			Help: "Total number of jobs accepted by Submit",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exerceo_jobs_completed_total",
			Help: "Total number of jobs that reached completed",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exerceo_jobs_failed_total",
			Help: "Total number of jobs that reached failed",
		}),
		jobsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exerceo_jobs_cancelled_total",
			Help: "Total number of jobs that reached cancelled",
		}),
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exerceo_events_published_total",
			Help: "Total number of progress events fanned out",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exerceo_queue_depth",
			Help: "Current number of queued jobs",
		}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exerceo_workers_busy",
			Help: "Current number of workers running a job",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exerceo_event_subscribers",
			Help: "Current number of attached progress subscribers",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exerceo_job_duration_seconds",
			Help:    "Wall-clock duration of completed jobs in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}

	c.registry.MustRegister(
		c.jobsSubmitted,
		c.jobsCompleted,
		c.jobsFailed,
		c.jobsCancelled,
		c.eventsPublished,
		c.queueDepth,
		c.workersBusy,
		c.subscribers,
		c.jobDuration,
	)
	return c
}

// Handler serves the registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordSubmitted counts an accepted job.
func (c *Collector) RecordSubmitted() {
	if c == nil {
		return
	}
	c.jobsSubmitted.Inc()
}

// RecordCompleted counts a completed job and observes its duration.
func (c *Collector) RecordCompleted(duration time.Duration) {
	if c == nil {
		return
	}
	c.jobsCompleted.Inc()
	c.jobDuration.Observe(duration.Seconds())
}

// RecordFailed counts a failed job.
func (c *Collector) RecordFailed() {
	if c == nil {
		return
	}
	c.jobsFailed.Inc()
}

// RecordCancelled counts a cancelled job.
func (c *Collector) RecordCancelled() {
	if c == nil {
		return
	}
	c.jobsCancelled.Inc()
}

// RecordEventPublished counts a progress event handed to the hub.
func (c *Collector) RecordEventPublished() {
	if c == nil {
		return
	}
	c.eventsPublished.Inc()
}

// SetQueueDepth updates the queued-jobs gauge.
func (c *Collector) SetQueueDepth(depth int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(depth))
}

// SetWorkersBusy updates the busy-workers gauge.
func (c *Collector) SetWorkersBusy(busy int) {
	if c == nil {
		return
	}
	c.workersBusy.Set(float64(busy))
}

// SetSubscribers updates the attached-subscribers gauge.
func (c *Collector) SetSubscribers(count int) {
	if c == nil {
		return
	}
	c.subscribers.Set(float64(count))
}
