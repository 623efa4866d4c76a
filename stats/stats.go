// Package stats is the statistics registry every registered executable
// query plan reports through: processed buffers/tasks/tuples/errors,
// latency samples, and queue depth (spec §6.6).
package stats

import (
	"github.com/montanaflynn/stats"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nebulastream/exec-core/utils/queue"
)

const latencyWindow = 1024

// Registry holds one executable query plan's prometheus collectors plus a
// bounded ring buffer of recent task-latency samples used to compute
// percentiles on demand without prometheus's own histogram bucketing.
type Registry struct {
	planID string

	ProcessedBuffers prometheus.Counter
	ProcessedTasks   prometheus.Counter
	ProcessedTuples  prometheus.Counter
	Errors           prometheus.Counter
	QueueDepth       prometheus.Gauge

	latencies *queue.Queue
}

// New builds and registers a plan's collectors against reg. Callers must
// call Unregister before re-registering the same planID (spec: "the
// statistics registry... registered per EQP, unregistered on
// re-registration").
func New(reg prometheus.Registerer, planID string) *Registry {
	labels := prometheus.Labels{"plan_id": planID}
	r := &Registry{
		planID: planID,
		ProcessedBuffers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nebulastream_processed_buffers_total", Help: "Buffers processed by this plan.", ConstLabels: labels,
		}),
		ProcessedTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nebulastream_processed_tasks_total", Help: "Tasks processed by this plan.", ConstLabels: labels,
		}),
		ProcessedTuples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nebulastream_processed_tuples_total", Help: "Tuples processed by this plan.", ConstLabels: labels,
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nebulastream_task_errors_total", Help: "Task failures observed by this plan.", ConstLabels: labels,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nebulastream_queue_depth", Help: "Pending tasks queued for this plan.", ConstLabels: labels,
		}),
		latencies: queue.NewCircleQueue(latencyWindow),
	}
	reg.MustRegister(r.ProcessedBuffers, r.ProcessedTasks, r.ProcessedTuples, r.Errors, r.QueueDepth)
	return r
}

// Unregister removes this plan's collectors from reg, required before a
// plan with the same id is registered again (a SourceReuse replacement,
// or a retry after ErrorState).
func (r *Registry) Unregister(reg prometheus.Registerer) {
	reg.Unregister(r.ProcessedBuffers)
	reg.Unregister(r.ProcessedTasks)
	reg.Unregister(r.ProcessedTuples)
	reg.Unregister(r.Errors)
	reg.Unregister(r.QueueDepth)
}

// RecordTaskLatency folds one task's latency (in seconds) into the
// rolling window, overwriting the oldest sample once the window is full.
func (r *Registry) RecordTaskLatency(seconds float64) {
	if r.latencies.IsFull() {
		r.latencies.Pop()
	}
	r.latencies.Push(seconds)
}

// LatencyPercentile computes the p-th percentile (0-100) over the
// current rolling window of task latencies.
func (r *Registry) LatencyPercentile(p float64) (float64, error) {
	samples := r.latencies.PopAll()
	for _, s := range samples {
		r.latencies.Push(s)
	}
	return stats.Percentile(samples, p)
}
