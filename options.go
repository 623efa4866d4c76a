package execcore

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nebulastream/exec-core/queryengine"
)

// Option configures an Engine at construction, the same functional-options
// pattern the teacher's own streamsql.Option uses.
type Option func(*Engine)

// WithBufferPoolSizes sets the global/source/worker tier capacities (in
// buffers) and the byte size of each pooled buffer.
func WithBufferPoolSizes(globalBuffers, sourceBuffers, workerBuffers, bufferSize int) Option {
	return func(e *Engine) {
		e.globalBuffers = globalBuffers
		e.sourceBuffers = sourceBuffers
		e.workerBuffers = workerBuffers
		e.bufferSize = bufferSize
	}
}

// WithDispatchMode selects Dynamic (single shared queue) or MultiQueue
// (round-robin pinned queues) dispatch (spec §4.3).
func WithDispatchMode(mode queryengine.DispatchMode) Option {
	return func(e *Engine) {
		e.mode = mode
	}
}

// WithWorkerPool sets the number of dispatch queues (ignored under
// Dynamic, which always uses one) and the worker threads pinned to each.
func WithWorkerPool(numQueues, threadsPerQueue int) Option {
	return func(e *Engine) {
		e.numQueues = numQueues
		e.threadsPerQueue = threadsPerQueue
	}
}

// WithQueueCapacity sets the buffered capacity of each dispatch queue.
func WithQueueCapacity(capacity int) Option {
	return func(e *Engine) {
		e.queueCapacity = capacity
	}
}

// WithStatsRegisterer sets the Prometheus registerer every registered
// plan's statistics collectors attach to. Defaults to
// prometheus.DefaultRegisterer.
func WithStatsRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.statsReg = reg
	}
}
