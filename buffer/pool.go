/*
 * Copyright 2025 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package buffer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nebulastream/exec-core/coreerr"
	"github.com/nebulastream/exec-core/logger"
)

// Tier names the three fixed-size pool classes spec §4.1 names: a
// process-global pool, per-source local pools, and per-worker scratch
// pools. Tier sizes are fixed at construction, never resized at runtime.
type Tier int

const (
	TierGlobal Tier = iota
	TierSource
	TierWorker
)

// PoolOption configures a Pool at construction, mirroring the teacher's
// functional-options idiom (streamsql's Option).
type PoolOption func(*Pool)

// WithBufferSize overrides the per-segment byte capacity (default 4096,
// matching common network-MTU-sized tuple batches).
func WithBufferSize(n int) PoolOption {
	return func(p *Pool) { p.bufferSize = n }
}

// WithAcquireTimeout bounds how long a blocking Acquire waits before the
// caller should apply backpressure (spec §4.1: "if a non-blocking acquire
// on a required tier fails and a timeout elapses, the source applies
// backpressure rather than dropping data").
func WithAcquireTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.acquireTimeout = d }
}

// Pool is a tiered buffer pool. Each tier owns its own bounded semaphore
// (the number of permits is the tier's fixed segment count) and its own
// mutex-guarded free list of already-allocated segments.
type Pool struct {
	bufferSize     int
	acquireTimeout time.Duration

	tiers map[Tier]*tierPool
}

type tierPool struct {
	sem        *semaphore.Weighted
	capacity   int64
	mu         sync.Mutex
	freeList   []*segment
	bufferSize int
	inFlight   int64 // segments currently acquired and not yet released
}

// NewPool constructs a Pool with the three tiers sized per spec §4.1:
// global sized for worst-case concurrency, source sized for burst
// absorption, worker sized for per-task scratch.
func NewPool(globalCount, sourceCount, workerCount int, opts ...PoolOption) *Pool {
	p := &Pool{
		bufferSize:     4096,
		acquireTimeout: 5 * time.Second,
		tiers:          make(map[Tier]*tierPool),
	}
	for _, o := range opts {
		o(p)
	}
	p.tiers[TierGlobal] = newTierPool(globalCount, p.bufferSize)
	p.tiers[TierSource] = newTierPool(sourceCount, p.bufferSize)
	p.tiers[TierWorker] = newTierPool(workerCount, p.bufferSize)
	return p
}

func newTierPool(count, bufferSize int) *tierPool {
	return &tierPool{
		sem:        semaphore.NewWeighted(int64(count)),
		capacity:   int64(count),
		bufferSize: bufferSize,
	}
}

// Acquire blocks until a buffer is available in the given tier, or until
// the pool's configured acquire timeout elapses, whichever comes first. A
// timeout is reported as coreerr.ErrResourceExhausted so the caller (a
// source, typically) can apply backpressure instead of dropping data.
func (p *Pool) Acquire(ctx context.Context, tier Tier, rowSize int) (*TupleBuffer, error) {
	tp, ok := p.tiers[tier]
	if !ok {
		return nil, fmt.Errorf("buffer: unknown tier %v", tier)
	}

	acquireCtx := ctx
	var cancel context.CancelFunc
	if p.acquireTimeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	if err := tp.sem.Acquire(acquireCtx, 1); err != nil {
		return nil, fmt.Errorf("buffer: acquire tier %v timed out: %w", tier, coreerr.ErrResourceExhausted)
	}
	return p.takeSegment(tp, rowSize), nil
}

// TryAcquire is the non-blocking counterpart callers that must never
// suspend use (spec §4.1 "callers that must not block use tryAcquire").
func (p *Pool) TryAcquire(tier Tier, rowSize int) (*TupleBuffer, bool) {
	tp, ok := p.tiers[tier]
	if !ok {
		return nil, false
	}
	if !tp.sem.TryAcquire(1) {
		return nil, false
	}
	return p.takeSegment(tp, rowSize), true
}

// AcquireUnpooled allocates a segment outside of any tier's bookkeeping —
// its lifetime is still reference-counted, but releasing it frees the
// memory instead of returning it to a free list (spec §4.1 "acquireUnpooled(size)").
func (p *Pool) AcquireUnpooled(size, rowSize int) *TupleBuffer {
	seg := newSegment(size, nil)
	seg.retain()
	return &TupleBuffer{
		seg:        seg,
		byteLength: size,
		rowSize:    rowSize,
		createdAt:  time.Now(),
	}
}

func (p *Pool) takeSegment(tp *tierPool, rowSize int) *TupleBuffer {
	tp.mu.Lock()
	var seg *segment
	if n := len(tp.freeList); n > 0 {
		seg = tp.freeList[n-1]
		tp.freeList = tp.freeList[:n-1]
	}
	tp.mu.Unlock()

	if seg == nil {
		seg = newSegment(tp.bufferSize, p)
	}
	seg.owner = tp
	seg.refCount = 0
	seg.retain()
	atomic.AddInt64(&tp.inFlight, 1)

	return &TupleBuffer{
		seg:        seg,
		byteLength: seg.capacity,
		rowSize:    rowSize,
		createdAt:  time.Now(),
	}
}

// recycle returns a segment to its tier's free list and releases the
// semaphore permit it held. Called from segment.release on the last
// reference drop — never directly.
func (p *Pool) recycle(seg *segment) {
	for tier, tp := range p.tiers {
		if tp == seg.owner {
			tp.mu.Lock()
			tp.freeList = append(tp.freeList, seg)
			tp.mu.Unlock()
			atomic.AddInt64(&tp.inFlight, -1)
			tp.sem.Release(1)
			logger.Debug("buffer: recycled segment into tier %v", tier)
			return
		}
	}
}

// FreeCount reports how many segments are currently available (not
// acquired) in a tier. Used by tests asserting spec §8's buffer-accounting
// property: at quiescence the free count equals the tier's initial
// capacity.
func (p *Pool) FreeCount(tier Tier) int64 {
	tp, ok := p.tiers[tier]
	if !ok {
		return 0
	}
	return tp.capacity - atomic.LoadInt64(&tp.inFlight)
}
