package analytics

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// SoftDeadline bounds a single derivation request. A request that overruns
// is discarded rather than held up; the ingest task never waits on it.
const SoftDeadline = 50 * time.Millisecond

// Request is one derivation job submitted by the feed session's ingest
// task. Key is opaque to the pool; it is echoed back on Response so the
// caller can route the result to the right InstrumentState.
type Request struct {
	Key    string
	Inputs Inputs
}

// Response carries a derivation result back to the caller, keyed the same
// way as the Request that produced it.
type Response struct {
	Key    string
	Result Result
	Timedout bool
}

// Pool runs Black-Scholes derivations on a bounded worker pool so the
// ingest task that feeds it never blocks on CPU-bound analytics. Built on
// sourcegraph/conc instead of a hand-rolled consumer goroutine since
// derivation requests here are independent and benefit from true fan-out.
type Pool struct {
	requests chan Request
	results  chan Response
	done     chan struct{}
}

// NewPool starts workers bounded goroutines draining a buffered request
// channel. Call Close to stop accepting work and drain in-flight requests.
func NewPool(workers, queueDepth int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	p := &Pool{
		requests: make(chan Request, queueDepth),
		results:  make(chan Response, queueDepth),
		done:     make(chan struct{}),
	}

	go func() {
		wp := pool.New().WithMaxGoroutines(workers)
		for {
			select {
			case req, ok := <-p.requests:
				if !ok {
					wp.Wait()
					close(p.results)
					return
				}
				wp.Go(func() {
					p.handle(req)
				})
			case <-p.done:
				wp.Wait()
				close(p.results)
				return
			}
		}
	}()

	return p
}

func (p *Pool) handle(req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), SoftDeadline)
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() {
		resultCh <- Derive(req.Inputs)
	}()

	select {
	case res := <-resultCh:
		select {
		case p.results <- Response{Key: req.Key, Result: res}:
		case <-p.done:
		}
	case <-ctx.Done():
		select {
		case p.results <- Response{Key: req.Key, Timedout: true}:
		case <-p.done:
		}
	}
}

// Submit enqueues a derivation request. It never blocks the caller
// indefinitely: if the queue is full the request is dropped, matching the
// "ingest task never awaits AE" rule — a dropped request simply means this
// instrument's analytics wait for the next eligible tick.
func (p *Pool) Submit(req Request) bool {
	select {
	case p.requests <- req:
		return true
	default:
		return false
	}
}

// Results returns the channel the caller should drain for derivation
// responses.
func (p *Pool) Results() <-chan Response {
	return p.results
}

// Close stops the pool. In-flight requests are allowed to finish; no new
// requests are accepted after Close returns.
func (p *Pool) Close() {
	close(p.done)
	close(p.requests)
}
