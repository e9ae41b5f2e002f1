package engine

import (
	"context"
	"sync"

	"jsondb/src/metrics"

	"go.uber.org/zap"
)

// Job is a unit of persistence work. Flush is called on the persister's
// goroutine with the global write lock held.
type Job interface {
	Flush() error
	String() string
}

// FailureHandler is told about every job whose Flush failed.
type FailureHandler func(job Job, err error)

// Persister writes collection snapshots in the order they were queued. A
// single worker drains the queue, and every filesystem mutation in the data
// directory (snapshot writes, collection and database removal) happens under
// the same write lock, so a snapshot never lands in a directory that is being
// deleted.
//
// Once Run has been canceled no job is dropped: jobs still queued are
// flushed by the worker, and jobs handed in later are flushed by the caller.
type Persister struct {
	queue     chan Job
	writeMu   sync.Mutex
	logger    *zap.SugaredLogger
	onFailure FailureHandler

	// stateMu is held shared by Enqueue and exclusively by the worker while
	// it takes its final look at the queue.
	stateMu  sync.RWMutex
	stopping chan struct{}
	stopped  bool
}

// NewPersister creates a persister whose queue holds up to size jobs.
// onFailure may be nil, in which case failures are only logged.
func NewPersister(size int, logger *zap.SugaredLogger, onFailure FailureHandler) *Persister {
	if size < 1 {
		size = 1
	}
	return &Persister{
		queue:     make(chan Job, size),
		logger:    logger,
		onFailure: onFailure,
		stopping:  make(chan struct{}),
	}
}

// Enqueue queues job, blocking while the queue is full. After the worker
// has been told to stop the job is flushed before Enqueue returns.
func (p *Persister) Enqueue(ctx context.Context, job Job) error {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()

	if p.stopped {
		return p.flush(job)
	}

	select {
	case p.queue <- job:
		metrics.PersistQueueDepth.Inc()
		return nil
	case <-p.stopping:
		return p.flush(job)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes jobs until ctx is canceled, then flushes whatever is still
// queued and returns. It must be called at most once.
func (p *Persister) Run(ctx context.Context) error {
	for {
		select {
		case job := <-p.queue:
			p.process(job)
		case <-ctx.Done():
			close(p.stopping)
			n := p.drain()

			// waits out Enqueue calls that were already past the stopped check
			p.stateMu.Lock()
			n += p.drain()
			p.stopped = true
			p.stateMu.Unlock()

			if n > 0 {
				p.logger.Infof("Flushed %d pending writes on shutdown", n)
			}
			return nil
		}
	}
}

func (p *Persister) drain() int {
	n := 0
	for {
		select {
		case job := <-p.queue:
			p.process(job)
			n++
		default:
			return n
		}
	}
}

func (p *Persister) process(job Job) {
	metrics.PersistQueueDepth.Dec()
	p.flush(job)
}

func (p *Persister) flush(job Job) error {
	p.writeMu.Lock()
	err := job.Flush()
	p.writeMu.Unlock()

	if err != nil {
		metrics.PersistWrites.WithLabelValues("error").Inc()
		p.logger.Errorw("Failed to persist", "job", job.String(), "error", err)
		if p.onFailure != nil {
			p.onFailure(job, err)
		}
		return err
	}
	metrics.PersistWrites.WithLabelValues("ok").Inc()
	p.logger.Debugf("Persisted %s", job.String())
	return nil
}

// WithWriteLock runs fn while holding the write lock the worker holds for
// every flush.
func (p *Persister) WithWriteLock(fn func() error) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return fn()
}

// Pending returns the number of queued jobs.
func (p *Persister) Pending() int {
	return len(p.queue)
}
