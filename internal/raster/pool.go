package raster

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool runs row-band tasks on a fixed set of goroutines.
//
// Each worker owns a queue; a worker whose queue is empty steals from the
// others before blocking, so one slow band does not leave the rest idle.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers int

	// queues holds one buffered queue per worker.
	queues []chan func()

	// done is closed by Close to stop the workers.
	done chan struct{}

	wg sync.WaitGroup

	running atomic.Bool
}

// NewWorkerPool starts a pool with the given number of workers.
// If workers is 0 or negative, runtime.NumCPU()+1 is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = DefaultConcurrency()
	}

	queueSize := workers * 4
	if queueSize < 8 {
		queueSize = 8
	}

	p := &WorkerPool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), queueSize)
	}

	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}

	return p
}

// DefaultConcurrency returns the default fan-out degree: logical CPUs plus one.
func DefaultConcurrency() int {
	return runtime.NumCPU() + 1
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	own := p.queues[id]
	for {
		select {
		case <-p.done:
			p.drain(own)
			return
		case fn := <-own:
			fn()
			continue
		default:
		}

		if fn := p.steal(id); fn != nil {
			fn()
			continue
		}

		select {
		case <-p.done:
			p.drain(own)
			return
		case fn := <-own:
			fn()
		}
	}
}

// drain runs whatever is still queued so ExecuteAll callers are released.
func (p *WorkerPool) drain(queue chan func()) {
	for {
		select {
		case fn := <-queue:
			fn()
		default:
			return
		}
	}
}

func (p *WorkerPool) steal(self int) func() {
	for i := range p.workers {
		if i == self {
			continue
		}
		select {
		case fn := <-p.queues[i]:
			return fn
		default:
		}
	}
	return nil
}

// ExecuteAll distributes work round-robin and blocks until every item has
// finished. Work submitted after Close runs on the calling goroutine.
func (p *WorkerPool) ExecuteAll(work []func()) {
	if len(work) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(work))

	for i, fn := range work {
		task := func() {
			defer wg.Done()
			fn()
		}

		if !p.running.Load() {
			task()
			continue
		}

		select {
		case p.queues[i%p.workers] <- task:
		case <-p.done:
			task()
		}
	}

	wg.Wait()
}

// Close stops the workers after the queued work has run.
// Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// IsRunning reports whether the pool still accepts work.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}
