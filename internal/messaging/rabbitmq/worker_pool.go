package rabbitmq

import (
	"sync"
)

// WorkerPool bounds the number of deliveries processed concurrently.
// Combined with broker prefetch it caps in-flight work per instance.
type WorkerPool struct {
	workers    int
	jobs       chan func()
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopSignal chan struct{}
}

func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	wp := &WorkerPool{
		workers:    workers,
		jobs:       make(chan func(), workers*2),
		stopSignal: make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.stopSignal:
			return
		case job, ok := <-wp.jobs:
			if !ok {
				return
			}
			job()
		}
	}
}

// Submit queues a job. Jobs submitted after Stop are silently dropped;
// the broker redelivers their unacknowledged messages.
func (wp *WorkerPool) Submit(job func()) {
	select {
	case <-wp.stopSignal:
		return
	default:
	}

	select {
	case <-wp.stopSignal:
	case wp.jobs <- job:
	}
}

// Stop stops accepting jobs and waits for in-flight jobs to finish.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		close(wp.stopSignal)
		close(wp.jobs)
	})
	wp.wg.Wait()
}
