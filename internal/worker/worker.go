// Package worker provides a bounded pool used for hazard ingestion and
// notification fan-out. Jobs carry their own type parameter so processors
// never type-assert.
package worker

import (
	"context"
	"log/slog"
	"sync"
)

type ProcessFunc[J any] func(ctx context.Context, job J) error

type Pool[J any] struct {
	numWorkers int
	jobs       chan J
	processor  ProcessFunc[J]
	wg         sync.WaitGroup
}

func NewPool[J any](numWorkers, bufferSize int, processor ProcessFunc[J]) *Pool[J] {
	return &Pool[J]{
		numWorkers: numWorkers,
		jobs:       make(chan J, bufferSize),
		processor:  processor,
	}
}

func (p *Pool[J]) Start(ctx context.Context) {
	for i := 1; i <= p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *Pool[J]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			if err := p.processor(ctx, job); err != nil {
				slog.Error("job failed", "error", err)
			}
		}
	}
}

// Submit blocks until buffer space is available.
func (p *Pool[J]) Submit(job J) {
	p.jobs <- job
}

// Stop drains the queue and waits for in-flight jobs to finish. Submit
// must not be called after Stop.
func (p *Pool[J]) Stop() {
	close(p.jobs)
	p.wg.Wait()
}
