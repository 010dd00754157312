// Package worker runs background jobs: mirror retries, pending-queue
// drains and other best-effort work that must never block a request.
package worker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// Task is a function that represents a background job
type Task func(ctx context.Context) error

type Pool struct {
	taskQueue chan Task
	wg        sync.WaitGroup
	isClosing atomic.Bool
}

func NewPool(size, queueDepth int) *Pool {
	if size <= 0 {
		size = 2
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}
	p := &Pool{taskQueue: make(chan Task, queueDepth)}
	for range size {
		p.wg.Add(1)
		go p.startWorker()
	}
	return p
}

func (p *Pool) startWorker() {
	defer p.wg.Done()
	for task := range p.taskQueue {
		if err := task(context.Background()); err != nil {
			log.Printf("[WORKER] task failed: %v", err)
		}
	}
}

// Submit queues a task. A full queue drops the task; background work is
// best effort by contract.
func (p *Pool) Submit(t Task) {
	if p.isClosing.Load() {
		log.Println("[WORKER] task submitted during shutdown, dropping.")
		return
	}
	select {
	case p.taskQueue <- t:
	default:
		log.Println("[WORKER] task queue full, dropping task!")
	}
}

// Shutdown closes the queue and waits for workers to finish
func (p *Pool) Shutdown() {
	p.isClosing.Store(true)
	close(p.taskQueue)
	p.wg.Wait()
}
