package worker

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	dequeueTimeout = 5 * time.Second
	errorBackoff   = 5 * time.Second
)

// Processor - handles one dequeued task id (implemented by *task.Processor)
type Processor interface {
	Process(ctx context.Context, taskID string) error
}

// Worker - Redis queue consumer with bounded parallelism
type Worker struct {
	queue       *Queue
	processor   Processor
	concurrency int
	taskTimeout time.Duration
}

// NewWorker - create a queue consumer
func NewWorker(queue *Queue, processor Processor, concurrency int, taskTimeout time.Duration) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:       queue,
		processor:   processor,
		concurrency: concurrency,
		taskTimeout: taskTimeout,
	}
}

// Run - watch the queue until ctx ends, then wait for in-flight tasks
func (w *Worker) Run(ctx context.Context) {
	log.Printf("🔄 [Worker] Watching queue %s (concurrency %d, task timeout %s)", w.queue.Key(), w.concurrency, w.taskTimeout)

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, w.concurrency)

	defer func() {
		wg.Wait()
		log.Println("🛑 [Worker] Stopped")
	}()

	for {
		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			return
		}

		taskID, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			<-semaphore
			if ctx.Err() != nil {
				return
			}
			log.Printf("❌ [Worker] Redis BRPOP error: %v", err)
			select {
			case <-time.After(errorBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		if taskID == "" {
			<-semaphore
			continue
		}

		log.Printf("🎯 [Worker] Received task: %s", taskID)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-semaphore }()
			w.process(ctx, taskID)
		}()
	}
}

// process - one task under the wall-clock ceiling; shutdown does not cut it short
func (w *Worker) process(ctx context.Context, taskID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [Worker] Task %s panicked: %v", taskID, r)
		}
	}()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.taskTimeout)
	defer cancel()

	if err := w.processor.Process(runCtx, taskID); err != nil {
		log.Printf("❌ [Worker] Task %s: %v", taskID, err)
	}
}
