// Package core provides the worker pool a node uses to fan deliveries out
// to its peers in parallel.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolClosed is returned for tasks offered to a shut down pool.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Task is one unit of work. Run receives the task's context.
type Task struct {
	ID  string
	Run func(ctx context.Context) error
	Ctx context.Context

	index int
	reply chan<- Result
}

// NewTask creates a task bound to ctx.
func NewTask(ctx context.Context, id string, run func(ctx context.Context) error) Task {
	return Task{ID: id, Run: run, Ctx: ctx}
}

// Result is the outcome of one task.
type Result struct {
	TaskID   string
	Err      error
	Duration time.Duration
	WorkerID int

	index int
}

// Success reports whether the task returned no error.
func (r Result) Success() bool { return r.Err == nil }

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Name        string  `json:"name"`
	Workers     int     `json:"workers"`
	Active      int64   `json:"active"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Pending     int     `json:"pending"`
	SuccessRate float64 `json:"success_rate"`
}

// WorkerPool runs tasks on a fixed set of goroutines.
type WorkerPool struct {
	name     string
	workers  int
	taskChan chan Task
	wg       sync.WaitGroup

	active    int64
	completed int64
	failed    int64

	mu      sync.RWMutex
	running bool
}

// NewWorkerPool starts workers goroutines with a queue of queueSize tasks.
func NewWorkerPool(name string, workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < workers {
		queueSize = workers * 16
	}

	pool := &WorkerPool{
		name:     name,
		workers:  workers,
		taskChan: make(chan Task, queueSize),
		running:  true,
	}
	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}
	return pool
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for task := range p.taskChan {
		p.processTask(id, task)
	}
}

func (p *WorkerPool) processTask(workerID int, task Task) {
	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	start := time.Now()
	result := Result{TaskID: task.ID, WorkerID: workerID, index: task.index}

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("panic in task %s: %v", task.ID, r)
		}
		result.Duration = time.Since(start)
		if result.Err == nil {
			atomic.AddInt64(&p.completed, 1)
		} else {
			atomic.AddInt64(&p.failed, 1)
		}
		if task.reply != nil {
			task.reply <- result
		}
	}()

	ctx := task.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		result.Err = err
		return
	}
	if task.Run == nil {
		result.Err = errors.New("no run function defined")
		return
	}
	result.Err = task.Run(ctx)
}

func (p *WorkerPool) enqueue(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return ErrPoolClosed
	}
	p.taskChan <- task
	return nil
}

// RunAll executes tasks and waits for every result. Results are returned in
// task order, waiting for queue space as needed. A task refused by a
// shut down pool gets ErrPoolClosed. One task failing never affects the
// others.
func (p *WorkerPool) RunAll(tasks []Task) []Result {
	results := make([]Result, len(tasks))
	reply := make(chan Result, len(tasks))

	pending := 0
	for i, task := range tasks {
		task.index = i
		task.reply = reply
		if err := p.enqueue(task); err != nil {
			results[i] = Result{TaskID: task.ID, Err: err, WorkerID: -1}
			atomic.AddInt64(&p.failed, 1)
			continue
		}
		pending++
	}

	for ; pending > 0; pending-- {
		r := <-reply
		results[r.index] = r
	}
	return results
}

// GetStats returns current worker pool statistics.
func (p *WorkerPool) GetStats() PoolStats {
	completed := atomic.LoadInt64(&p.completed)
	failed := atomic.LoadInt64(&p.failed)
	total := completed + failed

	var successRate float64
	if total > 0 {
		successRate = float64(completed) / float64(total) * 100
	}

	return PoolStats{
		Name:        p.name,
		Workers:     p.workers,
		Active:      atomic.LoadInt64(&p.active),
		Completed:   completed,
		Failed:      failed,
		Pending:     len(p.taskChan),
		SuccessRate: successRate,
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.taskChan)
	p.mu.Unlock()

	p.wg.Wait()
}

// ShutdownWithTimeout shuts down, giving up after timeout.
func (p *WorkerPool) ShutdownWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		p.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("shutdown timeout")
	}
}

// IsRunning returns true if the pool is still accepting tasks.
func (p *WorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}
