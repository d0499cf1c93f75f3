package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// RunFunc executes one request to completion.
type RunFunc func(ctx context.Context, req *Request)

// QueueState is reported to the observer after every run.
type QueueState struct {
	Pending    int
	Active     bool
	LastID     string
	LastTarget string
}

// Queue is a FIFO of requests drained by a single run loop. At most one
// loop exists at a time, so runs never overlap and execute in arrival order.
type Queue struct {
	run      RunFunc
	observer func(QueueState)
	logger   *slog.Logger

	mu         sync.Mutex
	idle       *sync.Cond
	items      []*Request
	active     bool
	lastID     string
	lastTarget string
}

// NewQueue creates a queue calling run for each request. observer may be nil.
func NewQueue(run RunFunc, observer func(QueueState), logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{run: run, observer: observer, logger: logger}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends req and starts the run loop if none is active.
func (q *Queue) Enqueue(req *Request) {
	q.mu.Lock()
	q.items = append(q.items, req)
	start := !q.active
	q.active = true
	pending := len(q.items)
	q.mu.Unlock()

	q.logger.Info("deployment queued", "request_id", req.ID, "target", req.Target, "pending", pending)

	if start {
		go q.loop()
	}
}

func (q *Queue) loop() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.active = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		req := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		q.runOne(req)

		q.mu.Lock()
		q.lastID = req.ID
		q.lastTarget = req.Target
		q.mu.Unlock()

		if q.observer != nil {
			q.observer(q.State())
		}
	}
}

// runOne keeps the loop alive if run panics.
func (q *Queue) runOne(req *Request) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("deployment run panicked", "request_id", req.ID, "target", req.Target, "panic", fmt.Sprint(r))
		}
	}()
	q.run(context.Background(), req)
}

// State returns a snapshot of the queue.
func (q *Queue) State() QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueState{
		Pending:    len(q.items),
		Active:     q.active,
		LastID:     q.lastID,
		LastTarget: q.lastTarget,
	}
}

// Len returns the number of requests waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Active reports whether the run loop is running.
func (q *Queue) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Wait blocks until the queue is empty and the run loop has exited.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.active || len(q.items) > 0 {
		q.idle.Wait()
	}
}
