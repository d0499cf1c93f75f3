package deployment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deployhook/internal/app"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueue_FIFOOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string

	q := NewQueue(func(ctx context.Context, req *Request) {
		mu.Lock()
		order = append(order, req.Target)
		mu.Unlock()
	}, nil, quietLogger())

	for i := 0; i < 10; i++ {
		q.Enqueue(NewRequest(fmt.Sprintf("app-%d", i), app.Config{}, app.VersioningInfo{}, Options{}))
	}
	q.Wait()

	if len(order) != 10 {
		t.Fatalf("ran %d requests, want 10", len(order))
	}
	for i, target := range order {
		if want := fmt.Sprintf("app-%d", i); target != want {
			t.Errorf("order[%d] = %s, want %s", i, target, want)
		}
	}
}

func TestQueue_RunsNeverOverlap(t *testing.T) {
	var running, maxRunning int32

	q := NewQueue(func(ctx context.Context, req *Request) {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&running, -1)
	}, nil, quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(NewRequest("svc", app.Config{}, app.VersioningInfo{}, Options{}))
		}()
	}
	wg.Wait()
	q.Wait()

	if got := atomic.LoadInt32(&maxRunning); got != 1 {
		t.Errorf("max concurrent runs = %d, want 1", got)
	}
}

// slowNotifier makes a pipeline's notify phase take a while so an overlapping
// next run would show up in the event order.
type slowNotifier struct {
	rec *recorder
}

func (n *slowNotifier) Notify(ctx context.Context, report *Report) error {
	time.Sleep(20 * time.Millisecond)
	n.rec.add("notified:" + report.Request.Target)
	return nil
}

func TestQueue_NextRunWaitsForNotification(t *testing.T) {
	rec := &recorder{}
	pipeline := NewPipeline(PipelineDeps{
		Supervisor: &fakeSupervisor{rec: rec, cwd: "/srv/x"},
		Puller:     &fakePuller{rec: rec},
		Notifier:   &slowNotifier{rec: rec},
		Logger:     quietLogger(),
	})
	q := NewQueue(func(ctx context.Context, req *Request) { pipeline.Run(ctx, req) }, nil, quietLogger())

	q.Enqueue(NewRequest("a", app.Config{Name: "a"}, app.VersioningInfo{}, Options{Notify: true}))
	q.Enqueue(NewRequest("b", app.Config{Name: "b"}, app.VersioningInfo{}, Options{Notify: true}))
	q.Wait()

	assertEvents(t, rec.list(),
		"describe:a", "pull:/srv/x", "reload:a", "notified:a",
		"describe:b", "pull:/srv/x", "reload:b", "notified:b")
}

func TestQueue_ObserverAndState(t *testing.T) {
	var mu sync.Mutex
	var states []QueueState

	q := NewQueue(func(ctx context.Context, req *Request) {}, func(s QueueState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}, quietLogger())

	first := NewRequest("a", app.Config{}, app.VersioningInfo{}, Options{})
	second := NewRequest("b", app.Config{}, app.VersioningInfo{}, Options{})
	q.Enqueue(first)
	q.Enqueue(second)
	q.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 {
		t.Fatalf("observer called %d times, want 2", len(states))
	}
	last := states[len(states)-1]
	if last.LastID != second.ID || last.LastTarget != "b" || last.Pending != 0 {
		t.Errorf("last state = %+v", last)
	}

	if got := q.State(); got.Active || got.Pending != 0 || got.LastID != second.ID {
		t.Errorf("State() after Wait = %+v", got)
	}
}

func TestQueue_PanicKeepsDraining(t *testing.T) {
	var ran []string
	var mu sync.Mutex

	q := NewQueue(func(ctx context.Context, req *Request) {
		if req.Target == "boom" {
			panic("run exploded")
		}
		mu.Lock()
		ran = append(ran, req.Target)
		mu.Unlock()
	}, nil, quietLogger())

	q.Enqueue(NewRequest("boom", app.Config{}, app.VersioningInfo{}, Options{}))
	q.Enqueue(NewRequest("after", app.Config{}, app.VersioningInfo{}, Options{}))
	q.Wait()

	if len(ran) != 1 || ran[0] != "after" {
		t.Errorf("ran = %v, want [after]", ran)
	}
	if q.Active() {
		t.Error("loop still active after Wait")
	}
}

func TestQueue_WaitOnIdleQueue(t *testing.T) {
	q := NewQueue(func(ctx context.Context, req *Request) {}, nil, nil)

	done := make(chan struct{})
	go func() {
		q.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked on an idle queue")
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d", q.Len())
	}
}

func TestQueue_RestartsAfterDraining(t *testing.T) {
	var count int32
	q := NewQueue(func(ctx context.Context, req *Request) { atomic.AddInt32(&count, 1) }, nil, quietLogger())

	q.Enqueue(NewRequest("a", app.Config{}, app.VersioningInfo{}, Options{}))
	q.Wait()
	q.Enqueue(NewRequest("b", app.Config{}, app.VersioningInfo{}, Options{}))
	q.Wait()

	if got := atomic.LoadInt32(&count); got != 2 {
		t.Errorf("ran %d requests, want 2", got)
	}
}
