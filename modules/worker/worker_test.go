package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewQueue(rdb), mr
}

func TestQueue_FIFO(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := q.Len(ctx); n != 3 {
		t.Errorf("Len() = %d", n)
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx, time.Second)
		if err != nil || got != want {
			t.Errorf("Dequeue() = %q, %v; want %q", got, err, want)
		}
	}
}

func TestQueue_DequeueTimeout(t *testing.T) {
	q, _ := newTestQueue(t)

	got, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	if err != nil || got != "" {
		t.Errorf("Dequeue() on empty queue = %q, %v", got, err)
	}
}

type recordingProcessor struct {
	mu       sync.Mutex
	seen     []string
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	deadline bool
}

func (p *recordingProcessor) Process(ctx context.Context, taskID string) error {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		cur := p.peak.Load()
		if n <= cur || p.peak.CompareAndSwap(cur, n) {
			break
		}
	}

	_, hasDeadline := ctx.Deadline()
	time.Sleep(p.delay)

	p.mu.Lock()
	p.seen = append(p.seen, taskID)
	p.deadline = p.deadline || hasDeadline
	p.mu.Unlock()
	return nil
}

func (p *recordingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func TestWorker_ProcessesWithBoundedConcurrency(t *testing.T) {
	q, _ := newTestQueue(t)
	proc := &recordingProcessor{delay: 20 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewWorker(q, proc, 2, time.Minute).Run(ctx)
		close(done)
	}()

	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		q.Enqueue(context.Background(), id)
	}

	deadline := time.Now().Add(3 * time.Second)
	for proc.count() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("processed %d of 5", proc.count())
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if peak := proc.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
	if !proc.deadline {
		t.Error("tasks ran without a wall-clock deadline")
	}
}

func TestEnqueueHandler(t *testing.T) {
	q, _ := newTestQueue(t)
	r := mux.NewRouter()
	NewEnqueueHandler(q).RegisterRoutes(r)

	post := func(body string) (*httptest.ResponseRecorder, EnqueueResponse) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("POST", "/api/enqueue", bytes.NewBufferString(body)))
		var resp EnqueueResponse
		json.NewDecoder(rec.Body).Decode(&resp)
		return rec, resp
	}

	rec, resp := post(`{"taskId":"task-1"}`)
	if rec.Code != http.StatusOK || !resp.Success || resp.TaskID != "task-1" || resp.QueuePosition != 1 {
		t.Errorf("enqueue = %d %+v", rec.Code, resp)
	}
	if got, _ := q.Dequeue(context.Background(), time.Second); got != "task-1" {
		t.Errorf("queued = %q", got)
	}

	if rec, resp := post(`{}`); rec.Code != http.StatusBadRequest || resp.Success {
		t.Errorf("missing id = %d %+v", rec.Code, resp)
	}
	if rec, _ := post(`not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body = %d", rec.Code)
	}
}
