package queue

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"storyloom/pkg/pipeline"
	"storyloom/pkg/schema"
	"storyloom/pkg/store"
)

type ledgerEntry struct {
	id     string
	status store.Status
	errMsg string
}

type fakeLedger struct {
	mu       sync.Mutex
	created  []string
	statuses []ledgerEntry
	progress map[string][]string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{progress: make(map[string][]string)}
}

func (l *fakeLedger) Create(_ context.Context, id, storyID string) (*store.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created = append(l.created, id)
	return &store.Run{ID: id, StoryID: storyID, Status: store.StatusQueued}, nil
}

func (l *fakeLedger) SetStatus(_ context.Context, id string, status store.Status, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, ledgerEntry{id, status, errMsg})
	return nil
}

func (l *fakeLedger) SetProgress(_ context.Context, id string, _, _ int, label string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress[id] = append(l.progress[id], label)
	return nil
}

func (l *fakeLedger) statusesFor(id string) []store.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []store.Status
	for _, e := range l.statuses {
		if e.id == id {
			out = append(out, e.status)
		}
	}
	return out
}

func quiet() *log.Logger { return log.New(io.Discard) }

func wait(t *testing.T, r *Run) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run %s did not finish", r.ID)
	}
}

func TestRunsOneAtATimeInOrder(t *testing.T) {
	var (
		mu      sync.Mutex
		order   []string
		active  atomic.Int32
		overlap atomic.Bool
	)
	process := func(ctx context.Context, runID string, p *schema.Payload, r pipeline.Reporter) error {
		if active.Add(1) > 1 {
			overlap.Store(true)
		}
		defer active.Add(-1)
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		order = append(order, p.StoryID)
		mu.Unlock()
		r.Progress(1, 1, "STORY STITCHING")
		return nil
	}

	ledger := newFakeLedger()
	w := New(process, ledger, quiet(), 0)
	w.Start()
	defer w.Stop()

	var runs []*Run
	for _, id := range []string{"a", "b", "c"} {
		run, err := w.Add(&schema.Payload{StoryID: id})
		if err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
		runs = append(runs, run)
	}
	for _, r := range runs {
		wait(t, r)
		if r.Status() != store.StatusCompleted || r.Err() != nil {
			t.Fatalf("run %s: status %s err %v", r.StoryID, r.Status(), r.Err())
		}
	}

	if overlap.Load() {
		t.Fatalf("runs overlapped")
	}
	if got := len(order); got != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order = %v", order)
	}

	got := ledger.statusesFor(runs[0].ID)
	if len(got) != 2 || got[0] != store.StatusRunning || got[1] != store.StatusCompleted {
		t.Fatalf("ledger statuses = %v", got)
	}
	if p := ledger.progress[runs[0].ID]; len(p) != 1 || p[0] != "STORY STITCHING" {
		t.Fatalf("ledger progress = %v", p)
	}
	if len(ledger.created) != 3 {
		t.Fatalf("created = %v", ledger.created)
	}
}

func TestEventsReplayHistory(t *testing.T) {
	process := func(ctx context.Context, runID string, p *schema.Payload, r pipeline.Reporter) error {
		r.Log("stitched")
		r.Progress(1, 2, "STORY STITCHING")
		r.Progress(2, 2, "CHARACTER EXTRACTION")
		return nil
	}
	w := New(process, nil, quiet(), 0)
	w.Start()
	defer w.Stop()

	run, err := w.Add(&schema.Payload{})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if run.StoryID == "" || run.Payload.StoryID != run.StoryID {
		t.Fatalf("story id not assigned: %q", run.StoryID)
	}
	wait(t, run)

	var types []EventType
	for ev := range run.Events() {
		if ev.RunID != run.ID {
			t.Fatalf("event for %q", ev.RunID)
		}
		types = append(types, ev.Type)
	}
	want := []EventType{EventState, EventState, EventLog, EventProgress, EventProgress, EventState}
	if len(types) != len(want) {
		t.Fatalf("events = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v", types)
		}
	}

	last, status := run.Snapshot()
	if status != store.StatusCompleted || last.Step != "CHARACTER EXTRACTION" || last.Current != 2 {
		t.Fatalf("snapshot = %+v %s", last, status)
	}
}

func TestLiveSubscriberClosesOnFinish(t *testing.T) {
	release := make(chan struct{})
	process := func(ctx context.Context, runID string, p *schema.Payload, r pipeline.Reporter) error {
		<-release
		r.Log("done")
		return nil
	}
	w := New(process, nil, quiet(), 0)
	w.Start()
	defer w.Stop()

	run, err := w.Add(&schema.Payload{StoryID: "s"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	events, _ := run.Subscribe()
	close(release)

	var final Event
	for ev := range events {
		final = ev
	}
	if final.Type != EventState || final.Status != store.StatusCompleted {
		t.Fatalf("final event = %+v", final)
	}
}

func TestCancelRunningRun(t *testing.T) {
	started := make(chan struct{})
	process := func(ctx context.Context, runID string, p *schema.Payload, r pipeline.Reporter) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	ledger := newFakeLedger()
	w := New(process, ledger, quiet(), 0)
	w.Start()
	defer w.Stop()

	run, err := w.Add(&schema.Payload{StoryID: "s"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	<-started
	if !w.Cancel(run.ID) {
		t.Fatalf("Cancel returned false")
	}
	wait(t, run)

	if run.Status() != store.StatusCancelled {
		t.Fatalf("status = %s", run.Status())
	}
	if !errors.Is(run.Err(), context.Canceled) {
		t.Fatalf("err = %v", run.Err())
	}
	got := ledger.statusesFor(run.ID)
	if got[len(got)-1] != store.StatusCancelled {
		t.Fatalf("ledger statuses = %v", got)
	}
	if w.Cancel(run.ID) {
		t.Fatalf("Cancel of a finished run returned true")
	}
	if w.Cancel("missing") {
		t.Fatalf("Cancel of an unknown run returned true")
	}
}

func TestCancelQueuedRunSkipsProcessing(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	process := func(ctx context.Context, runID string, p *schema.Payload, r pipeline.Reporter) error {
		calls.Add(1)
		if p.StoryID == "first" {
			<-release
		}
		return nil
	}
	w := New(process, nil, quiet(), 0)
	w.Start()
	defer w.Stop()

	first, _ := w.Add(&schema.Payload{StoryID: "first"})
	second, _ := w.Add(&schema.Payload{StoryID: "second"})

	if active := w.Active(); len(active) != 2 || active[0] != first {
		t.Fatalf("active = %v", active)
	}
	if !w.Cancel(second.ID) {
		t.Fatalf("Cancel returned false")
	}
	close(release)
	wait(t, first)
	wait(t, second)

	if second.Status() != store.StatusCancelled {
		t.Fatalf("second status = %s", second.Status())
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("processor calls = %d, want 1", got)
	}
}

func TestFailedRun(t *testing.T) {
	boom := errors.New("boom")
	process := func(ctx context.Context, runID string, p *schema.Payload, r pipeline.Reporter) error {
		return boom
	}
	ledger := newFakeLedger()
	w := New(process, ledger, quiet(), 0)
	w.Start()
	defer w.Stop()

	run, _ := w.Add(&schema.Payload{StoryID: "s"})
	wait(t, run)
	if run.Status() != store.StatusFailed || !errors.Is(run.Err(), boom) {
		t.Fatalf("status %s err %v", run.Status(), run.Err())
	}
	ledger.mu.Lock()
	last := ledger.statuses[len(ledger.statuses)-1]
	ledger.mu.Unlock()
	if last.status != store.StatusFailed || last.errMsg != "boom" {
		t.Fatalf("ledger = %+v", last)
	}
}

func TestQueueFullAndStop(t *testing.T) {
	process := func(ctx context.Context, runID string, p *schema.Payload, r pipeline.Reporter) error {
		return nil
	}
	ledger := newFakeLedger()
	w := New(process, ledger, quiet(), 1)

	run, err := w.Add(&schema.Payload{StoryID: "one"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := w.Add(&schema.Payload{StoryID: "two"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second Add err = %v, want ErrQueueFull", err)
	}
	if len(ledger.created) != 2 || ledger.statusesFor(ledger.created[1])[0] != store.StatusFailed {
		t.Fatalf("rejected run not recorded as failed")
	}

	w.Stop()
	wait(t, run)
	if run.Status() != store.StatusCancelled {
		t.Fatalf("status after Stop = %s", run.Status())
	}
	if _, err := w.Add(&schema.Payload{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Add after Stop err = %v", err)
	}
	w.Stop()
}
