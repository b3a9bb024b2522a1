package queue

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"

	"storyloom/pkg/logging"
	"storyloom/pkg/pipeline"
	"storyloom/pkg/schema"
	"storyloom/pkg/store"
)

var (
	ErrQueueFull = errors.New("queue is full")
	ErrStopped   = errors.New("queue is stopped")
)

// Processor executes one run. It must honor ctx.
type Processor func(ctx context.Context, runID string, payload *schema.Payload, r pipeline.Reporter) error

// Ledger records run transitions. *store.Runs satisfies it.
type Ledger interface {
	Create(ctx context.Context, id, storyID string) (*store.Run, error)
	SetStatus(ctx context.Context, id string, status store.Status, errMsg string) error
	SetProgress(ctx context.Context, id string, current, total int, label string) error
}

const (
	defaultCapacity = 100
	// finished runs kept in memory for Get and late subscribers
	retainFinished = 100
)

// Worker runs one pipeline at a time; further runs wait behind the active
// one in submission order.
type Worker struct {
	process Processor
	ledger  Ledger
	logger  *log.Logger

	items chan *Run
	stop  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	stopped  bool
	runs     map[string]*Run
	finished []string
	seq      uint64
}

var _ Queue = (*Worker)(nil)

// New builds a worker. ledger may be nil; capacity <= 0 uses the default.
func New(process Processor, ledger Ledger, logger *log.Logger, capacity int) *Worker {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Worker{
		process: process,
		ledger:  ledger,
		logger:  logging.Or(logger).WithPrefix("queue"),
		items:   make(chan *Run, capacity),
		stop:    make(chan struct{}),
		runs:    make(map[string]*Run),
	}
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Stop cancels every queued and running run and waits for the loop to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	for _, r := range w.runs {
		r.cancel()
	}
	w.mu.Unlock()

	close(w.stop)
	w.wg.Wait()

	for {
		select {
		case r := <-w.items:
			w.complete(r, store.StatusCancelled, context.Canceled)
		default:
			return
		}
	}
}

// Add enqueues payload. A payload without story id gets a fresh one.
func (w *Worker) Add(payload *schema.Payload) (*Run, error) {
	if payload == nil {
		return nil, errors.New("nil payload")
	}
	if payload.StoryID == "" {
		payload.StoryID = uuid.NewString()
	}
	run := newRun(ksuid.New().String(), payload)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil, ErrStopped
	}

	if w.ledger != nil {
		if _, err := w.ledger.Create(context.Background(), run.ID, run.StoryID); err != nil {
			return nil, err
		}
	}

	w.seq++
	run.seq = w.seq
	run.publish(Event{Type: EventState, Status: store.StatusQueued})
	w.runs[run.ID] = run
	select {
	case w.items <- run:
	default:
		delete(w.runs, run.ID)
		w.record(run.ID, store.StatusFailed, ErrQueueFull)
		return nil, ErrQueueFull
	}
	w.logger.Info("run queued", "run", run.ID, "story", run.StoryID, "pending", len(w.items))
	return run, nil
}

func (w *Worker) Get(id string) (*Run, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.runs[id]
	return r, ok
}

// Cancel reports whether id named a run that had not finished yet.
func (w *Worker) Cancel(id string) bool {
	w.mu.Lock()
	r, ok := w.runs[id]
	w.mu.Unlock()
	if !ok || r.Status().Terminal() {
		return false
	}
	w.logger.Info("run cancel requested", "run", id)
	r.cancel()
	return true
}

// Active returns the runs that have not finished, oldest first.
func (w *Worker) Active() []*Run {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*Run
	for _, r := range w.runs {
		if !r.Status().Terminal() {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b *Run) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

func (w *Worker) processLoop() {
	defer w.wg.Done()
	w.logger.Info("queue started")
	for {
		select {
		case <-w.stop:
			w.logger.Info("queue stopped")
			return
		case r := <-w.items:
			w.processItem(r)
		}
	}
}

func (w *Worker) processItem(r *Run) {
	if r.ctx.Err() != nil {
		w.complete(r, store.StatusCancelled, context.Canceled)
		return
	}

	w.logger.Info("run started", "run", r.ID, "story", r.StoryID)
	r.setStatus(store.StatusRunning, nil)
	w.record(r.ID, store.StatusRunning, nil)

	reporter := pipeline.ReporterFuncs{
		OnProgress: func(current, total int, step string) {
			r.publish(Event{Type: EventProgress, Current: current, Total: total, Step: step})
			if w.ledger != nil {
				if err := w.ledger.SetProgress(context.Background(), r.ID, current, total, step); err != nil {
					w.logger.Warn("record progress", "run", r.ID, "error", err)
				}
			}
		},
		OnLog: func(message string) {
			r.publish(Event{Type: EventLog, Message: message})
		},
	}

	err := w.process(r.ctx, r.ID, r.Payload, reporter)
	switch {
	case err == nil:
		w.complete(r, store.StatusCompleted, nil)
	case r.ctx.Err() != nil && errors.Is(err, context.Canceled):
		w.complete(r, store.StatusCancelled, err)
	default:
		w.complete(r, store.StatusFailed, err)
	}
}

func (w *Worker) complete(r *Run, status store.Status, err error) {
	w.record(r.ID, status, err)
	r.finish(status, err)
	if err != nil {
		w.logger.Warn("run finished", "run", r.ID, "status", status, "error", err)
	} else {
		w.logger.Info("run finished", "run", r.ID, "status", status)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.finished = append(w.finished, r.ID)
	for len(w.finished) > retainFinished {
		delete(w.runs, w.finished[0])
		w.finished = w.finished[1:]
	}
}

func (w *Worker) record(id string, status store.Status, err error) {
	if w.ledger == nil {
		return
	}
	var msg string
	if err != nil {
		msg = err.Error()
	}
	if lerr := w.ledger.SetStatus(context.Background(), id, status, msg); lerr != nil {
		w.logger.Warn("record status", "run", id, "status", status, "error", lerr)
	}
}
