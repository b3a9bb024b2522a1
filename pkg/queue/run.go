package queue

import (
	"context"
	"sync"
	"time"

	"storyloom/pkg/schema"
	"storyloom/pkg/store"
)

type EventType string

const (
	EventProgress EventType = "progress"
	EventLog      EventType = "log"
	EventState    EventType = "state"
)

// Event is one observable change of a run.
type Event struct {
	Type    EventType    `json:"type"`
	RunID   string       `json:"run_id"`
	Current int          `json:"current,omitempty"`
	Total   int          `json:"total,omitempty"`
	Step    string       `json:"step,omitempty"`
	Message string       `json:"message,omitempty"`
	Status  store.Status `json:"status,omitempty"`
	Error   string       `json:"error,omitempty"`
	Time    time.Time    `json:"time"`
}

// Run is one queued or executing pipeline run. Every subscriber receives the
// events published so far followed by live ones; channels close when the run
// ends.
type Run struct {
	ID      string
	StoryID string
	Payload *schema.Payload

	seq    uint64
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	status  store.Status
	err     error
	history []Event
	subs    map[chan Event]struct{}
}

const subscriberBuffer = 64

func newRun(id string, payload *schema.Payload) *Run {
	ctx, cancel := context.WithCancel(context.Background())
	return &Run{
		ID:      id,
		StoryID: payload.StoryID,
		Payload: payload,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		status:  store.StatusQueued,
		subs:    make(map[chan Event]struct{}),
	}
}

// Done is closed once the run reached a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Err returns the run error after Done is closed.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Run) Status() store.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Events subscribes for the lifetime of the run.
func (r *Run) Events() <-chan Event {
	ch, _ := r.Subscribe()
	return ch
}

// Subscribe returns a channel replaying past events, and a function that
// detaches it early.
func (r *Run) Subscribe() (<-chan Event, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan Event, len(r.history)+subscriberBuffer)
	for _, ev := range r.history {
		ch <- ev
	}
	if r.status.Terminal() {
		close(ch)
		return ch, func() {}
	}
	r.subs[ch] = struct{}{}
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
	}
}

// Snapshot returns the last progress event and the current status.
func (r *Run) Snapshot() (Event, store.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last Event
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].Type == EventProgress {
			last = r.history[i]
			break
		}
	}
	return last, r.status
}

// publish records ev and fans it out. Slow subscribers miss live events
// rather than blocking the run.
func (r *Run) publish(ev Event) {
	ev.RunID = r.ID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, ev)
	for ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (r *Run) setStatus(status store.Status, err error) {
	ev := Event{Type: EventState, Status: status}
	if err != nil {
		ev.Error = err.Error()
	}
	r.mu.Lock()
	r.status = status
	if err != nil {
		r.err = err
	}
	r.mu.Unlock()
	r.publish(ev)
}

// finish moves the run to a terminal state and closes every subscriber.
func (r *Run) finish(status store.Status, err error) {
	r.setStatus(status, err)
	r.mu.Lock()
	for ch := range r.subs {
		close(ch)
	}
	r.subs = make(map[chan Event]struct{})
	r.mu.Unlock()
	r.cancel()
	close(r.done)
}
