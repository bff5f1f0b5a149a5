package indexer

import (
	"sync"

	"github.com/codeask/codeask/pkg/models"
)

// Event is one progress update from an indexing job. Consumers subscribe;
// the pipeline has no dependency on any presentation layer.
type Event struct {
	Repository     string          `json:"repository"`
	State          models.JobState `json:"state"`
	FilesTotal     int             `json:"files_total"`
	FilesProcessed int             `json:"files_processed"`
	ChunksWritten  int             `json:"chunks_written"`
	Error          string          `json:"error,omitempty"`
}

const eventBuffer = 64

// Events is a small publish/subscribe channel fan-out. Publish never
// blocks: a subscriber that stops draining loses events, not the pipeline.
type Events struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewEvents() *Events {
	return &Events{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel func must be called
// to release the subscription.
func (e *Events) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.next
	e.next++
	ch := make(chan Event, eventBuffer)
	e.subs[id] = ch

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish fans the event out to all current subscribers without blocking.
func (e *Events) Publish(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
