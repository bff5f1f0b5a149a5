package indexer

import (
	"testing"

	"github.com/codeask/codeask/pkg/models"
)

func TestEventsFanOut(t *testing.T) {
	e := NewEvents()
	a, cancelA := e.Subscribe()
	b, cancelB := e.Subscribe()
	defer cancelA()
	defer cancelB()

	e.Publish(Event{Repository: "github.com/acme/widgets", State: models.JobCollecting})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.State != models.JobCollecting {
				t.Errorf("expected collecting, got %s", ev.State)
			}
		default:
			t.Fatal("expected event delivered to every subscriber")
		}
	}
}

func TestEventsCancelClosesChannel(t *testing.T) {
	e := NewEvents()
	ch, cancel := e.Subscribe()
	cancel()

	if _, open := <-ch; open {
		t.Fatal("expected closed channel after cancel")
	}

	// Publishing after cancel must not panic or block.
	e.Publish(Event{State: models.JobCompleted})
	cancel() // idempotent
}

func TestEventsPublishNeverBlocks(t *testing.T) {
	e := NewEvents()
	_, cancel := e.Subscribe()
	defer cancel()

	// Overfill the buffer; excess events are dropped, not queued.
	for i := 0; i < eventBuffer*2; i++ {
		e.Publish(Event{State: models.JobChunking, FilesProcessed: i})
	}
}

func TestRegistryClaim(t *testing.T) {
	r := NewRegistry()

	if !r.TryStart("github.com/acme/widgets") {
		t.Fatal("first claim must succeed")
	}
	if r.TryStart("github.com/acme/widgets") {
		t.Fatal("second claim must fail while busy")
	}
	if !r.TryStart("github.com/acme/gadgets") {
		t.Fatal("other repositories are independent")
	}

	r.Finish("github.com/acme/widgets")
	if !r.TryStart("github.com/acme/widgets") {
		t.Fatal("claim must succeed after release")
	}
}
