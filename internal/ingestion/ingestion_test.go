package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ransomwarden/ransomwarden/internal/event"
	"github.com/ransomwarden/ransomwarden/internal/observability"
)

type fakeSink struct {
	mu     sync.Mutex
	stored []event.File
	err    error
}

func (f *fakeSink) StoreEvent(e event.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, e)
	return f.err
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

func TestProcessorForwardsAndStores(t *testing.T) {
	sink := &fakeSink{}
	p := NewProcessor(sink, observability.NewMetrics(), nil, 8)

	src := make(chan event.File, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := p.Run(ctx, src)

	src <- event.File{Kind: event.FileWrite, ProcessID: 1}
	select {
	case got := <-out:
		if got.ProcessID != 1 {
			t.Errorf("ProcessID = %d, want 1", got.ProcessID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded event")
	}

	if sink.count() != 1 {
		t.Errorf("sink.count() = %d, want 1", sink.count())
	}
}

func TestProcessorDropsMalformedEvents(t *testing.T) {
	sink := &fakeSink{}
	p := NewProcessor(sink, observability.NewMetrics(), nil, 8)

	src := make(chan event.File, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := p.Run(ctx, src)

	src <- event.File{ProcessID: 0} // malformed: zero PID
	select {
	case <-out:
		t.Fatal("malformed event should not be forwarded")
	case <-time.After(100 * time.Millisecond):
	}
	if sink.count() != 0 {
		t.Errorf("sink.count() = %d, want 0 (malformed events are not stored)", sink.count())
	}
}

func TestProcessorDropsOnQueueFull(t *testing.T) {
	sink := &fakeSink{}
	p := NewProcessor(sink, observability.NewMetrics(), nil, 1)

	src := make(chan event.File, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := p.Run(ctx, src)

	src <- event.File{Kind: event.FileWrite, ProcessID: 1}
	src <- event.File{Kind: event.FileWrite, ProcessID: 2}
	src <- event.File{Kind: event.FileWrite, ProcessID: 3}

	time.Sleep(100 * time.Millisecond)

	drained := 0
	for {
		select {
		case <-out:
			drained++
		default:
			goto done
		}
	}
done:
	if drained == 0 {
		t.Fatal("expected at least one event to survive backpressure")
	}
	if sink.count() != 3 {
		t.Errorf("sink.count() = %d, want 3 (all events stored regardless of forward backpressure)", sink.count())
	}
}

func TestProcessorContinuesOnSinkError(t *testing.T) {
	sink := &fakeSink{err: errors.New("disk full")}
	p := NewProcessor(sink, observability.NewMetrics(), nil, 8)

	src := make(chan event.File, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := p.Run(ctx, src)

	src <- event.File{Kind: event.FileWrite, ProcessID: 1}
	select {
	case got := <-out:
		if got.ProcessID != 1 {
			t.Errorf("ProcessID = %d, want 1", got.ProcessID)
		}
	case <-time.After(time.Second):
		t.Fatal("sink error should not block forwarding")
	}
}
