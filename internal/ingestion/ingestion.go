// Package ingestion is the event ingestion front end: it receives events
// from the upstream collector channel and, per spec §4.1, first persists
// each event to the telemetry sink and then forwards it to the pipeline
// queue with drop-on-full backpressure.
//
// Architecture:
//
//	[collector channel]
//	      ↓
//	[Processor goroutine]
//	      ↓ (1) sink.StoreEvent
//	      ↓ (2) buffered channel, cap=EventQueueSize
//	[pipeline worker goroutines]
//
// Adapted from the upstream ring-buffer processor's queue/backpressure
// shape, generalized from a BPF ring buffer source to a generic
// <-chan event.File so it has no kernel-specific dependency.
package ingestion

import (
	"context"

	"go.uber.org/zap"

	"github.com/ransomwarden/ransomwarden/internal/event"
	"github.com/ransomwarden/ransomwarden/internal/observability"
)

// Sink is the subset of the telemetry sink that ingestion depends on.
type Sink interface {
	StoreEvent(e event.File) error
}

// Processor receives events from an upstream source channel, persists
// them, and forwards them to the pipeline with backpressure.
type Processor struct {
	sink    Sink
	metrics *observability.Metrics
	log     *zap.Logger
	queue   chan event.File
}

// NewProcessor creates a Processor with the given queue capacity.
// queueCap must be > 0 (typically config.Agent.EventQueueSize).
func NewProcessor(sink Sink, metrics *observability.Metrics, log *zap.Logger, queueCap int) *Processor {
	if queueCap <= 0 {
		queueCap = 1
	}
	return &Processor{
		sink:    sink,
		metrics: metrics,
		log:     log,
		queue:   make(chan event.File, queueCap),
	}
}

// Run consumes from src until ctx is cancelled or src is closed, applying
// the sink-write-then-forward ordering to each event. Returns the
// pipeline-facing channel; the caller spawns worker goroutines reading
// from it. The returned channel is closed when Run exits.
func (p *Processor) Run(ctx context.Context, src <-chan event.File) <-chan event.File {
	go func() {
		defer close(p.queue)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-src:
				if !ok {
					return
				}
				p.ingest(e)
			}
		}
	}()
	return p.queue
}

func (p *Processor) ingest(e event.File) {
	if e.Malformed() {
		p.metrics.EventsDroppedTotal.WithLabelValues("malformed").Inc()
		if p.log != nil {
			p.log.Warn("dropping malformed event", zap.Uint32("pid", e.ProcessID), zap.Uint8("kind", uint8(e.Kind)))
		}
		return
	}

	if err := p.sink.StoreEvent(e); err != nil && p.log != nil {
		p.log.Warn("failed to persist event", zap.Error(err), zap.Uint32("pid", e.ProcessID))
	}

	p.metrics.EventsProcessedTotal.WithLabelValues(e.Kind.String()).Inc()
	p.metrics.EventQueueDepth.Set(float64(len(p.queue)))

	select {
	case p.queue <- e:
	default:
		p.metrics.EventsDroppedTotal.WithLabelValues("queue_full").Inc()
		if p.log != nil {
			p.log.Warn("event queue full, dropping event",
				zap.Uint32("pid", e.ProcessID), zap.String("kind", e.Kind.String()))
		}
	}
}
