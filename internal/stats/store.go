// Package stats implements the per-process statistics store: a sharded,
// concurrently updated map keyed by process ID.
//
// A single global lock across all PIDs is not acceptable under realistic
// event rates, so the store is partitioned into a fixed number of shards,
// each guarded by its own mutex. A PID always hashes to the same shard,
// giving per-key exclusive access without serializing unrelated PIDs
// against one another.
package stats

import (
	"sync"
	"time"

	"github.com/ransomwarden/ransomwarden/internal/event"
)

const numShards = 32

// Process is the per-PID accumulator. Created on first event for a PID;
// mutated only by the store; destroyed on idle eviction or shutdown.
type Process struct {
	ProcessID         uint32
	FileWrites        uint64
	FileRenames       uint64
	FileDeletes       uint64
	TotalBytesWritten uint64

	// EntropySamples is a bounded FIFO ring of recent normalized (/8)
	// entropy values pushed by FileWrite events with a non-empty preview.
	EntropySamples []float64

	LastUpdate int64 // Unix seconds of the most recently applied event.

	sampleCap int
	next      int // next write position once the ring is full
}

// Snapshot is an immutable, safe-to-share copy of a Process returned by
// Get. Mutating it has no effect on the store.
type Snapshot struct {
	ProcessID         uint32
	FileWrites        uint64
	FileRenames       uint64
	FileDeletes       uint64
	TotalBytesWritten uint64
	EntropySamples    []float64
	LastUpdate        int64
}

type shard struct {
	mu        sync.Mutex
	processes map[uint32]*Process
}

// Store is the sharded per-process statistics store.
type Store struct {
	shards    [numShards]*shard
	sampleCap int
}

// New creates a Store. sampleCap bounds the entropy-sample ring per
// process; it must be >= 1 (callers should validate via config.Validate
// before construction).
func New(sampleCap int) *Store {
	if sampleCap < 1 {
		sampleCap = 64
	}
	s := &Store{sampleCap: sampleCap}
	for i := range s.shards {
		s.shards[i] = &shard{processes: make(map[uint32]*Process)}
	}
	return s
}

func (s *Store) shardFor(pid uint32) *shard {
	return s.shards[pid%numShards]
}

// Apply updates the statistics for e.ProcessID according to the per-event-
// kind accumulator rules, creating the process entry if this is its first
// event. Returns the normalized entropy sample pushed (if any) together
// with a bool indicating whether entropy was actually sampled, so the
// caller's entropy detector can reuse it without recomputing it, and
// priorEntropySamples: a copy of the process's entropy-sample ring as it
// stood *before* this event's own sample (if any) was pushed into it.
// spec.md §4.3.1's entropy-jump rule compares a write's entropy against
// the mean of samples preceding it, so callers building the Snapshot
// passed to the entropy detector must use priorEntropySamples, not the
// ring returned by a subsequent Get (which already includes this push).
func (s *Store) Apply(e event.File) (normalizedEntropy float64, sampled bool, priorEntropySamples []float64) {
	sh := s.shardFor(e.ProcessID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.processes[e.ProcessID]
	if !ok {
		p = &Process{ProcessID: e.ProcessID, sampleCap: s.sampleCap}
		sh.processes[e.ProcessID] = p
	}

	priorEntropySamples = make([]float64, len(p.EntropySamples))
	copy(priorEntropySamples, p.EntropySamples)

	switch e.Kind {
	case event.FileWrite:
		p.FileWrites++
		p.TotalBytesWritten += e.BytesWritten
		if len(e.EntropyPreview) > 0 {
			normalizedEntropy = ShannonEntropy(e.EntropyPreview) / 8.0
			p.pushEntropy(normalizedEntropy)
			sampled = true
		}
	case event.FileRename:
		p.FileRenames++
	case event.FileDelete:
		p.FileDeletes++
	}
	p.LastUpdate = e.Timestamp

	return normalizedEntropy, sampled, priorEntropySamples
}

func (p *Process) pushEntropy(v float64) {
	if len(p.EntropySamples) < p.sampleCap {
		p.EntropySamples = append(p.EntropySamples, v)
		return
	}
	// Ring is full: evict oldest (FIFO) by overwriting the next slot.
	p.EntropySamples[p.next] = v
	p.next = (p.next + 1) % p.sampleCap
}

// Get returns a snapshot copy of the process's statistics, or (Snapshot{},
// false) if the PID is not tracked.
func (s *Store) Get(pid uint32) (Snapshot, bool) {
	sh := s.shardFor(pid)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.processes[pid]
	if !ok {
		return Snapshot{}, false
	}
	samples := make([]float64, len(p.EntropySamples))
	copy(samples, p.EntropySamples)
	return Snapshot{
		ProcessID:         p.ProcessID,
		FileWrites:        p.FileWrites,
		FileRenames:       p.FileRenames,
		FileDeletes:       p.FileDeletes,
		TotalBytesWritten: p.TotalBytesWritten,
		EntropySamples:    samples,
		LastUpdate:        p.LastUpdate,
	}, true
}

// ActivityScore computes the aggregator's PID-selection metric:
// 0.1*writes + 0.2*renames + 0.2*deletes.
func (s Snapshot) ActivityScore() float64 {
	return 0.1*float64(s.FileWrites) + 0.2*float64(s.FileRenames) + 0.2*float64(s.FileDeletes)
}

// Each calls fn for every tracked PID's current snapshot. Used by the
// aggregator to select the highest-activity PID and by the control
// plane's risk overview.
// fn must not block or retain the snapshot's slice beyond the call.
func (s *Store) Each(fn func(Snapshot)) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, p := range sh.processes {
			samples := make([]float64, len(p.EntropySamples))
			copy(samples, p.EntropySamples)
			fn(Snapshot{
				ProcessID:         p.ProcessID,
				FileWrites:        p.FileWrites,
				FileRenames:       p.FileRenames,
				FileDeletes:       p.FileDeletes,
				TotalBytesWritten: p.TotalBytesWritten,
				EntropySamples:    samples,
				LastUpdate:        p.LastUpdate,
			})
		}
		sh.mu.Unlock()
	}
}

// EvictIdle removes every process whose LastUpdate is older than
// now-maxIdle and returns the evicted PIDs, so callers can keep any
// shadow per-PID state (e.g. aggregator.Aggregator.latest) consistent
// with the store's eviction lifecycle.
func (s *Store) EvictIdle(now time.Time, maxIdle time.Duration) []uint32 {
	cutoff := now.Add(-maxIdle).Unix()
	var evicted []uint32
	for _, sh := range s.shards {
		sh.mu.Lock()
		for pid, p := range sh.processes {
			if p.LastUpdate < cutoff {
				delete(sh.processes, pid)
				evicted = append(evicted, pid)
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

// Len returns the total number of tracked PIDs across all shards.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.processes)
		sh.mu.Unlock()
	}
	return n
}
