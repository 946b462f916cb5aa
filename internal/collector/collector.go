// Package collector is the opaque event source adapter (spec.md §6: "the
// kernel event producer, treated as an opaque source that pushes typed
// event records; transport opaque to the core").
//
// The real producer is out of scope for this repository. This package
// gives the agent binary something concrete to read from in the
// meantime: newline-delimited JSON event.File records read from a named
// pipe or plain file, mirroring the upstream ring-buffer reader's shape
// (open once, read until ctx cancellation, malformed records logged and
// skipped rather than fatal) without depending on any kernel-specific
// library.
package collector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/ransomwarden/ransomwarden/internal/event"
)

// FileSource reads newline-delimited JSON event.File records from a file
// or named pipe at Path.
type FileSource struct {
	Path string
	Log  *zap.Logger
}

// NewFileSource creates a FileSource reading from path.
func NewFileSource(path string, log *zap.Logger) *FileSource {
	return &FileSource{Path: path, Log: log}
}

// Run opens the source and returns a channel of decoded events. The
// channel is closed when ctx is cancelled or the source is exhausted
// (EOF on a plain file; a fifo blocks for more writers instead).
func (s *FileSource) Run(ctx context.Context) (<-chan event.File, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("collector: open %q: %w", s.Path, err)
	}

	out := make(chan event.File, 256)
	go func() {
		defer close(out)
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if !scanner.Scan() {
				if err := scanner.Err(); err != nil && err != io.EOF {
					if s.Log != nil {
						s.Log.Error("collector: read error", zap.Error(err))
					}
				}
				return
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var e event.File
			if err := json.Unmarshal(line, &e); err != nil {
				if s.Log != nil {
					s.Log.Warn("collector: malformed event record", zap.Error(err))
				}
				continue
			}

			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
