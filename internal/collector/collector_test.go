package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ransomwarden/ransomwarden/internal/event"
)

func writeEventFile(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, []byte(lines), 0o600); err != nil {
		t.Fatalf("write event file: %v", err)
	}
	return path
}

func drain(t *testing.T, ch <-chan event.File, timeout time.Duration) []event.File {
	t.Helper()
	var out []event.File
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-deadline:
			t.Fatal("timed out waiting for channel to close")
		}
	}
}

func TestRunDecodesNewlineDelimitedEvents(t *testing.T) {
	path := writeEventFile(t, `{"Kind":2,"ProcessID":7,"FilePath":"a.txt"}
{"Kind":2,"ProcessID":8,"FilePath":"b.txt"}
`)
	src := NewFileSource(path, zap.NewNop())
	ch, err := src.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events := drain(t, ch, time.Second)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ProcessID != 7 || events[1].ProcessID != 8 {
		t.Errorf("events = %+v, want ProcessID 7 then 8", events)
	}
}

func TestRunSkipsMalformedLinesAndBlankLines(t *testing.T) {
	path := writeEventFile(t, "{\"Kind\":2,\"ProcessID\":1}\n\nnot json\n{\"Kind\":2,\"ProcessID\":2}\n")
	src := NewFileSource(path, zap.NewNop())
	ch, err := src.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events := drain(t, ch, time.Second)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (malformed/blank lines skipped)", len(events))
	}
}

func TestRunReturnsErrorOnMissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "missing.jsonl"), zap.NewNop())
	if _, err := src.Run(context.Background()); err == nil {
		t.Fatal("expected an error opening a missing event source")
	}
}

func TestRunClosesChannelOnContextCancel(t *testing.T) {
	path := writeEventFile(t, "")
	f, err := os.OpenFile(path, os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	defer f.Close()

	src := NewFileSource(path, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := src.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to be closed after context cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("channel did not close within 1s of context cancellation")
	}
}
