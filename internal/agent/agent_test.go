package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ransomwarden/ransomwarden/internal/config"
	"github.com/ransomwarden/ransomwarden/internal/event"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "ransomwarden.db")
	cfg.Control.SocketPath = filepath.Join(t.TempDir(), "control.sock")
	cfg.Observability.MetricsAddr = "127.0.0.1:0"
	cfg.Agent.StatsIdleEviction = 50 * time.Millisecond
	cfg.Agent.DecisionInterval = 10 * time.Millisecond
	return &cfg
}

func TestNewWiresEverySubsystem(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.db == nil || a.store == nil || a.aggregator == nil || a.engine == nil ||
		a.bucket == nil || a.quarantine == nil || a.ingestor == nil || a.pool == nil || a.loop == nil {
		t.Fatal("New() left a subsystem nil")
	}
	if a.control == nil {
		t.Fatal("control.Enabled=true in defaults, expected a non-nil control server")
	}
	if err := a.db.Close(); err != nil {
		t.Fatalf("db.Close() error = %v", err)
	}
}

func TestNewWithControlDisabledSkipsControlServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Control.Enabled = false
	a, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.db.Close()
	if a.control != nil {
		t.Fatal("control.Enabled=false, expected a nil control server")
	}
}

// TestRunDrainsAndShutsDownOnContextCancel feeds a handful of events
// through the running agent and verifies that cancelling the context
// causes Run to return promptly (well inside its 5s drain timeout) and
// closes storage.
func TestRunDrainsAndShutsDownOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	src := make(chan event.File, 4)
	src <- event.File{Kind: event.FileWrite, ProcessID: 1, BytesWritten: 1, Timestamp: 1}
	close(src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, src) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("Run() did not return within the drain timeout")
	}
}

func TestReloadAppliesNonDestructiveFieldsOnly(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.db.Close()

	originalDBPath := a.cfg.Storage.DBPath

	newCfg := config.Defaults()
	newCfg.Correlation.QuarantineThreshold = 0.42
	newCfg.Agent.QuarantineCooldown = 5 * time.Minute
	newCfg.Storage.DBPath = "/should/not/apply"

	a.Reload(&newCfg)

	if a.cfg.Correlation.QuarantineThreshold != 0.42 {
		t.Errorf("quarantine_threshold = %v, want 0.42", a.cfg.Correlation.QuarantineThreshold)
	}
	if a.cfg.Agent.QuarantineCooldown != 5*time.Minute {
		t.Errorf("quarantine_cooldown = %v, want 5m", a.cfg.Agent.QuarantineCooldown)
	}
	if a.cfg.Storage.DBPath != originalDBPath {
		t.Errorf("db_path changed on reload, want unchanged (destructive field): got %q", a.cfg.Storage.DBPath)
	}
}
