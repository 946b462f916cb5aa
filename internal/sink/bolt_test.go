package sink

import (
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ransomwarden/ransomwarden/internal/detector"
	"github.com/ransomwarden/ransomwarden/internal/event"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, 30, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestStoreEventAndAlertRoundtrip(t *testing.T) {
	db := openTestDB(t)

	e := event.File{Kind: event.FileWrite, ProcessID: 42, FilePath: "/tmp/x", Timestamp: 1000}
	if err := db.StoreEvent(e); err != nil {
		t.Fatalf("StoreEvent: %v", err)
	}

	if err := db.LogAlert(42, 0.9, true, 1000); err != nil {
		t.Fatalf("LogAlert: %v", err)
	}

	alerts, err := db.AlertsSince(0)
	if err != nil {
		t.Fatalf("AlertsSince: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("len(alerts) = %d, want 1", len(alerts))
	}
	if alerts[0].ProcessID != 42 || !alerts[0].Quarantined {
		t.Errorf("alert = %+v, want ProcessID=42 Quarantined=true", alerts[0])
	}
}

func TestAlertsSinceFiltersByTimestamp(t *testing.T) {
	db := openTestDB(t)
	_ = db.LogAlert(1, 0.5, false, 100)
	_ = db.LogAlert(2, 0.5, false, 200)
	_ = db.LogAlert(3, 0.5, false, 300)

	alerts, err := db.AlertsSince(200)
	if err != nil {
		t.Fatalf("AlertsSince: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("len(alerts) = %d, want 2", len(alerts))
	}
}

func TestCountAlerts(t *testing.T) {
	db := openTestDB(t)
	n, err := db.CountAlerts()
	if err != nil {
		t.Fatalf("CountAlerts: %v", err)
	}
	if n != 0 {
		t.Errorf("CountAlerts = %d, want 0", n)
	}

	_ = db.LogAlert(1, 0.8, true, 1)
	n, err = db.CountAlerts()
	if err != nil {
		t.Fatalf("CountAlerts: %v", err)
	}
	if n != 1 {
		t.Errorf("CountAlerts = %d, want 1", n)
	}
}

func TestStoreDetectorOutputAndMLResult(t *testing.T) {
	db := openTestDB(t)
	scores := detector.Scores{ProcessID: 9, EntropyScore: 0.7, Timestamp: 50}
	if err := db.StoreDetectorOutput(scores); err != nil {
		t.Fatalf("StoreDetectorOutput: %v", err)
	}
	if err := db.StoreMLResult(9, 0.42, true, 50); err != nil {
		t.Fatalf("StoreMLResult: %v", err)
	}
}

func TestLogQuarantineAction(t *testing.T) {
	db := openTestDB(t)
	if err := db.LogQuarantineAction(9, "suspend", true, 50); err != nil {
		t.Fatalf("LogQuarantineAction: %v", err)
	}
}

func TestPruneOldEventsDeletesOnlyOlderRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, 30, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	old := time.Now().UTC().AddDate(0, 0, -40).Unix()
	recent := time.Now().UTC().AddDate(0, 0, -1).Unix()

	if err := db.StoreEvent(event.File{Kind: event.FileWrite, ProcessID: 1, Timestamp: old}); err != nil {
		t.Fatalf("StoreEvent(old): %v", err)
	}
	if err := db.StoreEvent(event.File{Kind: event.FileWrite, ProcessID: 2, Timestamp: recent}); err != nil {
		t.Fatalf("StoreEvent(recent): %v", err)
	}

	deleted, err := db.PruneOldEvents()
	if err != nil {
		t.Fatalf("PruneOldEvents: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("PruneOldEvents deleted = %d, want 1", deleted)
	}

	var remaining int
	err = db.db.View(func(tx *bolt.Tx) error {
		remaining = tx.Bucket([]byte(bucketEvents)).Stats().KeyN
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if remaining != 1 {
		t.Errorf("remaining events = %d, want 1 (only the recent row)", remaining)
	}
}

func TestPruneOldEventsDisabledWhenRetentionDaysNonPositive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, 0, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	old := time.Now().UTC().AddDate(0, 0, -400).Unix()
	if err := db.StoreEvent(event.File{Kind: event.FileWrite, ProcessID: 1, Timestamp: old}); err != nil {
		t.Fatalf("StoreEvent: %v", err)
	}

	deleted, err := db.PruneOldEvents()
	if err != nil {
		t.Fatalf("PruneOldEvents: %v", err)
	}
	if deleted != 0 {
		t.Errorf("PruneOldEvents with retentionDays<=0 deleted = %d, want 0", deleted)
	}
}
