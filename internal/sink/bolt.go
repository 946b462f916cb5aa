// Package sink — bolt.go
//
// BoltDB-backed telemetry sink for ransomwarden.
//
// Schema (BoltDB bucket layout):
//
//	/events
//	    key:   RFC3339Nano timestamp + "_" + pid (zero-padded to 10 digits)
//	    value: JSON-encoded EventRecord
//
//	/detector_outputs
//	    key:   RFC3339Nano timestamp + "_" + pid
//	    value: JSON-encoded DetectorOutputRecord
//
//	/ml_results
//	    key:   RFC3339Nano timestamp + "_" + pid
//	    value: JSON-encoded MLResultRecord
//
//	/alerts
//	    key:   RFC3339Nano timestamp + "_" + pid
//	    value: JSON-encoded AlertRecord
//
//	/quarantine_actions
//	    key:   RFC3339Nano timestamp + "_" + pid
//	    value: JSON-encoded QuarantineActionRecord
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Keys are lexicographically sortable, so chronological order falls out of
// bbolt's natural cursor ordering. Core spec §4.1/§4.6 operations only
// write to events and alerts; detector_outputs, ml_results, and
// quarantine_actions are populated by this sink as a forensic record
// (SPEC_FULL.md §4.8). The control plane reads only the alerts bucket.
//
// Consistency model:
//   - Single-process, single-writer (bbolt does not support concurrent
//     writers); every mutating method uses one ACID Update transaction.
//   - Reads use read-only View transactions.
//
// Failure modes:
//   - Disk full or corruption: bbolt.Update returns an error, which the
//     caller (ingestion/decision) logs and otherwise ignores — telemetry
//     persistence failures never block the detection hot path.
package sink

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ransomwarden/ransomwarden/internal/detector"
	"github.com/ransomwarden/ransomwarden/internal/event"
	"github.com/ransomwarden/ransomwarden/internal/observability"
)

const (
	// DefaultDBPath is the default BoltDB file location.
	DefaultDBPath = "/var/lib/ransomwarden/ransomwarden.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	bucketEvents             = "events"
	bucketDetectorOutputs    = "detector_outputs"
	bucketMLResults          = "ml_results"
	bucketAlerts             = "alerts"
	bucketQuarantineActions  = "quarantine_actions"
	bucketMeta               = "meta"
)

var allBuckets = []string{
	bucketEvents,
	bucketDetectorOutputs,
	bucketMLResults,
	bucketAlerts,
	bucketQuarantineActions,
	bucketMeta,
}

// EventRecord is the persisted form of an ingested event.File.
type EventRecord struct {
	Kind          string `json:"event_type"`
	ProcessID     uint32 `json:"process_id"`
	ProcessPath   string `json:"process_path"`
	FilePath      string `json:"file_path"`
	BytesRead     uint64 `json:"bytes_read"`
	BytesWritten  uint64 `json:"bytes_written"`
	Timestamp     int64  `json:"timestamp"`
}

// DetectorOutputRecord is the persisted form of a detector.Scores snapshot.
type DetectorOutputRecord struct {
	ProcessID             uint32  `json:"process_id"`
	EntropyScore          float32 `json:"entropy_score"`
	MassWriteScore        float32 `json:"mass_write_score"`
	MassRenameDeleteScore float32 `json:"mass_rename_delete_score"`
	RansomNoteScore       float32 `json:"ransom_note_score"`
	ShadowCopyScore       float32 `json:"shadow_copy_score"`
	ProcessBehaviorScore  float32 `json:"process_behavior_score"`
	FileExtensionScore    float32 `json:"file_extension_score"`
	Timestamp             int64   `json:"timestamp"`
}

// MLResultRecord is the persisted form of one correlation engine inference.
type MLResultRecord struct {
	ProcessID     uint32  `json:"process_id"`
	MLScore       float64 `json:"ml_score"`
	UsedFallback  bool    `json:"used_fallback"`
	Timestamp     int64   `json:"timestamp"`
}

// AlertRecord is the persisted form of a decision-loop alert.
type AlertRecord struct {
	ProcessID   uint32  `json:"process_id"`
	MLScore     float64 `json:"ml_score"`
	Quarantined bool    `json:"quarantined"`
	Timestamp   int64   `json:"timestamp"`
}

// QuarantineActionRecord is the persisted form of one quarantine attempt.
type QuarantineActionRecord struct {
	ProcessID  uint32 `json:"process_id"`
	ActionType string `json:"action_type"` // "suspend" or "release"
	Success    bool   `json:"success"`
	Timestamp  int64  `json:"timestamp"`
}

// DB is the BoltDB-backed telemetry sink.
type DB struct {
	db            *bolt.DB
	retentionDays int
	metrics       *observability.Metrics
}

// Open opens (or creates) the BoltDB database at path and initializes all
// required buckets and the schema version marker. retentionDays governs
// PruneOldEvents; a value <= 0 disables pruning. metrics may be nil (e.g.
// in tests); every instrumented method guards against a nil metrics.
func Open(path string, retentionDays int, metrics *observability.Metrics) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb, retentionDays: retentionDays, metrics: metrics}
	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	// Seed the alerts gauge with the alerts already on disk; LogAlert
	// increments it from there.
	if metrics != nil {
		if n, err := d.CountAlerts(); err == nil {
			metrics.StorageAlertsTotal.Set(float64(n))
		}
	}

	return d, nil
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

// sortableKey builds a lexicographically sortable key from a timestamp
// (Unix seconds) and a PID.
func sortableKey(ts int64, pid uint32) []byte {
	t := time.Unix(ts, 0).UTC()
	return []byte(fmt.Sprintf("%s_%010d", t.Format(time.RFC3339Nano), pid))
}

// timedUpdate runs fn inside a bolt.Update transaction and records its
// wall-clock latency on StorageWriteLatency (SPEC_FULL.md §4.8).
func (d *DB) timedUpdate(fn func(tx *bolt.Tx) error) error {
	start := time.Now()
	err := d.db.Update(fn)
	if d.metrics != nil {
		d.metrics.StorageWriteLatency.Observe(time.Since(start).Seconds())
	}
	return err
}

func put(tx *bolt.Tx, bucket string, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", bucket, err)
	}
	b := tx.Bucket([]byte(bucket))
	if err := b.Put(key, data); err != nil {
		return fmt.Errorf("put %s: %w", bucket, err)
	}
	return nil
}

// StoreEvent persists an ingested event. Implements the ingestion front
// end's spec §4.1 "first, write the event to the sink" step.
func (d *DB) StoreEvent(e event.File) error {
	rec := EventRecord{
		Kind:         e.Kind.String(),
		ProcessID:    e.ProcessID,
		ProcessPath:  e.ProcessPath,
		FilePath:     e.FilePath,
		BytesRead:    e.BytesRead,
		BytesWritten: e.BytesWritten,
		Timestamp:    e.Timestamp,
	}
	key := sortableKey(e.Timestamp, e.ProcessID)
	return d.timedUpdate(func(tx *bolt.Tx) error {
		return put(tx, bucketEvents, key, rec)
	})
}

// StoreDetectorOutput persists one detector.Scores snapshot.
func (d *DB) StoreDetectorOutput(s detector.Scores) error {
	rec := DetectorOutputRecord{
		ProcessID:             s.ProcessID,
		EntropyScore:          s.EntropyScore,
		MassWriteScore:        s.MassWriteScore,
		MassRenameDeleteScore: s.MassRenameDeleteScore,
		RansomNoteScore:       s.RansomNoteScore,
		ShadowCopyScore:       s.ShadowCopyScore,
		ProcessBehaviorScore:  s.ProcessBehaviorScore,
		FileExtensionScore:    s.FileExtensionScore,
		Timestamp:             s.Timestamp,
	}
	key := sortableKey(s.Timestamp, s.ProcessID)
	return d.timedUpdate(func(tx *bolt.Tx) error {
		return put(tx, bucketDetectorOutputs, key, rec)
	})
}

// StoreMLResult persists one correlation engine inference result.
func (d *DB) StoreMLResult(pid uint32, mlScore float64, usedFallback bool, ts int64) error {
	rec := MLResultRecord{ProcessID: pid, MLScore: mlScore, UsedFallback: usedFallback, Timestamp: ts}
	key := sortableKey(ts, pid)
	return d.timedUpdate(func(tx *bolt.Tx) error {
		return put(tx, bucketMLResults, key, rec)
	})
}

// LogAlert persists a decision-loop alert — the core §4.6 "second, write
// the event to the sink" step for the alert path.
func (d *DB) LogAlert(pid uint32, mlScore float64, quarantined bool, ts int64) error {
	rec := AlertRecord{ProcessID: pid, MLScore: mlScore, Quarantined: quarantined, Timestamp: ts}
	key := sortableKey(ts, pid)
	err := d.timedUpdate(func(tx *bolt.Tx) error {
		return put(tx, bucketAlerts, key, rec)
	})
	if err == nil && d.metrics != nil {
		d.metrics.StorageAlertsTotal.Inc()
	}
	return err
}

// LogQuarantineAction persists one quarantine attempt outcome.
func (d *DB) LogQuarantineAction(pid uint32, actionType string, success bool, ts int64) error {
	rec := QuarantineActionRecord{ProcessID: pid, ActionType: actionType, Success: success, Timestamp: ts}
	key := sortableKey(ts, pid)
	return d.timedUpdate(func(tx *bolt.Tx) error {
		return put(tx, bucketQuarantineActions, key, rec)
	})
}

// AlertsSince returns all alerts with Timestamp >= sinceUnix, in
// chronological order. Used by the control plane's "alerts" command.
func (d *DB) AlertsSince(sinceUnix int64) ([]AlertRecord, error) {
	var out []AlertRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAlerts))
		return b.ForEach(func(_, v []byte) error {
			var rec AlertRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Timestamp >= sinceUnix {
				out = append(out, rec)
			}
			return nil
		})
	})
	return out, err
}

// CountAlerts returns the current number of stored alerts, for the
// StorageAlertsTotal gauge.
func (d *DB) CountAlerts() (int, error) {
	var n int
	err := d.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bucketAlerts)).Stats().KeyN
		return nil
	})
	return n, err
}

// PruneOldEvents deletes events bucket rows older than retentionDays
// (SPEC_FULL.md §4.8). A non-positive retentionDays disables pruning and
// returns (0, nil) without touching the database. Called once at agent
// startup and every 6 hours thereafter. Returns the number of rows
// deleted.
func (d *DB) PruneOldEvents() (int, error) {
	if d.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -d.retentionDays)
	cutoffKey := sortableKey(cutoff.Unix(), 0)

	var deleted int
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEvents))
		c := b.Cursor()

		// Collect keys to delete (bbolt cannot delete during iteration).
		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(cutoffKey) {
				break // All remaining keys are newer than cutoff.
			}
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			toDelete = append(toDelete, keyCopy)
		}

		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("PruneOldEvents delete: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
