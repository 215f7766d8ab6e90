// Package audit is a non-authoritative, append-only ledger of profile
// activation attempts (committed and failed), used only by operator diagnostics
// (power-profilesctl log) and never consulted by the arbiter to decide
// behavior. Re-themed from the teacher's internal/storage/bolt.go ledger
// bucket (schema-version key, sortable timestamp+sequence key, JSON
// values) from per-PID isolation entries to per-activation entries.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/upower/power-profilesd/internal/profile"
)

const (
	// DefaultPath is the default ledger file location.
	DefaultPath = "/var/lib/power-profiles-daemon/audit.db"

	// SchemaVersion is the current ledger schema version.
	SchemaVersion = "1"

	bucketLedger = "ledger"
	bucketMeta   = "meta"
)

// Entry is a single audit ledger record.
type Entry struct {
	Timestamp  time.Time               `json:"timestamp"`
	From       profile.Profile         `json:"from"`
	To         profile.Profile         `json:"to"`
	Reason     profile.ActivationReason `json:"reason"`
	Requester  string                  `json:"requester"`
	Succeeded  bool                    `json:"succeeded"`
	FailureMsg string                  `json:"failure_msg,omitempty"`
}

// Ledger wraps a BoltDB file with typed accessors for activation entries.
type Ledger struct {
	db *bolt.DB
}

// Open opens (or creates) the ledger at path, initialising its buckets and
// verifying the schema version.
func Open(path string) (*Ledger, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	l := &Ledger{db: bdb}

	if err := l.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketLedger, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			return meta.Put([]byte("schema_version"), []byte(SchemaVersion))
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("ledger initialisation failed: %w", err)
	}

	if err := l.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return l, nil
}

func (l *Ledger) checkSchemaVersion() error {
	return l.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketMeta)).Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf("audit ledger schema mismatch: have %q, want %q", v, SchemaVersion)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (l *Ledger) Close() error { return l.db.Close() }

// entryKey constructs a sortable key: a fixed-width UTC timestamp with
// nanosecond precision, which sorts lexicographically in chronological
// order within a single daemon run.
func entryKey(t time.Time) []byte {
	return []byte(t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"))
}

// Append writes a new audit entry. Never called on the arbitration hot
// path's decision logic — only after a transaction has already committed
// or definitively failed.
func (l *Ledger) Append(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit.Append marshal: %w", err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketLedger)).Put(entryKey(e.Timestamp), data)
	})
}

// Recent returns the last n entries in chronological order (oldest first
// of the returned window). For operator tooling only.
func (l *Ledger) Recent(n int) ([]Entry, error) {
	var all []Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketLedger)).ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			all = append(all, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}
