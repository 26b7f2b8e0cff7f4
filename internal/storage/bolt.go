// Package storage — bolt.go
//
// BoltDB-backed audit ledger. Node-manager's fixed-format policy records
// are not bbolt-backed (see policystore.go — they are one JSON file per
// policy, per the wire format contract); the ledger is a supplemented
// feature recording every policy state transition and limit-exception
// action for later operator inspection.
//
// Schema (BoltDB bucket layout):
//
//	/ledger
//	    key:   RFC3339Nano timestamp + "_" + policy id  [monotonic, sortable]
//	    value: JSON-encoded LedgerEntry
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer (BoltDB does not support concurrent writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//
// Retention:
//   - Ledger entries older than RetentionDays are removed by
//     PruneOldEntries, which the daemon calls once at startup; there is no
//     background goroutine and no periodic pruning from the tick loop.
//
// Failure modes:
//   - BoltDB file corruption: bbolt detects via CRC and returns an error
//     on Open(). The daemon logs a fatal event and refuses to start.
//   - Disk full: bbolt.Update() returns an error. The daemon logs the
//     error and continues without persisting the ledger entry.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultLedgerPath is the default BoltDB file location.
	DefaultLedgerPath = "/var/lib/node-manager/ledger.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	// DefaultRetentionDays is the default ledger retention period.
	DefaultRetentionDays = 30

	bucketLedger = "ledger"
	bucketMeta   = "meta"
)

// LedgerEntry is a single audit log record: either a policy state
// transition or a limit-exception escalation action.
type LedgerEntry struct {
	Timestamp time.Time `json:"timestamp"`
	PolicyID  string    `json:"policy_id"`
	DomainID  string    `json:"domain_id"`
	Kind      string    `json:"kind"` // "state_transition" | "limit_exception"
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Action    string    `json:"action,omitempty"` // limit-exception action taken, if any
}

// Ledger wraps a BoltDB instance with typed accessors for the audit trail.
type Ledger struct {
	db            *bolt.DB
	retentionDays int
}

// Open opens (or creates) the BoltDB database at the given path,
// initialising its buckets and verifying the schema version.
func Open(path string, retentionDays int) (*Ledger, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	l := &Ledger{db: bdb, retentionDays: retentionDays}

	if err := l.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketLedger, bucketMeta} {
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
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, daemon requires %q",
				string(v), SchemaVersion,
			)
		}
		return nil
	})
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// ledgerKey constructs a sortable BoltDB key for an entry: RFC3339Nano
// timestamp + "_" + policy id. Lexicographic sort == chronological sort.
func ledgerKey(t time.Time, policyID string) []byte {
	return []byte(fmt.Sprintf("%s_%s", t.UTC().Format(time.RFC3339Nano), policyID))
}

// Append writes a new audit ledger entry in its own ACID transaction.
func (l *Ledger) Append(entry LedgerEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("Append marshal: %w", err)
	}

	key := ledgerKey(entry.Timestamp, entry.PolicyID)

	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("Append bolt.Put: %w", err)
		}
		return nil
	})
}

// PruneOldEntries deletes ledger entries older than retentionDays,
// returning the number of entries deleted.
func (l *Ledger) PruneOldEntries() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -l.retentionDays)
	cutoffKey := ledgerKey(cutoff, "")

	var deleted int
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		c := b.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(cutoffKey) {
				break
			}
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			toDelete = append(toDelete, keyCopy)
		}

		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("PruneOldEntries delete: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// ReadAll returns every ledger entry in chronological order. For
// operational inspection; not called on the daemon's tick path.
func (l *Ledger) ReadAll() ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		return b.ForEach(func(_, v []byte) error {
			var entry LedgerEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}

// PolicyThrottlingLogger adapts Ledger to policy.ThrottlingLogger,
// recording selected-state entry/exit as ledger entries rather than just
// logging them.
type PolicyThrottlingLogger struct {
	Ledger   *Ledger
	DomainOf func(policyID string) string
}

func (p *PolicyThrottlingLogger) StartThrottling(policyID string) {
	p.record(policyID, "selected")
}

func (p *PolicyThrottlingLogger) StopThrottling(policyID string) {
	p.record(policyID, "triggered")
}

func (p *PolicyThrottlingLogger) record(policyID, to string) {
	if p.Ledger == nil {
		return
	}
	domain := ""
	if p.DomainOf != nil {
		domain = p.DomainOf(policyID)
	}
	_ = p.Ledger.Append(LedgerEntry{
		PolicyID: policyID,
		DomainID: domain,
		Kind:     "state_transition",
		To:       to,
	})
}
