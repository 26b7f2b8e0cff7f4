// Package storage — policystore.go
//
// File-backed implementation of policy.Persister: one JSON file per
// persistent policy, named <policyId>.json inside a configured directory.
// Writes replace the whole file via a temp-file-plus-rename so a crash
// mid-write never leaves a half-written record behind; deletes are
// idempotent (removing an already-absent file is not an error).
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openbmc/node-manager/internal/policy"
)

// PolicyStore persists policy.Record values as one JSON file per policy ID
// under Dir.
type PolicyStore struct {
	Dir string
}

func NewPolicyStore(dir string) *PolicyStore {
	return &PolicyStore{Dir: dir}
}

func (s *PolicyStore) path(id string) string {
	return filepath.Join(s.Dir, id+".json")
}

// Save replaces the on-disk record for id. The new content is written to a
// sibling temp file and renamed into place, so a reader never observes a
// partially written file.
func (s *PolicyStore) Save(id string, rec policy.Record) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("policystore: mkdir %q: %w", s.Dir, err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("policystore: marshal %q: %w", id, err)
	}

	final := s.path(id)
	tmp, err := os.CreateTemp(s.Dir, ".tmp-"+id+"-*")
	if err != nil {
		return fmt.Errorf("policystore: create temp for %q: %w", id, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("policystore: write temp for %q: %w", id, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("policystore: sync temp for %q: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("policystore: close temp for %q: %w", id, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("policystore: rename into place for %q: %w", id, err)
	}
	return nil
}

// Delete removes the on-disk record for id. Deleting an absent record is
// not an error, matching the caller's unconditional-delete-on-teardown
// usage from policy.Policy.Delete.
func (s *PolicyStore) Delete(id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("policystore: delete %q: %w", id, err)
	}
	return nil
}

// LoadAll reads every persisted policy record from Dir. A record whose
// JSON fails to decode is skipped and its file removed: corrupt on-disk
// state should not block startup. Callers still run each restored record
// through policy.Validate before bringing it up, so an out-of-range field
// is caught there rather than here.
func (s *PolicyStore) LoadAll() (map[string]policy.Record, error) {
	out := make(map[string]policy.Record)

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("policystore: read dir %q: %w", s.Dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		full := filepath.Join(s.Dir, entry.Name())

		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		var rec policy.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			os.Remove(full)
			continue
		}
		out[id] = rec
	}
	return out, nil
}
