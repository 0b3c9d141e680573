// Copyright (c) 2024 John Mylchreest <jmylchreest@gmail.com>
//
// This file is part of refind-btrfs-snapshots.
//
// refind-btrfs-snapshots is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// refind-btrfs-snapshots is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with refind-btrfs-snapshots. If not, see <https://www.gnu.org/licenses/>.

// Package persistence is the key/value store of spec.md §4.6: three
// buckets (package_config, refind_configs, processing_result), each record
// carrying a monotonic semver and a source-file mtime for cache
// invalidation. The store is opened per-operation so readers and the
// daemon never hold it open.
package persistence

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	BucketPackageConfig    = "package_config"
	BucketRefindConfigs    = "refind_configs"
	BucketProcessingResult = "processing_result"

	// CurrentVersion is this implementation's record format version.
	// Stored records with a lower version are discarded on read.
	CurrentVersion = "1.0.0"
)

// Record is the envelope every persisted value is wrapped in.
type Record struct {
	Version string          `json:"version"`
	Mtime   time.Time       `json:"mtime"`
	Data    json.RawMessage `json:"data"`
}

// Store wraps a bbolt database file, opened and closed per operation.
type Store struct {
	Path string
}

func New(path string) *Store { return &Store{Path: path} }

func (s *Store) withDB(writable bool, fn func(*bbolt.DB) error) error {
	db, err := bbolt.Open(s.Path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("open persistence store %s: %w", s.Path, err)
	}
	defer db.Close()
	return fn(db)
}

// Put writes value into bucket under key, stamped with CurrentVersion and
// the given source mtime.
func (s *Store) Put(bucket, key string, value any, sourceMtime time.Time) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	rec := Record{Version: CurrentVersion, Mtime: sourceMtime, Data: data}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.withDB(true, func(db *bbolt.DB) error {
		return db.Update(func(tx *bbolt.Tx) error {
			b, err := tx.CreateBucketIfNotExists([]byte(bucket))
			if err != nil {
				return err
			}
			return b.Put([]byte(key), encoded)
		})
	})
}

// Get reads the record for key in bucket into out, returning ok=false when
// absent or when the stored version is older than CurrentVersion.
func (s *Store) Get(bucket, key string, out any) (ok bool, err error) {
	err = s.withDB(false, func(db *bbolt.DB) error {
		return db.View(func(tx *bbolt.Tx) error {
			b := tx.Bucket([]byte(bucket))
			if b == nil {
				return nil
			}
			raw := b.Get([]byte(key))
			if raw == nil {
				return nil
			}

			var rec Record
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
			if isOlderVersion(rec.Version, CurrentVersion) {
				return nil
			}
			if err := json.Unmarshal(rec.Data, out); err != nil {
				return err
			}
			ok = true
			return nil
		})
	})
	return ok, err
}

// GetValidForMtime is Get plus a cache-invalidation check: the cached
// record is only returned when its stored mtime equals currentMtime.
func (s *Store) GetValidForMtime(bucket, key string, out any, currentMtime time.Time) (ok bool, err error) {
	var rec Record
	err = s.withDB(false, func(db *bbolt.DB) error {
		return db.View(func(tx *bbolt.Tx) error {
			b := tx.Bucket([]byte(bucket))
			if b == nil {
				return nil
			}
			raw := b.Get([]byte(key))
			if raw == nil {
				return nil
			}
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
			ok = true
			return nil
		})
	})
	if err != nil || !ok {
		return false, err
	}
	if isOlderVersion(rec.Version, CurrentVersion) {
		return false, nil
	}
	if !rec.Mtime.Equal(currentMtime) {
		return false, nil
	}
	if err := json.Unmarshal(rec.Data, out); err != nil {
		return false, err
	}
	return true, nil
}

// isOlderVersion does a simple dotted-triple semver comparison; good
// enough for the single-digit version space this store actually uses.
func isOlderVersion(stored, current string) bool {
	sv, serr := parseSemver(stored)
	cv, cerr := parseSemver(current)
	if serr != nil || cerr != nil {
		return stored != current
	}
	for i := 0; i < 3; i++ {
		if sv[i] != cv[i] {
			return sv[i] < cv[i]
		}
	}
	return false
}

func parseSemver(v string) ([3]int, error) {
	var out [3]int
	parts := strings.SplitN(v, ".", 3)
	if len(parts) != 3 {
		return out, fmt.Errorf("invalid semver %q", v)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return out, fmt.Errorf("invalid semver %q: %w", v, err)
		}
		out[i] = n
	}
	return out, nil
}
