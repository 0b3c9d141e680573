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

// Package subvolume models a Btrfs subvolume as an immutable value with a
// small staged-builder surface, matching spec.md's Subvolume entity.
package subvolume

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RootMountEntry is the minimal shape of a parsed fstab "/" line needed to
// validate a snapshot's static partition table against a subvolume
// identity, without internal/subvolume importing internal/fstab.
type RootMountEntry struct {
	Subvol   string
	SubvolID int64
}

// Subvolume is a Btrfs subvolume, identified by UUID, as described by
// spec.md §3.
type Subvolume struct {
	FilesystemPath string
	LogicalPath    string
	TimeCreated    time.Time
	UUID           uuid.UUID
	ParentUUID     uuid.UUID
	NumID          int64
	ParentNumID    int64
	IsReadOnly     bool

	// CreatedFrom is set iff this subvolume was cloned into the destination
	// directory by this run; a snapshot flipped writable in place keeps it nil.
	CreatedFrom *Subvolume

	// StaticPartitionTableRoot is the "/" mount from this subvolume's own
	// /etc/fstab, set during promotion (spec §4.2 step 4).
	StaticPartitionTableRoot *RootMountEntry

	// Snapshots holds child snapshots when this subvolume is the live
	// root (populated during phase 2).
	Snapshots []*Subvolume

	// name is an explicit override set via Named(); when empty,
	// DerivedName() is used.
	name string
}

// IsSnapshot reports whether this subvolume is a snapshot of another
// (non-zero parent UUID).
func (s *Subvolume) IsSnapshot() bool {
	return s.ParentUUID != uuid.Nil
}

// IsSnapshotOf reports whether s is a snapshot of other, by UUID.
func (s *Subvolume) IsSnapshotOf(other *Subvolume) bool {
	return s.IsSnapshot() && other != nil && s.ParentUUID == other.UUID
}

// HasSnapshots reports whether this subvolume (the live root) has any
// discovered child snapshots.
func (s *Subvolume) HasSnapshots() bool { return len(s.Snapshots) > 0 }

// IsNewlyCreated reports whether this subvolume was produced this run.
func (s *Subvolume) IsNewlyCreated() bool { return s.CreatedFrom != nil }

// IsWritable is the complement of IsReadOnly, named to match adapter
// contract language ("already bootable iff writable").
func (s *Subvolume) IsWritable() bool { return !s.IsReadOnly }

// Equal compares subvolumes by UUID, per spec.md §3.
func (s *Subvolume) Equal(other *Subvolume) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.UUID == other.UUID
}

// effectiveTime is the time used for ordering: CreatedFrom's TimeCreated
// when present, else this subvolume's own.
func (s *Subvolume) effectiveTime() time.Time {
	if s.CreatedFrom != nil {
		return s.CreatedFrom.effectiveTime()
	}
	return s.TimeCreated
}

// Less orders subvolumes by effective creation time, ascending.
func (s *Subvolume) Less(other *Subvolume) bool {
	return s.effectiveTime().Before(other.effectiveTime())
}

// IsNamed reports whether Named() has been called.
func (s *Subvolume) IsNamed() bool { return s.name != "" }

// Name returns the explicit name if set, else the derived name.
func (s *Subvolume) Name() string {
	if s.name != "" {
		return s.name
	}
	return s.DerivedName()
}

// DerivedName computes "{ro|rw}{subvol|snap}_YYYY-MM-DD_HH-MM-SS_ID{num}"
// per spec.md §3.
func (s *Subvolume) DerivedName() string {
	roRw := "rw"
	if s.IsReadOnly {
		roRw = "ro"
	}
	subvolSnap := "subvol"
	if s.IsSnapshot() {
		subvolSnap = "snap"
	}
	ts := s.TimeCreated.Format("2006-01-02_15-04-05")
	return fmt.Sprintf("%s%s_%s_ID%d", roRw, subvolSnap, ts, s.NumID)
}

// Named is a staged-builder step that pins an explicit name, overriding
// DerivedName.
func (s *Subvolume) Named(name string) *Subvolume {
	clone := *s
	clone.name = name
	return &clone
}

// LocatedIn is a staged-builder step that relocates the subvolume's
// filesystem path under dir, using its own (possibly derived) name as the
// final path component.
func (s *Subvolume) LocatedIn(dir string) *Subvolume {
	clone := *s
	clone.FilesystemPath = dir + "/" + clone.Name()
	return &clone
}

// AsWritable is a staged-builder step that clears the read-only flag,
// used when promoting via flip-flag (spec §4.2 step 2).
func (s *Subvolume) AsWritable() *Subvolume {
	clone := *s
	clone.IsReadOnly = false
	return &clone
}

// AsNewlyCreatedFrom is a staged-builder step that records the source
// subvolume a promoted snapshot was produced from this run, per spec §3's
// ordering rule.
func (s *Subvolume) AsNewlyCreatedFrom(source *Subvolume) *Subvolume {
	clone := *s
	clone.CreatedFrom = source
	return &clone
}

// ToDestination is a staged-builder step combining LocatedIn and
// AsNewlyCreatedFrom for the clone-into-destination promotion path (spec
// §4.2 step 3).
func (s *Subvolume) ToDestination(dir string, source *Subvolume) *Subvolume {
	return s.AsNewlyCreatedFrom(source).LocatedIn(dir)
}
