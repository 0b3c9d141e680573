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

// Package snapshot implements the selection/classification/promotion
// pipeline of spec.md §4.2: which discovered snapshots become bootable
// this run, and which previously-bootable ones are retired.
package snapshot

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/jmylchreest/refind-btrfs-snapshots/internal/btrfsutil"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/fstab"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/subvolume"
)

// Select sorts candidates by time_created descending and takes the first
// count; count <= 0 or count >= len(candidates) returns the whole set,
// matching the "inf" selection_count value.
func Select(candidates []*subvolume.Subvolume, count int) []*subvolume.Subvolume {
	sorted := make([]*subvolume.Subvolume, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[j].Less(sorted[i]) })

	if count <= 0 || count >= len(sorted) {
		return sorted
	}
	return sorted[:count]
}

// Classify computes the additions/removals set math of spec §4.2 against
// the previous run's bootable set.
func Classify(selected, previous []*subvolume.Subvolume, exclusion []uuid.UUID) (additions, removals []*subvolume.Subvolume) {
	excludeSet := make(map[uuid.UUID]bool, len(exclusion))
	for _, id := range exclusion {
		excludeSet[id] = true
	}
	selectedSet := make(map[uuid.UUID]bool, len(selected))
	for _, s := range selected {
		selectedSet[s.UUID] = true
	}

	for _, sigma := range selected {
		if containsUUID(previous, sigma.UUID) {
			continue
		}
		if producedFromAny(previous, sigma) {
			continue
		}
		additions = append(additions, sigma)
	}

	for _, beta := range previous {
		if selectedSet[beta.UUID] || excludeSet[beta.UUID] {
			continue
		}
		if beta.IsNewlyCreated() {
			source := beta.CreatedFrom
			if selectedSet[source.UUID] || excludeSet[source.UUID] {
				continue
			}
		}
		removals = append(removals, beta)
	}

	return additions, removals
}

func containsUUID(list []*subvolume.Subvolume, id uuid.UUID) bool {
	for _, s := range list {
		if s.UUID == id {
			return true
		}
	}
	return false
}

func producedFromAny(list []*subvolume.Subvolume, source *subvolume.Subvolume) bool {
	for _, b := range list {
		if b.CreatedFrom != nil && b.CreatedFrom.Equal(source) {
			return true
		}
	}
	return false
}

// Promote makes each addition bootable per spec §4.2 steps 1-5: it
// validates the candidate's own static partition table against live
// *before* touching anything (dropping non-conforming candidates with a
// warning rather than aborting the run), promotes via the subvolume
// adapter, then rewrites the promoted subvolume's own fstab to point back
// at itself.
func Promote(adapter *btrfsutil.Adapter, live *subvolume.Subvolume, additions []*subvolume.Subvolume, modifyReadOnlyFlag bool, destinationDir string) (bootable []*subvolume.Subvolume, warnings []error) {
	m := fstab.NewManager()

	for _, sigma := range additions {
		fstabPath := fstab.SnapshotFstabPath(sigma)
		mount, err := fstab.ValidateStaticRoot(fstabPath, live)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("snapshot %s dropped: %w", sigma.LogicalPath, err))
			continue
		}
		sigma = withStaticRoot(sigma, mount)

		promoted, err := adapter.Bootable(sigma, modifyReadOnlyFlag, destinationDir)
		if err != nil {
			warnings = append(warnings, err)
			continue
		}

		if err := m.UpdateSnapshotFstab(promoted, adapter.Runner); err != nil {
			warnings = append(warnings, fmt.Errorf("rewrite fstab for %s: %w", promoted.LogicalPath, err))
			continue
		}

		bootable = append(bootable, promoted)
	}

	return bootable, warnings
}

func withStaticRoot(sv *subvolume.Subvolume, mount *subvolume.RootMountEntry) *subvolume.Subvolume {
	clone := *sv
	clone.StaticPartitionTableRoot = mount
	return &clone
}

// DeleteRemovals physically deletes removals that were produced this run
// (clone promotions); snapshots that were merely flipped writable in
// place, or were already bootable, are left untouched on disk and simply
// drop out of the persisted set.
func DeleteRemovals(adapter *btrfsutil.Adapter, removals []*subvolume.Subvolume) []error {
	var warnings []error
	for _, beta := range removals {
		if !beta.IsNewlyCreated() {
			continue
		}
		if err := adapter.Delete(beta); err != nil {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Merge folds a classify/promote round into the next run's bootable set:
// the previous set, minus anything removed, plus anything newly promoted.
func Merge(previous, promoted, removals []*subvolume.Subvolume) []*subvolume.Subvolume {
	removed := make(map[uuid.UUID]bool, len(removals))
	for _, r := range removals {
		removed[r.UUID] = true
	}

	out := make([]*subvolume.Subvolume, 0, len(previous)+len(promoted))
	for _, b := range previous {
		if !removed[b.UUID] {
			out = append(out, b)
		}
	}
	return append(out, promoted...)
}
