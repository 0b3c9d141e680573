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

// Package device models block devices, partition tables, and filesystems,
// and provides the physical/live device command adapters of spec.md §6.
package device

import "github.com/jmylchreest/refind-btrfs-snapshots/internal/mountopts"

const (
	ESPPartCodeMBR = "0xef"
	ESPPartTypeGPT = "c12a7328-f81f-11d2-ba4b-00a0c93ec93b"
	ESPFSType      = "vfat"
	BtrfsFSType    = "btrfs"

	PartitionTableTypeGPT   = "gpt"
	PartitionTableTypeMTAB  = "mtab"
	PartitionTableTypeFSTAB = "fstab"
)

// Filesystem describes one mounted or mountable filesystem, per spec §3.
type Filesystem struct {
	UUID        string
	Label       string
	Type        string
	MountPoint  string
	MountOpts   *mountopts.MountOptions
	HasSubvol   bool // not set by any code in this module; always false as constructed here
}

// IsMounted reports whether the filesystem's mount point is non-empty.
func (f *Filesystem) IsMounted() bool { return f.MountPoint != "" }

// Partition is one entry of a PartitionTable.
type Partition struct {
	Name       string // e.g. "sda1"
	PartUUID   string
	PartType   string
	PartLabel  string
	Filesystem *Filesystem
}

// PartitionTable is an ordered sequence of Partitions plus a UUID and a
// type tag, per spec §3.
type PartitionTable struct {
	UUID       string
	Type       string
	Partitions []*Partition
}

// ESP returns the unique partition matching the ESP type code or GUID,
// mounted, with filesystem type vfat. "Unique" means exactly one; zero or
// multiple collapse to absent (nil).
func (t *PartitionTable) ESP() *Partition {
	return t.uniqueMatch(func(p *Partition) bool {
		if p.Filesystem == nil || !p.Filesystem.IsMounted() || p.Filesystem.Type != ESPFSType {
			return false
		}
		return equalsFoldAny(p.PartType, ESPPartCodeMBR, "ef") || equalsFoldAny(p.PartType, ESPPartTypeGPT)
	})
}

// Root returns the unique partition mounted at "/".
func (t *PartitionTable) Root() *Partition {
	return t.uniqueMatch(func(p *Partition) bool {
		return p.Filesystem != nil && p.Filesystem.MountPoint == "/"
	})
}

// Boot returns the unique partition mounted at "/boot", if any (a
// separate /boot partition changes the migration algorithm per spec §4.3
// step 2).
func (t *PartitionTable) Boot() *Partition {
	return t.uniqueMatch(func(p *Partition) bool {
		return p.Filesystem != nil && p.Filesystem.MountPoint == "/boot"
	})
}

func (t *PartitionTable) uniqueMatch(pred func(*Partition) bool) *Partition {
	var found *Partition
	for _, p := range t.Partitions {
		if pred(p) {
			if found != nil {
				return nil // more than one match: collapses to absent
			}
			found = p
		}
	}
	return found
}

func equalsFoldAny(s string, candidates ...string) bool {
	for _, c := range candidates {
		if lower(s) == lower(c) {
			return true
		}
	}
	return false
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// BlockDevice is one physical disk or partition, carrying both its
// physical (on-disk) and live (currently mounted) partition tables.
type BlockDevice struct {
	Name                 string
	PhysicalPartitionTable *PartitionTable
	LivePartitionTable     *PartitionTable
}

// WithPartitionTables returns a copy of the block device with both
// partition tables attached, mirroring the staged-builder style used
// elsewhere in this module.
func (b *BlockDevice) WithPartitionTables(physical, live *PartitionTable) *BlockDevice {
	clone := *b
	clone.PhysicalPartitionTable = physical
	clone.LivePartitionTable = live
	return &clone
}
