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

package device

import (
	"encoding/json"
	"fmt"

	"github.com/jmylchreest/refind-btrfs-snapshots/internal/apperrors"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/mountopts"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/runner"
)

// findmnt columns requested, named after the JSON keys findmnt -J emits.
const (
	findmntKeySource     = "source"
	findmntKeyTarget     = "target"
	findmntKeyFSType     = "fstype"
	findmntKeyOptions    = "options"
	findmntKeyUUID       = "uuid"
	findmntKeyPartUUID   = "partuuid"
	findmntKeyLabel      = "label"
)

var findmntColumns = []string{
	findmntKeySource, findmntKeyTarget, findmntKeyFSType, findmntKeyOptions,
	findmntKeyUUID, findmntKeyPartUUID, findmntKeyLabel,
}

type findmntEntry struct {
	Source   string         `json:"source"`
	Target   string         `json:"target"`
	FSType   string         `json:"fstype"`
	Options  string         `json:"options"`
	UUID     string         `json:"uuid"`
	PartUUID string         `json:"partuuid"`
	Label    string         `json:"label"`
	Children []findmntEntry `json:"children,omitempty"`
}

type findmntOutput struct {
	Filesystems []findmntEntry `json:"filesystems"`
}

// FindmntAdapter discovers the live (currently mounted) partition table via
// `findmnt -J`.
type FindmntAdapter struct {
	Runner runner.Runner
}

func NewFindmntAdapter(r runner.Runner) *FindmntAdapter { return &FindmntAdapter{Runner: r} }

// LivePartitionTable returns the currently mounted filesystems as a
// PartitionTable, per spec §6's "Live device command".
func (a *FindmntAdapter) LivePartitionTable() (*PartitionTable, error) {
	args := []string{"-J", "-o", joinCommaColumns(findmntColumns)}
	out, err := a.Runner.CommandOutput("findmnt", args, "enumerate live mount table")
	if err != nil {
		return nil, apperrors.PartitionError(apperrors.PhaseDeviceDiscovery, "findmnt", fmt.Errorf("findmnt failed: %w", err))
	}

	var parsed findmntOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, apperrors.PartitionError(apperrors.PhaseDeviceDiscovery, "findmnt", fmt.Errorf("parse findmnt output: %w", err))
	}

	table := &PartitionTable{Type: PartitionTableTypeMTAB}
	for _, entry := range parsed.Filesystems {
		flattenFindmnt(entry, table)
	}
	return table, nil
}

func flattenFindmnt(entry findmntEntry, table *PartitionTable) {
	opts, _ := mountopts.Parse(entry.Options)
	p := &Partition{
		Name:     entry.Source,
		PartUUID: entry.PartUUID,
		Filesystem: &Filesystem{
			UUID:       entry.UUID,
			Label:      entry.Label,
			Type:       entry.FSType,
			MountPoint: entry.Target,
			MountOpts:  opts,
		},
	}
	table.Partitions = append(table.Partitions, p)
	for _, child := range entry.Children {
		flattenFindmnt(child, table)
	}
}
