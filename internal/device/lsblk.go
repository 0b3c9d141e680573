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
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/runner"
)

// lsblk columns requested, named after the JSON keys lsblk -J emits.
const (
	lsblkKeyName       = "name"
	lsblkKeyPartUUID   = "partuuid"
	lsblkKeyPartType   = "parttype"
	lsblkKeyPartLabel  = "partlabel"
	lsblkKeyFSType     = "fstype"
	lsblkKeyFSUUID     = "uuid"
	lsblkKeyLabel      = "label"
	lsblkKeyMountpoint = "mountpoint"
)

var lsblkColumns = []string{
	lsblkKeyName, lsblkKeyPartUUID, lsblkKeyPartType, lsblkKeyPartLabel,
	lsblkKeyFSType, lsblkKeyFSUUID, lsblkKeyLabel, lsblkKeyMountpoint,
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	PartUUID   string        `json:"partuuid"`
	PartType   string        `json:"parttype"`
	PartLabel  string        `json:"partlabel"`
	FSType     string        `json:"fstype"`
	UUID       string        `json:"uuid"`
	Label      string        `json:"label"`
	Mountpoint string        `json:"mountpoint"`
	Children   []lsblkDevice `json:"children,omitempty"`
}

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

// LsblkAdapter discovers the physical partition table via `lsblk -J`.
type LsblkAdapter struct {
	Runner runner.Runner
}

func NewLsblkAdapter(r runner.Runner) *LsblkAdapter { return &LsblkAdapter{Runner: r} }

// PhysicalPartitionTable returns the on-disk partition table of the given
// block device (e.g. "sda"), per spec §6's "Physical device command".
func (a *LsblkAdapter) PhysicalPartitionTable(diskName string) (*PartitionTable, error) {
	args := []string{"-J", "-o", joinCommaColumns(lsblkColumns), diskName}
	out, err := a.Runner.CommandOutput("lsblk", args, "enumerate physical partition table of "+diskName)
	if err != nil {
		return nil, apperrors.PartitionError(apperrors.PhaseDeviceDiscovery, diskName, fmt.Errorf("lsblk failed: %w", err))
	}

	var parsed lsblkOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, apperrors.PartitionError(apperrors.PhaseDeviceDiscovery, diskName, fmt.Errorf("parse lsblk output: %w", err))
	}

	table := &PartitionTable{Type: PartitionTableTypeGPT}
	for _, dev := range parsed.BlockDevices {
		flattenLsblk(dev, table)
	}
	return table, nil
}

func flattenLsblk(dev lsblkDevice, table *PartitionTable) {
	for _, child := range dev.Children {
		p := &Partition{
			Name:      child.Name,
			PartUUID:  child.PartUUID,
			PartType:  child.PartType,
			PartLabel: child.PartLabel,
		}
		if child.FSType != "" || child.Mountpoint != "" {
			p.Filesystem = &Filesystem{
				UUID:       child.UUID,
				Label:      child.Label,
				Type:       child.FSType,
				MountPoint: child.Mountpoint,
			}
		}
		table.Partitions = append(table.Partitions, p)
		flattenLsblk(child, table)
	}
}

func joinCommaColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}
