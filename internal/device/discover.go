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
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/jmylchreest/refind-btrfs-snapshots/internal/runner"
)

// Discoverer resolves the live partition table, preferring lsblk/findmnt
// and falling back to /proc/self/mountinfo when those binaries are absent.
type Discoverer struct {
	findmnt *FindmntAdapter
	proc    *ProcFallback
}

func NewDiscoverer(r runner.Runner, fs afero.Fs) *Discoverer {
	return &Discoverer{
		findmnt: NewFindmntAdapter(r),
		proc:    NewProcFallback(fs),
	}
}

// LivePartitionTable tries findmnt first; on any error (binary missing,
// non-JSON-capable version) it falls back to parsing mountinfo directly.
func (d *Discoverer) LivePartitionTable() (*PartitionTable, error) {
	table, err := d.findmnt.LivePartitionTable()
	if err == nil {
		return table, nil
	}
	log.Debug().Err(err).Msg("findmnt unavailable, falling back to /proc/self/mountinfo")
	return d.proc.LivePartitionTable()
}
