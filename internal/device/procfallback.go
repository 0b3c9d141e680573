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
	"bufio"
	"fmt"
	"strings"

	"github.com/jmylchreest/refind-btrfs-snapshots/internal/apperrors"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/mountopts"
	"github.com/spf13/afero"
)

// ProcFallback discovers the live partition table by parsing /proc/self/mountinfo
// directly, for systems without lsblk/findmnt installed. It never shells out,
// which makes it straightforward to unit test against an in-memory afero.Fs.
type ProcFallback struct {
	Fs afero.Fs
}

func NewProcFallback(fs afero.Fs) *ProcFallback {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &ProcFallback{Fs: fs}
}

const mountinfoPath = "/proc/self/mountinfo"

// LivePartitionTable parses /proc/self/mountinfo, mirroring the reference
// CLI's original pure-/proc scanning approach.
func (p *ProcFallback) LivePartitionTable() (*PartitionTable, error) {
	f, err := p.Fs.Open(mountinfoPath)
	if err != nil {
		return nil, apperrors.PartitionError(apperrors.PhaseDeviceDiscovery, mountinfoPath, err)
	}
	defer f.Close()

	table := &PartitionTable{Type: PartitionTableTypeMTAB}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		part, err := parseMountinfoLine(scanner.Text())
		if err != nil {
			continue // malformed line: skip, matching the permissive reference scanner
		}
		if part != nil {
			table.Partitions = append(table.Partitions, part)
		}
	}
	return table, scanner.Err()
}

// parseMountinfoLine parses one line of /proc/self/mountinfo:
//
//	36 35 98:0 /mnt1 /mnt2 rw,noatime master:1 - ext3 /dev/root rw,errors=continue
//
// The separator between the optional fields and the fixed trailer is a
// lone "-" field.
func parseMountinfoLine(line string) (*Partition, error) {
	fields := strings.Fields(line)
	sep := -1
	for i, f := range fields {
		if f == "-" {
			sep = i
			break
		}
	}
	if sep < 0 || sep+3 >= len(fields) {
		return nil, fmt.Errorf("malformed mountinfo line: %q", line)
	}

	mountPoint := fields[4]
	fsType := fields[sep+1]
	source := fields[sep+2]
	superOpts := fields[sep+3]

	opts, _ := mountopts.Parse(superOpts)

	return &Partition{
		Name: source,
		Filesystem: &Filesystem{
			Type:       fsType,
			MountPoint: mountPoint,
			MountOpts:  opts,
		},
	}, nil
}
