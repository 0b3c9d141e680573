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

package btrfsutil

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jmylchreest/refind-btrfs-snapshots/internal/subvolume"
)

// snapperInfo mirrors the subset of a snapper info.xml this module cares
// about: a human-readable description and the snapper-assigned number,
// which lives in the parent directory name by snapper convention
// (.snapshots/<num>/snapshot).
type snapperInfo struct {
	XMLName     xml.Name  `xml:"snapshot"`
	Num         int       `xml:"num"`
	Date        time.Time `xml:"date"`
	Description string    `xml:"description"`
	Cleanup     string    `xml:"cleanup"`
}

// withSnapperInfo annotates sv's name with the snapper description, when
// its filesystem path follows the <search-dir>/<num>/snapshot layout and a
// sibling info.xml exists. Absence of either is not an error: most
// snapshots are not snapper-managed.
func withSnapperInfo(sv *subvolume.Subvolume) *subvolume.Subvolume {
	infoPath := filepath.Join(filepath.Dir(sv.FilesystemPath), "info.xml")
	data, err := os.ReadFile(infoPath)
	if err != nil {
		return sv
	}

	var info snapperInfo
	if err := xml.Unmarshal(data, &info); err != nil {
		return sv
	}

	numDir := filepath.Base(filepath.Dir(sv.FilesystemPath))
	if _, err := strconv.Atoi(numDir); err != nil {
		return sv
	}

	if info.Description == "" {
		return sv
	}
	return sv.Named(info.Description)
}
