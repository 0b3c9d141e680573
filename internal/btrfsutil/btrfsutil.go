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

// Package btrfsutil adapts the "subvolume command" contract of spec.md §6
// onto the btrfs-progs CLI: get, snapshots_of, bootable, delete.
package btrfsutil

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/refind-btrfs-snapshots/internal/apperrors"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/runner"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/subvolume"
)

// Adapter wraps `btrfs subvolume ...` invocations behind the subvolume
// command contract.
type Adapter struct {
	Runner runner.Runner
}

func New(r runner.Runner) *Adapter { return &Adapter{Runner: r} }

var showFieldPattern = regexp.MustCompile(`^\s*([A-Za-z/ ]+?):\s*(.*)$`)

// Get reads a subvolume's identity via `btrfs subvolume show`, returning
// nil (not an error) when path is not a subvolume at all.
func (a *Adapter) Get(path string) (*subvolume.Subvolume, error) {
	out, err := a.Runner.CommandOutput("btrfs", []string{"subvolume", "show", path}, "inspect subvolume "+path)
	if err != nil {
		return nil, apperrors.SubvolumeError(apperrors.PhaseRootSubvolumeDiscovery, path, fmt.Errorf("btrfs subvolume show: %w", err))
	}

	sv, err := parseSubvolumeShow(path, string(out))
	if err != nil {
		return nil, apperrors.SubvolumeError(apperrors.PhaseRootSubvolumeDiscovery, path, err)
	}
	return sv, nil
}

// parseSubvolumeShow parses the "Key: value" block emitted by
// `btrfs subvolume show`.
func parseSubvolumeShow(path, output string) (*subvolume.Subvolume, error) {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		m := showFieldPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(m[1]))
		fields[key] = strings.TrimSpace(m[2])
	}

	sv := &subvolume.Subvolume{FilesystemPath: path}

	if v, ok := fields["name"]; ok {
		sv.LogicalPath = v
	}
	if v, ok := fields["uuid"]; ok {
		if id, err := uuid.Parse(v); err == nil {
			sv.UUID = id
		}
	}
	if v, ok := fields["parent uuid"]; ok && v != "-" {
		if id, err := uuid.Parse(v); err == nil {
			sv.ParentUUID = id
		}
	}
	if v, ok := fields["subvolume id"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			sv.NumID = n
		}
	}
	if v, ok := fields["flags"]; ok {
		sv.IsReadOnly = strings.Contains(v, "readonly")
	}
	if v, ok := fields["creation time"]; ok {
		if t, err := time.Parse("2006-01-02 15:04:05 -0700", v); err == nil {
			sv.TimeCreated = t
		}
	}

	return sv, nil
}

// SnapshotsOf lists the child snapshots found under each of searchDirs,
// filtering to those whose ParentUUID matches root.
func (a *Adapter) SnapshotsOf(root *subvolume.Subvolume, searchDirs []string) ([]*subvolume.Subvolume, error) {
	var out []*subvolume.Subvolume
	for _, dir := range searchDirs {
		listed, err := a.listSubvolumesUnder(dir)
		if err != nil {
			return nil, err
		}
		for _, sv := range listed {
			if sv.IsSnapshotOf(root) {
				out = append(out, withSnapperInfo(sv))
			}
		}
	}
	return out, nil
}

func (a *Adapter) listSubvolumesUnder(dir string) ([]*subvolume.Subvolume, error) {
	out, err := a.Runner.CommandOutput("btrfs", []string{"subvolume", "list", "-a", "-u", "-q", dir}, "list subvolumes under "+dir)
	if err != nil {
		return nil, apperrors.SubvolumeError(apperrors.PhaseRootSubvolumeDiscovery, dir, fmt.Errorf("btrfs subvolume list: %w", err))
	}

	var result []*subvolume.Subvolume
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		sv, ok := parseSubvolumeListLine(scanner.Text(), dir)
		if !ok {
			continue
		}
		full, err := a.Get(sv.FilesystemPath)
		if err != nil {
			continue // per-entry failure downgrades to skip, not abort
		}
		result = append(result, full)
	}
	return result, scanner.Err()
}

// parseSubvolumeListLine parses one line of `btrfs subvolume list -a -u -q`:
//
//	ID 258 gen 120 top level 5 parent_uuid a1b2... uuid c3d4... path <FS_TREE>/snapshots/1/snapshot
func parseSubvolumeListLine(line, mountDir string) (*subvolume.Subvolume, bool) {
	fields := strings.Fields(line)
	sv := &subvolume.Subvolume{}
	for i := 0; i < len(fields)-1; i++ {
		switch fields[i] {
		case "ID":
			if n, err := strconv.ParseInt(fields[i+1], 10, 64); err == nil {
				sv.NumID = n
			}
		case "parent_uuid":
			if fields[i+1] != "-" {
				if id, err := uuid.Parse(fields[i+1]); err == nil {
					sv.ParentUUID = id
				}
			}
		case "uuid":
			if id, err := uuid.Parse(fields[i+1]); err == nil {
				sv.UUID = id
			}
		case "path":
			rel := strings.TrimPrefix(strings.Join(fields[i+1:], " "), "<FS_TREE>/")
			sv.LogicalPath = "/" + strings.TrimPrefix(rel, "/")
			sv.FilesystemPath = mountDir + "/" + strings.TrimPrefix(rel, "/")
			return sv, true
		}
	}
	return nil, false
}

// Bootable promotes σ to bootable per spec §4.2: flip read-only in place
// when allowed, else clone into destinationDir.
func (a *Adapter) Bootable(sv *subvolume.Subvolume, modifyReadOnlyFlag bool, destinationDir string) (*subvolume.Subvolume, error) {
	if sv.IsWritable() {
		return sv, nil
	}

	if modifyReadOnlyFlag {
		if err := a.Runner.Command("btrfs", []string{"property", "set", "-ts", sv.FilesystemPath, "ro", "false"}, "clear read-only flag on "+sv.FilesystemPath); err != nil {
			return nil, apperrors.SubvolumeError(apperrors.PhaseSnapshotPreparation, sv.FilesystemPath, err)
		}
		return sv.AsWritable(), nil
	}

	dest := sv.ToDestination(destinationDir, sv).AsWritable()
	if err := a.Runner.MkdirAll(destinationDir, 0o750, "ensure destination directory for promoted snapshot"); err != nil {
		return nil, apperrors.SubvolumeError(apperrors.PhaseSnapshotPreparation, destinationDir, err)
	}
	if err := a.Runner.Command("btrfs", []string{"subvolume", "snapshot", sv.FilesystemPath, dest.FilesystemPath}, "clone writable snapshot"); err != nil {
		return nil, apperrors.SubvolumeError(apperrors.PhaseSnapshotPreparation, dest.FilesystemPath, err)
	}
	return dest, nil
}

// Delete physically removes a freshly-created subvolume, per spec §4.2's
// deletion rule.
func (a *Adapter) Delete(sv *subvolume.Subvolume) error {
	if err := a.Runner.Command("btrfs", []string{"subvolume", "delete", sv.FilesystemPath}, "delete promoted snapshot "+sv.FilesystemPath); err != nil {
		return apperrors.SubvolumeError(apperrors.PhaseSnapshotPreparation, sv.FilesystemPath, err)
	}
	return nil
}
