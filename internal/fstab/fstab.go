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

// Package fstab is the "static device command" of spec.md §6: it parses a
// target /etc/fstab, validates a snapshot's "/" mount against the live
// root by subvol/subvolid (spec §4.2's invariant check), and rewrites that
// mount's options in place once a snapshot is promoted, preserving every
// other byte.
package fstab

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jmylchreest/refind-btrfs-snapshots/internal/diff"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/params"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/refindcfg"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/runner"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/subvolume"
	"github.com/rs/zerolog/log"
)

var fieldSplit = regexp.MustCompile(`\s+`)

// Entry is a single fstab line, field-split.
type Entry struct {
	Device     string
	Mountpoint string
	FSType     string
	Options    string
	Dump       string
	Pass       string
	Original   string
}

// Fstab is a parsed fstab file: Lines holds every raw line (including
// comments and blanks) so unrelated lines can be written back byte-for-byte.
type Fstab struct {
	Entries []*Entry
	Lines   []string
}

// Manager handles fstab parsing and in-place rewriting.
type Manager struct{}

func NewManager() *Manager { return &Manager{} }

// ParseFstab parses an fstab file on disk.
func (m *Manager) ParseFstab(path string) (*Fstab, error) {
	log.Debug().Str("path", path).Msg("Parsing fstab file")

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fstab file: %w", err)
	}
	defer file.Close()

	return m.parseReader(bufio.NewScanner(file))
}

func (m *Manager) parseReader(scanner *bufio.Scanner) (*Fstab, error) {
	fstab := &Fstab{}

	for scanner.Scan() {
		line := scanner.Text()
		fstab.Lines = append(fstab.Lines, line)

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if entry := m.parseFstabLine(line); entry != nil {
			fstab.Entries = append(fstab.Entries, entry)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading fstab file: %w", err)
	}

	log.Debug().Int("entries", len(fstab.Entries)).Msg("Parsed fstab file")
	return fstab, nil
}

func (m *Manager) parseFstabLine(line string) *Entry {
	fields := fieldSplit.Split(strings.TrimSpace(line), -1)
	if len(fields) < 4 {
		return nil
	}

	entry := &Entry{
		Device:     fields[0],
		Mountpoint: fields[1],
		FSType:     fields[2],
		Options:    fields[3],
		Original:   line,
		Dump:       getFieldOrDefault(fields, 4, "0"),
		Pass:       getFieldOrDefault(fields, 5, "0"),
	}

	return entry
}

// RootEntry returns the first btrfs "/" mount, or nil if there is none.
// Spec.md's open question (b) resolves multiple candidates as "first
// matching wins".
func (m *Manager) RootEntry(fstab *Fstab) *Entry {
	for _, e := range fstab.Entries {
		if e.Mountpoint == "/" && e.FSType == "btrfs" {
			return e
		}
	}
	return nil
}

// ExtractRootMount pulls subvol/subvolid out of a root entry's options.
func ExtractRootMount(entry *Entry) *subvolume.RootMountEntry {
	parser := params.NewCommaParameterParser()
	mount := &subvolume.RootMountEntry{
		Subvol: parser.Extract(entry.Options, "subvol"),
	}
	if raw := parser.Extract(entry.Options, "subvolid"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			mount.SubvolID = id
		}
	}
	return mount
}

// matchesLiveRoot reports whether a static "/" mount refers to live, by
// subvolid when present, else by subvol path.
func matchesLiveRoot(mount *subvolume.RootMountEntry, live *subvolume.Subvolume) bool {
	if mount.SubvolID != 0 {
		return mount.SubvolID == live.NumID
	}
	if mount.Subvol != "" {
		return normalizeSubvolPath(mount.Subvol) == normalizeSubvolPath(live.LogicalPath)
	}
	return false
}

func normalizeSubvolPath(p string) string {
	return strings.TrimPrefix(p, "/")
}

// ValidateStaticRoot implements spec §4.2's invariant check: a candidate
// snapshot's own fstab must have a "/" mount that matches the live root by
// subvol/subvolid. Returns the parsed mount so callers can reuse it.
func ValidateStaticRoot(fstabPath string, live *subvolume.Subvolume) (*subvolume.RootMountEntry, error) {
	m := NewManager()
	table, err := m.ParseFstab(fstabPath)
	if err != nil {
		return nil, err
	}

	root := m.RootEntry(table)
	if root == nil {
		return nil, fmt.Errorf("%s: no btrfs \"/\" mount", fstabPath)
	}

	mount := ExtractRootMount(root)
	if !matchesLiveRoot(mount, live) {
		return nil, fmt.Errorf("%s: \"/\" mount (subvol=%s subvolid=%d) does not match live root %s",
			fstabPath, mount.Subvol, mount.SubvolID, live.LogicalPath)
	}

	return mount, nil
}

// SnapshotFstabPath is the path to a subvolume's own /etc/fstab.
func SnapshotFstabPath(sv *subvolume.Subvolume) string {
	return filepath.Join(sv.FilesystemPath, "etc", "fstab")
}

// UpdateSnapshotFstab rewrites target's own fstab so its "/" mount's
// subvol/subvolid point back at itself, per spec §4.2 step 5.
func (m *Manager) UpdateSnapshotFstab(target *subvolume.Subvolume, r runner.Runner) error {
	return m.updateSnapshotFstab(target, r, false)
}

// UpdateSnapshotFstabWithConfirmation interactively confirms the rewrite
// unless autoApprove is set.
func (m *Manager) UpdateSnapshotFstabWithConfirmation(target *subvolume.Subvolume, r runner.Runner, autoApprove bool) error {
	return m.updateSnapshotFstab(target, r, !autoApprove)
}

// UpdateSnapshotFstabDiff computes the rewrite without applying it.
func (m *Manager) UpdateSnapshotFstabDiff(target *subvolume.Subvolume) (*diff.FileDiff, error) {
	fstabPath := SnapshotFstabPath(target)

	fileDiff, _, err := m.buildDiff(fstabPath, target)
	return fileDiff, err
}

func (m *Manager) updateSnapshotFstab(target *subvolume.Subvolume, r runner.Runner, askConfirmation bool) error {
	fstabPath := SnapshotFstabPath(target)
	log.Debug().Str("path", fstabPath).Str("subvolume", target.LogicalPath).Msg("Updating snapshot fstab")

	fileDiff, modified, err := m.buildDiff(fstabPath, target)
	if err != nil {
		return err
	}
	if !modified {
		log.Debug().Str("path", fstabPath).Msg("No changes needed in fstab")
		return nil
	}

	if r.IsDryRun() {
		diff.ShowDiff(fileDiff)
		log.Info().Str("path", fstabPath).Msg("[DRY RUN] Would update snapshot fstab")
		return nil
	}

	if askConfirmation && !diff.ConfirmChanges(fileDiff, false) {
		log.Info().Str("path", fstabPath).Msg("Skipped updating snapshot fstab (user declined)")
		return nil
	}

	if err := refindcfg.WriteThenReplace(fstabPath, []byte(fileDiff.Modified)); err != nil {
		return fmt.Errorf("failed to write updated fstab: %w", err)
	}

	log.Info().Str("path", fstabPath).Msg("Updated snapshot fstab")
	return nil
}

// buildDiff reads fstabPath, rewrites its "/" mount to point at target,
// and returns the resulting FileDiff plus whether anything changed. A
// missing fstab is not an error: it returns a nil diff.
func (m *Manager) buildDiff(fstabPath string, target *subvolume.Subvolume) (*diff.FileDiff, bool, error) {
	if _, err := os.Stat(fstabPath); os.IsNotExist(err) {
		log.Warn().Str("path", fstabPath).Msg("Fstab file does not exist in snapshot")
		return nil, false, nil
	}

	originalContent, err := os.ReadFile(fstabPath)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read original fstab: %w", err)
	}

	table, err := m.ParseFstab(fstabPath)
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse snapshot fstab: %w", err)
	}

	modified := false
	modifiedEntries := make(map[string]bool)
	for _, entry := range table.Entries {
		if entry.Mountpoint != "/" || entry.FSType != "btrfs" {
			continue
		}
		if m.updateRootEntry(entry, target) {
			modified = true
			modifiedEntries[entry.Original] = true
		}
	}

	if !modified {
		return nil, false, nil
	}

	newContent, err := m.generateFstabContentWithModifications(table, modifiedEntries)
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate fstab content: %w", err)
	}

	return &diff.FileDiff{
		Path:     fstabPath,
		Original: string(originalContent),
		Modified: newContent,
		IsNew:    false,
	}, true, nil
}

// updateRootEntry rewrites entry's subvol/subvolid options to point at
// target, reporting whether anything changed.
func (m *Manager) updateRootEntry(entry *Entry, target *subvolume.Subvolume) bool {
	modified := false

	subvolPath := target.LogicalPath
	if !strings.HasPrefix(subvolPath, "/") {
		subvolPath = "/" + subvolPath
	}

	parser := params.NewCommaParameterParser()

	newOptions := parser.Update(entry.Options, "subvol", subvolPath)
	if newOptions != entry.Options {
		entry.Options = newOptions
		modified = true
	}

	newOptions = parser.Update(entry.Options, "subvolid", strconv.FormatInt(target.NumID, 10))
	if newOptions != entry.Options {
		entry.Options = newOptions
		modified = true
	}

	return modified
}

// generateFstabContentWithModifications rewrites only lines whose entries
// were actually modified, leaving every other line byte-for-byte intact.
func (m *Manager) generateFstabContentWithModifications(fstab *Fstab, modifiedEntries map[string]bool) (string, error) {
	var content strings.Builder

	entryMap := make(map[string]*Entry)
	for _, entry := range fstab.Entries {
		entryMap[entry.Original] = entry
	}

	for _, line := range fstab.Lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			content.WriteString(line + "\n")
			continue
		}

		entry, exists := entryMap[line]
		if !exists || !modifiedEntries[line] {
			content.WriteString(line + "\n")
			continue
		}

		content.WriteString(updateLineWithNewOptions(line, entry.Options) + "\n")
	}

	return content.String(), nil
}

// updateLineWithNewOptions replaces only the options field of an fstab
// line, keeping the original whitespace around the other fields.
func updateLineWithNewOptions(originalLine, newOptions string) string {
	fields := fieldSplit.Split(strings.TrimSpace(originalLine), -1)
	if len(fields) < 4 {
		return originalLine
	}

	device, mountpoint, fstype := fields[0], fields[1], fields[2]

	deviceEnd := strings.Index(originalLine, device) + len(device)
	mountpointStart := strings.Index(originalLine[deviceEnd:], mountpoint) + deviceEnd
	mountpointEnd := mountpointStart + len(mountpoint)
	fstypeStart := strings.Index(originalLine[mountpointEnd:], fstype) + mountpointEnd
	fstypeEnd := fstypeStart + len(fstype)

	optionsStart := fstypeEnd
	for optionsStart < len(originalLine) && (originalLine[optionsStart] == ' ' || originalLine[optionsStart] == '\t') {
		optionsStart++
	}

	optionsEnd := optionsStart
	for optionsEnd < len(originalLine) && originalLine[optionsEnd] != ' ' && originalLine[optionsEnd] != '\t' {
		optionsEnd++
	}

	if optionsStart < len(originalLine) && optionsEnd <= len(originalLine) {
		return originalLine[:optionsStart] + newOptions + originalLine[optionsEnd:]
	}

	return fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s",
		device, mountpoint, fstype, newOptions,
		getFieldOrDefault(fields, 4, "0"), getFieldOrDefault(fields, 5, "0"))
}

func getFieldOrDefault(fields []string, index int, defaultValue string) string {
	if index >= 0 && index < len(fields) {
		return fields[index]
	}
	return defaultValue
}
