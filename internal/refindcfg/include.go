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

package refindcfg

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var includeLinePattern = regexp.MustCompile(`^include .+$`)

// AppendIncludes appends one "include RELPATH" line per entry in
// relPaths that is not already present in cfg.RawIncludePaths, per the
// emission ordering of spec §4.4:
//  1. if the file's last line doesn't already match ^include .+$, a
//     blank line is prepended;
//  2. each new include line is written;
//  3. the file is rewritten atomically (write-then-replace).
func AppendIncludes(cfg *BootConfig, relPaths []string) error {
	existing := make(map[string]bool, len(cfg.RawIncludePaths))
	for _, p := range cfg.RawIncludePaths {
		existing[p] = true
	}

	var toAdd []string
	for _, p := range relPaths {
		if !existing[p] {
			toAdd = append(toAdd, p)
		}
	}
	if len(toAdd) == 0 {
		return nil
	}

	original, err := os.ReadFile(cfg.Path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", cfg.Path, err)
	}

	content := string(original)
	lastLine := lastNonEmptyLine(content)

	var b strings.Builder
	b.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	if !includeLinePattern.MatchString(lastLine) {
		b.WriteString("\n")
	}
	for _, p := range toAdd {
		fmt.Fprintf(&b, "include %s\n", p)
	}

	if err := WriteThenReplace(cfg.Path, []byte(b.String())); err != nil {
		return err
	}

	cfg.RawIncludePaths = append(cfg.RawIncludePaths, toAdd...)
	return nil
}

func lastNonEmptyLine(content string) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return strings.TrimSpace(lines[i])
		}
	}
	return ""
}

// WriteThenReplace writes data to a sibling temp file and renames it over
// path, so a crash mid-write leaves the original intact.
func WriteThenReplace(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
