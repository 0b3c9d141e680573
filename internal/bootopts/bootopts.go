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

// Package bootopts parses a rEFInd "options"/"add_options" value into four
// order-preserving buckets: root=, rootflags=, initrd=, and everything else.
package bootopts

import (
	"fmt"
	"strings"

	"github.com/jmylchreest/refind-btrfs-snapshots/internal/mountopts"
)

// item is one space-separated token in original parse order, tagged by
// which bucket it belongs to so Format can reproduce the order exactly.
type item struct {
	kind  string // "root", "rootflags", "initrd", "other"
	raw   string
}

// BootOptions is the parsed, order-preserving representation of a
// rEFInd "options"/"add_options" string.
type BootOptions struct {
	items     []item
	root      string
	hasRoot   bool
	rootFlags *mountopts.MountOptions
	initrds   []string
}

// Parse splits a quoted, space-separated options string. Duplicate root= or
// rootflags= is a fatal parse error.
func Parse(s string) (*BootOptions, error) {
	bo := &BootOptions{}
	s = strings.Trim(strings.TrimSpace(s), `"`)
	if s == "" {
		return bo, nil
	}

	for _, tok := range strings.Fields(s) {
		switch {
		case strings.HasPrefix(tok, "root="):
			if bo.hasRoot {
				return nil, fmt.Errorf("duplicate root= option")
			}
			bo.hasRoot = true
			bo.root = strings.TrimPrefix(tok, "root=")
			bo.items = append(bo.items, item{kind: "root", raw: tok})

		case strings.HasPrefix(tok, "rootflags="):
			if bo.rootFlags != nil {
				return nil, fmt.Errorf("duplicate rootflags= option")
			}
			mo, err := mountopts.Parse(strings.TrimPrefix(tok, "rootflags="))
			if err != nil {
				return nil, fmt.Errorf("rootflags: %w", err)
			}
			bo.rootFlags = mo
			bo.items = append(bo.items, item{kind: "rootflags", raw: tok})

		case strings.HasPrefix(tok, "initrd="):
			bo.initrds = append(bo.initrds, strings.TrimPrefix(tok, "initrd="))
			bo.items = append(bo.items, item{kind: "initrd", raw: tok})

		default:
			bo.items = append(bo.items, item{kind: "other", raw: tok})
		}
	}

	return bo, nil
}

// Root returns the root= value, if any.
func (b *BootOptions) Root() (string, bool) { return b.root, b.hasRoot }

// RootFlags returns the rootflags= MountOptions, if any.
func (b *BootOptions) RootFlags() *mountopts.MountOptions { return b.rootFlags }

// Initrds returns all initrd= values in parse order.
func (b *BootOptions) Initrds() []string { return b.initrds }

// SetInitrd rewrites the i-th initrd= token's value.
func (b *BootOptions) SetInitrd(i int, value string) {
	if i < 0 || i >= len(b.initrds) {
		return
	}
	b.initrds[i] = value

	seen := -1
	for idx, it := range b.items {
		if it.kind != "initrd" {
			continue
		}
		seen++
		if seen == i {
			b.items[idx].raw = "initrd=" + value
			return
		}
	}
}

// String formats back to an unquoted, space-separated string whose token order
// equals the parse order, reflecting any in-place edits to RootFlags().
func (b *BootOptions) String() string {
	parts := make([]string, 0, len(b.items))
	for _, it := range b.items {
		if it.kind == "rootflags" && b.rootFlags != nil {
			parts = append(parts, "rootflags="+b.rootFlags.String())
			continue
		}
		parts = append(parts, it.raw)
	}
	return strings.Join(parts, " ")
}

// Clone returns a deep copy.
func (b *BootOptions) Clone() *BootOptions {
	clone := &BootOptions{
		root:    b.root,
		hasRoot: b.hasRoot,
		items:   make([]item, len(b.items)),
		initrds: append([]string(nil), b.initrds...),
	}
	copy(clone.items, b.items)
	if b.rootFlags != nil {
		clone.rootFlags = b.rootFlags.Clone()
	}
	return clone
}

// MigrateFromTo rewrites rootflags= (subvol/subvolid) from the source
// subvolume's identity to the destination's, per spec's
// migrate_mount_options. When includePaths is true, each initrd= path is
// additionally rewritten by root-part substitution.
func (b *BootOptions) MigrateFromTo(fromLogicalPath string, fromNumID int64, toLogicalPath string, toNumID int64, includePaths bool) error {
	if b.rootFlags != nil {
		if err := b.rootFlags.MigrateFromTo(fromLogicalPath, fromNumID, toLogicalPath, toNumID); err != nil {
			return err
		}
	}

	if includePaths {
		for i, p := range b.initrds {
			b.SetInitrd(i, mountopts.ReplaceRootPartIn(p, fromLogicalPath, toLogicalPath))
		}
	}

	return nil
}

// Merge concatenates boot options from several sources in order, used when
// combining a migrated parent's options with a sub-entry's add_boot_options.
func Merge(sources ...*BootOptions) *BootOptions {
	merged := &BootOptions{}
	for _, s := range sources {
		if s == nil {
			continue
		}
		merged.items = append(merged.items, s.items...)
		if s.hasRoot && !merged.hasRoot {
			merged.hasRoot = true
			merged.root = s.root
		}
		if s.rootFlags != nil && merged.rootFlags == nil {
			merged.rootFlags = s.rootFlags.Clone()
		}
		merged.initrds = append(merged.initrds, s.initrds...)
	}
	return merged
}
