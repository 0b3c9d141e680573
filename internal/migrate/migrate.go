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

// Package migrate implements the entry × snapshot → entry derivation of
// spec.md §4.3 as a single total function over a tagged BootEntry/SubEntry
// variant, replacing the reference source's runtime-dispatched migration
// strategy factory per the design note in spec.md §9.
package migrate

import (
	"fmt"
	"regexp"

	"github.com/jmylchreest/refind-btrfs-snapshots/internal/apperrors"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/bootopts"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/mountopts"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/refindcfg"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/subvolume"
)

// IconResolver dispatches on the configured icon mode (Default / Custom /
// EmbedBtrfsLogo) and returns the icon path to embed in the migrated entry.
// Implemented by internal/icon; kept as an interface here so migrate does
// not need to import an image-manipulation stack.
type IconResolver interface {
	Resolve(sourceIconPath string) (string, error)
}

// Options configures one migration call, mirroring PackageConfig's
// BootStanzaGeneration fields relevant to §4.3.
type Options struct {
	IncludePaths      bool
	IncludeSubMenus   bool
	HasSeparateBoot   bool
	Icon              IconResolver
}

// namePattern matches the parenthesized subvolume-name suffix this module
// itself generates, e.g. "(rosnap_2024-01-02_03-04-05_ID42)".
var namePattern = regexp.MustCompile(`\((?:ro|rw)(?:snap|subvol)_\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}_ID\d+\)`)

// Entry migrates source boot entry e, matched to live root subvolume
// "live", into an entry specific to prepared snapshot "snap". isLatest
// indicates snap is the most recently created of the prepared set, which
// affects loader/initrd inheritance per §4.3 step 2/4.
func Entry(e *refindcfg.BootEntry, live, snap *subvolume.Subvolume, opts Options, isLatest bool) (*refindcfg.BootEntry, error) {
	out := &refindcfg.BootEntry{
		Name:            migrateName(e.Name, snap),
		Volume:          e.Volume,
		LoaderPath:      e.LoaderPath,
		InitrdPath:      e.InitrdPath,
		OSType:          e.OSType,
		Graphics:        e.Graphics,
		FirmwareBootnum: e.FirmwareBootnum,
		IsDisabled:      e.IsDisabled,
	}

	rewritePaths := opts.IncludePaths && !opts.HasSeparateBoot
	if rewritePaths {
		out.LoaderPath = rootPartSubstitute(e.LoaderPath, live.LogicalPath, snap.LogicalPath)
		out.InitrdPath = rootPartSubstitute(e.InitrdPath, live.LogicalPath, snap.LogicalPath)
	}

	migratedOpts, err := migrateBootOptions(e.BootOptions, live, snap, rewritePaths)
	if err != nil {
		return nil, err
	}
	out.BootOptions = migratedOpts

	if opts.Icon != nil {
		iconPath, err := opts.Icon.Resolve(e.IconPath)
		if err != nil {
			return nil, apperrors.RefindConfigError(apperrors.PhaseEmit, e.IconPath, err)
		}
		out.IconPath = iconPath
	} else {
		out.IconPath = e.IconPath
	}

	if opts.IncludeSubMenus {
		for _, s := range e.SubEntries {
			if !s.IsUsableForSnapshots() {
				continue
			}
			migratedSub, err := subEntry(s, out, live, snap, rewritePaths, isLatest)
			if err != nil {
				return nil, err
			}
			out.SubEntries = append(out.SubEntries, migratedSub)
		}
	}

	return out, nil
}

func subEntry(s *refindcfg.SubEntry, migratedParent *refindcfg.BootEntry, live, snap *subvolume.Subvolume, rewritePaths bool, isLatest bool) (*refindcfg.SubEntry, error) {
	out := &refindcfg.SubEntry{
		Name:       s.Name,
		Graphics:   s.Graphics,
		IsDisabled: s.IsDisabled,
		LoaderPath: s.LoaderPath,
		InitrdPath: s.InitrdPath,
	}

	if !isLatest {
		out.LoaderPath = migratedParent.LoaderPath
		out.InitrdPath = migratedParent.InitrdPath
	}

	migratedSelf, err := migrateBootOptions(s.BootOptions, live, snap, rewritePaths)
	if err != nil {
		return nil, err
	}
	migratedAdd, err := migrateBootOptions(s.AddBootOptions, live, snap, rewritePaths)
	if err != nil {
		return nil, err
	}

	out.BootOptions = bootopts.Merge(migratedParent.BootOptions, migratedSelf, migratedAdd)
	out.AddBootOptions = &bootopts.BootOptions{}

	return out, nil
}

// migrateName implements step 1: replace an existing derived-name suffix,
// or append one. The result is unquoted; FormatEntry adds the double quotes
// when the name contains whitespace.
func migrateName(name string, snap *subvolume.Subvolume) string {
	suffix := "(" + snap.Name() + ")"
	if namePattern.MatchString(name) {
		return namePattern.ReplaceAllString(name, suffix)
	}
	return name + " " + suffix
}

// rootPartSubstitute anchors the replacement to a leading path segment,
// matching spec §4.3 step 2's substitution rule exactly (it is the same
// rule mountopts.ReplaceRootPartIn implements for mount option values).
func rootPartSubstitute(path, fromLogicalPath, toLogicalPath string) string {
	if path == "" {
		return path
	}
	return mountopts.ReplaceRootPartIn(path, fromLogicalPath, toLogicalPath)
}

// migrateBootOptions deep-copies src and migrates its rootflags=
// MountOptions (and, when rewritePaths, its initrd= values) from live to
// snap. A nil src is returned as nil.
func migrateBootOptions(src *bootopts.BootOptions, live, snap *subvolume.Subvolume, rewritePaths bool) (*bootopts.BootOptions, error) {
	if src == nil {
		return nil, nil
	}
	cloned := src.Clone()

	if cloned.RootFlags() == nil {
		return cloned, nil
	}

	if err := cloned.MigrateFromTo(live.LogicalPath, live.NumID, snap.LogicalPath, snap.NumID, rewritePaths); err != nil {
		return nil, apperrors.PartitionError(apperrors.PhaseCombine, "rootflags", fmt.Errorf("%w", err))
	}

	return cloned, nil
}
