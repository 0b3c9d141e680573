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

// Package refindcfg implements the rEFInd boot configuration grammar: a
// recursive-descent parser and a matching formatter over the object model
// of menu entries, sub-entries, and include directives.
package refindcfg

import "github.com/jmylchreest/refind-btrfs-snapshots/internal/bootopts"

// OSType enumerates the ostype directive's recognized parameter values.
type OSType string

const (
	OSTypeMacOS   OSType = "MacOS"
	OSTypeLinux   OSType = "Linux"
	OSTypeELILO   OSType = "ELILO"
	OSTypeWindows OSType = "Windows"
	OSTypeXOM     OSType = "XOM"
)

// Graphics is the tri-state graphics directive: on, off, or absent.
type Graphics int

const (
	GraphicsAbsent Graphics = iota
	GraphicsOn
	GraphicsOff
)

// BootEntry corresponds to one top-level menuentry block.
type BootEntry struct {
	Name            string
	Volume          string
	LoaderPath      string
	InitrdPath      string
	IconPath        string
	OSType          OSType
	Graphics        Graphics
	BootOptions     *bootopts.BootOptions
	FirmwareBootnum string // 16-bit hex, carried opaque per spec §9
	IsDisabled      bool
	SubEntries      []*SubEntry
}

// Key returns the (volume, loader_path) identity pair BootEntry equality is
// defined by.
func (e *BootEntry) Key() (string, string) { return e.Volume, e.LoaderPath }

// IsUsableForSnapshots reports the "usable" predicate of spec §3: volume,
// loader_path, and initrd_path are all non-empty and the entry is enabled.
func (e *BootEntry) IsUsableForSnapshots() bool {
	return e.Volume != "" && e.LoaderPath != "" && e.InitrdPath != "" && !e.IsDisabled
}

// SubEntry corresponds to a nested submenuentry block.
type SubEntry struct {
	Name            string
	LoaderPath      string
	InitrdPath      string
	Graphics        Graphics
	BootOptions     *bootopts.BootOptions
	AddBootOptions  *bootopts.BootOptions
	IsDisabled      bool
}

// IsUsableForSnapshots mirrors BootEntry's predicate for sub-entries.
func (s *SubEntry) IsUsableForSnapshots() bool {
	return s.LoaderPath != "" && s.InitrdPath != "" && !s.IsDisabled
}

// BootConfig is a parsed file plus its include tree.
type BootConfig struct {
	Path     string
	Entries  []*BootEntry
	Includes []*BootConfig

	// RawIncludePaths records the literal operand of each include
	// directive as it appeared in the source, for append-only rewriting.
	RawIncludePaths []string
}

// IsGenerated reports whether this config's parent directory name equals
// the generated-stanzas directory name.
func (c *BootConfig) IsGenerated(generatedStanzasDirName string) bool {
	return dirBase(c.Path) == generatedStanzasDirName
}
