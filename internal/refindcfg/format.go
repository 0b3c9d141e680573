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
	"strings"
)

// FormatEntry renders a BootEntry (and its sub-entries) as rEFInd
// configuration text in canonical form.
func FormatEntry(e *BootEntry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "menuentry %s {\n", quoteIfNeeded(e.Name))
	if e.Volume != "" {
		fmt.Fprintf(&b, "    volume %s\n", quoteIfNeeded(e.Volume))
	}
	if e.LoaderPath != "" {
		fmt.Fprintf(&b, "    loader %s\n", e.LoaderPath)
	}
	if e.InitrdPath != "" {
		fmt.Fprintf(&b, "    initrd %s\n", e.InitrdPath)
	}
	if e.IconPath != "" {
		fmt.Fprintf(&b, "    icon %s\n", e.IconPath)
	}
	if e.OSType != "" {
		fmt.Fprintf(&b, "    ostype %s\n", e.OSType)
	}
	switch e.Graphics {
	case GraphicsOn:
		b.WriteString("    graphics on\n")
	case GraphicsOff:
		b.WriteString("    graphics off\n")
	}
	if e.BootOptions != nil && e.BootOptions.String() != "" {
		fmt.Fprintf(&b, "    options %s\n", quoteIfNeeded(e.BootOptions.String()))
	}
	if e.FirmwareBootnum != "" {
		fmt.Fprintf(&b, "    firmware_bootnum %s\n", e.FirmwareBootnum)
	}
	if e.IsDisabled {
		b.WriteString("    disabled\n")
	}
	for _, s := range e.SubEntries {
		b.WriteString(indent(FormatSubEntry(s), "    "))
	}
	b.WriteString("}\n")

	return b.String()
}

// FormatSubEntry renders a SubEntry as rEFInd configuration text.
func FormatSubEntry(s *SubEntry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "submenuentry %s {\n", quoteIfNeeded(s.Name))
	if s.LoaderPath != "" {
		fmt.Fprintf(&b, "    loader %s\n", s.LoaderPath)
	}
	if s.InitrdPath != "" {
		fmt.Fprintf(&b, "    initrd %s\n", s.InitrdPath)
	}
	switch s.Graphics {
	case GraphicsOn:
		b.WriteString("    graphics on\n")
	case GraphicsOff:
		b.WriteString("    graphics off\n")
	}
	if s.BootOptions != nil && s.BootOptions.String() != "" {
		fmt.Fprintf(&b, "    options %s\n", quoteIfNeeded(s.BootOptions.String()))
	}
	if s.AddBootOptions != nil && s.AddBootOptions.String() != "" {
		fmt.Fprintf(&b, "    add_options %s\n", quoteIfNeeded(s.AddBootOptions.String()))
	}
	if s.IsDisabled {
		b.WriteString("    disabled\n")
	}
	b.WriteString("}\n")

	return b.String()
}

func quoteIfNeeded(s string) string {
	if strings.ContainsAny(s, " \t") {
		return `"` + s + `"`
	}
	return s
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n") + "\n"
}
