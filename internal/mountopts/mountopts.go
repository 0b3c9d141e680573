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

// Package mountopts models a comma-separated mount option string that
// round-trips through parse/format preserving token order.
package mountopts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	SubvolOption   = "subvol"
	SubvolIDOption = "subvolid"
)

// token is a single mount option, either bare ("ssd") or parameterized
// ("subvol=@").
type token struct {
	name  string
	value string
	param bool
}

// MountOptions is an ordered collection of option tokens.
type MountOptions struct {
	tokens []token
}

// Parse splits a comma-separated mount option string into an ordered
// MountOptions. Duplicate parameterized names are a fatal parse error.
func Parse(s string) (*MountOptions, error) {
	mo := &MountOptions{}
	seen := make(map[string]bool)

	if strings.TrimSpace(s) == "" {
		return mo, nil
	}

	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		if idx := strings.IndexByte(raw, '='); idx >= 0 {
			name := raw[:idx]
			value := raw[idx+1:]

			if seen[name] {
				return nil, fmt.Errorf("duplicate mount option %q", name)
			}
			seen[name] = true

			mo.tokens = append(mo.tokens, token{name: name, value: value, param: true})
		} else {
			mo.tokens = append(mo.tokens, token{name: raw})
		}
	}

	return mo, nil
}

// String rebuilds the comma-separated option string preserving parse order.
func (m *MountOptions) String() string {
	parts := make([]string, 0, len(m.tokens))
	for _, t := range m.tokens {
		if t.param {
			parts = append(parts, t.name+"="+t.value)
		} else {
			parts = append(parts, t.name)
		}
	}
	return strings.Join(parts, ",")
}

// Get returns the value of a parameterized option and whether it is present.
func (m *MountOptions) Get(name string) (string, bool) {
	for _, t := range m.tokens {
		if t.param && t.name == name {
			return t.value, true
		}
	}
	return "", false
}

// Set updates a parameterized option in place, preserving its position, or
// appends it if absent.
func (m *MountOptions) Set(name, value string) {
	for i, t := range m.tokens {
		if t.param && t.name == name {
			m.tokens[i].value = value
			return
		}
	}
	m.tokens = append(m.tokens, token{name: name, value: value, param: true})
}

// Subvol returns the "subvol" value, if present.
func (m *MountOptions) Subvol() (string, bool) { return m.Get(SubvolOption) }

// SubvolID returns the "subvolid" value parsed as an integer, if present.
func (m *MountOptions) SubvolID() (int64, bool) {
	v, ok := m.Get(SubvolIDOption)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// logicalPathsMatch compares a subvol= value to a subvolume's logical path,
// ignoring a leading separator on either side.
func logicalPathsMatch(subvolValue, logicalPath string) bool {
	return strings.TrimPrefix(subvolValue, "/") == strings.TrimPrefix(logicalPath, "/")
}

// Matches reports whether these options identify the given subvolume by
// subvol= path or subvolid= numeric id.
func (m *MountOptions) Matches(logicalPath string, numID int64) bool {
	if v, ok := m.Subvol(); ok && logicalPathsMatch(v, logicalPath) {
		return true
	}
	if id, ok := m.SubvolID(); ok && id == numID {
		return true
	}
	return false
}

// rootPartPattern anchors a substitution of a leading path segment: an
// optional leading separator, then exactly the source path, then a
// separator or end of string.
func rootPartPattern(sourceLogicalPath string) *regexp.Regexp {
	trimmed := strings.TrimPrefix(sourceLogicalPath, "/")
	escaped := regexp.QuoteMeta(trimmed)
	return regexp.MustCompile(`(?P<prefix>^/?)` + escaped + `(?P<sep>/|$)`)
}

// ReplaceRootPartIn substitutes the leading path segment equal to
// fromLogicalPath with toLogicalPath in p, normalizing backslashes to
// forward slashes and collapsing a run of leading separators to one.
func ReplaceRootPartIn(p, fromLogicalPath, toLogicalPath string) string {
	normalized := strings.ReplaceAll(p, `\`, "/")
	pattern := rootPartPattern(fromLogicalPath)
	replacement := "${prefix}" + strings.TrimPrefix(toLogicalPath, "/") + "${sep}"
	result := pattern.ReplaceAllString(normalized, replacement)
	for strings.HasPrefix(result, "//") {
		result = result[1:]
	}
	return result
}

// MigrateFromTo rewrites subvol= and subvolid= from the source subvolume's
// identity to the destination's. It is strict: it checks Matches itself and
// returns an error, changing nothing, when these options do not match the
// source.
func (m *MountOptions) MigrateFromTo(fromLogicalPath string, fromNumID int64, toLogicalPath string, toNumID int64) error {
	if !m.Matches(fromLogicalPath, fromNumID) {
		return fmt.Errorf("mount options do not match source subvolume %q (id %d)", fromLogicalPath, fromNumID)
	}

	if v, ok := m.Subvol(); ok {
		if strings.HasPrefix(v, "/") {
			m.Set(SubvolOption, "/"+strings.TrimPrefix(toLogicalPath, "/"))
		} else {
			m.Set(SubvolOption, strings.TrimPrefix(toLogicalPath, "/"))
		}
	}
	if _, ok := m.SubvolID(); ok {
		m.Set(SubvolIDOption, strconv.FormatInt(toNumID, 10))
	}

	return nil
}

// Clone returns a deep copy.
func (m *MountOptions) Clone() *MountOptions {
	clone := &MountOptions{tokens: make([]token, len(m.tokens))}
	copy(clone.tokens, m.tokens)
	return clone
}
