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

// Package pkgconfig loads and validates the TOML package configuration of
// spec.md §6.1 via viper, with an indirect pelletier/go-toml/v2 backend.
package pkgconfig

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/jmylchreest/refind-btrfs-snapshots/internal/apperrors"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/icon"
)

// SnapshotSearch is one [[snapshot-search]] table entry.
type SnapshotSearch struct {
	Dir      string `mapstructure:"dir"`
	IsNested bool   `mapstructure:"is_nested"`
	MaxDepth int    `mapstructure:"max_depth"`
}

// SnapshotManipulation is the [snapshot-manipulation] table. SelectionCount
// uses math.MaxInt to represent the "inf" string value.
type SnapshotManipulation struct {
	SelectionCount     int
	ModifyReadOnlyFlag bool        `mapstructure:"modify_read_only_flag"`
	DestinationDir     string      `mapstructure:"destination_dir"`
	CleanupExclusion   []uuid.UUID `mapstructure:"-"`
}

// IsUnboundedSelection reports whether selection_count was "inf".
func (m *SnapshotManipulation) IsUnboundedSelection() bool {
	return m.SelectionCount == math.MaxInt
}

// BtrfsLogo is the [boot-stanza-generation.icon.btrfs-logo] table.
type BtrfsLogo struct {
	Variant            icon.Variant `mapstructure:"variant"`
	Size               icon.Size    `mapstructure:"size"`
	HorizontalAlign    icon.HAlign  `mapstructure:"horizontal_alignment"`
	VerticalAlign      icon.VAlign  `mapstructure:"vertical_alignment"`
}

// IconConfig is the [boot-stanza-generation.icon] table.
type IconConfig struct {
	Mode      string `mapstructure:"mode"`
	Path      string `mapstructure:"path"`
	BtrfsLogo BtrfsLogo `mapstructure:"btrfs-logo"`
}

// ToSpec converts the raw TOML representation to icon.Spec.
func (c IconConfig) ToSpec() (icon.Spec, error) {
	spec := icon.Spec{
		CustomPath: c.Path,
		Variant:    c.BtrfsLogo.Variant,
		Size:       c.BtrfsLogo.Size,
		HAlign:     c.BtrfsLogo.HorizontalAlign,
		VAlign:     c.BtrfsLogo.VerticalAlign,
	}
	switch c.Mode {
	case "", "default":
		spec.Mode = icon.ModeDefault
	case "custom":
		spec.Mode = icon.ModeCustom
		if c.Path == "" {
			return spec, fmt.Errorf("boot-stanza-generation.icon: mode=custom requires path")
		}
	case "embed_btrfs_logo":
		spec.Mode = icon.ModeEmbedBtrfsLogo
	default:
		return spec, fmt.Errorf("boot-stanza-generation.icon: unknown mode %q", c.Mode)
	}
	return spec, nil
}

// BootStanzaGeneration is the [boot-stanza-generation] table.
type BootStanzaGeneration struct {
	RefindConfig    string `mapstructure:"refind_config"`
	IncludePaths    bool   `mapstructure:"include_paths"`
	IncludeSubMenus bool   `mapstructure:"include_sub_menus"`
	Icon            IconConfig `mapstructure:"icon"`
}

// PackageConfig is the full TOML configuration of spec.md §6.1.
type PackageConfig struct {
	ExitIfRootIsSnapshot        bool             `mapstructure:"exit_if_root_is_snapshot"`
	ExitIfNoChangesAreDetected  bool             `mapstructure:"exit_if_no_changes_are_detected"`
	ESPUUID                     string           `mapstructure:"esp_uuid"`
	SnapshotSearch              []SnapshotSearch `mapstructure:"snapshot-search"`
	SnapshotManipulation        SnapshotManipulation `mapstructure:"snapshot-manipulation"`
	BootStanzaGeneration        BootStanzaGeneration `mapstructure:"boot-stanza-generation"`
}

// knownKeys lists the recognized top-level keys; any other top-level key
// present in the file is a fatal schema-validation error per spec §6.1.
// Keys inside the nested tables are not checked against a list.
var knownKeys = map[string]bool{
	"exit_if_root_is_snapshot":        true,
	"exit_if_no_changes_are_detected": true,
	"esp_uuid":                        true,
	"snapshot-search":                 true,
	"snapshot-manipulation":           true,
	"boot-stanza-generation":          true,
}

// Load reads and validates the package configuration from v (already
// pointed at the config file via SetConfigFile/AddConfigPath + ReadInConfig).
func Load(v *viper.Viper) (*PackageConfig, error) {
	if err := validateKnownKeys(v); err != nil {
		return nil, apperrors.PackageConfigError(v.ConfigFileUsed(), err)
	}

	var cfg PackageConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.PackageConfigError(v.ConfigFileUsed(), err)
	}

	selectionRaw := v.Get("snapshot-manipulation.selection_count")
	count, err := parseSelectionCount(selectionRaw)
	if err != nil {
		return nil, apperrors.PackageConfigError(v.ConfigFileUsed(), err)
	}
	cfg.SnapshotManipulation.SelectionCount = count

	exclusion, err := parseCleanupExclusion(v.GetStringSlice("snapshot-manipulation.cleanup_exclusion"))
	if err != nil {
		return nil, apperrors.PackageConfigError(v.ConfigFileUsed(), err)
	}
	cfg.SnapshotManipulation.CleanupExclusion = exclusion

	if err := validate(&cfg); err != nil {
		return nil, apperrors.PackageConfigError(v.ConfigFileUsed(), err)
	}

	return &cfg, nil
}

func validateKnownKeys(v *viper.Viper) error {
	for _, k := range v.AllKeys() {
		top := strings.SplitN(k, ".", 2)[0]
		if !knownKeys[top] {
			return fmt.Errorf("unknown configuration option %q", k)
		}
	}
	return nil
}

func parseSelectionCount(raw any) (int, error) {
	switch v := raw.(type) {
	case string:
		if strings.EqualFold(v, "inf") {
			return math.MaxInt, nil
		}
		return 0, fmt.Errorf("selection_count: invalid string %q, only \"inf\" is accepted", v)
	case int:
		if v <= 0 {
			return 0, fmt.Errorf("selection_count: must be > 0, got %d", v)
		}
		return v, nil
	case int64:
		return parseSelectionCount(int(v))
	case float64:
		return parseSelectionCount(int(v))
	case nil:
		return 0, fmt.Errorf("selection_count: required")
	default:
		return 0, fmt.Errorf("selection_count: unsupported type %T", raw)
	}
}

func parseCleanupExclusion(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			return nil, fmt.Errorf("cleanup_exclusion: empty UUID not allowed")
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("cleanup_exclusion: %w", err)
		}
		out = append(out, id)
	}
	return out, nil
}

func validate(cfg *PackageConfig) error {
	if cfg.ESPUUID != "" {
		if _, err := uuid.Parse(cfg.ESPUUID); err != nil {
			return fmt.Errorf("esp_uuid: %w", err)
		}
	}
	for _, s := range cfg.SnapshotSearch {
		if s.MaxDepth <= 0 {
			return fmt.Errorf("snapshot-search[%s]: max_depth must be > 0", s.Dir)
		}
	}
	if _, err := cfg.BootStanzaGeneration.Icon.ToSpec(); err != nil {
		return err
	}
	return nil
}

// New returns a viper.Viper preconfigured for the TOML schema, defaulting
// to the package-wide configuration path.
func New(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigFile("/etc/refind-btrfs-snapshots.conf")
	}
	return v
}
