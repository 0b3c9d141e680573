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

// Package icon implements the "Icon command" adapter of spec.md §6:
// validating a custom icon and compositing the bundled Btrfs logo onto an
// existing PNG icon. No third-party image library appears anywhere in the
// example pack this module draws from, so this is the one ambient concern
// built on the standard library (image/image/draw/image/png) alone.
package icon

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"
)

// Mode tags one of the three icon-handling strategies of PackageConfig's
// BootStanzaGeneration.Icon.
type Mode int

const (
	ModeDefault Mode = iota
	ModeCustom
	ModeEmbedBtrfsLogo
)

type Variant string

const (
	VariantOriginal Variant = "original"
	VariantInverted Variant = "inverted"
)

type Size string

const (
	SizeSmall  Size = "small"
	SizeMedium Size = "medium"
	SizeLarge  Size = "large"
)

type HAlign string

const (
	HAlignLeft   HAlign = "left"
	HAlignCenter HAlign = "center"
	HAlignRight  HAlign = "right"
)

type VAlign string

const (
	VAlignTop    VAlign = "top"
	VAlignCenter VAlign = "center"
	VAlignBottom VAlign = "bottom"
)

// Spec mirrors PackageConfig's [boot-stanza-generation.icon] table.
type Spec struct {
	Mode       Mode
	CustomPath string
	Variant    Variant
	Size       Size
	HAlign     HAlign
	VAlign     VAlign
}

var allowedCustomExt = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true, ".icns": true,
}

// ValidateCustom checks that path exists and has an extension in
// {PNG,JPEG,BMP,ICNS}.
func ValidateCustom(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !allowedCustomExt[ext] {
		return fmt.Errorf("icon %q: unsupported format %q", path, ext)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("icon %q: %w", path, err)
	}
	return nil
}

// logoFileName names the bundled logo PNG for a given variant/size, e.g.
// "btrfs_original_small.png", resolved against logoDir.
func logoFileName(variant Variant, size Size) string {
	return fmt.Sprintf("btrfs_%s_%s.png", variant, size)
}

// Resolver implements migrate.IconResolver, dispatching on Spec.Mode.
type Resolver struct {
	Spec               Spec
	LogoDir            string // directory holding the bundled btrfs_*.png assets
	OutputDir          string // {refind-dir}/{generated-stanzas-dir}/icons
	RefindDir          string // base directory icon paths are made relative to
}

func NewResolver(spec Spec, logoDir, outputDir, refindDir string) *Resolver {
	return &Resolver{Spec: spec, LogoDir: logoDir, OutputDir: outputDir, RefindDir: refindDir}
}

// Resolve implements the icon dispatch of spec §4.3 step 5.
func (r *Resolver) Resolve(sourceIconPath string) (string, error) {
	switch r.Spec.Mode {
	case ModeDefault:
		return sourceIconPath, nil

	case ModeCustom:
		if err := ValidateCustom(r.Spec.CustomPath); err != nil {
			return "", err
		}
		rel, err := filepath.Rel(r.RefindDir, r.Spec.CustomPath)
		if err != nil {
			return "", err
		}
		return rel, nil

	case ModeEmbedBtrfsLogo:
		return r.embedLogo(sourceIconPath)

	default:
		return sourceIconPath, nil
	}
}

// embedLogo composites the configured logo over sourceIconPath at the
// configured alignment, writing the result under OutputDir and returning
// its path relative to RefindDir.
func (r *Resolver) embedLogo(sourceIconPath string) (string, error) {
	logoPath := filepath.Join(r.LogoDir, logoFileName(r.Spec.Variant, r.Spec.Size))

	base, err := decodePNG(sourceIconPath)
	if err != nil {
		return "", fmt.Errorf("decode source icon %q: %w", sourceIconPath, err)
	}
	logo, err := decodePNG(logoPath)
	if err != nil {
		return "", fmt.Errorf("decode logo %q: %w", logoPath, err)
	}

	baseBounds := base.Bounds()
	logoBounds := logo.Bounds()
	if baseBounds.Dx() < logoBounds.Dx() || baseBounds.Dy() < logoBounds.Dy() {
		return "", fmt.Errorf("icon %q (%dx%d) is smaller than logo %q (%dx%d)",
			sourceIconPath, baseBounds.Dx(), baseBounds.Dy(), logoPath, logoBounds.Dx(), logoBounds.Dy())
	}

	h := alignOffset(r.Spec.HAlign, baseBounds.Dx(), logoBounds.Dx())
	v := alignOffset(r.Spec.VAlign, baseBounds.Dy(), logoBounds.Dy())

	composed := image.NewRGBA(baseBounds)
	draw.Draw(composed, baseBounds, base, image.Point{}, draw.Src)
	destRect := image.Rect(h, v, h+logoBounds.Dx(), v+logoBounds.Dy())
	draw.Draw(composed, destRect, logo, logoBounds.Min, draw.Over)

	base2 := strings.TrimSuffix(filepath.Base(sourceIconPath), filepath.Ext(sourceIconPath))
	outName := fmt.Sprintf("%s_%s_h-%d_v-%d.png", base2, r.Spec.Variant, h, v)
	outPath := filepath.Join(r.OutputDir, outName)

	if err := os.MkdirAll(r.OutputDir, 0o755); err != nil {
		return "", err
	}
	if err := encodePNG(outPath, composed); err != nil {
		return "", err
	}

	rel, err := filepath.Rel(r.RefindDir, outPath)
	if err != nil {
		return "", err
	}
	return rel, nil
}

// alignOffset computes min=0, mid=(container-content)/2, max=container-content.
func alignOffset(align any, container, content int) int {
	switch a := align.(type) {
	case HAlign:
		switch a {
		case HAlignLeft:
			return 0
		case HAlignCenter:
			return (container - content) / 2
		case HAlignRight:
			return container - content
		}
	case VAlign:
		switch a {
		case VAlignTop:
			return 0
		case VAlignCenter:
			return (container - content) / 2
		case VAlignBottom:
			return container - content
		}
	}
	return 0
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}

func encodePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
