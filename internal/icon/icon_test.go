package icon

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestValidateCustomRejectsUnsupportedExt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "icon.svg")
	writePNG(t, path, 4, 4, color.White)
	err := ValidateCustom(path)
	assert.Error(t, err)
}

func TestValidateCustomAcceptsPNG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "icon.png")
	writePNG(t, path, 4, 4, color.White)
	assert.NoError(t, ValidateCustom(path))
}

func TestResolveDefaultKeepsSourcePath(t *testing.T) {
	r := NewResolver(Spec{Mode: ModeDefault}, "", "", "")
	got, err := r.Resolve("/EFI/refind/icons/os_arch.png")
	require.NoError(t, err)
	assert.Equal(t, "/EFI/refind/icons/os_arch.png", got)
}

func TestEmbedLogoCompositesAndWritesOutput(t *testing.T) {
	refindDir := t.TempDir()
	logoDir := filepath.Join(refindDir, "logos")
	require.NoError(t, os.MkdirAll(logoDir, 0o755))
	outDir := filepath.Join(refindDir, "btrfs-snapshot-stanzas", "icons")

	sourcePath := filepath.Join(refindDir, "icons", "os_arch.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(sourcePath), 0o755))
	writePNG(t, sourcePath, 64, 64, color.White)
	writePNG(t, filepath.Join(logoDir, "btrfs_original_small.png"), 16, 16, color.Black)

	r := NewResolver(Spec{
		Mode: ModeEmbedBtrfsLogo, Variant: VariantOriginal, Size: SizeSmall,
		HAlign: HAlignRight, VAlign: VAlignBottom,
	}, logoDir, outDir, refindDir)

	rel, err := r.Resolve(sourcePath)
	require.NoError(t, err)
	assert.Contains(t, rel, "h-48_v-48")

	_, err = os.Stat(filepath.Join(refindDir, rel))
	assert.NoError(t, err)
}

func TestEmbedLogoErrorsWhenIconSmallerThanLogo(t *testing.T) {
	refindDir := t.TempDir()
	logoDir := filepath.Join(refindDir, "logos")
	require.NoError(t, os.MkdirAll(logoDir, 0o755))

	sourcePath := filepath.Join(refindDir, "os_arch.png")
	writePNG(t, sourcePath, 8, 8, color.White)
	writePNG(t, filepath.Join(logoDir, "btrfs_original_large.png"), 32, 32, color.Black)

	r := NewResolver(Spec{Mode: ModeEmbedBtrfsLogo, Variant: VariantOriginal, Size: SizeLarge}, logoDir, filepath.Join(refindDir, "out"), refindDir)
	_, err := r.Resolve(sourcePath)
	assert.Error(t, err)
}
