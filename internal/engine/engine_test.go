package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/refind-btrfs-snapshots/internal/bootopts"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/refindcfg"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/subvolume"
)

func at(offsetMinutes int) time.Time {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(offsetMinutes) * time.Minute)
}

func mustParseOpts(t *testing.T, s string) *bootopts.BootOptions {
	t.Helper()
	opts, err := bootopts.Parse(s)
	require.NoError(t, err)
	return opts
}

func TestDiskNameFromPartition(t *testing.T) {
	assert.Equal(t, "sda", diskNameFromPartition("sda1"))
	assert.Equal(t, "nvme0n1", diskNameFromPartition("nvme0n1p3"))
	assert.Equal(t, "sda", diskNameFromPartition("sda"))
}

func TestOptsMatchRequiresRootFlags(t *testing.T) {
	live := &subvolume.Subvolume{LogicalPath: "@", NumID: 256}

	matching := mustParseOpts(t, `root=UUID=1111 rootflags=subvol=/@,subvolid=256`)
	assert.True(t, optsMatch(matching, live))

	mismatched := mustParseOpts(t, `rootflags=subvol=/@other,subvolid=300`)
	assert.False(t, optsMatch(mismatched, live))

	assert.False(t, optsMatch(nil, live))

	noRootFlags := mustParseOpts(t, `root=UUID=1111`)
	assert.False(t, optsMatch(noRootFlags, live))
}

func TestMatchEntriesFiltersByRootAndUsability(t *testing.T) {
	live := &subvolume.Subvolume{LogicalPath: "@", NumID: 256}

	matching := &refindcfg.BootEntry{
		Name: "Arch Linux", Volume: "EFI", LoaderPath: "/vmlinuz", InitrdPath: "/initrd.img",
		BootOptions: mustParseOpts(t, "rootflags=subvol=/@,subvolid=256"),
	}
	notUsable := &refindcfg.BootEntry{
		Name: "No initrd", Volume: "EFI", LoaderPath: "/vmlinuz-min",
		BootOptions: mustParseOpts(t, "rootflags=subvol=/@,subvolid=256"),
	}
	unrelated := &refindcfg.BootEntry{
		Name: "Windows", Volume: "EFI", LoaderPath: "/bootmgfw.efi", InitrdPath: "",
	}

	cfg := &refindcfg.BootConfig{
		Path:    "/esp/EFI/refind/refind.conf",
		Entries: []*refindcfg.BootEntry{matching, notUsable, unrelated},
	}

	matched, err := matchEntries(cfg, live)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, matching, matched[0])
}

func TestMatchEntriesSkipsGeneratedIncludes(t *testing.T) {
	live := &subvolume.Subvolume{LogicalPath: "@", NumID: 256}

	entry := &refindcfg.BootEntry{
		Name: "Arch Linux", Volume: "EFI", LoaderPath: "/vmlinuz", InitrdPath: "/initrd.img",
		BootOptions: mustParseOpts(t, "rootflags=subvol=/@,subvolid=256"),
	}
	generated := &refindcfg.BootConfig{
		Path:    filepath.Join("/esp/EFI/refind", GeneratedStanzasDirName, "efi_vmlinuz.conf"),
		Entries: []*refindcfg.BootEntry{entry},
	}
	main := &refindcfg.BootConfig{
		Path:     "/esp/EFI/refind/refind.conf",
		Includes: []*refindcfg.BootConfig{generated},
	}

	_, err := matchEntries(main, live)
	assert.Error(t, err, "an entry reachable only through a generated include must not satisfy the matched-entries guard")
}

func TestCombineDropsPairsMissingBootFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	live := &subvolume.Subvolume{LogicalPath: "@", FilesystemPath: "/"}

	complete := &subvolume.Subvolume{LogicalPath: "@snapshots/1/snapshot", FilesystemPath: "/snapshots/1/snapshot"}
	missingInitrd := &subvolume.Subvolume{LogicalPath: "@snapshots/2/snapshot", FilesystemPath: "/snapshots/2/snapshot"}

	require.NoError(t, afero.WriteFile(fs, "/snapshots/1/snapshot/vmlinuz", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/snapshots/1/snapshot/initrd.img", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/snapshots/2/snapshot/vmlinuz", []byte("x"), 0o644))

	entry := &refindcfg.BootEntry{Name: "Arch Linux", Volume: "EFI", LoaderPath: "/vmlinuz", InitrdPath: "/initrd.img"}

	pairs := combine(fs, []*refindcfg.BootEntry{entry}, live, []*subvolume.Subvolume{complete, missingInitrd})

	require.Len(t, pairs, 1)
	assert.Equal(t, complete.LogicalPath, pairs[0].Snapshot.LogicalPath)
}

func TestCombineMarksLatestSnapshot(t *testing.T) {
	fs := afero.NewMemMapFs()
	live := &subvolume.Subvolume{LogicalPath: "@", FilesystemPath: "/"}

	older := &subvolume.Subvolume{UUID: uuid.New(), LogicalPath: "@snapshots/1/snapshot", FilesystemPath: "/snapshots/1/snapshot", TimeCreated: at(0)}
	newer := &subvolume.Subvolume{UUID: uuid.New(), LogicalPath: "@snapshots/2/snapshot", FilesystemPath: "/snapshots/2/snapshot", TimeCreated: at(1)}

	for _, dir := range []string{"/snapshots/1/snapshot", "/snapshots/2/snapshot"} {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "vmlinuz"), []byte("x"), 0o644))
		require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "initrd.img"), []byte("x"), 0o644))
	}

	entry := &refindcfg.BootEntry{Name: "Arch Linux", Volume: "EFI", LoaderPath: "/vmlinuz", InitrdPath: "/initrd.img"}
	pairs := combine(fs, []*refindcfg.BootEntry{entry}, live, []*subvolume.Subvolume{older, newer})

	require.Len(t, pairs, 2)
	for _, p := range pairs {
		assert.Equal(t, p.Snapshot.LogicalPath == newer.LogicalPath, p.IsLatest)
	}
}

func TestEmittedFilenameIsStableAcrossSnapshots(t *testing.T) {
	entry := &refindcfg.BootEntry{Volume: "EFI System Partition", LoaderPath: "/vmlinuz-linux"}
	assert.Equal(t, emittedFilename(entry), emittedFilename(entry))
	assert.Equal(t, "efi_system_partition_vmlinuz-linux.conf", emittedFilename(entry))
}

func TestNormalizeVolumeForFilenameReplacesNonAlphanumeric(t *testing.T) {
	assert.Equal(t, "efi_system_partition", normalizeVolumeForFilename("EFI System-Partition"))
}

func TestLocateRefindConfigTriesConventionalPaths(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/esp/EFI/BOOT/refind.conf", []byte(""), 0o644))

	path, err := locateRefindConfig(fs, "/esp", "")
	require.NoError(t, err)
	assert.Equal(t, "/esp/EFI/BOOT/refind.conf", path)
}

func TestLocateRefindConfigMissingIsError(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := locateRefindConfig(fs, "/esp", "")
	assert.Error(t, err)
}
