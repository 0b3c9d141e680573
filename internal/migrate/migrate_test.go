package migrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/refind-btrfs-snapshots/internal/bootopts"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/refindcfg"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/subvolume"
)

func mustOpts(t *testing.T, s string) *bootopts.BootOptions {
	t.Helper()
	bo, err := bootopts.Parse(s)
	require.NoError(t, err)
	return bo
}

func liveAndSnap(t *testing.T) (*subvolume.Subvolume, *subvolume.Subvolume) {
	t.Helper()
	live := &subvolume.Subvolume{LogicalPath: "@", NumID: 256}
	snap := (&subvolume.Subvolume{
		LogicalPath: "@snapshots/1/snapshot",
		NumID:       512,
		TimeCreated: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	return live, snap
}

func TestEntryMigratesRootflagsAndPaths(t *testing.T) {
	live, snap := liveAndSnap(t)

	e := &refindcfg.BootEntry{
		Name:        `"Arch Linux"`,
		Volume:      "ROOT",
		LoaderPath:  "/@/boot/vmlinuz-linux",
		InitrdPath:  "/@/boot/initramfs-linux.img",
		BootOptions: mustOpts(t, `"root=UUID=1234 rootflags=subvol=@,subvolid=256 quiet"`),
	}

	out, err := Entry(e, live, snap, Options{IncludePaths: true}, true)
	require.NoError(t, err)

	assert.Contains(t, out.Name, "(")
	assert.Equal(t, "/@snapshots/1/snapshot/boot/vmlinuz-linux", out.LoaderPath)
	assert.Equal(t, "/@snapshots/1/snapshot/boot/initramfs-linux.img", out.InitrdPath)

	rf := out.BootOptions.RootFlags()
	require.NotNil(t, rf)
	subvol, ok := rf.Subvol()
	assert.True(t, ok)
	assert.Equal(t, "@snapshots/1/snapshot", subvol)
	id, ok := rf.SubvolID()
	assert.True(t, ok)
	assert.Equal(t, int64(512), id)
}

func TestEntryKeepsPathsWhenIncludePathsFalse(t *testing.T) {
	live, snap := liveAndSnap(t)

	e := &refindcfg.BootEntry{
		LoaderPath:  "/@/boot/vmlinuz-linux",
		InitrdPath:  "/@/boot/initramfs-linux.img",
		BootOptions: mustOpts(t, `"rootflags=subvol=@,subvolid=256"`),
	}

	out, err := Entry(e, live, snap, Options{IncludePaths: false}, false)
	require.NoError(t, err)
	assert.Equal(t, e.LoaderPath, out.LoaderPath)
	assert.Equal(t, e.InitrdPath, out.InitrdPath)
}

func TestEntryKeepsPathsWithSeparateBoot(t *testing.T) {
	live, snap := liveAndSnap(t)

	e := &refindcfg.BootEntry{
		LoaderPath:  "/@/boot/vmlinuz-linux",
		BootOptions: mustOpts(t, `"rootflags=subvol=@,subvolid=256"`),
	}

	out, err := Entry(e, live, snap, Options{IncludePaths: true, HasSeparateBoot: true}, true)
	require.NoError(t, err)
	assert.Equal(t, e.LoaderPath, out.LoaderPath)
}

func TestMigrateNameAppendsWhenNoPriorSuffix(t *testing.T) {
	_, snap := liveAndSnap(t)
	got := migrateName(`"Arch Linux"`, snap)
	assert.Contains(t, got, `"Arch Linux"`)
	assert.Contains(t, got, "(")
}

func TestMigrateNameReplacesPriorSuffix(t *testing.T) {
	_, snap := liveAndSnap(t)
	prior := `"Arch Linux (rosnap_2023-05-01_00-00-00_ID99)"`
	got := migrateName(prior, snap)
	assert.NotContains(t, got, "2023-05-01")
}

func TestSubEntryInheritsParentPathsWhenNotLatest(t *testing.T) {
	live, snap := liveAndSnap(t)

	e := &refindcfg.BootEntry{
		LoaderPath:  "/@/boot/vmlinuz-linux",
		InitrdPath:  "/@/boot/initramfs-linux.img",
		BootOptions: mustOpts(t, `"rootflags=subvol=@,subvolid=256"`),
		SubEntries: []*refindcfg.SubEntry{
			{Name: "Fallback", LoaderPath: "/@/boot/vmlinuz-linux", InitrdPath: "/@/boot/initramfs-linux-fallback.img",
				BootOptions: &bootopts.BootOptions{}, AddBootOptions: &bootopts.BootOptions{}},
		},
	}

	out, err := Entry(e, live, snap, Options{IncludePaths: true, IncludeSubMenus: true}, false)
	require.NoError(t, err)
	require.Len(t, out.SubEntries, 1)
	assert.Equal(t, out.LoaderPath, out.SubEntries[0].LoaderPath)
	assert.Equal(t, out.InitrdPath, out.SubEntries[0].InitrdPath)
}
