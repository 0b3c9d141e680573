package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/refind-btrfs-snapshots/internal/btrfsutil"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/runner"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/subvolume"
)

func at(t *testing.T, offsetMinutes int) time.Time {
	t.Helper()
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(offsetMinutes) * time.Minute)
}

func TestSelectSortsDescendingAndBoundsCount(t *testing.T) {
	a := &subvolume.Subvolume{UUID: uuid.New(), TimeCreated: at(t, 1)}
	b := &subvolume.Subvolume{UUID: uuid.New(), TimeCreated: at(t, 3)}
	c := &subvolume.Subvolume{UUID: uuid.New(), TimeCreated: at(t, 2)}

	selected := Select([]*subvolume.Subvolume{a, b, c}, 2)
	require.Len(t, selected, 2)
	assert.Equal(t, b.UUID, selected[0].UUID)
	assert.Equal(t, c.UUID, selected[1].UUID)
}

func TestSelectUnboundedCountReturnsAll(t *testing.T) {
	a := &subvolume.Subvolume{UUID: uuid.New(), TimeCreated: at(t, 1)}
	b := &subvolume.Subvolume{UUID: uuid.New(), TimeCreated: at(t, 2)}

	selected := Select([]*subvolume.Subvolume{a, b}, 0)
	assert.Len(t, selected, 2)
}

func TestClassifyComputesAdditionsAndRemovals(t *testing.T) {
	kept := &subvolume.Subvolume{UUID: uuid.New(), TimeCreated: at(t, 1)}
	fresh := &subvolume.Subvolume{UUID: uuid.New(), TimeCreated: at(t, 2)}
	stale := &subvolume.Subvolume{UUID: uuid.New(), TimeCreated: at(t, 0)}

	additions, removals := Classify([]*subvolume.Subvolume{kept, fresh}, []*subvolume.Subvolume{kept, stale}, nil)

	require.Len(t, additions, 1)
	assert.Equal(t, fresh.UUID, additions[0].UUID)
	require.Len(t, removals, 1)
	assert.Equal(t, stale.UUID, removals[0].UUID)
}

func TestClassifySkipsProducedFromSelectedSource(t *testing.T) {
	source := &subvolume.Subvolume{UUID: uuid.New(), TimeCreated: at(t, 1)}
	produced := source.ToDestination("/dest", source)

	additions, _ := Classify([]*subvolume.Subvolume{source}, []*subvolume.Subvolume{produced}, nil)
	assert.Empty(t, additions, "a bootable snapshot produced from a still-selected source is not a fresh addition")
}

func TestClassifyHonoursCleanupExclusion(t *testing.T) {
	stale := &subvolume.Subvolume{UUID: uuid.New(), TimeCreated: at(t, 0)}

	_, removals := Classify(nil, []*subvolume.Subvolume{stale}, []uuid.UUID{stale.UUID})
	assert.Empty(t, removals, "excluded subvolumes are never proposed for removal")
}

func TestMergeAppliesRemovalsAndAdditions(t *testing.T) {
	kept := &subvolume.Subvolume{UUID: uuid.New()}
	removed := &subvolume.Subvolume{UUID: uuid.New()}
	promoted := &subvolume.Subvolume{UUID: uuid.New()}

	merged := Merge([]*subvolume.Subvolume{kept, removed}, []*subvolume.Subvolume{promoted}, []*subvolume.Subvolume{removed})

	require.Len(t, merged, 2)
	ids := []uuid.UUID{merged[0].UUID, merged[1].UUID}
	assert.Contains(t, ids, kept.UUID)
	assert.Contains(t, ids, promoted.UUID)
}

func writeFstab(t *testing.T, snapshotDir, options string) {
	t.Helper()
	etcDir := filepath.Join(snapshotDir, "etc")
	require.NoError(t, os.MkdirAll(etcDir, 0o755))
	content := "UUID=1111 / btrfs " + options + " 0 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(etcDir, "fstab"), []byte(content), 0o644))
}

func TestPromoteFlipsReadOnlyWhenFstabMatchesLiveRoot(t *testing.T) {
	live := &subvolume.Subvolume{LogicalPath: "@", NumID: 256}

	snapshotDir := t.TempDir()
	writeFstab(t, snapshotDir, "subvol=/@,subvolid=256")

	sigma := &subvolume.Subvolume{
		FilesystemPath: snapshotDir,
		LogicalPath:    "@snapshots/1/snapshot",
		NumID:          512,
		UUID:           uuid.New(),
		IsReadOnly:     true,
	}

	adapter := btrfsutil.New(&runner.DryRunner{})
	bootable, warnings := Promote(adapter, live, []*subvolume.Subvolume{sigma}, true, "")

	assert.Empty(t, warnings)
	require.Len(t, bootable, 1)
	assert.False(t, bootable[0].IsReadOnly)
}

func TestPromoteDropsCandidateWithMismatchedFstab(t *testing.T) {
	live := &subvolume.Subvolume{LogicalPath: "@", NumID: 256}

	snapshotDir := t.TempDir()
	writeFstab(t, snapshotDir, "subvol=/@,subvolid=999")

	sigma := &subvolume.Subvolume{
		FilesystemPath: snapshotDir,
		LogicalPath:    "@snapshots/1/snapshot",
		NumID:          512,
		UUID:           uuid.New(),
		IsReadOnly:     true,
	}

	adapter := btrfsutil.New(&runner.DryRunner{})
	bootable, warnings := Promote(adapter, live, []*subvolume.Subvolume{sigma}, true, "")

	assert.Empty(t, bootable)
	require.Len(t, warnings, 1)
}

func TestDeleteRemovalsOnlySkipsFlipPromoted(t *testing.T) {
	source := &subvolume.Subvolume{UUID: uuid.New()}
	flipped := source // flip-ro promotion never sets CreatedFrom
	cloned := source.ToDestination(t.TempDir(), source)

	adapter := btrfsutil.New(&runner.DryRunner{})
	warnings := DeleteRemovals(adapter, []*subvolume.Subvolume{flipped, cloned})

	assert.Empty(t, warnings)
}
