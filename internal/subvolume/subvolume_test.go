package subvolume

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func mustTime(s string) time.Time {
	t, err := time.Parse("2006-01-02_15-04-05", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDerivedName(t *testing.T) {
	sv := &Subvolume{
		TimeCreated: mustTime("2024-01-02_03-04-05"),
		NumID:       42,
		IsReadOnly:  true,
		ParentUUID:  uuid.New(),
	}
	assert.Equal(t, "rosnap_2024-01-02_03-04-05_ID42", sv.DerivedName())
}

func TestDerivedNameWritableSubvol(t *testing.T) {
	sv := &Subvolume{TimeCreated: mustTime("2024-01-02_03-04-05"), NumID: 5}
	assert.Equal(t, "rwsubvol_2024-01-02_03-04-05_ID5", sv.DerivedName())
}

func TestEqualityByUUID(t *testing.T) {
	id := uuid.New()
	a := &Subvolume{UUID: id, NumID: 1}
	b := &Subvolume{UUID: id, NumID: 2}
	assert.True(t, a.Equal(b))
}

func TestOrderingUsesCreatedFromTime(t *testing.T) {
	source := &Subvolume{TimeCreated: mustTime("2020-01-01_00-00-00")}
	clone := (&Subvolume{TimeCreated: mustTime("2024-01-01_00-00-00")}).AsNewlyCreatedFrom(source)
	other := &Subvolume{TimeCreated: mustTime("2021-01-01_00-00-00")}

	assert.True(t, clone.Less(other))
	assert.False(t, other.Less(clone))
}

func TestBuilderChain(t *testing.T) {
	source := &Subvolume{TimeCreated: mustTime("2024-01-01_00-00-00"), NumID: 7, IsReadOnly: true}
	promoted := source.ToDestination("/.refind-btrfs-snapshots", source).AsWritable()

	assert.False(t, promoted.IsReadOnly)
	assert.True(t, promoted.IsNewlyCreated())
	assert.Contains(t, promoted.FilesystemPath, "/.refind-btrfs-snapshots/")
}
