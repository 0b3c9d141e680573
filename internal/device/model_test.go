package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestESPUniqueMatch(t *testing.T) {
	table := &PartitionTable{Partitions: []*Partition{
		{Name: "sda1", PartType: "0xef", Filesystem: &Filesystem{Type: ESPFSType, MountPoint: "/boot/efi"}},
		{Name: "sda2", PartType: "0x83", Filesystem: &Filesystem{Type: BtrfsFSType, MountPoint: "/"}},
	}}

	esp := table.ESP()
	if assert.NotNil(t, esp) {
		assert.Equal(t, "sda1", esp.Name)
	}
	root := table.Root()
	if assert.NotNil(t, root) {
		assert.Equal(t, "sda2", root.Name)
	}
	assert.Nil(t, table.Boot())
}

func TestESPCollapsesToAbsentWhenAmbiguous(t *testing.T) {
	table := &PartitionTable{Partitions: []*Partition{
		{Name: "sda1", PartType: "0xef", Filesystem: &Filesystem{Type: ESPFSType, MountPoint: "/boot/efi"}},
		{Name: "sdb1", PartType: "EF", Filesystem: &Filesystem{Type: ESPFSType, MountPoint: "/boot/efi2"}},
	}}

	assert.Nil(t, table.ESP())
}

func TestESPGPTGuidMatch(t *testing.T) {
	table := &PartitionTable{Partitions: []*Partition{
		{Name: "sda1", PartType: ESPPartTypeGPT, Filesystem: &Filesystem{Type: ESPFSType, MountPoint: "/boot/efi"}},
	}}
	assert.NotNil(t, table.ESP())
}

func TestRootRequiresMount(t *testing.T) {
	table := &PartitionTable{Partitions: []*Partition{
		{Name: "sda2", Filesystem: &Filesystem{Type: BtrfsFSType, MountPoint: ""}},
	}}
	assert.Nil(t, table.Root())
}
