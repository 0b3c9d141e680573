package device

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	output []byte
	err    error
}

func (f *fakeRunner) Command(name string, args []string, description string) error { return nil }
func (f *fakeRunner) CommandOutput(name string, args []string, description string) ([]byte, error) {
	return f.output, f.err
}
func (f *fakeRunner) WriteFile(path string, content []byte, perm os.FileMode, description string) error {
	return nil
}
func (f *fakeRunner) MkdirAll(path string, perm os.FileMode, description string) error { return nil }
func (f *fakeRunner) IsDryRun() bool                                                    { return false }

const sampleLsblkJSON = `{
  "blockdevices": [
    {
      "name": "sda",
      "children": [
        {"name": "sda1", "parttype": "0xef", "fstype": "vfat", "mountpoint": "/boot/efi"},
        {"name": "sda2", "parttype": "0x83", "fstype": "btrfs", "mountpoint": "/"}
      ]
    }
  ]
}`

func TestLsblkAdapterFlatten(t *testing.T) {
	r := &fakeRunner{output: []byte(sampleLsblkJSON)}
	a := NewLsblkAdapter(r)

	table, err := a.PhysicalPartitionTable("sda")
	require.NoError(t, err)
	require.Len(t, table.Partitions, 2)
	assert.Equal(t, "sda1", table.Partitions[0].Name)
	assert.NotNil(t, table.ESP())
	assert.NotNil(t, table.Root())
}
