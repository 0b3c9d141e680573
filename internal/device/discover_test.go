package device

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscovererFallsBackToProc(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, mountinfoPath, []byte(sampleMountinfo), 0o444))

	r := &fakeRunner{err: errors.New("exec: \"findmnt\": executable file not found in $PATH")}
	d := NewDiscoverer(r, fs)

	table, err := d.LivePartitionTable()
	require.NoError(t, err)
	assert.NotNil(t, table.Root())
}

func TestDiscovererPrefersFindmnt(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := &fakeRunner{output: []byte(sampleFindmntJSON)}
	d := NewDiscoverer(r, fs)

	table, err := d.LivePartitionTable()
	require.NoError(t, err)
	assert.Equal(t, PartitionTableTypeMTAB, table.Type)
	assert.NotNil(t, table.Root())
}
