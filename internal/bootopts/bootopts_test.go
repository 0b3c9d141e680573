package bootopts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	bo, err := Parse(`"ro rootflags=subvol=@,subvolid=256 initrd=/@/boot/initramfs.img quiet"`)
	require.NoError(t, err)

	root, ok := bo.Root()
	assert.False(t, ok)
	assert.Empty(t, root)
	assert.Equal(t, []string{"/@/boot/initramfs.img"}, bo.Initrds())
	assert.Equal(t, "ro rootflags=subvol=@,subvolid=256 initrd=/@/boot/initramfs.img quiet", bo.String())
}

func TestParseDuplicateRootFlagsIsFatal(t *testing.T) {
	_, err := Parse("rootflags=subvol=@ rootflags=subvol=@s1")
	assert.Error(t, err)
}

func TestMigrateFromTo(t *testing.T) {
	bo, err := Parse("rootflags=subvol=@,subvolid=256 initrd=/@/boot/initramfs.img")
	require.NoError(t, err)

	require.NoError(t, bo.MigrateFromTo("@", 256, "@s1", 257, true))
	assert.Equal(t, "rootflags=subvol=@s1,subvolid=257 initrd=/@s1/boot/initramfs.img", bo.String())
}

func TestMigrateFromToNoPathRewriteWhenIncludePathsFalse(t *testing.T) {
	bo, err := Parse("rootflags=subvol=@,subvolid=256 initrd=/@/boot/initramfs.img")
	require.NoError(t, err)

	require.NoError(t, bo.MigrateFromTo("@", 256, "@s1", 257, false))
	assert.Equal(t, "rootflags=subvol=@s1,subvolid=257 initrd=/@/boot/initramfs.img", bo.String())
}
