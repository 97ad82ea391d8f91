package target

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMaps = `55d4c6a00000-55d4c6a02000 r--p 00000000 08:02 1311       /usr/bin/dart
55d4c6a02000-55d4c6a10000 r-xp 00002000 08:02 1311       /usr/bin/dart
7f1e2c000000-7f1e2c021000 rw-p 00000000 00:00 0
7f1e2d400000-7f1e2d428000 r--p 00000000 08:02 2244       /usr/lib/x86_64-linux-gnu/libc.so.6
7f1e2d428000-7f1e2d5bd000 r-xp 00028000 08:02 2244       /usr/lib/x86_64-linux-gnu/libc.so.6
7f1e2e000000-7f1e2e001000 r-xp 00000000 08:02 3001       /tmp/my lib.so (deleted)
7ffd3b5e1000-7ffd3b602000 rw-p 00000000 00:00 0          [stack]
`

func TestParseMaps(t *testing.T) {
	maps, err := parseMaps(strings.NewReader(sampleMaps))
	require.NoError(t, err)
	require.Len(t, maps, 7)

	assert.Equal(t, mapping{
		Start:  0x55d4c6a02000,
		End:    0x55d4c6a10000,
		Perms:  "r-xp",
		Offset: 0x2000,
		Inode:  1311,
		Path:   "/usr/bin/dart",
	}, maps[1])

	assert.Equal(t, "", maps[2].Path)
	assert.False(t, maps[2].fileBacked())
	assert.Equal(t, "/tmp/my lib.so", maps[5].Path)
	assert.Equal(t, "[stack]", maps[6].Path)
	assert.False(t, maps[6].fileBacked())
}

func TestParseMaps_Invalid(t *testing.T) {
	_, err := parseMaps(strings.NewReader("zzzz-1000 r-xp 00000000 08:02 1 /bin/x\n"))
	assert.Error(t, err)

	maps, err := parseMaps(strings.NewReader("short line\n"))
	require.NoError(t, err)
	assert.Empty(t, maps)
}

func TestModulePaths(t *testing.T) {
	maps, err := parseMaps(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/usr/bin/dart",
		"/usr/lib/x86_64-linux-gnu/libc.so.6",
		"/tmp/my lib.so",
	}, modulePaths(maps))
}

func TestComputeBias(t *testing.T) {
	maps, err := parseMaps(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	bias, err := computeBias("/usr/lib/x86_64-linux-gnu/libc.so.6", maps, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7f1e2d400000), bias)

	// prelinked image whose first segment starts at 0x400000
	bias, err = computeBias("/usr/bin/dart", maps, 0x400000, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x55d4c6a00000-0x400000), bias)

	_, err = computeBias("/not/mapped", maps, 0, 0)
	assert.Error(t, err)
}

func TestParseStatState(t *testing.T) {
	assert.Equal(t, 'S', parseStatState([]byte("1234 (dart) S 1 1234 1234 0 -1")))
	assert.Equal(t, 'Z', parseStatState([]byte("1234 (a (weird) name) Z 1 1234")))
	assert.Equal(t, rune(0), parseStatState([]byte("garbage")))
	assert.Equal(t, rune(0), parseStatState([]byte("1234 (dart)")))
}

func TestReadProcSelf(t *testing.T) {
	pid := os.Getpid()

	comm, err := readProcComm(pid)
	require.NoError(t, err)
	assert.NotEmpty(t, comm)

	_, err = readProcCommArgs(pid)
	require.NoError(t, err)

	tids, err := loadThreadList(pid)
	require.NoError(t, err)
	assert.Contains(t, tids, pid)

	assert.True(t, checkPid(pid))
}
