package jit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	rec, ok := Decode([]byte("---\nname: Foo.bar\nstart: 0x1000\nsize: 64\nfile: foo.dart\n"))
	require.True(t, ok)
	assert.Equal(t, CodeRecord{Addr: 0x1000, Size: 64, Name: "Foo.bar", File: "foo.dart"}, rec)
}

func TestDecode_Defaults(t *testing.T) {
	rec, ok := Decode([]byte("start: 4096\nsize: 0x10\n"))
	require.True(t, ok)
	assert.Equal(t, uint64(4096), rec.Addr)
	assert.Equal(t, uint64(16), rec.Size)
	assert.Equal(t, "unknown", rec.Name)
	assert.Equal(t, "unknown", rec.File)
}

func TestDecode_Invalid(t *testing.T) {
	blobs := []string{
		"",
		"---\n",
		"name: a\nsize: 10\n",
		"name: a\nstart: 0x10\n",
		"start: 0\nsize: 10\n",
		"start: 0x10\nsize: zero\n",
		"start 0x10\nsize 10\n",
	}
	for _, blob := range blobs {
		rec, ok := Decode([]byte(blob))
		assert.False(t, ok, "blob %q", blob)
		assert.Equal(t, "unknown", rec.File, "blob %q", blob)
	}
}

func TestDecode_Lines(t *testing.T) {
	blob := "---\n" +
		"kind: code\n" + // unknown key
		"no colon here\n" +
		" name: padded key\n" + // key is not trimmed
		"name:\t  a: b \n" + // split at the first colon, trailing space kept
		"start: 0x2000\n" +
		"size: 010\n" + // octal
		"file: /tmp/x.dart\n" +
		"\x00name: after nul\n"

	rec, ok := Decode([]byte(blob))
	require.True(t, ok)
	assert.Equal(t, "a: b ", rec.Name)
	assert.Equal(t, uint64(0x2000), rec.Addr)
	assert.Equal(t, uint64(8), rec.Size)
	assert.Equal(t, "/tmp/x.dart", rec.File)
}

func TestDecode_BlankValues(t *testing.T) {
	rec, ok := Decode([]byte("name:   \nstart: 0x10\nsize: 4\nfile:\t\n"))
	require.True(t, ok)
	assert.Equal(t, "   ", rec.Name)
	assert.Equal(t, "\t", rec.File)

	rec, ok = Decode([]byte("name:\nstart: 0x10\nsize: 4\n"))
	require.True(t, ok)
	assert.Equal(t, "", rec.Name)
}

func TestDecode_LastValueWins(t *testing.T) {
	rec, ok := Decode([]byte("start: 1\nsize: 1\nname: first\nname: second\n"))
	require.True(t, ok)
	assert.Equal(t, "second", rec.Name)
}

func TestParseUint(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"0", 0},
		{"42", 42},
		{"  42", 42},
		{"+42", 42},
		{"0x1F", 0x1f},
		{"0X1f", 0x1f},
		{"0x", 0},
		{"0xg", 0},
		{"017", 15},
		{"08", 0},
		{"12abc", 12},
		{"abc", 0},
		{"", 0},
		{"-1", math.MaxUint64},
		{"18446744073709551615", math.MaxUint64},
		{"18446744073709551616", math.MaxUint64},
		{"0xffffffffffffffffff", math.MaxUint64},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseUint(tt.in), "ParseUint(%q)", tt.in)
	}
}

func TestDisplayTruncation(t *testing.T) {
	assert.Equal(t, "short", displayName("short"))
	assert.Equal(t, "abcdefghijklmnopqrstuvwxyzABCD", displayName("abcdefghijklmnopqrstuvwxyzABCD"))
	assert.Equal(t, "abcdefghijklmnopqrstuvwxyzA...", displayName("abcdefghijklmnopqrstuvwxyzABCDE"))

	long := "/home/user/projects/app/lib/src/widgets/button.dart"
	assert.Equal(t, ".../button.dart", displayFile(long))
	assert.Equal(t, `...\b.dart`, displayFile(`C:\aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\b.dart`))

	noSep := "package_with_a_very_long_name_and_no_separators.dart"
	assert.Equal(t, noSep[:37]+"...", displayFile(noSep))
	assert.Equal(t, "lib/main.dart", displayFile("lib/main.dart"))
}
