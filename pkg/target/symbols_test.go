package target

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/hitzhangjie/jitdbg/pkg/jit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeELF 生成一个只有.symtab和一个PT_LOAD段的最小ELF64文件
func writeELF(t *testing.T, typ elf.Type, vaddr uint64, syms map[string]uint64) string {
	t.Helper()

	const (
		ehdrSize = 64
		phdrSize = 56
		shdrSize = 64
		symSize  = 24
	)
	order := binary.LittleEndian

	shstrtab := []byte("\x00.symtab\x00.strtab\x00.shstrtab\x00")
	names := make([]string, 0, len(syms))
	for name := range syms {
		names = append(names, name)
	}
	sort.Strings(names)

	strtab := []byte{0}
	symtab := make([]elf.Sym64, 1, len(names)+1)
	for _, name := range names {
		symtab = append(symtab, elf.Sym64{
			Name:  uint32(len(strtab)),
			Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
			Shndx: 1,
			Value: syms[name],
		})
		strtab = append(append(strtab, name...), 0)
	}

	align := func(n int) int { return (n + 7) &^ 7 }
	shstrOff := ehdrSize + phdrSize
	strOff := shstrOff + len(shstrtab)
	symOff := align(strOff + len(strtab))
	shOff := align(symOff + len(symtab)*symSize)
	fileSize := shOff + 4*shdrSize

	var buf bytes.Buffer
	write := func(v interface{}) {
		require.NoError(t, binary.Write(&buf, order, v))
	}
	pad := func(off int) {
		buf.Write(make([]byte, off-buf.Len()))
	}

	hdr := elf.Header64{
		Type:      uint16(typ),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     ehdrSize,
		Shoff:     uint64(shOff),
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     1,
		Shentsize: shdrSize,
		Shnum:     4,
		Shstrndx:  3,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	write(hdr)

	write(elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: uint64(fileSize),
		Memsz:  uint64(fileSize),
		Align:  0x1000,
	})

	buf.Write(shstrtab)
	buf.Write(strtab)
	pad(symOff)
	write(symtab)
	pad(shOff)

	write(elf.Section64{})
	write(elf.Section64{
		Name:      1,
		Type:      uint32(elf.SHT_SYMTAB),
		Off:       uint64(symOff),
		Size:      uint64(len(symtab) * symSize),
		Link:      2,
		Info:      1,
		Addralign: 8,
		Entsize:   symSize,
	})
	write(elf.Section64{
		Name:      9,
		Type:      uint32(elf.SHT_STRTAB),
		Off:       uint64(strOff),
		Size:      uint64(len(strtab)),
		Addralign: 1,
	})
	write(elf.Section64{
		Name:      17,
		Type:      uint32(elf.SHT_STRTAB),
		Off:       uint64(shstrOff),
		Size:      uint64(len(shstrtab)),
		Addralign: 1,
	})

	path := filepath.Join(t.TempDir(), "libjit.so")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

var runtimeSymbols = map[string]uint64{
	jit.DescriptorSymbol: 0x4010,
	jit.RegisterSymbol:   0x1230,
}

func TestReadELFSymbols(t *testing.T) {
	path := writeELF(t, elf.ET_DYN, 0, runtimeSymbols)

	syms, err := readELFSymbols(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x4010), syms[jit.DescriptorSymbol])
	assert.Equal(t, uint64(0x1230), syms[jit.RegisterSymbol])
	assert.Len(t, syms, 2)

	_, err = readELFSymbols(filepath.Join(t.TempDir(), "missing.so"))
	assert.Error(t, err)
}

func TestLoadBias(t *testing.T) {
	shared := writeELF(t, elf.ET_DYN, 0, runtimeSymbols)
	maps := []mapping{
		{Start: 0x7f0000001000, End: 0x7f0000002000, Perms: "r-xp", Offset: 0x1000, Inode: 7, Path: shared},
		{Start: 0x7f0000000000, End: 0x7f0000001000, Perms: "r--p", Offset: 0, Inode: 7, Path: shared},
	}
	bias, err := loadBias(shared, maps)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7f0000000000), bias)

	// ET_EXEC is loaded at its link address
	exec := writeELF(t, elf.ET_EXEC, 0x400000, runtimeSymbols)
	bias, err = loadBias(exec, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), bias)
}

func TestSymbolTable_ResolveIn(t *testing.T) {
	other := writeELF(t, elf.ET_DYN, 0, map[string]uint64{"main": 0x500})
	runtime := writeELF(t, elf.ET_DYN, 0, runtimeSymbols)
	maps := []mapping{
		{Start: 0x55d000000000, End: 0x55d000010000, Perms: "r-xp", Inode: 3, Path: other},
		{Start: 0x7f1e00000000, End: 0x7f1e00010000, Perms: "r-xp", Inode: 7, Path: runtime},
		{Start: 0x7ffd00000000, End: 0x7ffd00021000, Perms: "rw-p", Path: "[stack]"},
	}

	s := newSymbolTable(0)
	addr, err := s.resolveIn(jit.DescriptorSymbol, maps)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7f1e00004010), addr)
	assert.Equal(t, addr, s.resolved[jit.DescriptorSymbol])

	addr, err = s.resolveIn("main", maps)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x55d000000500), addr)

	_, err = s.resolveIn("__no_such_symbol", maps)
	assert.ErrorIs(t, err, jit.ErrSymbolNotFound)
}
