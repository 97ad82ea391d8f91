package target

import (
	"encoding/binary"
	"fmt"
	"io"
	"text/tabwriter"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// DefaultDisassSize 未指定长度时读取的字节数
const DefaultDisassSize = 1024

// SymLookup 把地址转换为符号名和符号起始地址
type SymLookup func(addr uint64) (name string, base uint64)

// Disassemble 反汇编地址addr处最多size字节中的前max条指令
//
// 调试器插入的断点指令会被替换回原始数据再反汇编。
func (t *DebuggedProcess) Disassemble(w io.Writer, addr, size, max uint64, syntax string, lookup SymLookup) error {
	if size == 0 {
		size = DefaultDisassSize
	}

	dat := make([]byte, size)
	if err := t.ReadMemory(addr, dat); err != nil {
		// retry up to the end of the page
		pageEnd := (addr | 0xfff) + 1
		if pageEnd-addr >= size {
			return fmt.Errorf("peek text error: %v", err)
		}
		dat = dat[:pageEnd-addr]
		if err = t.ReadMemory(addr, dat); err != nil {
			return fmt.Errorf("peek text error: %v", err)
		}
	}
	t.restoreOriginal(addr, dat)

	return Disassemble(w, t.Arch, addr, dat, max, syntax, lookup)
}

// restoreOriginal 把dat中的断点指令替换为原始数据
func (t *DebuggedProcess) restoreOriginal(addr uint64, dat []byte) {
	t.bpMu.Lock()
	defer t.bpMu.Unlock()

	end := addr + uint64(len(dat))
	for _, b := range t.Breakpoints {
		if b.Addr < addr || b.Addr+uint64(len(b.Orig)) > end {
			continue
		}
		copy(dat[b.Addr-addr:], b.Orig)
	}
}

// Disassemble 反汇编机器码code，code从地址addr开始
func Disassemble(w io.Writer, arch *Arch, addr uint64, code []byte, max uint64, syntax string, lookup SymLookup) error {
	decode, err := decoder(arch, syntax, lookup)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 8, ' ', 0)

	offset := uint64(0)
	for count := uint64(0); count < max && offset < uint64(len(code)); count++ {
		pc := addr + offset
		n, asm := decode(code[offset:], pc)
		if n <= 0 || offset+uint64(n) > uint64(len(code)) {
			break
		}

		end := offset + uint64(n)
		fmt.Fprintf(tw, "%#x:\t% x\t%s\n", pc, code[offset:end], asm)
		offset = end
	}
	return tw.Flush()
}

type decodeFunc func(code []byte, pc uint64) (int, string)

func decoder(arch *Arch, syntax string, lookup SymLookup) (decodeFunc, error) {
	symname := (func(uint64) (string, uint64))(lookup)

	switch arch.Name {
	case "amd64":
		var format func(x86asm.Inst, uint64, x86asm.SymLookup) string
		switch syntax {
		case "go":
			format = x86asm.GoSyntax
		case "gnu":
			format = x86asm.GNUSyntax
		case "intel":
			format = x86asm.IntelSyntax
		default:
			return nil, fmt.Errorf("invalid asm syntax: %s", syntax)
		}
		return func(code []byte, pc uint64) (int, string) {
			inst, err := x86asm.Decode(code, 64)
			if err != nil {
				return 1, "(bad)"
			}
			return inst.Len, format(inst, pc, symname)
		}, nil

	case "arm64":
		if syntax != "go" && syntax != "gnu" {
			return nil, fmt.Errorf("invalid asm syntax for arm64: %s", syntax)
		}
		return func(code []byte, pc uint64) (int, string) {
			if len(code) < 4 {
				return 0, ""
			}
			inst, err := arm64asm.Decode(code[:4])
			if err != nil {
				return 4, fmt.Sprintf(".word 0x%08x", binary.LittleEndian.Uint32(code))
			}
			if syntax == "go" {
				return 4, arm64asm.GoSyntax(inst, pc, symname, nil)
			}
			return 4, arm64asm.GNUSyntax(inst)
		}, nil
	}
	return nil, fmt.Errorf("unsupported architecture: %s", arch.Name)
}
