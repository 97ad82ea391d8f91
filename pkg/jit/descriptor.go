package jit

import (
	"fmt"
)

// GDB JIT interface actions, see jit_actions_t.
const (
	ActionNoAction   uint32 = 0
	ActionRegister   uint32 = 1
	ActionUnregister uint32 = 2
)

// MaxSymfileSize 单个symfile允许的最大长度，超过视为内存数据损坏
const MaxSymfileSize = 1 << 20

// Descriptor is the jit_descriptor published by the runtime:
//
//	struct jit_descriptor {
//		uint32_t version;
//		uint32_t action_flag;
//		struct jit_code_entry *relevant_entry;
//		struct jit_code_entry *first_entry;
//	};
type Descriptor struct {
	Version       uint32
	Action        uint32
	RelevantEntry uint64
}

// CodeEntry is one jit_code_entry node:
//
//	struct jit_code_entry {
//		struct jit_code_entry *next_entry;
//		struct jit_code_entry *prev_entry;
//		const char *symfile_addr;
//		uint64_t symfile_size;
//	};
type CodeEntry struct {
	Next        uint64
	Prev        uint64
	SymfileAddr uint64
	SymfileSize uint64
}

// memReader reads fixed-width values with the target's byte order and
// pointer width.
type memReader struct {
	t Target
}

func (m memReader) u32(addr uint64) (uint32, error) {
	var buf [4]byte
	if err := m.t.ReadMemory(addr, buf[:]); err != nil {
		return 0, err
	}
	return m.t.ByteOrder().Uint32(buf[:]), nil
}

func (m memReader) u64(addr uint64) (uint64, error) {
	var buf [8]byte
	if err := m.t.ReadMemory(addr, buf[:]); err != nil {
		return 0, err
	}
	return m.t.ByteOrder().Uint64(buf[:]), nil
}

func (m memReader) ptr(addr uint64) (uint64, error) {
	switch m.t.PointerSize() {
	case 4:
		v, err := m.u32(addr)
		return uint64(v), err
	case 8:
		return m.u64(addr)
	}
	return 0, fmt.Errorf("unsupported pointer size %d", m.t.PointerSize())
}

// readDescriptor reads version, action and relevant_entry at addr.
func readDescriptor(t Target, addr uint64) (Descriptor, error) {
	var (
		m   = memReader{t}
		d   Descriptor
		err error
	)
	if d.Version, err = m.u32(addr); err != nil {
		return d, fmt.Errorf("read version: %w", err)
	}
	if d.Action, err = m.u32(addr + 4); err != nil {
		return d, fmt.Errorf("read action: %w", err)
	}
	if d.RelevantEntry, err = m.ptr(addr + 8); err != nil {
		return d, fmt.Errorf("read relevant_entry: %w", err)
	}
	return d, nil
}

// readFirstEntry reads the list head, which follows relevant_entry.
func readFirstEntry(t Target, addr uint64) (uint64, error) {
	first, err := memReader{t}.ptr(addr + 8 + uint64(t.PointerSize()))
	if err != nil {
		return 0, fmt.Errorf("read first_entry: %w", err)
	}
	return first, nil
}

// readEntry reads the four fields of a code entry. Every field sits at a
// pointer-sized stride, symfile_size included.
func readEntry(t Target, addr uint64) (CodeEntry, error) {
	var (
		m   = memReader{t}
		ps  = uint64(t.PointerSize())
		e   CodeEntry
		err error
	)
	if e.Next, err = m.ptr(addr); err != nil {
		return e, fmt.Errorf("read next_entry: %w", err)
	}
	if e.Prev, err = m.ptr(addr + ps); err != nil {
		return e, fmt.Errorf("read prev_entry: %w", err)
	}
	if e.SymfileAddr, err = m.ptr(addr + 2*ps); err != nil {
		return e, fmt.Errorf("read symfile_addr: %w", err)
	}
	if e.SymfileSize, err = m.u64(addr + 3*ps); err != nil {
		return e, fmt.Errorf("read symfile_size: %w", err)
	}
	return e, nil
}

// readSymfile copies the symfile blob of e out of the debuggee.
func readSymfile(t Target, e CodeEntry) ([]byte, error) {
	if e.SymfileSize > MaxSymfileSize {
		return nil, fmt.Errorf("symfile size %d exceeds limit %d", e.SymfileSize, MaxSymfileSize)
	}
	buf := make([]byte, e.SymfileSize+1)
	if err := t.ReadMemory(e.SymfileAddr, buf[:e.SymfileSize]); err != nil {
		return nil, fmt.Errorf("read symfile at %#x: %w", e.SymfileAddr, err)
	}
	buf[e.SymfileSize] = 0
	return buf, nil
}
