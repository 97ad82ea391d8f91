package jittest

import (
	"fmt"

	"github.com/hitzhangjie/jitdbg/pkg/jit"
)

// Fixed addresses of the fake runtime.
const (
	DescriptorAddr = 0x10000
	RegisterAddr   = 0x20000
	heapBase       = 0x100000
)

// Debuggee lays out a jit_descriptor and a linked list of jit_code_entry
// nodes in a fake Target, the way a runtime using the GDB JIT interface does.
type Debuggee struct {
	*Target

	brk   uint64
	first uint64
	last  uint64
}

// NewDebuggee defines the well-known symbols on t and maps an empty
// descriptor with version 1.
func NewDebuggee(t *Target) *Debuggee {
	d := &Debuggee{Target: t, brk: heapBase}

	t.DefineSymbol(jit.DescriptorSymbol, DescriptorAddr)
	t.DefineSymbol(jit.RegisterSymbol, RegisterAddr)
	t.Map(DescriptorAddr, make([]byte, 8+2*t.ptrSize))
	t.Map(RegisterAddr, []byte{0xc3})

	d.mustWrite(DescriptorAddr, d.u32(1))
	return d
}

// Blob formats a symfile the way the Dart VM does.
func Blob(name string, start, size uint64, file string) string {
	return fmt.Sprintf("---\nname: %s\nstart: %#x\nsize: %d\nfile: %s\n", name, start, size, file)
}

// Register links a new entry carrying blob at the tail of the list and
// points relevant_entry at it with the register action. It returns the
// entry address. The registration function is not hit.
func (d *Debuggee) Register(blob string) uint64 {
	symfile := d.alloc(uint64(len(blob)))
	d.Map(symfile, []byte(blob))

	ps := uint64(d.ptrSize)
	entry := d.alloc(3*ps + 8)
	buf := make([]byte, 3*ps+8)
	d.putPtr(buf[0:], 0)
	d.putPtr(buf[ps:], d.last)
	d.putPtr(buf[2*ps:], symfile)
	d.order.PutUint64(buf[3*ps:], uint64(len(blob)))
	d.Map(entry, buf)

	if d.last != 0 {
		d.mustWrite(d.last, d.ptr(entry))
	} else {
		d.first = entry
		d.mustWrite(DescriptorAddr+8+ps, d.ptr(entry))
	}
	d.last = entry

	d.SetEvent(jit.ActionRegister, entry)
	return entry
}

// Notify hits the registration function.
func (d *Debuggee) Notify() bool {
	return d.Hit(RegisterAddr)
}

// RegisterAndNotify registers blob and hits the registration function.
func (d *Debuggee) RegisterAndNotify(blob string) uint64 {
	entry := d.Register(blob)
	d.Notify()
	return entry
}

// SetEvent writes action_flag and relevant_entry.
func (d *Debuggee) SetEvent(action uint32, entry uint64) {
	d.mustWrite(DescriptorAddr+4, d.u32(action))
	d.mustWrite(DescriptorAddr+8, d.ptr(entry))
}

// SetNext overwrites the next pointer of entry.
func (d *Debuggee) SetNext(entry, next uint64) {
	d.mustWrite(entry, d.ptr(next))
}

// SymfileAddr returns the symfile pointer stored in entry.
func (d *Debuggee) SymfileAddr(entry uint64) uint64 {
	buf := make([]byte, d.ptrSize)
	if err := d.ReadMemory(entry+2*uint64(d.ptrSize), buf); err != nil {
		panic(err)
	}
	if d.ptrSize == 4 {
		return uint64(d.order.Uint32(buf))
	}
	return d.order.Uint64(buf)
}

func (d *Debuggee) alloc(n uint64) uint64 {
	addr := d.brk
	d.brk += (n + 15) &^ 15
	if n == 0 {
		d.brk += 16
	}
	return addr
}

func (d *Debuggee) mustWrite(addr uint64, data []byte) {
	if err := d.WriteMemory(addr, data); err != nil {
		panic(err)
	}
}

func (d *Debuggee) u32(v uint32) []byte {
	buf := make([]byte, 4)
	d.order.PutUint32(buf, v)
	return buf
}

func (d *Debuggee) ptr(v uint64) []byte {
	buf := make([]byte, d.ptrSize)
	d.putPtr(buf, v)
	return buf
}

func (d *Debuggee) putPtr(buf []byte, v uint64) {
	if d.ptrSize == 4 {
		d.order.PutUint32(buf, uint32(v))
		return
	}
	d.order.PutUint64(buf, v)
}
