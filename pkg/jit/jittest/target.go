// Package jittest provides an in-memory jit.Target and helpers that lay out
// GDB JIT interface structures in it.
package jittest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hitzhangjie/jitdbg/pkg/jit"
)

var ErrUnmapped = errors.New("unmapped memory")

type region struct {
	addr uint64
	data []byte
}

// Target is a fake debuggee with sparse memory, a symbol table and a
// breakpoint list.
type Target struct {
	mu sync.Mutex

	ptrSize int
	order   binary.ByteOrder
	invalid bool

	regions []*region
	symbols map[string]uint64

	breakpoints []uint64
	hooks       []*Hook
	nextID      uint64

	// BreakpointErr is returned by CreateBreakpoint when set.
	BreakpointErr error
	// InternalUnsupported makes Hook.SetInternal return jit.ErrUnsupported.
	InternalUnsupported bool
	// FailRead makes reads touching this address fail.
	FailRead uint64
}

// New returns an empty 64-bit little-endian target.
func New() *Target {
	return NewWithArch(8, binary.LittleEndian)
}

// NewWithArch returns an empty target with the given pointer width.
func NewWithArch(ptrSize int, order binary.ByteOrder) *Target {
	return &Target{
		ptrSize: ptrSize,
		order:   order,
		symbols: map[string]uint64{},
	}
}

func (t *Target) Valid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.invalid
}

// Detach makes the target invalid.
func (t *Target) Detach() {
	t.mu.Lock()
	t.invalid = true
	t.mu.Unlock()
}

func (t *Target) PointerSize() int            { return t.ptrSize }
func (t *Target) ByteOrder() binary.ByteOrder { return t.order }

// Map places data at addr, replacing any region starting there.
func (t *Target) Map(addr uint64, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range t.regions {
		if r.addr == addr {
			r.data = data
			return
		}
	}
	t.regions = append(t.regions, &region{addr: addr, data: data})
	sort.Slice(t.regions, func(i, j int) bool { return t.regions[i].addr < t.regions[j].addr })
}

// Unmap removes the region starting at addr.
func (t *Target) Unmap(addr uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, r := range t.regions {
		if r.addr == addr {
			t.regions = append(t.regions[:i], t.regions[i+1:]...)
			return
		}
	}
}

func (t *Target) ReadMemory(addr uint64, buf []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.FailRead != 0 && t.FailRead >= addr && t.FailRead < addr+uint64(len(buf)) {
		return fmt.Errorf("read %#x: injected failure", addr)
	}
	for _, r := range t.regions {
		if addr >= r.addr && addr+uint64(len(buf)) <= r.addr+uint64(len(r.data)) {
			copy(buf, r.data[addr-r.addr:])
			return nil
		}
	}
	return fmt.Errorf("read %d bytes at %#x: %w", len(buf), addr, ErrUnmapped)
}

// WriteMemory overwrites bytes inside an existing region.
func (t *Target) WriteMemory(addr uint64, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range t.regions {
		if addr >= r.addr && addr+uint64(len(data)) <= r.addr+uint64(len(r.data)) {
			copy(r.data[addr-r.addr:], data)
			return nil
		}
	}
	return fmt.Errorf("write %d bytes at %#x: %w", len(data), addr, ErrUnmapped)
}

// DefineSymbol makes name resolve to addr.
func (t *Target) DefineSymbol(name string, addr uint64) {
	t.mu.Lock()
	t.symbols[name] = addr
	t.mu.Unlock()
}

func (t *Target) ResolveSymbol(name string) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	addr, ok := t.symbols[name]
	if !ok {
		return 0, fmt.Errorf("%s: %w", name, jit.ErrSymbolNotFound)
	}
	return addr, nil
}

func (t *Target) CreateBreakpoint(addr uint64) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.BreakpointErr != nil {
		return 0, t.BreakpointErr
	}
	t.breakpoints = append(t.breakpoints, addr)
	t.nextID++
	return t.nextID, nil
}

// Breakpoints returns the addresses passed to CreateBreakpoint, in order.
func (t *Target) Breakpoints() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uint64(nil), t.breakpoints...)
}

func (t *Target) HookSymbol(symbol string, opts jit.HookOptions, h jit.EventHandler) (jit.Hook, error) {
	addr, err := t.ResolveSymbol(symbol)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, bp := range t.breakpoints {
		if bp == addr {
			return nil, fmt.Errorf("breakpoint at %#x: %w", addr, jit.ErrBreakpointExisted)
		}
	}

	t.nextID++
	hook := &Hook{
		id:       t.nextID,
		addr:     addr,
		opts:     opts,
		handler:  h,
		noHiding: t.InternalUnsupported,
	}
	t.hooks = append(t.hooks, hook)
	return hook, nil
}

// Hooks returns every hook created so far.
func (t *Target) Hooks() []*Hook {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Hook(nil), t.hooks...)
}

// Hit simulates the debuggee reaching addr and returns whether every
// handler asked to continue.
func (t *Target) Hit(addr uint64) bool {
	t.mu.Lock()
	var hooks []*Hook
	for _, h := range t.hooks {
		if h.addr == addr {
			hooks = append(hooks, h)
		}
	}
	t.mu.Unlock()

	cont := true
	for _, h := range hooks {
		if !h.handler.OnCodeRegistered(jit.Event{ThreadID: 1, PC: addr}) {
			cont = false
		}
	}
	return cont
}

// Hook is a fake jit.Hook.
type Hook struct {
	id       uint64
	addr     uint64
	opts     jit.HookOptions
	handler  jit.EventHandler
	noHiding bool
	internal bool
}

func (h *Hook) ID() uint64                { return h.id }
func (h *Hook) Addr() uint64              { return h.addr }
func (h *Hook) Options() jit.HookOptions  { return h.opts }
func (h *Hook) Internal() bool            { return h.internal }
func (h *Hook) Handler() jit.EventHandler { return h.handler }

func (h *Hook) SetInternal() error {
	if h.noHiding {
		return jit.ErrUnsupported
	}
	h.internal = true
	return nil
}
