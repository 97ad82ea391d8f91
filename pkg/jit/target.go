package jit

import "encoding/binary"

// Target 被调试进程需要向JIT监控提供的能力
//
// ReadMemory must fill buf completely or return an error. Implementations
// invoke EventHandlers synchronously from their own event loop, while the
// hitting thread is stopped.
type Target interface {
	// Valid reports whether a live debuggee is attached.
	Valid() bool
	PointerSize() int
	ByteOrder() binary.ByteOrder
	ReadMemory(addr uint64, buf []byte) error
	// ResolveSymbol returns the load address of a symbol in any loaded module.
	ResolveSymbol(name string) (uint64, error)
	// CreateBreakpoint adds a user-visible breakpoint at a raw address and
	// returns its id.
	CreateBreakpoint(addr uint64) (uint64, error)
	// HookSymbol puts a breakpoint on symbol and calls h on every hit.
	HookSymbol(symbol string, opts HookOptions, h EventHandler) (Hook, error)
}

// HookOptions 回调断点的属性
type HookOptions struct {
	Name         string // 断点名，便于在断点列表中识别
	AutoContinue bool   // 回调返回后是否自动继续执行
}

// Hook is a breakpoint created by Target.HookSymbol.
type Hook interface {
	ID() uint64
	Addr() uint64
	// SetInternal hides the hook from ordinary breakpoint listings. Hosts
	// without the capability return ErrUnsupported.
	SetInternal() error
}

// Event 断点命中事件
type Event struct {
	ThreadID int    // 命中断点的线程
	PC       uint64 // 断点地址
}

// EventHandler 处理注册函数断点命中事件
type EventHandler interface {
	// OnCodeRegistered returns whether the debuggee should keep running.
	OnCodeRegistered(ev Event) bool
}
