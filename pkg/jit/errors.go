package jit

import "errors"

var (
	ErrNoTarget          = errors.New("no valid target selected, please select a target first")
	ErrSymbolNotFound    = errors.New("symbol not found")
	ErrFunctionNotFound  = errors.New("function not found in JIT-compiled code")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrEmptyPattern      = errors.New("empty pattern")
	ErrAlreadySetup      = errors.New("JIT monitor already set up for this target")
	ErrUnsupported       = errors.New("not supported by host debugger")
	ErrBreakpointExisted = errors.New("breakpoint already existed")
	ErrUsage             = errors.New("usage error")
)
