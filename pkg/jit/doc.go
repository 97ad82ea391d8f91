// Package jit tracks machine code that a managed runtime generates at run time.
//
// The runtime publishes every compiled code block through the GDB JIT
// interface: it fills a symfile blob, links a code entry into the list hanging
// off __jit_debug_descriptor and calls __jit_debug_register_code. A Monitor
// hooks that function on a Target, decodes the blob on every hit, keeps the
// results in a Registry and arms breakpoints for names that match the
// operator's watch patterns.
//
// The debuggee needs nothing beyond those memory-layout conventions. Any host
// debugger can drive the package by implementing Target.
package jit
