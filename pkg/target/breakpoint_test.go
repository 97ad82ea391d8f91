package target

import (
	"bytes"
	"errors"
	"sort"
	"strings"
	"syscall"
	"testing"

	"github.com/hitzhangjie/jitdbg/pkg/jit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupArch(t *testing.T) {
	a, err := LookupArch("amd64")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xCC}, a.BreakpointInstr)
	assert.Equal(t, uint64(0x1000), a.BreakpointAddr(0x1001))

	a, err = LookupArch("arm64")
	require.NoError(t, err)
	assert.Len(t, a.BreakpointInstr, 4)
	assert.Equal(t, uint64(0x1000), a.BreakpointAddr(0x1000))

	_, err = LookupArch("mips")
	assert.Error(t, err)
}

func TestBreakpoints_Sort(t *testing.T) {
	bps := Breakpoints{
		newBreakpoint(0x30, []byte{0x90}, ""),
		newBreakpoint(0x10, []byte{0x90}, ""),
		newBreakpoint(0x20, []byte{0x90}, ""),
	}
	bps[0], bps[2] = bps[2], bps[0]
	sort.Sort(bps)

	for i := 1; i < len(bps); i++ {
		assert.Less(t, bps[i-1].ID, bps[i].ID)
	}
}

func TestListBreakpoints_HidesInternal(t *testing.T) {
	dbp := &DebuggedProcess{Breakpoints: map[uint64]*Breakpoint{}}

	user := newBreakpoint(0x2000, []byte{0x55}, "")
	monitor := newBreakpoint(0x1000, []byte{0x55}, jit.HookName)
	dbp.Breakpoints[user.Addr] = user
	dbp.Breakpoints[monitor.Addr] = monitor

	h := &hook{dbp: dbp, bp: monitor}
	require.NoError(t, h.SetInternal())
	assert.Equal(t, monitor.ID, h.ID())
	assert.Equal(t, uint64(0x1000), h.Addr())

	assert.Equal(t, Breakpoints{user}, dbp.ListBreakpoints(false))
	assert.Equal(t, Breakpoints{user, monitor}, dbp.ListBreakpoints(true))

	b, ok := dbp.FindBreakpoint(user.ID)
	require.True(t, ok)
	assert.Same(t, user, b)
}

func TestRestoreOriginal(t *testing.T) {
	dbp := &DebuggedProcess{Arch: AMD64, Breakpoints: map[uint64]*Breakpoint{}}
	dbp.Breakpoints[0x1001] = newBreakpoint(0x1001, []byte{0x89}, "")
	dbp.Breakpoints[0x2000] = newBreakpoint(0x2000, []byte{0x55}, "")

	dat := []byte{0x48, 0xCC, 0xe5, 0xc3}
	dbp.restoreOriginal(0x1000, dat)
	assert.Equal(t, []byte{0x48, 0x89, 0xe5, 0xc3}, dat)
}

func TestDisassemble_AMD64(t *testing.T) {
	// push %rbp; mov %rsp,%rbp; nop; ret
	code := []byte{0x55, 0x48, 0x89, 0xe5, 0x90, 0xc3}

	var buf bytes.Buffer
	require.NoError(t, Disassemble(&buf, AMD64, 0x7f0000001000, code, 10, "intel", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "0x7f0000001000:"))
	assert.Contains(t, lines[0], "push rbp")
	assert.Contains(t, lines[1], "48 89 e5")
	assert.True(t, strings.HasPrefix(lines[2], "0x7f0000001004:"))
	assert.Contains(t, lines[3], "ret")
}

func TestDisassemble_Max(t *testing.T) {
	code := []byte{0x90, 0x90, 0x90, 0x90}

	var buf bytes.Buffer
	require.NoError(t, Disassemble(&buf, AMD64, 0x1000, code, 2, "gnu", nil))
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))
}

func TestDisassemble_ARM64(t *testing.T) {
	// nop; ret; undefined
	code := []byte{0x1f, 0x20, 0x03, 0xd5, 0xc0, 0x03, 0x5f, 0xd6, 0x00, 0x00, 0x00, 0x00}

	var buf bytes.Buffer
	require.NoError(t, Disassemble(&buf, ARM64, 0x4000, code, 10, "gnu", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, strings.ToLower(lines[0]), "nop")
	assert.Contains(t, strings.ToLower(lines[1]), "ret")
	assert.True(t, strings.HasPrefix(lines[2], "0x4008:"))
}

func TestDisassemble_BadSyntax(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Disassemble(&buf, AMD64, 0, []byte{0x90}, 1, "att", nil))
	assert.Error(t, Disassemble(&buf, ARM64, 0, []byte{0x1f, 0x20, 0x03, 0xd5}, 1, "intel", nil))
}

func TestStopEvent_String(t *testing.T) {
	bp := &Breakpoint{ID: 3}
	tests := []struct {
		ev   StopEvent
		want string
	}{
		{StopEvent{Reason: StopBreakpoint, Tid: 7, PC: 0x1000, Breakpoint: bp}, "thread 7 hit breakpoint 3 at 0x1000"},
		{StopEvent{Reason: StopExited, ExitCode: 2}, "process exited with code 2"},
		{StopEvent{Reason: StopExited, Signal: syscall.SIGKILL}, "process exited, killed by killed"},
		{StopEvent{Reason: StopInterrupted, Tid: 7, PC: 0x10}, "thread 7 interrupted at 0x10"},
		{StopEvent{Reason: StopStep, Tid: 7, PC: 0x11}, "thread 7 stepped to 0x11"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.ev.String())
	}
}

func TestDetachedProcess(t *testing.T) {
	dbp := &DebuggedProcess{Arch: AMD64, Breakpoints: map[uint64]*Breakpoint{}}
	assert.False(t, dbp.Valid())

	err := dbp.ReadMemory(0x1000, make([]byte, 4))
	assert.True(t, errors.Is(err, ErrProcessExited))

	_, err = dbp.Continue()
	assert.True(t, errors.Is(err, ErrProcessExited))

	assert.True(t, errors.Is(dbp.Interrupt(), ErrNotRunning))
}
