package debug

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hitzhangjie/jitdbg/pkg/jit"
	"github.com/hitzhangjie/jitdbg/pkg/jit/jittest"
	"github.com/hitzhangjie/jitdbg/pkg/target"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSession installs a session whose monitor talks to a fake runtime.
func newTestSession(t *testing.T) (*DebugSession, *jittest.Debuggee, *bytes.Buffer) {
	t.Helper()

	var out bytes.Buffer
	s := newSession(&out, zerolog.Nop(), jit.DefaultOptions())
	s.arch = target.AMD64

	d := jittest.NewDebuggee(jittest.New())
	s.monitor.SelectTarget(d)

	prev := CurrentSession
	CurrentSession = s
	t.Cleanup(func() { CurrentSession = prev })
	return s, d, &out
}

func TestJITSetupAndList(t *testing.T) {
	s, d, out := newTestSession(t)

	require.NoError(t, s.Exec("jit setup"))
	assert.Contains(t, out.String(), "JIT debugging enabled.")
	assert.Equal(t, jit.StateArmed, s.Monitor().State())

	out.Reset()
	require.NoError(t, s.Exec("jit list"))
	assert.Equal(t, "No JIT-compiled functions registered.\n", out.String())

	d.RegisterAndNotify(jittest.Blob("Foo.bar", 0x7f0000001000, 64, "main.dart"))

	out.Reset()
	require.NoError(t, s.Exec("jit ls"))
	assert.Contains(t, out.String(), "0x00007F0000001000")
	assert.Contains(t, out.String(), "Foo.bar")
}

func TestJITAdd(t *testing.T) {
	s, _, out := newTestSession(t)

	require.NoError(t, s.Exec("jit add 0x2000 0x40 Foo.bar lib/foo.dart"))
	assert.Equal(t, "Added JIT function 'Foo.bar' at 0x2000 (size: 64 bytes, file: lib/foo.dart)\n", out.String())

	out.Reset()
	require.NoError(t, s.Exec("jit add 010 5 Baz"))
	assert.Contains(t, out.String(), "at 0x8 (size: 5 bytes, file: unknown)")

	assert.ErrorIs(t, s.Exec("jit add 0 10 Test"), jit.ErrInvalidAddress)
	assert.ErrorIs(t, s.Exec("jit add 0x10 10"), jit.ErrUsage)
	assert.Equal(t, 2, s.Monitor().Registry().Len())
}

func TestJITBreak(t *testing.T) {
	s, d, out := newTestSession(t)

	require.NoError(t, s.Exec("jit add 0x3000 16 RunningIsolates.isolateShutdown"))
	out.Reset()

	require.NoError(t, s.Exec("jit break Shutdown"))
	assert.Contains(t, out.String(), "at 0x3000 (function 'RunningIsolates.isolateShutdown', size: 16 bytes)")
	assert.Equal(t, []uint64{0x3000}, d.Breakpoints())

	err := s.Exec("jit break Missing")
	assert.ErrorIs(t, err, jit.ErrFunctionNotFound)
	assert.Contains(t, err.Error(), "Use 'jit list'")

	assert.ErrorIs(t, s.Exec("jit break"), jit.ErrUsage)
}

func TestJITWatch(t *testing.T) {
	s, d, out := newTestSession(t)
	require.NoError(t, s.Exec("jit setup"))

	out.Reset()
	require.NoError(t, s.Exec("jit watch Shutdown main"))
	assert.Equal(t, "Added 2 patterns to pending-breakpoint watch list.\n", out.String())

	out.Reset()
	require.NoError(t, s.Exec("jit watch --list"))
	assert.Equal(t, "  1  Shutdown\n  2  main\n", out.String())

	// --list must not stick to the next invocation
	out.Reset()
	require.NoError(t, s.Exec("jit watch Isolate"))
	assert.Equal(t, "Added 1 pattern to pending-breakpoint watch list.\n", out.String())

	assert.ErrorIs(t, s.Exec("jit watch"), jit.ErrUsage)

	blob := jittest.Blob("RunningIsolates.isolateShutdown", 0x3000, 32, "isolate.dart")
	d.RegisterAndNotify(blob)
	d.Notify()
	assert.Equal(t, []uint64{0x3000}, d.Breakpoints())
}

func TestJITScanStatusExport(t *testing.T) {
	s, d, out := newTestSession(t)

	d.Register(jittest.Blob("A.a", 0x1000, 16, "a.dart"))
	d.Register(jittest.Blob("B.b", 0x2000, 32, "b.dart"))

	require.NoError(t, s.Exec("jit scan"))
	assert.Equal(t, "Scanned 2 JIT entries: 2 new, 0 known, 0 malformed.\n", out.String())

	out.Reset()
	require.NoError(t, s.Exec("jit status"))
	assert.Contains(t, out.String(), "monitor:    uninitialized\n")
	assert.Contains(t, out.String(), "functions:  2\n")

	path := filepath.Join(t.TempDir(), "perf.map")
	out.Reset()
	require.NoError(t, s.Exec("jit export "+path))
	assert.Equal(t, "Exported 2 JIT functions to "+path+"\n", out.String())

	dat, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1000 10 A.a\n2000 20 B.b\n", string(dat))

	// no live process to derive the default path from
	assert.ErrorIs(t, s.Exec("jit export"), jit.ErrUsage)
}

func TestJITDisass(t *testing.T) {
	s, d, out := newTestSession(t)

	// push %rbp; mov %rsp,%rbp; pop %rbp; ret
	d.Map(0x5000, []byte{0x55, 0x48, 0x89, 0xe5, 0x5d, 0xc3})
	require.NoError(t, s.Exec("jit add 0x5000 6 Foo.bar"))
	out.Reset()

	require.NoError(t, s.Exec("jit disass Foo"))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Foo.bar@0x5000[6] (unknown):", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "0x5000:"))
	assert.Contains(t, lines[1], "push")
	assert.Contains(t, lines[4], "ret")

	out.Reset()
	require.NoError(t, s.Exec("jit disass -n 1 -s intel Foo"))
	assert.Equal(t, 2, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), "push rbp")

	assert.ErrorIs(t, s.Exec("jit disass Missing"), jit.ErrFunctionNotFound)
}

func TestJIT_NoTarget(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.monitor.SelectTarget(nil)

	assert.ErrorIs(t, s.Exec("jit setup"), jit.ErrNoTarget)
	assert.ErrorIs(t, s.Exec("jit scan"), jit.ErrNoTarget)
	assert.ErrorIs(t, s.Exec("jit disass Foo"), jit.ErrNoTarget)

	// manual registration works without a target
	require.NoError(t, s.Exec("jit add 0x1000 4 Foo"))
}

func TestProcessCommands_NoProcess(t *testing.T) {
	s, _, _ := newTestSession(t)

	for _, line := range []string{"continue", "step", "breaks", "clear -n 1", "clearall", "disass", "setmem 0x1000 1", "break 0x1000"} {
		assert.ErrorIs(t, s.Exec(line), errNoProcess, line)
	}
}

func TestExit(t *testing.T) {
	s, _, _ := newTestSession(t)

	require.NoError(t, s.Exec("exit"))
	select {
	case <-s.done:
	default:
		t.Fatal("session not stopped")
	}
	// stopping twice is harmless
	s.Stop()
}

func TestCompleter(t *testing.T) {
	assert.Contains(t, completer("ji"), "jit")
	assert.Contains(t, completer("jit li"), "jit list")
	assert.Contains(t, completer("c"), "continue")
	assert.NotContains(t, completer("jit li"), "jit setup")
}

func TestHelpMessageByGroups(t *testing.T) {
	msg := helpMessageByGroups(debugRootCmd)

	assert.Contains(t, msg, "- [breaks]\n")
	assert.Contains(t, msg, "- [jit]\n")
	assert.Less(t, strings.Index(msg, "- [breaks]"), strings.Index(msg, "- [jit]"))
	assert.Contains(t, msg, "  jit             :")
}

func TestMonitorOptions_Defaults(t *testing.T) {
	opts := MonitorOptions()
	assert.Equal(t, jit.DescriptorSymbol, opts.DescriptorSymbol)
	assert.Equal(t, jit.RegisterSymbol, opts.RegisterSymbol)
	assert.Equal(t, jit.DefaultScanLimit, opts.ScanLimit)
}
