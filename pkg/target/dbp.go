package target

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/hitzhangjie/jitdbg/pkg/jit"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// Kind 发起调试的方式
type Kind int

const (
	EXEC   Kind = iota // 由调试器启动
	ATTACH             // attach到运行中的进程
)

func (k Kind) String() string {
	if k == ATTACH {
		return "attach"
	}
	return "exec"
}

var (
	ErrBreakpointNotExisted = errors.New("breakpoint not existed")
	ErrProcessExited        = errors.New("process exited")
	ErrNotRunning           = errors.New("process is not running")
)

// DebuggedProcess 被调试进程信息
type DebuggedProcess struct {
	Process *os.Process     // 进程信息
	Threads map[int]*Thread // 包含的线程列表,k=tid,v=thread

	Command string   // 进程启动命令，方便重启调试
	Args    []string // 进程启动参数，方便重启调试
	Kind    Kind     // 发起调试的类型
	Arch    *Arch

	bpMu        sync.Mutex
	Breakpoints map[uint64]*Breakpoint // 已经添加的断点

	log          zerolog.Logger
	symbols      *symbolTable
	curTid       int // 最近一次停止的线程
	exited       atomic.Bool
	running      atomic.Bool
	interrupting atomic.Bool

	once       *sync.Once
	ptraceCh   chan func() // ptrace请求统一发送到这里，由专门协程处理
	ptraceDone chan int    // ptrace请求完成
	stopCh     chan int    // 通知需要停止调试
}

var _ jit.Target = (*DebuggedProcess)(nil)

func newDebuggedProcess(kind Kind, log zerolog.Logger) (*DebuggedProcess, error) {
	arch, err := hostArch()
	if err != nil {
		return nil, err
	}
	return &DebuggedProcess{
		Threads:     map[int]*Thread{},
		Kind:        kind,
		Arch:        arch,
		Breakpoints: map[uint64]*Breakpoint{},
		log:         log.With().Str("component", "target").Logger(),
		once:        &sync.Once{},
		ptraceCh:    make(chan func()),
		ptraceDone:  make(chan int),
		stopCh:      make(chan int),
	}, nil
}

// NewDebuggedProcess 启动并跟踪一个进程，进程停在第一条指令处
func NewDebuggedProcess(cmd string, args []string, log zerolog.Logger) (*DebuggedProcess, error) {
	target, err := newDebuggedProcess(EXEC, log)
	if err != nil {
		return nil, err
	}
	target.Command = cmd
	target.Args = args

	defer func() {
		if err != nil {
			target.StopPtrace()
		}
	}()

	target.ExecPtrace(func() {
		// start and trace
		target.Process, err = target.launchCommand(cmd, args...)
		if err != nil {
			return
		}

		// trace newly created thread
		err = syscall.PtraceSetOptions(target.Process.Pid, syscall.PTRACE_O_TRACECLONE)
	})
	if err != nil {
		return nil, err
	}

	pid := target.Process.Pid
	target.Threads[pid] = &Thread{Tid: pid, Process: target, stopped: true}
	target.curTid = pid
	target.symbols = newSymbolTable(pid)
	return target, nil
}

// AttachTargetProcess trace一个目标进程的所有线程
func AttachTargetProcess(pid int, log zerolog.Logger) (*DebuggedProcess, error) {
	target, err := newDebuggedProcess(ATTACH, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			target.StopPtrace()
		}
	}()

	if !checkPid(pid) {
		return nil, fmt.Errorf("process %d not existed", pid)
	}
	if target.Process, err = os.FindProcess(pid); err != nil {
		return nil, err
	}

	// initialize the command and arguments,
	// after then, we could support restart command.
	if target.Command, err = readProcComm(pid); err != nil {
		return nil, err
	}
	if target.Args, err = readProcCommArgs(pid); err != nil {
		return nil, err
	}

	target.ExecPtrace(func() {
		// attach to all threads, and prepare to trace newly created thread
		err = target.updateThreadList()
	})
	if err != nil {
		return nil, err
	}

	target.curTid = pid
	target.symbols = newSymbolTable(pid)
	return target, nil
}

// launchCommand execute `execName` with `args`
//
// 为了方便调试，除了跟踪主线程，还需要考虑跟踪后续新创建的线程，设置PTRACE_O_TRACECLONE之后，
// 新线程会自动被跟踪，并以SIGSTOP开始运行。see more info by `man 2 ptrace`.
func (t *DebuggedProcess) launchCommand(execName string, args ...string) (*os.Process, error) {
	progCmd := exec.Command(execName, args...)
	progCmd.Stdin = os.Stdin
	progCmd.Stdout = os.Stdout
	progCmd.Stderr = os.Stderr

	progCmd.SysProcAttr = &syscall.SysProcAttr{
		Ptrace:     true, // implies PTRACE_TRACEME
		Setpgid:    true,
		Foreground: false,
	}
	progCmd.Env = os.Environ()

	// start the process
	if err := progCmd.Start(); err != nil {
		return nil, err
	}
	t.Process = progCmd.Process

	// wait target process stopped
	_, status, err := t.wait(progCmd.Process.Pid, syscall.WALL)
	if err != nil {
		return nil, err
	}
	t.log.Debug().Int("pid", progCmd.Process.Pid).Str("status", desc(status)).Msg("process launched")
	return progCmd.Process, nil
}

// ExecPtrace 在同一个线程上执行ptrace请求
func (t *DebuggedProcess) ExecPtrace(fn func()) {
	t.once.Do(func() {
		go func() {
			// ensure all ptrace requests goes via the same tracer (thread)
			//
			// issue: https://github.com/golang/go/issues/7699
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			for {
				select {
				case reqFn := <-t.ptraceCh:
					reqFn()
					t.ptraceDone <- 1
				case <-t.stopCh:
					return
				}
			}
		}()
	})
	t.ptraceCh <- fn
	<-t.ptraceDone
}

// StopPtrace 结束ptrace线程
func (t *DebuggedProcess) StopPtrace() {
	close(t.stopCh)
}

// updateThreadList attach到进程的所有线程
func (t *DebuggedProcess) updateThreadList() error {
	tids, err := loadThreadList(t.Process.Pid)
	if err != nil {
		return fmt.Errorf("load threads err: %v", err)
	}

	for _, tid := range tids {
		if _, ok := t.Threads[tid]; ok {
			continue
		}

		// attach to thread
		err = syscall.PtraceAttach(tid)
		if err != nil && err != unix.EPERM {
			// Maybe we have traced tid via PTRACE_O_TRACECLONE.
			// If we try to attach to it again, it will fail.
			// We should ignore this kind of error.
			return fmt.Errorf("attach %d err: %v", tid, err)
		}

		// wait thread
		_, status, err := t.wait(tid, syscall.WALL)
		if err != nil {
			return fmt.Errorf("wait err: %v", err)
		}
		if status == nil || status.Exited() {
			t.log.Debug().Int("tid", tid).Msg("thread already exited")
			continue
		}

		// update thread
		err = syscall.PtraceSetOptions(tid, syscall.PTRACE_O_TRACECLONE)
		if err != nil {
			return fmt.Errorf("set PTRACE_O_TRACECLONE err: %v", err)
		}

		t.Threads[tid] = &Thread{
			Tid:     tid,
			Status:  *status,
			Process: t,
			stopped: true,
		}
	}
	return nil
}

// Detach 移除所有断点并detach所有线程，被调试进程继续运行
func (t *DebuggedProcess) Detach() error {
	if t.exited.Load() {
		return nil
	}
	if err := t.ClearAll(); err != nil {
		t.log.Warn().Err(err).Msg("restore breakpoints before detach")
	}

	for tid := range t.Threads {
		var err error
		t.ExecPtrace(func() {
			err = syscall.PtraceDetach(tid)
		})
		if err != nil {
			t.log.Debug().Err(err).Int("tid", tid).Msg("detach thread")
			continue
		}
		delete(t.Threads, tid)
	}
	t.exited.Store(true)
	return nil
}

// Kill 结束由调试器启动的进程
func (t *DebuggedProcess) Kill() error {
	if t.exited.Load() {
		return nil
	}
	if err := t.Process.Kill(); err != nil {
		return err
	}
	t.exited.Store(true)
	_, _, _ = t.wait(t.Process.Pid, syscall.WALL)
	return nil
}

// Cleanup 调试结束，启动的进程被杀死，attach的进程被detach
func (t *DebuggedProcess) Cleanup() error {
	var err error
	switch t.Kind {
	case EXEC:
		err = t.Kill()
	case ATTACH:
		err = t.Detach()
	}
	t.StopPtrace()
	return err
}

// Valid 进程仍然存在并处于跟踪状态
func (t *DebuggedProcess) Valid() bool {
	return t != nil && t.Process != nil && !t.exited.Load()
}

func (t *DebuggedProcess) PointerSize() int            { return t.Arch.PtrSize }
func (t *DebuggedProcess) ByteOrder() binary.ByteOrder { return t.Arch.ByteOrder }

// Pid 进程号
func (t *DebuggedProcess) Pid() int {
	return t.Process.Pid
}

// ResolveSymbol 在已加载模块中查找符号地址
func (t *DebuggedProcess) ResolveSymbol(name string) (uint64, error) {
	return t.symbols.Resolve(name)
}

// checkPid check whether pid is a live process
//
// On Unix systems, os.FindProcess always succeeds and returns a Process for
// the given pid, regardless of whether the process exists.
func checkPid(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// --------------------------------------------------------------------

// ReadMemory 读取内存地址addr处的数据，填满buf
//
// process_vm_readv不要求线程处于停止状态，失败时退回/proc/pid/mem。
func (t *DebuggedProcess) ReadMemory(addr uint64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if !t.Valid() {
		return ErrProcessExited
	}

	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}

	n, err := unix.ProcessVMReadv(t.Process.Pid, local, remote, 0)
	if err == nil && n == len(buf) {
		return nil
	}

	f, ferr := os.Open(fmt.Sprintf("/proc/%d/mem", t.Process.Pid))
	if ferr != nil {
		return fmt.Errorf("read %d bytes at %#x: %v", len(buf), addr, err)
	}
	defer f.Close()

	if n, ferr = f.ReadAt(buf, int64(addr)); ferr != nil || n != len(buf) {
		return fmt.Errorf("read %d bytes at %#x: %v", len(buf), addr, ferr)
	}
	return nil
}

// WriteMemory 写入内存，代码段只读也可以写入
func (t *DebuggedProcess) WriteMemory(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if !t.Valid() {
		return ErrProcessExited
	}

	f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", t.Process.Pid), os.O_RDWR, 0)
	if err == nil {
		n, werr := f.WriteAt(data, int64(addr))
		f.Close()
		if werr == nil && n == len(data) {
			return nil
		}
	}

	// 退回到ptrace，需要一个处于停止状态的线程
	var n int
	t.ExecPtrace(func() {
		n, err = syscall.PtracePokeData(t.curTid, uintptr(addr), data)
	})
	if err != nil || n != len(data) {
		return fmt.Errorf("poke data, %d bytes, error: %v", n, err)
	}
	return nil
}

// ReadRegister 读取当前线程的寄存器
func (t *DebuggedProcess) ReadRegister() (*syscall.PtraceRegs, error) {
	return t.readRegs(t.curTid)
}

func (t *DebuggedProcess) readRegs(tid int) (*syscall.PtraceRegs, error) {
	var (
		regs syscall.PtraceRegs
		err  error
	)
	t.ExecPtrace(func() {
		err = syscall.PtraceGetRegs(tid, &regs)
	})
	if err != nil {
		return nil, fmt.Errorf("get regs error: %v", err)
	}
	return &regs, nil
}

func (t *DebuggedProcess) writeRegs(tid int, regs *syscall.PtraceRegs) error {
	var err error
	t.ExecPtrace(func() {
		err = syscall.PtraceSetRegs(tid, regs)
	})
	if err != nil {
		return fmt.Errorf("set regs error: %v", err)
	}
	return nil
}

// --------------------------------------------------------------------

// ListBreakpoints 返回断点列表，按编号排序，all为false时不包含内部断点
func (t *DebuggedProcess) ListBreakpoints(all bool) Breakpoints {
	t.bpMu.Lock()
	defer t.bpMu.Unlock()

	var bps Breakpoints
	for _, b := range t.Breakpoints {
		if b.Internal && !all {
			continue
		}
		bps = append(bps, b)
	}
	sort.Sort(bps)
	return bps
}

// FindBreakpoint 按编号查找断点
func (t *DebuggedProcess) FindBreakpoint(id uint64) (*Breakpoint, bool) {
	t.bpMu.Lock()
	defer t.bpMu.Unlock()

	for _, b := range t.Breakpoints {
		if b.ID == id {
			return b, true
		}
	}
	return nil, false
}

// AddBreakpoint 在地址addr处添加断点，返回新创建的断点
//
// 同一地址已有断点时返回已有断点和jit.ErrBreakpointExisted。
func (t *DebuggedProcess) AddBreakpoint(addr uint64) (*Breakpoint, error) {
	return t.addBreakpoint(addr, "")
}

func (t *DebuggedProcess) addBreakpoint(addr uint64, name string) (*Breakpoint, error) {
	t.bpMu.Lock()
	defer t.bpMu.Unlock()

	if b, ok := t.Breakpoints[addr]; ok {
		return b, fmt.Errorf("breakpoint %d at %#x: %w", b.ID, addr, jit.ErrBreakpointExisted)
	}

	orig := make([]byte, len(t.Arch.BreakpointInstr))
	if err := t.ReadMemory(addr, orig); err != nil {
		return nil, fmt.Errorf("peek text: %v", err)
	}
	if err := t.WriteMemory(addr, t.Arch.BreakpointInstr); err != nil {
		return nil, fmt.Errorf("poke text: %v", err)
	}

	b := newBreakpoint(addr, orig, name)
	t.Breakpoints[addr] = b
	return b, nil
}

// CreateBreakpoint 供JIT监控创建普通断点
func (t *DebuggedProcess) CreateBreakpoint(addr uint64) (uint64, error) {
	b, err := t.AddBreakpoint(addr)
	if b == nil {
		return 0, err
	}
	return b.ID, err
}

// HookSymbol 在符号处设置带回调的断点
func (t *DebuggedProcess) HookSymbol(symbol string, opts jit.HookOptions, h jit.EventHandler) (jit.Hook, error) {
	addr, err := t.ResolveSymbol(symbol)
	if err != nil {
		return nil, err
	}

	b, err := t.addBreakpoint(addr, opts.Name)
	if err != nil {
		return nil, err
	}

	t.bpMu.Lock()
	b.AutoContinue = opts.AutoContinue
	b.handler = h
	t.bpMu.Unlock()

	t.log.Debug().Uint64("breakpoint", b.ID).Str("symbol", symbol).
		Str("addr", fmt.Sprintf("%#x", addr)).Msg("hook installed")
	return &hook{dbp: t, bp: b}, nil
}

// ClearBreakpoint 删除addr处的断点
func (t *DebuggedProcess) ClearBreakpoint(addr uint64) (*Breakpoint, error) {
	t.bpMu.Lock()
	defer t.bpMu.Unlock()

	brk, ok := t.Breakpoints[addr]
	if !ok {
		return nil, ErrBreakpointNotExisted
	}
	if err := t.WriteMemory(brk.Addr, brk.Orig); err != nil {
		return nil, fmt.Errorf("restore text err: %v", err)
	}
	delete(t.Breakpoints, brk.Addr)
	return brk, nil
}

// ClearAll 删除包括内部断点在内的所有断点，detach前调用
func (t *DebuggedProcess) ClearAll() error {
	t.bpMu.Lock()
	defer t.bpMu.Unlock()

	var firstErr error
	for addr, brk := range t.Breakpoints {
		if err := t.WriteMemory(addr, brk.Orig); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.Breakpoints, addr)
	}
	return firstErr
}

// ClearUser 删除所有用户断点，保留内部断点
func (t *DebuggedProcess) ClearUser() (int, error) {
	t.bpMu.Lock()
	defer t.bpMu.Unlock()

	n := 0
	for addr, brk := range t.Breakpoints {
		if brk.Internal {
			continue
		}
		if err := t.WriteMemory(addr, brk.Orig); err != nil {
			return n, err
		}
		delete(t.Breakpoints, addr)
		n++
	}
	return n, nil
}

func (t *DebuggedProcess) breakpointAt(addr uint64) (*Breakpoint, bool) {
	t.bpMu.Lock()
	defer t.bpMu.Unlock()
	b, ok := t.Breakpoints[addr]
	return b, ok
}

// --------------------------------------------------------------------

func (t *DebuggedProcess) wait(pid, options int) (int, *syscall.WaitStatus, error) {
	var s syscall.WaitStatus
	if (t.Process.Pid != pid) || (options != 0) {
		wpid, err := syscall.Wait4(pid, &s, syscall.WALL|options, nil)
		return wpid, &s, err
	}
	// If we call wait4/waitpid on a thread that is the leader of its group,
	// with options == 0, while ptracing and the thread leader has exited leaving
	// zombies of its own then waitpid hangs forever this is apparently intended
	// behaviour in the linux kernel.
	// Therefore we call wait4 in a loop with WNOHANG, sleeping a while between
	// calls and exiting when either wait4 succeeds or we find out that the thread
	// has become a zombie.
	for {
		wpid, err := syscall.Wait4(pid, &s, syscall.WNOHANG|syscall.WALL, nil)
		if err != nil {
			return 0, nil, err
		}
		if wpid != 0 {
			return wpid, &s, err
		}
		if procState(pid) == statusZombie {
			return pid, nil, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func desc(status *syscall.WaitStatus) string {
	if status == nil {
		return "zombie"
	}
	switch {
	case status.Continued():
		return "continued"
	case status.Exited():
		return "exited: " + strconv.Itoa(status.ExitStatus())
	case status.Signaled():
		return "signaled: " + status.Signal().String()
	case status.Stopped():
		return "stopped: " + status.StopSignal().String()
	case status.CoreDump():
		return "coredump"
	default:
		return strconv.Itoa(int(*status))
	}
}
