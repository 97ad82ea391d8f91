package target

import (
	"fmt"
	"syscall"

	"github.com/hitzhangjie/jitdbg/pkg/jit"
	"golang.org/x/sys/unix"
)

// StopReason 进程停止的原因
type StopReason int

const (
	StopBreakpoint  StopReason = iota // 命中用户断点
	StopExited                        // 进程退出
	StopInterrupted                   // 被操作员中断
	StopSignal                        // 收到未知的SIGTRAP
	StopStep                          // 单步执行完成
)

// StopEvent Continue返回时的停止信息
type StopEvent struct {
	Reason     StopReason
	Tid        int
	PC         uint64
	Breakpoint *Breakpoint
	ExitCode   int
	Signal     syscall.Signal
}

func (e *StopEvent) String() string {
	switch e.Reason {
	case StopBreakpoint:
		return fmt.Sprintf("thread %d hit breakpoint %d at %#x", e.Tid, e.Breakpoint.ID, e.PC)
	case StopExited:
		if e.Signal != 0 {
			return fmt.Sprintf("process exited, killed by %v", e.Signal)
		}
		return fmt.Sprintf("process exited with code %d", e.ExitCode)
	case StopInterrupted:
		return fmt.Sprintf("thread %d interrupted at %#x", e.Tid, e.PC)
	case StopStep:
		return fmt.Sprintf("thread %d stepped to %#x", e.Tid, e.PC)
	default:
		return fmt.Sprintf("thread %d stopped by %v at %#x", e.Tid, e.Signal, e.PC)
	}
}

// Continue 恢复所有线程执行，直到命中用户断点、进程退出或者被中断
//
// 带回调的断点在事件循环中处理：回调在线程停止期间执行，返回true并且断点设置了
// AutoContinue时越过断点继续执行，不会返回到调用方。
func (t *DebuggedProcess) Continue() (*StopEvent, error) {
	if !t.Valid() {
		return nil, ErrProcessExited
	}
	t.running.Store(true)
	defer t.running.Store(false)

	for _, th := range t.Threads {
		if err := t.resume(th); err != nil {
			return nil, err
		}
	}

	for {
		ev, err := t.handleNextStop()
		if err != nil {
			return nil, err
		}
		if ev != nil {
			return ev, nil
		}
	}
}

// Interrupt 让正在运行的进程停下来，Continue返回StopInterrupted
func (t *DebuggedProcess) Interrupt() error {
	if !t.running.Load() {
		return ErrNotRunning
	}
	t.interrupting.Store(true)
	return syscall.Kill(t.Process.Pid, syscall.SIGSTOP)
}

// Running Continue是否正在执行
func (t *DebuggedProcess) Running() bool {
	return t.running.Load()
}

// SingleStep 当前线程执行一条指令，其他线程保持停止
func (t *DebuggedProcess) SingleStep() (*StopEvent, error) {
	if !t.Valid() {
		return nil, ErrProcessExited
	}
	th, ok := t.Threads[t.curTid]
	if !ok {
		return nil, fmt.Errorf("thread %d not traced", t.curTid)
	}

	status, err := t.step(th)
	if err != nil {
		return nil, err
	}
	if ev := t.exitEvent(th.Tid, status); ev != nil {
		return ev, nil
	}

	regs, err := t.readRegs(th.Tid)
	if err != nil {
		return nil, err
	}
	return &StopEvent{Reason: StopStep, Tid: th.Tid, PC: regs.PC()}, nil
}

// step 单步执行，如果线程停在已处理过的断点上，临时恢复原指令
func (t *DebuggedProcess) step(th *Thread) (*syscall.WaitStatus, error) {
	bp, stepping := t.breakpointAt(th.reportedBP)
	stepping = stepping && th.reportedBP != 0
	if stepping {
		if err := t.WriteMemory(bp.Addr, bp.Orig); err != nil {
			return nil, err
		}
		defer func() {
			if err := t.WriteMemory(bp.Addr, t.Arch.BreakpointInstr); err != nil {
				t.log.Warn().Err(err).Uint64("breakpoint", bp.ID).Msg("reinsert breakpoint")
			}
		}()
	}
	th.reportedBP = 0

	var err error
	t.ExecPtrace(func() {
		err = syscall.PtraceSingleStep(th.Tid)
	})
	if err != nil {
		return nil, fmt.Errorf("single step err: %v", err)
	}

	// MUST: 当发起了某些对tracee执行控制的ptrace request之后，要调用wait等待并获取tracee状态变化
	_, status, err := t.wait(th.Tid, syscall.WALL)
	if err != nil {
		return nil, fmt.Errorf("wait error: %v", err)
	}
	th.Status = *status
	if status.Stopped() && status.StopSignal() != syscall.SIGTRAP {
		th.pendingSig = status.StopSignal()
	}
	return status, nil
}

// resume 恢复一个处于停止状态的线程
func (t *DebuggedProcess) resume(th *Thread) error {
	if !th.stopped {
		return nil
	}
	if th.reportedBP != 0 {
		status, err := t.step(th)
		if err != nil {
			return err
		}
		if status.Exited() || status.Signaled() {
			t.threadGone(th.Tid, status)
			return nil
		}
	}

	sig := int(th.pendingSig)
	var err error
	t.ExecPtrace(func() {
		err = syscall.PtraceCont(th.Tid, sig)
	})
	if err == syscall.ESRCH {
		// thread died while stopped
		delete(t.Threads, th.Tid)
		return nil
	}
	if err != nil {
		return fmt.Errorf("thread %d ptrace cont err: %v", th.Tid, err)
	}
	th.stopped = false
	th.pendingSig = 0
	return nil
}

// handleNextStop 等待任意线程的状态变化，返回非nil的StopEvent表示需要回到调用方
func (t *DebuggedProcess) handleNextStop() (*StopEvent, error) {
	var status syscall.WaitStatus
	wpid, err := syscall.Wait4(-1, &status, syscall.WALL, nil)
	if err == syscall.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wait err: %v", err)
	}

	if status.Exited() || status.Signaled() {
		return t.threadGone(wpid, &status), nil
	}
	if !status.Stopped() {
		return nil, nil
	}

	th, ok := t.Threads[wpid]
	if !ok {
		// a cloned thread may report its first stop before its parent
		th = &Thread{Tid: wpid, Process: t}
		t.Threads[wpid] = th
	}
	th.stopped = true
	th.Status = status

	sig := status.StopSignal()
	switch {
	case sig == syscall.SIGTRAP && status.TrapCause() == syscall.PTRACE_EVENT_CLONE:
		if err := t.addClonedThread(th); err != nil {
			return nil, err
		}
		return nil, t.resume(th)
	case sig == syscall.SIGTRAP:
		return t.handleTrap(th)
	case sig == syscall.SIGSTOP:
		if t.interrupting.CAS(true, false) {
			t.stopAll(th.Tid)
			t.curTid = th.Tid
			ev := &StopEvent{Reason: StopInterrupted, Tid: th.Tid}
			if regs, err := t.readRegs(th.Tid); err == nil {
				ev.PC = regs.PC()
			}
			return ev, nil
		}
		// initial stop of a new thread, or a leftover from stopAll
		return nil, t.resume(th)
	default:
		th.pendingSig = sig
		return nil, t.resume(th)
	}
}

// handleTrap 处理断点命中
func (t *DebuggedProcess) handleTrap(th *Thread) (*StopEvent, error) {
	regs, err := t.readRegs(th.Tid)
	if err != nil {
		return nil, err
	}
	addr := t.Arch.BreakpointAddr(regs.PC())

	bp, ok := t.breakpointAt(addr)
	if !ok {
		t.stopAll(th.Tid)
		t.curTid = th.Tid
		return &StopEvent{Reason: StopSignal, Tid: th.Tid, PC: regs.PC(), Signal: syscall.SIGTRAP}, nil
	}

	// rewind pc to the breakpoint address
	if addr != regs.PC() {
		regs.SetPC(addr)
		if err := t.writeRegs(th.Tid, regs); err != nil {
			return nil, err
		}
	}
	th.reportedBP = addr
	bp.Hits.Inc()

	t.bpMu.Lock()
	handler, auto := bp.handler, bp.AutoContinue
	t.bpMu.Unlock()

	if handler != nil {
		t.curTid = th.Tid
		cont := handler.OnCodeRegistered(jit.Event{ThreadID: th.Tid, PC: addr})
		if cont && auto {
			return nil, t.resume(th)
		}
	}

	t.stopAll(th.Tid)
	t.curTid = th.Tid
	return &StopEvent{Reason: StopBreakpoint, Tid: th.Tid, PC: addr, Breakpoint: bp}, nil
}

// addClonedThread 记录新创建的线程，新线程会以SIGSTOP开始运行
func (t *DebuggedProcess) addClonedThread(parent *Thread) error {
	var (
		cloned uint
		err    error
	)
	t.ExecPtrace(func() {
		cloned, err = syscall.PtraceGetEventMsg(parent.Tid)
	})
	if err == syscall.ESRCH {
		// thread died while we were adding it
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not get event message: %s", err)
	}

	tid := int(cloned)
	if _, ok := t.Threads[tid]; !ok {
		t.Threads[tid] = &Thread{Tid: tid, Process: t}
	}
	t.log.Debug().Int("tid", tid).Int("parent", parent.Tid).Msg("thread created")
	return nil
}

// threadGone 线程退出，主线程退出时返回StopExited
func (t *DebuggedProcess) threadGone(tid int, status *syscall.WaitStatus) *StopEvent {
	delete(t.Threads, tid)
	if tid != t.Process.Pid {
		return nil
	}

	t.exited.Store(true)
	ev := &StopEvent{Reason: StopExited, Tid: tid}
	if status.Signaled() {
		ev.Signal = status.Signal()
	} else {
		ev.ExitCode = status.ExitStatus()
	}
	return ev
}

func (t *DebuggedProcess) exitEvent(tid int, status *syscall.WaitStatus) *StopEvent {
	if status == nil || !(status.Exited() || status.Signaled()) {
		return nil
	}
	if ev := t.threadGone(tid, status); ev != nil {
		return ev
	}
	return &StopEvent{Reason: StopExited, Tid: tid}
}

// stopAll 停止除except之外的所有运行中的线程
//
// 停止过程中命中断点的线程把PC退回断点地址，恢复后会再次命中。
func (t *DebuggedProcess) stopAll(except int) {
	for tid, th := range t.Threads {
		if tid == except || th.stopped {
			continue
		}
		if err := unix.Tgkill(t.Process.Pid, tid, unix.SIGSTOP); err != nil {
			delete(t.Threads, tid)
			continue
		}

		var status syscall.WaitStatus
		if _, err := syscall.Wait4(tid, &status, syscall.WALL, nil); err != nil {
			delete(t.Threads, tid)
			continue
		}
		if status.Exited() || status.Signaled() {
			t.threadGone(tid, &status)
			continue
		}

		th.stopped = true
		th.Status = status
		switch sig := status.StopSignal(); {
		case sig == syscall.SIGSTOP:
		case sig == syscall.SIGTRAP && status.TrapCause() == syscall.PTRACE_EVENT_CLONE:
			if err := t.addClonedThread(th); err != nil {
				t.log.Debug().Err(err).Int("tid", tid).Msg("track cloned thread")
			}
		case sig == syscall.SIGTRAP:
			t.rewindBreakpoint(th)
		default:
			th.pendingSig = sig
		}
	}
}

func (t *DebuggedProcess) rewindBreakpoint(th *Thread) {
	regs, err := t.readRegs(th.Tid)
	if err != nil {
		return
	}
	addr := t.Arch.BreakpointAddr(regs.PC())
	if _, ok := t.breakpointAt(addr); !ok || addr == regs.PC() {
		return
	}
	regs.SetPC(addr)
	if err := t.writeRegs(th.Tid, regs); err != nil {
		t.log.Debug().Err(err).Int("tid", th.Tid).Msg("rewind breakpoint")
	}
}
