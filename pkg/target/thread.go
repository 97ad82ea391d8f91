package target

import (
	"syscall"
)

// Thread 线程信息
type Thread struct {
	Tid     int                // thread ID
	Status  syscall.WaitStatus // wait status
	Process *DebuggedProcess   // process this thread belongs to

	stopped    bool           // 处于ptrace stop状态
	pendingSig syscall.Signal // 恢复执行时需要转发的信号
	reportedBP uint64         // 已处理过的断点地址，恢复前需要越过它
}
