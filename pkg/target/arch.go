package target

import (
	"encoding/binary"
	"fmt"
	"runtime"
)

// Arch 目标平台相关的信息
type Arch struct {
	Name            string
	PtrSize         int
	ByteOrder       binary.ByteOrder
	BreakpointInstr []byte // 软件断点指令
	PCAdjust        uint64 // 命中断点后PC相对断点地址的偏移
}

var (
	// AMD64 int3执行后PC指向下一条指令
	AMD64 = &Arch{
		Name:            "amd64",
		PtrSize:         8,
		ByteOrder:       binary.LittleEndian,
		BreakpointInstr: []byte{0xCC},
		PCAdjust:        1,
	}

	// ARM64 brk #0，PC停在断点指令本身
	ARM64 = &Arch{
		Name:            "arm64",
		PtrSize:         8,
		ByteOrder:       binary.LittleEndian,
		BreakpointInstr: []byte{0x00, 0x00, 0x20, 0xd4},
		PCAdjust:        0,
	}
)

// LookupArch 根据GOARCH返回平台信息
func LookupArch(goarch string) (*Arch, error) {
	switch goarch {
	case "amd64":
		return AMD64, nil
	case "arm64":
		return ARM64, nil
	}
	return nil, fmt.Errorf("unsupported architecture: %s", goarch)
}

// hostArch ptrace只能调试同平台进程
func hostArch() (*Arch, error) {
	return LookupArch(runtime.GOARCH)
}

// BreakpointAddr 由命中断点时的PC计算断点地址
func (a *Arch) BreakpointAddr(pc uint64) uint64 {
	return pc - a.PCAdjust
}
