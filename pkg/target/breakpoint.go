package target

import (
	"github.com/hitzhangjie/jitdbg/pkg/jit"
	"go.uber.org/atomic"
)

var (
	bpSeqNo = atomic.NewUint64(0)
)

// Breakpoint 断点信息
type Breakpoint struct {
	ID           uint64 // 断点编号
	Addr         uint64 // 断点地址
	Name         string // 断点名称，hook断点使用
	Orig         []byte // 原内存数据
	Internal     bool   // 内部断点，不在breaks中展示
	AutoContinue bool   // 回调返回true后自动恢复执行
	Hits         atomic.Uint64

	handler jit.EventHandler
}

// 在指令地址addr处创建一个断点，该地址处原始的数据为orig
func newBreakpoint(addr uint64, orig []byte, name string) *Breakpoint {
	return &Breakpoint{
		ID:   bpSeqNo.Add(1),
		Addr: addr,
		Orig: orig,
		Name: name,
	}
}

// Breakpoints 所有的断点信息
type Breakpoints []*Breakpoint

// Len 返回长度
func (b Breakpoints) Len() int {
	return len(b)
}

// Less 按断点编号排序
func (b Breakpoints) Less(i, j int) bool {
	return b[i].ID < b[j].ID
}

// Swap 交换b[i]和b[j]
func (b Breakpoints) Swap(i, j int) {
	b[i], b[j] = b[j], b[i]
}

// hook 把带回调的断点暴露为jit.Hook
type hook struct {
	dbp *DebuggedProcess
	bp  *Breakpoint
}

func (h *hook) ID() uint64   { return h.bp.ID }
func (h *hook) Addr() uint64 { return h.bp.Addr }

// SetInternal 隐藏断点
func (h *hook) SetInternal() error {
	h.dbp.bpMu.Lock()
	h.bp.Internal = true
	h.dbp.bpMu.Unlock()
	return nil
}
