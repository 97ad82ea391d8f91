package jit

import "go.uber.org/atomic"

// Stats 注册事件计数
type Stats struct {
	Events         atomic.Uint64 // 注册函数断点命中次数
	Registered     atomic.Uint64 // 新登记的函数
	Duplicates     atomic.Uint64 // 重复通知
	Ignored        atomic.Uint64 // 非注册动作或空entry
	ReadFailures   atomic.Uint64 // 读取被调试进程内存失败
	DecodeFailures atomic.Uint64 // symfile解析失败
	Armed          atomic.Uint64 // 自动添加的断点
}
