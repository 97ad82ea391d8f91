package jit

import "fmt"

const unknown = "unknown"

// CodeRecord 一段JIT生成代码的符号信息，以Addr作为标识
type CodeRecord struct {
	Addr uint64 // 代码起始地址
	Size uint64 // 代码长度，单位字节
	Name string // 函数名
	File string // 源文件
}

// NewCodeRecord returns a record with empty name and file replaced by "unknown".
func NewCodeRecord(addr, size uint64, name, file string) CodeRecord {
	if name == "" {
		name = unknown
	}
	if file == "" {
		file = unknown
	}
	return CodeRecord{Addr: addr, Size: size, Name: name, File: file}
}

// Contains reports whether pc falls inside the code block.
func (r CodeRecord) Contains(pc uint64) bool {
	return pc >= r.Addr && pc-r.Addr < r.Size
}

func (r CodeRecord) String() string {
	return fmt.Sprintf("%s@%#x[%d] (%s)", r.Name, r.Addr, r.Size, r.File)
}
