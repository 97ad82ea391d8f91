package target

import (
	"debug/elf"
	"errors"
	"fmt"
	"sync"

	"github.com/hitzhangjie/jitdbg/pkg/jit"
)

// symbolTable 在被调试进程加载的模块中查找符号
//
// JIT运行时通常把__jit_debug_descriptor放在某个共享库中，所以需要遍历
// /proc/pid/maps中所有基于文件的映射，并加上模块的加载偏移。
type symbolTable struct {
	pid int

	mu       sync.Mutex
	modules  map[string]map[string]uint64 // path -> symbol -> st_value
	resolved map[string]uint64
}

func newSymbolTable(pid int) *symbolTable {
	return &symbolTable{
		pid:      pid,
		modules:  map[string]map[string]uint64{},
		resolved: map[string]uint64{},
	}
}

// Resolve 返回符号在进程地址空间中的地址
func (s *symbolTable) Resolve(name string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr, ok := s.resolved[name]; ok {
		return addr, nil
	}

	maps, err := readMaps(s.pid)
	if err != nil {
		return 0, fmt.Errorf("read maps: %v", err)
	}
	return s.resolveIn(name, maps)
}

// resolveIn 按映射顺序在各模块中查找，调用方持有s.mu
func (s *symbolTable) resolveIn(name string, maps []mapping) (uint64, error) {
	for _, path := range modulePaths(maps) {
		syms, err := s.load(path)
		if err != nil {
			continue
		}
		value, ok := syms[name]
		if !ok {
			continue
		}
		bias, err := loadBias(path, maps)
		if err != nil {
			continue
		}
		s.resolved[name] = value + bias
		return value + bias, nil
	}
	return 0, fmt.Errorf("%s: %w", name, jit.ErrSymbolNotFound)
}

func (s *symbolTable) load(path string) (map[string]uint64, error) {
	if syms, ok := s.modules[path]; ok {
		return syms, nil
	}
	syms, err := readELFSymbols(path)
	if err != nil {
		return nil, err
	}
	s.modules[path] = syms
	return syms, nil
}

// modulePaths 返回映射中出现的文件，按第一次出现的顺序，可执行文件排在最前面
func modulePaths(maps []mapping) []string {
	var paths []string
	seen := map[string]bool{}
	for _, m := range maps {
		if !m.fileBacked() || seen[m.Path] {
			continue
		}
		seen[m.Path] = true
		paths = append(paths, m.Path)
	}
	return paths
}

// readELFSymbols 读取.symtab和.dynsym中定义了的符号，.symtab优先
func readELFSymbols(path string) (map[string]uint64, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	syms := map[string]uint64{}
	add := func(list []elf.Symbol) {
		for _, sym := range list {
			if sym.Section == elf.SHN_UNDEF || sym.Value == 0 || sym.Name == "" {
				continue
			}
			if _, ok := syms[sym.Name]; !ok {
				syms[sym.Name] = sym.Value
			}
		}
	}

	static, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, err
	}
	add(static)

	dynamic, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, err
	}
	add(dynamic)
	return syms, nil
}

// loadBias 计算模块的加载偏移，ET_EXEC为0
func loadBias(path string, maps []mapping) (uint64, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if f.Type != elf.ET_DYN {
		return 0, nil
	}

	var first *elf.Prog
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			first = p
			break
		}
	}
	if first == nil {
		return 0, fmt.Errorf("%s: no loadable segment", path)
	}
	return computeBias(path, maps, first.Vaddr, first.Off)
}

// computeBias 用文件偏移最小的那个映射计算偏移
func computeBias(path string, maps []mapping, vaddr, off uint64) (uint64, error) {
	const pageMask = 0xfff

	var (
		found bool
		base  mapping
	)
	for _, m := range maps {
		if m.Path != path {
			continue
		}
		if !found || m.Offset < base.Offset {
			base = m
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("%s: not mapped", path)
	}

	segStart := (vaddr &^ pageMask) - ((off &^ pageMask) - base.Offset)
	return base.Start - segStart, nil
}
