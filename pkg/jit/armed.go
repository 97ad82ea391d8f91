package jit

import (
	"sort"
	"sync"
)

// ArmedSet 已经因为模式匹配而自动添加过断点的地址，地址一旦加入不再移除
type ArmedSet struct {
	mu    sync.Mutex
	addrs map[uint64]struct{}
}

// NewArmedSet 创建一个空集合
func NewArmedSet() *ArmedSet {
	return &ArmedSet{addrs: map[uint64]struct{}{}}
}

// Contains 检查addr是否已经添加过断点
func (s *ArmedSet) Contains(addr uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.addrs[addr]
	return ok
}

// Mark records addr and reports whether this was its first time.
func (s *ArmedSet) Mark(addr uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.addrs[addr]; ok {
		return false
	}
	s.addrs[addr] = struct{}{}
	return true
}

// Len 返回地址数量
func (s *ArmedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.addrs)
}

// Addresses 按升序返回所有地址
func (s *ArmedSet) Addresses() []uint64 {
	s.mu.Lock()
	addrs := make([]uint64, 0, len(s.addrs))
	for addr := range s.addrs {
		addrs = append(addrs, addr)
	}
	s.mu.Unlock()

	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}
