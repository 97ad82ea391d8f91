package jit

import (
	"strings"
	"sync"
)

// PatternSet 等待命中的函数名模式，保持插入顺序，允许重复
type PatternSet struct {
	mu       sync.RWMutex
	patterns []string
}

// NewPatternSet 创建一个空的模式集合
func NewPatternSet() *PatternSet {
	return &PatternSet{}
}

// Add 原样追加一个模式，空串返回ErrEmptyPattern
func (p *PatternSet) Add(pattern string) error {
	if pattern == "" {
		return ErrEmptyPattern
	}
	p.mu.Lock()
	p.patterns = append(p.patterns, pattern)
	p.mu.Unlock()
	return nil
}

// Matches reports whether any pattern is a case-insensitive substring of name.
func (p *PatternSet) Matches(name string) bool {
	name = strings.ToLower(name)

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, pat := range p.patterns {
		if strings.Contains(name, strings.ToLower(pat)) {
			return true
		}
	}
	return false
}

// Patterns 返回模式列表的拷贝
func (p *PatternSet) Patterns() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.patterns...)
}

// Len 返回模式数量
func (p *PatternSet) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.patterns)
}
