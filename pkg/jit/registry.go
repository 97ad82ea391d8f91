package jit

import (
	"sort"
	"strings"
	"sync"
)

// Registry JIT函数注册表，地址到CodeRecord的映射
//
// name, file and size of an address live in one immutable CodeRecord, so a
// reader never observes a partially written entry. One RWMutex guards the
// whole map.
type Registry struct {
	mu      sync.RWMutex
	records map[uint64]CodeRecord
}

// NewRegistry 创建一个空的注册表
func NewRegistry() *Registry {
	return &Registry{records: map[uint64]CodeRecord{}}
}

// Upsert 插入或覆盖rec.Addr处的记录，返回该地址之前是否已经存在
func (r *Registry) Upsert(rec CodeRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, existed := r.records[rec.Addr]
	r.records[rec.Addr] = rec
	return existed
}

// Lookup 按地址查找
func (r *Registry) Lookup(addr uint64) (CodeRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[addr]
	return rec, ok
}

// LookupPC returns the record whose code block contains pc.
func (r *Registry) LookupPC(pc uint64) (CodeRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rec, ok := r.records[pc]; ok {
		return rec, true
	}
	for _, rec := range r.records {
		if rec.Contains(pc) {
			return rec, true
		}
	}
	return CodeRecord{}, false
}

// FindByName 返回第一个名字包含substr的记录，大小写敏感，按地址升序遍历
func (r *Registry) FindByName(substr string) (CodeRecord, bool) {
	for _, rec := range r.Snapshot() {
		if strings.Contains(rec.Name, substr) {
			return rec, true
		}
	}
	return CodeRecord{}, false
}

// Snapshot 返回所有记录的拷贝，按地址升序排列
func (r *Registry) Snapshot() []CodeRecord {
	r.mu.RLock()
	recs := make([]CodeRecord, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Addr < recs[j].Addr
	})
	return recs
}

// Len 返回记录数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
