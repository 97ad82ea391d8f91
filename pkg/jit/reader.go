package jit

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

var (
	// errNoEvent marks a hit that carries no registration to process.
	errNoEvent = errors.New("no registration event")
	errDecode  = errors.New("malformed symfile")
)

// EventReader 在注册函数断点命中时从被调试进程中读取新登记的代码信息
//
// Every failure aborts the current event only. OnCodeRegistered always lets
// the debuggee continue.
type EventReader struct {
	target Target
	symbol string
	log    zerolog.Logger
	stats  *Stats
	sink   func(CodeRecord) bool
}

// NewEventReader builds a reader for the descriptor named symbol. sink
// receives every decoded record and reports whether it was new.
func NewEventReader(t Target, symbol string, log zerolog.Logger, stats *Stats, sink func(CodeRecord) bool) *EventReader {
	if stats == nil {
		stats = &Stats{}
	}
	return &EventReader{
		target: t,
		symbol: symbol,
		log:    log,
		stats:  stats,
		sink:   sink,
	}
}

// OnCodeRegistered implements EventHandler.
func (r *EventReader) OnCodeRegistered(ev Event) bool {
	r.stats.Events.Inc()

	rec, err := r.readRegistration()
	switch {
	case errors.Is(err, errNoEvent):
		r.stats.Ignored.Inc()
		return true
	case errors.Is(err, errDecode):
		r.stats.DecodeFailures.Inc()
		r.log.Warn().Int("tid", ev.ThreadID).Msg("failed to parse JIT debug info")
		return true
	case err != nil:
		r.stats.ReadFailures.Inc()
		r.log.Debug().Err(err).Int("tid", ev.ThreadID).Msg("drop JIT registration event")
		return true
	}

	r.sink(rec)
	return true
}

func (r *EventReader) descriptorAddr() (uint64, error) {
	addr, err := r.target.ResolveSymbol(r.symbol)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", r.symbol, err)
	}
	return addr, nil
}

func (r *EventReader) readRegistration() (CodeRecord, error) {
	addr, err := r.descriptorAddr()
	if err != nil {
		return CodeRecord{}, err
	}

	desc, err := readDescriptor(r.target, addr)
	if err != nil {
		return CodeRecord{}, err
	}
	// unregistration is not tracked
	if desc.RelevantEntry == 0 || desc.Action != ActionRegister {
		return CodeRecord{}, errNoEvent
	}

	entry, err := readEntry(r.target, desc.RelevantEntry)
	if err != nil {
		return CodeRecord{}, err
	}
	return r.decodeEntry(entry)
}

func (r *EventReader) decodeEntry(entry CodeEntry) (CodeRecord, error) {
	blob, err := readSymfile(r.target, entry)
	if err != nil {
		return CodeRecord{}, err
	}
	rec, ok := Decode(blob)
	if !ok {
		return CodeRecord{}, errDecode
	}
	return rec, nil
}

// ScanResult 遍历整个code entry链表的结果
type ScanResult struct {
	Entries   int  // 访问过的entry数量
	New       int  // 新登记的函数
	Known     int  // 已经存在的函数
	Malformed int  // symfile无法解析或读取失败
	Truncated bool // 因读取失败、环或数量上限提前结束
}

// Walk 从first_entry开始沿next遍历链表，把每个解析成功的记录交给sink
//
// The walk stops at a null next pointer, at an entry it has already
// visited, on a failed entry read, or after limit entries.
func (r *EventReader) Walk(limit int) (ScanResult, error) {
	var res ScanResult

	addr, err := r.descriptorAddr()
	if err != nil {
		return res, err
	}
	cur, err := readFirstEntry(r.target, addr)
	if err != nil {
		return res, err
	}

	visited := map[uint64]bool{}
	for cur != 0 {
		if visited[cur] || (limit > 0 && res.Entries >= limit) {
			res.Truncated = true
			break
		}
		visited[cur] = true

		entry, err := readEntry(r.target, cur)
		if err != nil {
			r.log.Debug().Err(err).Uint64("entry", cur).Msg("stop walking JIT entries")
			res.Truncated = true
			break
		}
		res.Entries++

		rec, err := r.decodeEntry(entry)
		if err != nil {
			r.log.Debug().Err(err).Uint64("entry", cur).Msg("skip JIT entry")
			res.Malformed++
		} else if r.sink(rec) {
			res.New++
		} else {
			res.Known++
		}
		cur = entry.Next
	}
	return res, nil
}
