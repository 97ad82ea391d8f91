package jit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Well-known symbols of the GDB JIT interface.
const (
	DescriptorSymbol = "__jit_debug_descriptor"
	RegisterSymbol   = "__jit_debug_register_code"
	HookName         = "jit-monitor"
)

// DefaultScanLimit bounds the number of entries Scan visits.
const DefaultScanLimit = 100000

// State 注册断点的生命周期，只会从未初始化变为已设置
type State int

const (
	StateUninitialized State = iota
	StateArmed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateArmed:
		return "armed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options 监控配置
type Options struct {
	DescriptorSymbol string
	RegisterSymbol   string
	HookName         string
	ScanLimit        int
}

// DefaultOptions 返回GDB JIT接口的默认符号
func DefaultOptions() Options {
	return Options{
		DescriptorSymbol: DescriptorSymbol,
		RegisterSymbol:   RegisterSymbol,
		HookName:         HookName,
		ScanLimit:        DefaultScanLimit,
	}
}

// Monitor 把注册表、模式集合和断点管理组合起来，处理注册事件和操作员命令
type Monitor struct {
	opts     Options
	log      zerolog.Logger
	registry *Registry
	patterns *PatternSet
	armed    *ArmedSet
	stats    Stats

	// armMu covers check, create and mark of an automatic breakpoint
	armMu sync.Mutex

	mu       sync.Mutex
	target   Target
	hook     Hook
	internal bool
	state    State
}

// NewMonitor 创建监控，所有状态由调用方注入
func NewMonitor(registry *Registry, patterns *PatternSet, armed *ArmedSet, log zerolog.Logger, opts Options) *Monitor {
	def := DefaultOptions()
	if opts.DescriptorSymbol == "" {
		opts.DescriptorSymbol = def.DescriptorSymbol
	}
	if opts.RegisterSymbol == "" {
		opts.RegisterSymbol = def.RegisterSymbol
	}
	if opts.HookName == "" {
		opts.HookName = def.HookName
	}
	if opts.ScanLimit <= 0 {
		opts.ScanLimit = def.ScanLimit
	}
	return &Monitor{
		opts:     opts,
		log:      log.With().Str("component", "jit").Logger(),
		registry: registry,
		patterns: patterns,
		armed:    armed,
	}
}

func (m *Monitor) Registry() *Registry   { return m.registry }
func (m *Monitor) Patterns() *PatternSet { return m.patterns }
func (m *Monitor) Armed() *ArmedSet      { return m.armed }
func (m *Monitor) Stats() *Stats         { return &m.stats }

// Target 返回当前调试目标，可能为nil
func (m *Monitor) Target() Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// State 返回注册断点的状态
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SelectTarget 切换当前调试目标，新目标需要重新setup
func (m *Monitor) SelectTarget(t Target) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t == m.target {
		return
	}
	m.target = t
	m.hook = nil
	m.internal = false
	m.state = StateUninitialized
}

func (m *Monitor) validTarget() (Target, error) {
	m.mu.Lock()
	t := m.target
	m.mu.Unlock()

	if t == nil || !t.Valid() {
		return nil, ErrNoTarget
	}
	return t, nil
}

// Execute 执行一条操作员命令，结果写入w
func (m *Monitor) Execute(w io.Writer, cmd Command) error {
	switch c := cmd.(type) {
	case Setup:
		return m.setup(w)
	case List:
		return m.list(w)
	case Break:
		return m.breakByName(w, c.Name)
	case Add:
		return m.add(w, c.Record)
	case Watch:
		return m.watch(w, c.Patterns)
	case ListPatterns:
		return m.listPatterns(w)
	case Scan:
		return m.scan(w)
	case Status:
		return m.status(w)
	case Export:
		return m.export(w, c.Path)
	default:
		return fmt.Errorf("unknown command %T", cmd)
	}
}

func (m *Monitor) setup(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.target
	if t == nil || !t.Valid() {
		return ErrNoTarget
	}
	if m.state == StateArmed {
		return ErrAlreadySetup
	}

	reader := NewEventReader(t, m.opts.DescriptorSymbol, m.log, &m.stats, m.absorb)
	opts := HookOptions{Name: m.opts.HookName, AutoContinue: true}
	hook, err := t.HookSymbol(m.opts.RegisterSymbol, opts, reader)
	if errors.Is(err, ErrBreakpointExisted) {
		return fmt.Errorf("a breakpoint on %s already exists, clear it and run 'jit setup' again: %w",
			m.opts.RegisterSymbol, err)
	}
	if err != nil {
		return fmt.Errorf("failed to set breakpoint on %s, is the target process using the GDB JIT interface? %w",
			m.opts.RegisterSymbol, err)
	}

	internal := true
	if err := hook.SetInternal(); err != nil {
		internal = false
		if !errors.Is(err, ErrUnsupported) {
			m.log.Warn().Err(err).Msg("mark JIT monitor breakpoint internal")
		}
	}

	m.hook = hook
	m.internal = internal
	m.state = StateArmed

	fmt.Fprintf(w, "JIT debugging enabled. Breakpoint %d set on %s with callback.\n", hook.ID(), m.opts.RegisterSymbol)
	if !internal {
		fmt.Fprintf(w, "Host cannot hide internal breakpoints, the monitor shows up as '%s'.\n", m.opts.HookName)
	}
	fmt.Fprintln(w, "Run your program with --gdb-jit-interface flag.")
	fmt.Fprintln(w, "Use 'jit list' to see registered functions.")
	return nil
}

func (m *Monitor) list(w io.Writer) error {
	recs := m.registry.Snapshot()
	if len(recs) == 0 {
		fmt.Fprintln(w, "No JIT-compiled functions registered.")
		return nil
	}
	writeTable(w, recs)
	return nil
}

func (m *Monitor) breakByName(w io.Writer, name string) error {
	if name == "" {
		return fmt.Errorf("%w: jit break <function-name>", ErrUsage)
	}
	t, err := m.validTarget()
	if err != nil {
		return err
	}

	rec, ok := m.registry.FindByName(name)
	if !ok {
		return fmt.Errorf("%w: '%s'. Use 'jit list' to see available functions", ErrFunctionNotFound, name)
	}

	id, err := t.CreateBreakpoint(rec.Addr)
	if err != nil {
		return fmt.Errorf("failed to create breakpoint at address %#x: %w", rec.Addr, err)
	}
	fmt.Fprintf(w, "Breakpoint %d set at %#x (function '%s', size: %d bytes)\n", id, rec.Addr, rec.Name, rec.Size)
	return nil
}

func (m *Monitor) add(w io.Writer, rec CodeRecord) error {
	if rec.Addr == 0 {
		return ErrInvalidAddress
	}
	rec = NewCodeRecord(rec.Addr, rec.Size, rec.Name, rec.File)
	m.registry.Upsert(rec)

	fmt.Fprintf(w, "Added JIT function '%s' at %#x (size: %d bytes, file: %s)\n", rec.Name, rec.Addr, rec.Size, rec.File)
	return nil
}

func (m *Monitor) watch(w io.Writer, patterns []string) error {
	if len(patterns) == 0 {
		return fmt.Errorf("%w: jit watch <pattern> [pattern...]", ErrUsage)
	}

	added := 0
	for _, pat := range patterns {
		if err := m.patterns.Add(pat); err != nil {
			continue
		}
		added++
	}

	suffix := "s"
	if added == 1 {
		suffix = ""
	}
	fmt.Fprintf(w, "Added %d pattern%s to pending-breakpoint watch list.\n", added, suffix)
	return nil
}

func (m *Monitor) listPatterns(w io.Writer) error {
	pats := m.patterns.Patterns()
	if len(pats) == 0 {
		fmt.Fprintln(w, "No watch patterns.")
		return nil
	}
	for i, pat := range pats {
		fmt.Fprintf(w, "%3d  %s\n", i+1, pat)
	}
	return nil
}

func (m *Monitor) scan(w io.Writer) error {
	t, err := m.validTarget()
	if err != nil {
		return err
	}

	reader := NewEventReader(t, m.opts.DescriptorSymbol, m.log, &m.stats, m.absorb)
	res, err := reader.Walk(m.opts.ScanLimit)
	if err != nil {
		return fmt.Errorf("scan JIT entries: %w", err)
	}

	fmt.Fprintf(w, "Scanned %d JIT entries: %d new, %d known, %d malformed.\n", res.Entries, res.New, res.Known, res.Malformed)
	if res.Truncated {
		fmt.Fprintln(w, "Scan stopped early, the entry list is incomplete or corrupted.")
	}
	return nil
}

func (m *Monitor) status(w io.Writer) error {
	m.mu.Lock()
	state, hook, internal := m.state, m.hook, m.internal
	m.mu.Unlock()

	fmt.Fprintf(w, "monitor:    %s\n", state)
	if hook != nil {
		fmt.Fprintf(w, "breakpoint: %d at %#x (internal: %v)\n", hook.ID(), hook.Addr(), internal)
	}
	fmt.Fprintf(w, "functions:  %d\n", m.registry.Len())
	fmt.Fprintf(w, "patterns:   %d\n", m.patterns.Len())
	fmt.Fprintf(w, "armed:      %d\n", m.armed.Len())
	fmt.Fprintf(w, "events:     %d (registered %d, duplicate %d, ignored %d, read errors %d, decode errors %d)\n",
		m.stats.Events.Load(), m.stats.Registered.Load(), m.stats.Duplicates.Load(),
		m.stats.Ignored.Load(), m.stats.ReadFailures.Load(), m.stats.DecodeFailures.Load())
	return nil
}

func (m *Monitor) export(w io.Writer, path string) error {
	if path == "" {
		return fmt.Errorf("%w: jit export <path>", ErrUsage)
	}
	recs := m.registry.Snapshot()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create perf map: %w", err)
	}
	if err = WritePerfMap(f, recs); err != nil {
		f.Close()
		return fmt.Errorf("write perf map: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close perf map: %w", err)
	}

	fmt.Fprintf(w, "Exported %d JIT functions to %s\n", len(recs), path)
	return nil
}

// absorb 登记一条来自被调试进程的记录，返回是否首次出现
//
// Only the first sighting of an address is logged and matched against the
// watch patterns.
func (m *Monitor) absorb(rec CodeRecord) bool {
	if m.registry.Upsert(rec) {
		m.stats.Duplicates.Inc()
		return false
	}
	m.stats.Registered.Inc()

	m.log.Info().
		Str("name", rec.Name).
		Str("addr", fmt.Sprintf("%#x", rec.Addr)).
		Uint64("size", rec.Size).
		Str("file", rec.File).
		Msg("registered function")

	m.armIfWatched(rec)
	return true
}

// armIfWatched creates the automatic breakpoint for rec when its name matches
// a watch pattern and no breakpoint was armed at its address yet.
func (m *Monitor) armIfWatched(rec CodeRecord) {
	if !m.patterns.Matches(rec.Name) {
		return
	}

	m.armMu.Lock()
	defer m.armMu.Unlock()

	if m.armed.Contains(rec.Addr) {
		return
	}
	t, err := m.validTarget()
	if err != nil {
		return
	}

	id, err := t.CreateBreakpoint(rec.Addr)
	if err != nil && !errors.Is(err, ErrBreakpointExisted) {
		m.log.Warn().Err(err).Str("name", rec.Name).Msg("arm watched function")
		return
	}
	m.armed.Mark(rec.Addr)
	m.stats.Armed.Inc()

	m.log.Info().
		Uint64("breakpoint", id).
		Str("name", rec.Name).
		Str("addr", fmt.Sprintf("%#x", rec.Addr)).
		Msg("armed watched function")
}
