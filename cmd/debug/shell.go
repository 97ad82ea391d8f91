package debug

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/hitzhangjie/jitdbg/pkg/jit"
	"github.com/hitzhangjie/jitdbg/pkg/target"
	"github.com/mitchellh/go-homedir"
	"github.com/peterh/liner"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	cmdGroupAnnotation = "cmd_group_annotation"

	cmdGroupBreakpoints = "1-breaks"
	cmdGroupSource      = "2-source"
	cmdGroupCtrlFlow    = "3-execute"
	cmdGroupInfo        = "4-info"
	cmdGroupOthers      = "5-other"
	cmdGroupJIT         = "6-jit"
	cmdGroupCobra       = "other"

	cmdGroupDelimiter = "-"

	prefix    = "jitdbg> "
	descShort = "jitdbg interactive debugging commands"
)

var debugRootCmd = &cobra.Command{
	Use:           "help [command]",
	Short:         descShort,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	CurrentSession *DebugSession

	errNoProcess = errors.New("no process is being debugged, please exec or attach first")
)

// DebugSession 调试会话
type DebugSession struct {
	done    chan bool
	prefix  string
	root    *cobra.Command
	liner   *liner.State
	history string
	last    string
	out     io.Writer

	dbp     *target.DebuggedProcess
	arch    *target.Arch
	monitor *jit.Monitor
	log     zerolog.Logger

	defers []func()
}

// NewDebugSession 创建一个debug专用的交互管理器
func NewDebugSession(dbp *target.DebuggedProcess, log zerolog.Logger) *DebugSession {
	s := newSession(os.Stdout, log, MonitorOptions())
	s.liner = liner.NewLiner()
	if h, err := homedir.Expand(viper.GetString("shell.history")); err == nil {
		s.history = h
	}
	if p := viper.GetString("shell.prompt"); p != "" {
		s.prefix = p
	}
	s.SetTarget(dbp)

	for _, pat := range viper.GetStringSlice("jit.watch") {
		if err := s.monitor.Patterns().Add(pat); err != nil {
			s.log.Warn().Err(err).Msg("ignore startup watch pattern")
		}
	}
	return s
}

func newSession(out io.Writer, log zerolog.Logger, opts jit.Options) *DebugSession {
	debugRootCmd.SetHelpFunc(helpFunc)
	debugRootCmd.SetOut(out)

	arch, err := target.LookupArch(runtime.GOARCH)
	if err != nil {
		arch = target.AMD64
	}
	return &DebugSession{
		done:    make(chan bool),
		prefix:  prefix,
		root:    debugRootCmd,
		out:     out,
		arch:    arch,
		monitor: jit.NewMonitor(jit.NewRegistry(), jit.NewPatternSet(), jit.NewArmedSet(), log, opts),
		log:     log,
	}
}

// MonitorOptions 从配置中读取JIT监控的选项
func MonitorOptions() jit.Options {
	opts := jit.DefaultOptions()
	if v := viper.GetString("jit.descriptor_symbol"); v != "" {
		opts.DescriptorSymbol = v
	}
	if v := viper.GetString("jit.register_symbol"); v != "" {
		opts.RegisterSymbol = v
	}
	if v := viper.GetInt("jit.scan_limit"); v > 0 {
		opts.ScanLimit = v
	}
	return opts
}

// SetTarget 切换被调试进程
func (s *DebugSession) SetTarget(dbp *target.DebuggedProcess) {
	s.dbp = dbp
	if dbp == nil {
		s.monitor.SelectTarget(nil)
		return
	}
	s.arch = dbp.Arch
	s.monitor.SelectTarget(dbp)
}

// Monitor JIT监控
func (s *DebugSession) Monitor() *jit.Monitor {
	return s.monitor
}

func (s *DebugSession) process() (*target.DebuggedProcess, error) {
	if s.dbp == nil || !s.dbp.Valid() {
		return nil, errNoProcess
	}
	return s.dbp, nil
}

// Start 读取并执行命令，直到exit或者输入结束
func (s *DebugSession) Start() {
	s.liner.SetCompleter(completer)
	s.liner.SetTabCompletionStyle(liner.TabPrints)
	s.liner.SetCtrlCAborts(true)
	s.loadHistory()

	defer func() {
		s.saveHistory()
		s.liner.Close()
		for idx := len(s.defers) - 1; idx >= 0; idx-- {
			s.defers[idx]()
		}
	}()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		txt, err := s.liner.Prompt(s.prefix)
		if err == liner.ErrPromptAborted {
			continue
		}
		if err != nil {
			// EOF
			return
		}

		txt = strings.TrimSpace(txt)
		if len(txt) != 0 {
			s.last = txt
			s.liner.AppendHistory(txt)
		} else {
			txt = s.last
		}
		if txt == "" {
			continue
		}

		if err := s.Exec(txt); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

// Exec 执行一行命令
func (s *DebugSession) Exec(line string) error {
	resetFlags(s.root)
	s.root.SetArgs(strings.Fields(line))
	return s.root.Execute()
}

func (s *DebugSession) AtExit(fn func()) *DebugSession {
	s.defers = append(s.defers, fn)
	return s
}

func (s *DebugSession) Stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Interrupt 中断正在执行的continue
func (s *DebugSession) Interrupt() error {
	if s.dbp == nil {
		return errNoProcess
	}
	return s.dbp.Interrupt()
}

func (s *DebugSession) loadHistory() {
	if s.history == "" {
		return
	}
	f, err := os.Open(s.history)
	if err != nil {
		return
	}
	defer f.Close()

	if _, err := s.liner.ReadHistory(f); err != nil {
		s.log.Debug().Err(err).Str("file", s.history).Msg("read history")
	}
}

func (s *DebugSession) saveHistory() {
	if s.history == "" {
		return
	}
	f, err := os.Create(s.history)
	if err != nil {
		s.log.Debug().Err(err).Str("file", s.history).Msg("write history")
		return
	}
	defer f.Close()

	if _, err := s.liner.WriteHistory(f); err != nil {
		s.log.Debug().Err(err).Str("file", s.history).Msg("write history")
	}
}

// resetFlags 同一个命令会被反复执行，执行前恢复flag默认值
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func helpFunc(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()

	// 描述信息
	fmt.Fprintln(out, cmd.Short)
	fmt.Fprintln(out)

	// 使用信息
	fmt.Fprintln(out, cmd.Use)
	fmt.Fprintln(out, cmd.Flags().FlagUsages())

	// 命令分组
	if cmd.HasSubCommands() {
		fmt.Fprintln(out, helpMessageByGroups(cmd))
	}
}

func completer(line string) []string {
	cmds := []string{}
	for _, c := range debugRootCmd.Commands() {
		// complete cmd
		if strings.HasPrefix(c.Use, line) {
			cmds = append(cmds, strings.Split(c.Use, " ")[0])
		}
		// complete cmd's aliases
		for _, alias := range c.Aliases {
			if strings.HasPrefix(alias, line) {
				cmds = append(cmds, alias)
			}
		}
		// complete subcommands, e.g. `jit li`
		name := c.Name() + " "
		if !strings.HasPrefix(line, name) {
			continue
		}
		for _, sub := range c.Commands() {
			if strings.HasPrefix(name+sub.Name(), line) {
				cmds = append(cmds, name+sub.Name())
			}
		}
	}
	return cmds
}

// helpMessageByGroups 将各个命令按照分组归类，再展示帮助信息
func helpMessageByGroups(cmd *cobra.Command) string {

	// key:group, val:sorted commands in same group
	groups := map[string][]string{}
	for _, c := range cmd.Commands() {
		// 如果没有指定命令分组，放入other组
		groupName, ok := c.Annotations[cmdGroupAnnotation]
		if !ok {
			groupName = cmdGroupCobra
		}

		groupCmds := append(groups[groupName], fmt.Sprintf("  %-16s:%s", c.Name(), c.Short))
		sort.Strings(groupCmds)
		groups[groupName] = groupCmds
	}

	if len(groups[cmdGroupCobra]) != 0 {
		groups[cmdGroupOthers] = append(groups[cmdGroupOthers], groups[cmdGroupCobra]...)
	}
	delete(groups, cmdGroupCobra)

	// 按照分组名进行排序
	groupNames := []string{}
	for k := range groups {
		groupNames = append(groupNames, k)
	}
	sort.Strings(groupNames)

	// 按照group分组，并对组内命令进行排序
	buf := bytes.Buffer{}
	for _, groupName := range groupNames {
		group := strings.Split(groupName, cmdGroupDelimiter)[1]
		buf.WriteString(fmt.Sprintf("- [%s]\n", group))

		for _, cmd := range groups[groupName] {
			buf.WriteString(fmt.Sprintf("%s\n", cmd))
		}
		buf.WriteString("\n")
	}
	return buf.String()
}
