package debug

import (
	"fmt"

	"github.com/hitzhangjie/jitdbg/pkg/jit"
	"github.com/hitzhangjie/jitdbg/pkg/target"
	"github.com/spf13/cobra"
)

var jitCmd = &cobra.Command{
	Use:   "jit <subcommand>",
	Short: "调试JIT生成的代码",
	Long: `调试通过GDB JIT接口注册的代码，运行时需要开启--gdb-jit-interface.

先执行 jit setup 在 __jit_debug_register_code 上设置内部断点，之后每次注册的函数都会
被记录下来，可以用 jit list 查看，用 jit break 按名字设置断点，或者用 jit watch 预先
设置名字模式，函数注册时自动设置断点。`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupJIT,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 {
			return fmt.Errorf("unknown jit subcommand: %s", args[0])
		}
		return cmd.Help()
	},
}

var jitSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "在JIT注册函数上设置内部断点",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return CurrentSession.execJIT(cmd, jit.Setup{})
	},
}

var jitListCmd = &cobra.Command{
	Use:     "list",
	Short:   "列出已注册的JIT函数",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return CurrentSession.execJIT(cmd, jit.List{})
	},
}

var jitBreakCmd = &cobra.Command{
	Use:     "break <function-name>",
	Short:   "在名字包含function-name的JIT函数上设置断点",
	Aliases: []string{"b"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("%w: jit break <function-name>", jit.ErrUsage)
		}
		return CurrentSession.execJIT(cmd, jit.Break{Name: args[0]})
	},
}

var jitAddCmd = &cobra.Command{
	Use:   "add <address> <size> <name> [file]",
	Short: "手动登记一个JIT函数",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) < 3 || len(args) > 4 {
			return fmt.Errorf("%w: jit add <address> <size> <name> [file]", jit.ErrUsage)
		}
		rec := jit.CodeRecord{
			Addr: jit.ParseUint(args[0]),
			Size: jit.ParseUint(args[1]),
			Name: args[2],
		}
		if len(args) == 4 {
			rec.File = args[3]
		}
		return CurrentSession.execJIT(cmd, jit.Add{Record: rec})
	},
}

var jitWatchCmd = &cobra.Command{
	Use:   "watch <pattern> [pattern...]",
	Short: "函数注册时，名字包含pattern则自动设置断点",
	RunE: func(cmd *cobra.Command, args []string) error {
		if list, _ := cmd.Flags().GetBool("list"); list {
			return CurrentSession.execJIT(cmd, jit.ListPatterns{})
		}
		return CurrentSession.execJIT(cmd, jit.Watch{Patterns: args})
	},
}

var jitScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "遍历JIT描述符链表，登记已经注册过的函数",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return CurrentSession.execJIT(cmd, jit.Scan{})
	},
}

var jitStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "显示JIT监控的状态",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return CurrentSession.execJIT(cmd, jit.Status{})
	},
}

var jitExportCmd = &cobra.Command{
	Use:   "export [path]",
	Short: "以perf map格式导出JIT函数，默认/tmp/perf-<pid>.map",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			dbp, err := CurrentSession.process()
			if err != nil {
				return fmt.Errorf("%w: jit export <path>", jit.ErrUsage)
			}
			path = fmt.Sprintf("/tmp/perf-%d.map", dbp.Pid())
		}
		return CurrentSession.execJIT(cmd, jit.Export{Path: path})
	},
}

var jitDisassCmd = &cobra.Command{
	Use:   "disass <function-name>",
	Short: "反汇编JIT函数",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("%w: jit disass <function-name>", jit.ErrUsage)
		}
		var (
			max, _    = cmd.Flags().GetUint64("max")
			syntax, _ = cmd.Flags().GetString("syntax")
		)
		return CurrentSession.disassJIT(cmd, args[0], max, syntax)
	},
}

func init() {
	debugRootCmd.AddCommand(jitCmd)

	jitCmd.AddCommand(jitSetupCmd, jitListCmd, jitBreakCmd, jitAddCmd, jitWatchCmd,
		jitScanCmd, jitStatusCmd, jitExportCmd, jitDisassCmd)

	jitWatchCmd.Flags().BoolP("list", "l", false, "列出所有pattern")
	jitDisassCmd.Flags().Uint64P("max", "n", 64, "反汇编指令数量")
	jitDisassCmd.Flags().StringP("syntax", "s", "gnu", "反汇编指令语法，支持：go, gnu, intel")
}

func (s *DebugSession) execJIT(cmd *cobra.Command, c jit.Command) error {
	return s.monitor.Execute(cmd.OutOrStdout(), c)
}

// maxDisassSize JIT函数大小来自被调试进程，读取前做限制
const maxDisassSize = 64 * 1024

func (s *DebugSession) disassJIT(cmd *cobra.Command, name string, max uint64, syntax string) error {
	t := s.monitor.Target()
	if t == nil || !t.Valid() {
		return jit.ErrNoTarget
	}

	reg := s.monitor.Registry()
	rec, ok := reg.FindByName(name)
	if !ok {
		return fmt.Errorf("%w: '%s'. Use 'jit list' to see available functions", jit.ErrFunctionNotFound, name)
	}

	size := rec.Size
	if size == 0 || size > maxDisassSize {
		size = maxDisassSize
	}
	lookup := func(addr uint64) (string, uint64) {
		if r, ok := reg.LookupPC(addr); ok {
			return r.Name, r.Addr
		}
		return "", 0
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s:\n", rec)
	if s.dbp != nil && s.dbp.Valid() {
		return s.dbp.Disassemble(out, rec.Addr, size, max, syntax, lookup)
	}

	code := make([]byte, size)
	if err := t.ReadMemory(rec.Addr, code); err != nil {
		return fmt.Errorf("read code of '%s': %w", rec.Name, err)
	}
	return target.Disassemble(out, s.arch, rec.Addr, code, max, syntax, lookup)
}
