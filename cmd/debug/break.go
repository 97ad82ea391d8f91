package debug

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var breakCmd = &cobra.Command{
	Use:   "break <locspec>",
	Short: "添加断点",
	Long: `添加断点，位置可以通过locspec格式指定。

当前支持的locspec格式:
- 指令地址，如 0x7f3c2a001000
- 已加载模块中的符号名，如 __jit_debug_register_code
- 已注册的JIT函数名（子串匹配），同 jit break`,
	Aliases: []string{"b", "breakpoint"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("usage: break <locspec>")
		}

		dbp, err := CurrentSession.process()
		if err != nil {
			return err
		}

		locStr := args[0]
		addr, err := parseAddress(locStr)
		if err != nil {
			addr, err = dbp.ResolveSymbol(locStr)
		}
		if err != nil {
			rec, ok := CurrentSession.monitor.Registry().FindByName(locStr)
			if !ok {
				return fmt.Errorf("invalid loc: %s", locStr)
			}
			addr = rec.Addr
		}

		brk, err := dbp.AddBreakpoint(addr)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Breakpoint %d set at %#x\n", brk.ID, brk.Addr)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(breakCmd)
}

func parseAddress(locStr string) (uint64, error) {
	v, err := strconv.ParseUint(locStr, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid locspec: %v", err)
	}
	return v, nil
}
