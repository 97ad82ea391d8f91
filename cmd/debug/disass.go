package debug

import (
	"github.com/spf13/cobra"
)

var disassCmd = &cobra.Command{
	Use:   "disass [address]",
	Short: "反汇编机器指令",
	Long:  "反汇编机器指令，默认从当前线程的PC开始",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupSource,
	},
	Aliases: []string{"dis", "disassemble"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			max, _    = cmd.Flags().GetUint64("max")
			syntax, _ = cmd.Flags().GetString("syntax")
		)

		dbp, err := CurrentSession.process()
		if err != nil {
			return err
		}

		var addr uint64
		if len(args) == 1 {
			if addr, err = parseAddress(args[0]); err != nil {
				return err
			}
		} else {
			regs, err := dbp.ReadRegister()
			if err != nil {
				return err
			}
			addr = regs.PC()
		}

		// 断点处的指令会被替换回原始数据
		reg := CurrentSession.monitor.Registry()
		lookup := func(pc uint64) (string, uint64) {
			if rec, ok := reg.LookupPC(pc); ok {
				return rec.Name, rec.Addr
			}
			return "", 0
		}
		return dbp.Disassemble(cmd.OutOrStdout(), addr, 0, max, syntax, lookup)
	},
}

func init() {
	debugRootCmd.AddCommand(disassCmd)

	disassCmd.Flags().Uint64P("max", "n", 10, "反汇编指令数量")
	disassCmd.Flags().StringP("syntax", "s", "gnu", "反汇编指令语法，支持：go, gnu, intel")
}
