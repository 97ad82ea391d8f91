package debug

import (
	"fmt"

	"github.com/hitzhangjie/jitdbg/pkg/target"
	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear -n <breakpoint no.>",
	Short: "清除指定编号的断点",
	Long:  `清除指定编号的断点`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		dbp, err := CurrentSession.process()
		if err != nil {
			return err
		}
		id, err := cmd.Flags().GetUint64("n")
		if err != nil {
			return err
		}

		// 查找断点
		brk, ok := dbp.FindBreakpoint(id)
		if !ok {
			return target.ErrBreakpointNotExisted
		}

		// 移除断点
		if _, err = dbp.ClearBreakpoint(brk.Addr); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Breakpoint %d cleared\n", brk.ID)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(clearCmd)

	clearCmd.Flags().Uint64P("n", "n", 1, "断点编号")
}
