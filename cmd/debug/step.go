package debug

import (
	"fmt"

	"github.com/hitzhangjie/jitdbg/pkg/target"
	"github.com/spf13/cobra"
)

var stepCmd = &cobra.Command{
	Use:     "step",
	Short:   "执行一条指令",
	Aliases: []string{"s", "stepi", "si"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupCtrlFlow,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		dbp, err := CurrentSession.process()
		if err != nil {
			return err
		}

		ev, err := dbp.SingleStep()
		if err != nil {
			return fmt.Errorf("single step err: %v", err)
		}

		out := cmd.OutOrStdout()
		if ev.Reason != target.StopStep {
			fmt.Fprintln(out, ev)
			return nil
		}
		fmt.Fprintf(out, "single step ok, current PC: %#x\n", ev.PC)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(stepCmd)
}
