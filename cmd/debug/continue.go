package debug

import (
	"fmt"

	"github.com/hitzhangjie/jitdbg/pkg/target"
	"github.com/spf13/cobra"
)

var continueCmd = &cobra.Command{
	Use:   "continue",
	Short: "运行到下个断点",
	Long: `运行到下个断点，JIT监控断点命中后自动继续执行，不会停下来。

执行期间按Ctrl-C中断被调试进程。`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupCtrlFlow,
	},
	Aliases: []string{"c"},
	RunE: func(cmd *cobra.Command, args []string) error {
		dbp, err := CurrentSession.process()
		if err != nil {
			return err
		}

		ev, err := dbp.Continue()
		if err != nil {
			return fmt.Errorf("continue error: %v", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ev)
		if ev.Reason == target.StopBreakpoint {
			if rec, ok := CurrentSession.monitor.Registry().LookupPC(ev.PC); ok {
				fmt.Fprintf(out, "in JIT function '%s' +%#x (%s)\n", rec.Name, ev.PC-rec.Addr, rec.File)
			}
		}
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(continueCmd)
}
