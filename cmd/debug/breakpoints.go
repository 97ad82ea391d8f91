package debug

import (
	"fmt"

	"github.com/spf13/cobra"
)

var breaksCmd = &cobra.Command{
	Use:     "breaks",
	Short:   "列出所有断点",
	Long:    "列出所有断点，内部断点（如JIT监控）需要加上--all",
	Aliases: []string{"bs", "breakpoints"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		dbp, err := CurrentSession.process()
		if err != nil {
			return err
		}
		all, _ := cmd.Flags().GetBool("all")

		out := cmd.OutOrStdout()
		bps := dbp.ListBreakpoints(all)
		if len(bps) == 0 {
			fmt.Fprintln(out, "No breakpoints.")
			return nil
		}

		reg := CurrentSession.monitor.Registry()
		for _, b := range bps {
			loc := b.Name
			if rec, ok := reg.LookupPC(b.Addr); ok && loc == "" {
				loc = rec.Name
			}
			fmt.Fprintf(out, "breakpoint[%d] addr:%#x, hits:%d, loc:%s", b.ID, b.Addr, b.Hits.Load(), loc)
			if b.Internal {
				fmt.Fprint(out, " (internal)")
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(breaksCmd)

	breaksCmd.Flags().BoolP("all", "a", false, "包含内部断点")
}
