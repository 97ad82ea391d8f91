package debug

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearallCmd = &cobra.Command{
	Use:   "clearall",
	Short: "清除所有的断点",
	Long:  `清除所有的用户断点，内部断点保留`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		dbp, err := CurrentSession.process()
		if err != nil {
			return err
		}
		n, err := dbp.ClearUser()
		if err != nil {
			return fmt.Errorf("clear breakpoints: %v", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d breakpoints cleared\n", n)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(clearallCmd)
}
