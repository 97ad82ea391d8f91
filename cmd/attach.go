/*
Copyright © 2020 hit.zhangjie@gmail.com

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"strconv"

	"github.com/hitzhangjie/jitdbg/cmd/debug"
	"github.com/hitzhangjie/jitdbg/pkg/target"

	"github.com/spf13/cobra"
)

// attachCmd represents the attach command
var attachCmd = &cobra.Command{
	Use:   "attach <pid>",
	Short: "调试运行中进程",
	Long:  `调试运行中进程，attach之后可以执行 jit setup 和 jit scan 登记已经生成的JIT函数。`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.Atoi(args[0])
		if err != nil || pid <= 0 {
			return fmt.Errorf("%s invalid pid", args[0])
		}

		dbp, err := target.AttachTargetProcess(pid, componentLogger("target"))
		if err != nil {
			return err
		}
		fmt.Printf("process %d attached succ, %d threads\n", pid, len(dbp.Threads))

		debug.CurrentSession = debug.NewDebugSession(dbp, componentLogger("jit"))
		return nil
	},
	PostRun: func(cmd *cobra.Command, args []string) {
		// after debugger session finished, restore breakpoints and detach
		debug.CurrentSession.AtExit(debug.Cleanup).Start()
	},
}

func init() {
	rootCmd.AddCommand(attachCmd)
}
