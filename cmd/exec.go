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
	"errors"

	"github.com/hitzhangjie/jitdbg/cmd/debug"
	"github.com/hitzhangjie/jitdbg/pkg/target"

	"github.com/spf13/cobra"
)

// execCmd represents the exec command
var execCmd = &cobra.Command{
	Use:   "exec <prog> [args...]",
	Short: "调试可执行程序",
	Long: `启动并调试可执行程序，进程停在第一条指令处。

Dart VM需要开启GDB JIT接口，例如:
  jitdbg exec dart -- --gdb-jit-interface main.dart`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("usage: exec <prog> [args...]")
		}

		// start tracee and wait tracee stopped
		dbp, err := target.NewDebuggedProcess(args[0], args[1:], componentLogger("target"))
		if err != nil {
			return err
		}
		debug.CurrentSession = debug.NewDebugSession(dbp, componentLogger("jit"))
		return nil
	},
	PostRun: func(cmd *cobra.Command, args []string) {
		// after debugger session finished, we should kill tracee because it's started by debugger
		debug.CurrentSession.AtExit(debug.Cleanup).Start()
	},
}

func init() {
	rootCmd.AddCommand(execCmd)
}
