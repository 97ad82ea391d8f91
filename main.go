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
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/hitzhangjie/jitdbg/cmd"
	"github.com/hitzhangjie/jitdbg/cmd/debug"
)

func main() {
	go processSignals()
	cmd.Execute()
}

func processSignals() {
	ch := make(chan os.Signal, 16)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGURG)

	for sig := range ch {

		switch sig {
		case syscall.SIGURG:
			// 非协作式抢占信号，忽略这个信号
		case syscall.SIGINT:
			// continue执行期间中断被调试进程，等待输入时由liner处理
			if s := debug.CurrentSession; s != nil {
				if err := s.Interrupt(); err != nil {
					cmd.Logger.Debug().Err(err).Msg("interrupt tracee")
				}
			}
		case syscall.SIGTERM, syscall.SIGQUIT:
			debug.Cleanup()
			os.Exit(0)
		}
	}
}
