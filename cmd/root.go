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
	"os"

	"github.com/hitzhangjie/jitdbg/internal/logging"
	"github.com/hitzhangjie/jitdbg/pkg/jit"
	"github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	// Logger 调试器日志，配置加载之后可用
	Logger = zerolog.Nop()

	logConfig = logging.DefaultConfig()
)

// componentLogger 各模块使用的logger，带component字段
func componentLogger(component string) zerolog.Logger {
	return logging.NewWithComponent(logConfig, component)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jitdbg",
	Short: "jitdbg是一个支持JIT代码调试的ptrace调试器",
	Long: `jitdbg是一个基于ptrace的调试器，通过GDB JIT接口跟踪运行时生成的代码，
可以列出JIT函数、按名字设置断点，或者在函数注册时自动设置断点。

使用方式:
  jitdbg exec <prog> [args...]
  jitdbg attach <pid>`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.jitdbg.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "日志级别: trace, debug, info, warn, error")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	setDefaults()
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.pretty", true)
	viper.SetDefault("jit.descriptor_symbol", jit.DescriptorSymbol)
	viper.SetDefault("jit.register_symbol", jit.RegisterSymbol)
	viper.SetDefault("jit.scan_limit", jit.DefaultScanLimit)
	viper.SetDefault("jit.watch", []string{})
	viper.SetDefault("shell.prompt", "jitdbg> ")
	viper.SetDefault("shell.history", "~/.jitdbg_history")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in home directory with name ".jitdbg" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".jitdbg")
	}

	viper.SetEnvPrefix("JITDBG")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	err := viper.ReadInConfig()

	logConfig = logging.DefaultConfig()
	logConfig.Level = viper.GetString("log.level")
	logConfig.Pretty = viper.GetBool("log.pretty")
	Logger = logging.New(logConfig)
	if err == nil {
		Logger.Debug().Str("file", viper.ConfigFileUsed()).Msg("using config file")
	}
}
