package debug

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var setMemCmd = &cobra.Command{
	Use:   "setmem <addr> <value>",
	Short: "设置指定内存位置的值",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// 检查参数数量
		if len(args) != 2 {
			return errors.New("usage: setmem <addr> <value>")
		}

		// 检查是否有调试进程
		dbp, err := CurrentSession.process()
		if err != nil {
			return err
		}

		// 解析地址参数
		addr, err := strconv.ParseUint(args[0], 0, 64)
		if err != nil {
			return fmt.Errorf("invalid address format: %s", args[0])
		}

		// 解析值参数
		value, err := strconv.ParseUint(args[1], 0, 8)
		if err != nil {
			return fmt.Errorf("invalid value format: %s", args[1])
		}

		// 读取当前内存值用于显示
		var oldData [1]byte
		if err = dbp.ReadMemory(addr, oldData[:]); err != nil {
			return fmt.Errorf("failed to read memory at address 0x%x: %v", addr, err)
		}

		// 写入新值
		if err = dbp.WriteMemory(addr, []byte{byte(value)}); err != nil {
			return fmt.Errorf("failed to write memory at address 0x%x: %v", addr, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%#x: %#02x -> %#02x\n", addr, oldData[0], value)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(setMemCmd)
}
