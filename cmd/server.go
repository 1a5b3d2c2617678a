package cmd

import (
	"musicsquare/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 MusicSquare 服务器",
	Long:  `启动 HTTP 服务，提供聚合搜索、解析、edge 代理和播放会话 WebSocket`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start(setup())
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
