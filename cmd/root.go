package cmd

import (
	"fmt"
	"os"

	"musicsquare/config"
	"musicsquare/logger"
	"musicsquare/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "musicsquare",
	Short: "MusicSquare 多平台音乐聚合服务",
	Long:  `聚合网易云、QQ音乐、酷我的搜索与播放，并提供媒体代理与播放会话服务`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start(setup())
	},
}

// setup 加载配置并初始化日志，所有子命令共用
func setup() *config.Config {
	cfg := config.Load()
	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LoggerLevel()),
		OutputPath: cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	})
	return cfg
}

// Execute executes the root command.
func Execute() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
