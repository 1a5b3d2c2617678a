package cmd

import (
	"fmt"
	"log"
	"time"

	"musicsquare/core/auth"

	"github.com/spf13/cobra"
)

var (
	tokenUserID   int64
	tokenUsername string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "签发会话令牌",
	Long:  `用 JWT_SECRET 为指定用户签发令牌，用于调试 /api/session 接口`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := setup()
		token, err := auth.IssueToken(cfg.JWTSecret, tokenUserID, tokenUsername, tokenTTL)
		if err != nil {
			log.Fatalf("签发令牌失败: %v", err)
		}
		fmt.Println(token)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().Int64VarP(&tokenUserID, "user", "u", 1, "用户ID")
	tokenCmd.Flags().StringVarP(&tokenUsername, "name", "n", "dev", "用户名")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "有效期")
}
