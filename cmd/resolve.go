package cmd

import (
	"context"
	"fmt"
	"os"

	"musicsquare/model"
	"musicsquare/server"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <平台> <歌曲ID>",
	Short: "解析一首歌的播放地址",
	Long:  `按音质降级顺序调用解析服务，输出播放地址、实际音质和歌词行数`,
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		source, ok := model.ParseSource(args[0])
		if !ok {
			fmt.Printf("未知的平台: %s\n", args[0])
			os.Exit(1)
		}

		cfg := setup()
		comp, cleanup := server.Build(context.Background(), cfg)
		defer cleanup()

		t := model.NewTrack(source, args[1], "", "", "", "", 0)
		comp.Resolver.Resolve(context.Background(), t)
		if t.URL() == "" {
			fmt.Println("无法获取音频地址")
			os.Exit(1)
		}
		fmt.Printf("歌曲: %s\n播放地址: %s\n音质: %s\n", t.ID(), t.URL(), t.ActualQuality())
		if t.Cover() != "" {
			fmt.Printf("封面: %s\n", t.Cover())
		}
		fmt.Printf("歌词: %d 字节\n", len(t.Lyrics()))
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
