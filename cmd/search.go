package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"musicsquare/core/search"
	"musicsquare/model"
	"musicsquare/server"

	"github.com/spf13/cobra"
)

var (
	searchSources string
	searchPage    int
)

var searchCmd = &cobra.Command{
	Use:   "search <关键词>",
	Short: "命令行聚合搜索",
	Long:  `按给定平台顺序并发搜索并交错合并结果，用于检查上游是否可用`,
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := setup()
		comp, cleanup := server.Build(context.Background(), cfg)
		defer cleanup()

		var sources []model.Source
		for _, name := range strings.Split(searchSources, ",") {
			if s, ok := model.ParseSource(strings.TrimSpace(name)); ok {
				sources = append(sources, s)
			}
		}
		if len(sources) == 0 {
			fmt.Println("没有可用的平台")
			os.Exit(1)
		}

		agg := search.NewAggregator(comp.Registry, cfg.SearchTimeout)
		keyword := strings.Join(args, " ")
		tracks := agg.Search(context.Background(), search.Query{
			Keyword: keyword,
			Sources: sources,
			Page:    searchPage,
			Limit:   search.PageLimit,
		})
		if len(tracks) == 0 {
			fmt.Println("未找到相关歌曲")
			return
		}

		fmt.Printf("搜索 %q 第 %d 页，共 %d 首:\n", keyword, searchPage, len(tracks))
		for i, t := range tracks {
			fmt.Printf("%2d. [%s] %s - %s (%s)\n", i+1, t.Source, t.Title, t.Artist, t.ID())
		}
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchSources, "sources", "s", "netease,qq,kuwo", "平台列表，逗号分隔，顺序即优先级")
	searchCmd.Flags().IntVarP(&searchPage, "page", "p", 1, "页码")
}
