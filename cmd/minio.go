package cmd

import (
	"context"
	"fmt"
	"log"

	"musicsquare/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "edge 对象存储管理",
	Long:  `查看 edge 缓存在 MinIO 中的大响应体统计信息，或按前缀清理。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")

		cfg := setup()
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		ctx := context.Background()
		store, err := storage.NewMinioStore(ctx, cfg)
		if err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		if minioDelete {
			fmt.Printf("\n删除前缀: %s\n", minioPrefix)
			n, err := store.RemovePrefix(ctx, minioPrefix)
			if err != nil {
				log.Fatalf("删除失败（已删除 %d 个）: %v", n, err)
			}
			fmt.Printf("已删除 %d 个对象\n", n)
			return
		}

		stats, err := store.Stats(ctx, minioPrefix)
		if err != nil {
			log.Fatalf("获取存储桶统计信息失败: %v", err)
		}
		fmt.Printf("\n对象数量: %d\n总大小: %s\n", stats.TotalObjects, storage.FormatSize(stats.TotalSize))
		if !stats.LastModified.IsZero() {
			fmt.Printf("最后修改: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
		}
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤或指定要删除的前缀")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定前缀下的所有对象")

	minioCmd.Example = `  # 查看统计信息
  musicsquare minio

  # 按前缀统计
  musicsquare minio -p "edge/"

  # 清理前缀下的所有对象
  musicsquare minio -d -p "edge/"`
}
