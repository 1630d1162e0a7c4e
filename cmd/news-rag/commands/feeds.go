package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/news-rag/pkg/config"
)

// FeedsListAction は設定済みフィード一覧を表示するコマンドのアクション
func FeedsListAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	if len(cfg.Feeds) == 0 {
		fmt.Println("no feeds configured")
		return nil
	}
	for _, feed := range cfg.Feeds {
		fmt.Println(feed)
	}
	return nil
}
