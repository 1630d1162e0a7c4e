package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// SearchAction はクエリ検索を実行するコマンドのアクション
func SearchAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	query := cmd.String("query")
	topK := int(cmd.Int("top-k"))

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	results, err := appCtx.Searcher.Search(ctx, query, topK)
	if err != nil {
		return fmt.Errorf("検索に失敗: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}

	for i, result := range results {
		fmt.Printf("%d. %s (score=%.4f)\n", i+1, result.Title, result.Score)
		fmt.Printf("   %s | %s | %s\n", result.Source, result.PublishedAt.Format("2006-01-02"), result.URL)
		for _, snippet := range result.Snippets {
			fmt.Printf("   - %s\n", snippet.Text)
		}
	}
	return nil
}
