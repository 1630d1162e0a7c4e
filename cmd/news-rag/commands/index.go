package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/news-rag/internal/core/ingestion"
)

// articleFile はindex fileコマンドが読み込むJSONファイルの形式
type articleFile struct {
	Articles []struct {
		Source      string    `json:"source"`
		URL         string    `json:"url"`
		PublishedAt time.Time `json:"publishedAt"`
		Title       string    `json:"title"`
		RawText     string    `json:"rawText"`
	} `json:"articles"`
}

// IndexFileAction はJSONファイルの記事をインデックス化するコマンドのアクション
func IndexFileAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	path := cmd.String("file")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("記事ファイルの読み込みに失敗: %w", err)
	}

	var file articleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("記事ファイルの解析に失敗: %w", err)
	}
	if len(file.Articles) == 0 {
		return fmt.Errorf("記事ファイルに記事がありません: %s", path)
	}

	articles := make([]*ingestion.Article, 0, len(file.Articles))
	for _, a := range file.Articles {
		if a.URL == "" {
			continue
		}
		articles = append(articles, &ingestion.Article{
			ID:          ingestion.NewArticleID(a.URL),
			Source:      a.Source,
			URL:         a.URL,
			PublishedAt: a.PublishedAt,
			Title:       a.Title,
			RawText:     a.RawText,
		})
	}

	return runIndex(ctx, appCtx, articles)
}

// IndexFeedsAction は設定済みRSSフィードの記事をインデックス化するコマンドのアクション
func IndexFeedsAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	feedURLs := cmd.StringSlice("feed")
	if len(feedURLs) == 0 {
		feedURLs = appCtx.Config.Feeds
	}
	if len(feedURLs) == 0 {
		return fmt.Errorf("フィードが設定されていません（--feed または NEWS_FEEDS を指定）")
	}

	articles, err := appCtx.Feeds.FetchAll(ctx, feedURLs)
	if err != nil {
		return fmt.Errorf("フィードの取得に失敗: %w", err)
	}
	appCtx.Logger.Info("フィードから記事を取得", "articles", len(articles))

	return runIndex(ctx, appCtx, articles)
}

// runIndex はパイプラインを実行し、レポートを標準出力に表示する
func runIndex(ctx context.Context, appCtx *AppContext, articles []*ingestion.Article) error {
	report, err := appCtx.Pipeline.Run(ctx, articles)

	// 失敗しても処理済みの件数は報告する
	fmt.Printf("articles indexed: %d\n", report.ArticlesIndexed)
	fmt.Printf("chunks indexed:   %d\n", report.ChunksIndexed)
	fmt.Printf("articles skipped: %d\n", report.ArticlesSkipped)

	if err != nil {
		return fmt.Errorf("インデックス実行に失敗: %w", err)
	}
	return nil
}
