package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/news-rag/cmd/news-rag/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定（AppContext初期化前のデフォルト）
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "news-rag",
		Usage: "ニュース記事のEmbedding生成・インデックス・検索パイプライン",
		Commands: []*cli.Command{
			{
				Name:  "index",
				Usage: "インデックス管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "file",
						Usage: "JSONファイルの記事をインデックス化",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "file",
								Usage:    "記事JSONファイルパス",
								Required: true,
							},
						},
						Action: commands.IndexFileAction,
					},
					{
						Name:  "feeds",
						Usage: "RSSフィードの記事をインデックス化",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringSliceFlag{
								Name:  "feed",
								Usage: "フィードURL（省略時は NEWS_FEEDS の設定）",
							},
						},
						Action: commands.IndexFeedsAction,
					},
				},
			},
			{
				Name:  "search",
				Usage: "インデックス済み記事を検索",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "query",
						Usage:    "検索クエリ",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "返却する記事数",
						Value: 5,
					},
				},
				Action: commands.SearchAction,
			},
			{
				Name:  "serve",
				Usage: "HTTPサーバを起動",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:  "addr",
						Usage: "リッスンアドレス（省略時は環境変数またはデフォルトの:8080）",
					},
				},
				Action: commands.ServeAction,
			},
			{
				Name:  "feeds",
				Usage: "フィード管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "設定済みフィード一覧を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
						},
						Action: commands.FeedsListAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
