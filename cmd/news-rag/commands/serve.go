package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/news-rag/internal/interface/httpapi"
)

// ServeAction はHTTPサーバを起動するコマンドのアクション
func ServeAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	addr := cmd.String("addr")
	if addr == "" {
		addr = appCtx.Config.HTTP.Addr
	}

	server := httpapi.NewServer(appCtx.Pipeline, appCtx.Searcher,
		httpapi.WithFeeds(appCtx.Feeds, appCtx.Config.Feeds),
		httpapi.WithServerLogger(appCtx.Logger),
	)

	if err := server.Run(addr); err != nil {
		return fmt.Errorf("HTTPサーバの起動に失敗: %w", err)
	}
	return nil
}
