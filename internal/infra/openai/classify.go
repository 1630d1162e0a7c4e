package openai

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/openai/openai-go/v3"

	"github.com/jinford/news-rag/internal/platform/retry"
)

// classifyError はOpenAI API呼び出しのエラーをリトライ分類に対応付ける
//
//   - 429はクォータ/レート制限として独立したリトライ予算を消費する
//   - 5xxとタイムアウトは一時エラーとしてリトライする
//   - その他の4xx（認証失敗、不正リクエスト）はリトライしても無駄なので致命的
//   - ネットワーク起因の不明なエラーは一時エラーとして扱う
func classifyError(err error) retry.Class {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return retry.ClassQuota
		case apiErr.StatusCode >= http.StatusInternalServerError:
			return retry.ClassTransient
		default:
			return retry.ClassFatal
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return retry.ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.ClassTransient
	}

	return retry.ClassTransient
}
