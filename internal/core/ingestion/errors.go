package ingestion

import "errors"

var (
	// ErrQualityRejected は品質フィルタで記事が除外されたことを表します
	// 記事単位の回復可能なエラーであり、実行は継続されます
	ErrQualityRejected = errors.New("article rejected by quality filter")

	// ErrQuotaExceeded はリトライしてもクォータ/レート制限を回避できなかったことを表します
	// APIレイヤはこのエラーを「一時的に利用不可」として扱う必要があります
	ErrQuotaExceeded = errors.New("embedding quota exceeded")

	// ErrDimensionMismatch はベクトル次元がコレクションと一致しないことを表します
	// 設定ミスによる致命的エラーであり、リトライされません
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)
