package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Class はエラーの分類を表します
type Class int

const (
	// ClassTransient は一時的なエラー（ネットワーク断、タイムアウト等）
	ClassTransient Class = iota
	// ClassQuota はレート制限・クォータ超過エラー
	ClassQuota
	// ClassFatal はリトライ不能なエラー（不正入力、認証失敗等）
	ClassFatal
)

// String はClassの文字列表現を返します
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassQuota:
		return "quota"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classifier はバックエンド固有のエラーをClassに対応付けます
type Classifier func(error) Class

// Policy はリトライ/バックオフの挙動を定義します
// 一時エラーとクォータエラーはそれぞれ独立した試行回数の予算を持ちます
type Policy struct {
	MaxAttempts      int           // 一時エラーの最大試行回数
	QuotaMaxAttempts int           // クォータエラーの最大試行回数
	BaseDelay        time.Duration // 初回リトライ前の待機時間
	MaxDelay         time.Duration // 待機時間の上限
	Multiplier       float64       // 指数バックオフの倍率
	Jitter           float64       // 待機時間に加えるランダム変動の割合（0〜1）
}

// DefaultPolicy はデフォルトのリトライポリシーを返します
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      4,
		QuotaMaxAttempts: 4,
		BaseDelay:        500 * time.Millisecond,
		MaxDelay:         16 * time.Second,
		Multiplier:       2.0,
		Jitter:           0.2,
	}
}

// ExhaustedError はリトライ予算を使い切ったことを表します
type ExhaustedError struct {
	Err      error // 最後に発生したエラー
	Class    Class // 最後のエラーの分類
	Attempts int   // 実行した試行回数
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts (%s): %v", e.Attempts, e.Class, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do はfnをポリシーに従ってリトライ付きで実行します
// ClassFatalに分類されたエラーは即座に返します
// クォータエラーと一時エラーは別々の試行回数予算を消費します
func Do[T any](ctx context.Context, policy Policy, classify Classifier, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	transientAttempts := 0
	quotaAttempts := 0
	totalAttempts := 0

	for {
		result, err := fn(ctx)
		totalAttempts++
		if err == nil {
			return result, nil
		}

		class := classify(err)
		if class == ClassFatal {
			return zero, err
		}

		// クラスごとに独立した予算を消費する
		var attempt, budget int
		switch class {
		case ClassQuota:
			quotaAttempts++
			attempt, budget = quotaAttempts, policy.QuotaMaxAttempts
		default:
			transientAttempts++
			attempt, budget = transientAttempts, policy.MaxAttempts
		}

		if attempt >= budget {
			return zero, &ExhaustedError{Err: err, Class: class, Attempts: totalAttempts}
		}

		delay := backoffDelay(policy, attempt)

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// IsExhausted はerrがリトライ予算切れで、かつ指定クラスのものかを判定します
func IsExhausted(err error, class Class) bool {
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		return false
	}
	return exhausted.Class == class
}

// backoffDelay はattempt回目のリトライ前の待機時間を計算します
func backoffDelay(policy Policy, attempt int) time.Duration {
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(policy.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if max := float64(policy.MaxDelay); policy.MaxDelay > 0 && delay > max {
		delay = max
	}

	if policy.Jitter > 0 {
		delay += rand.Float64() * policy.Jitter * delay
	}

	return time.Duration(delay)
}
