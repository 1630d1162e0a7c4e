package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// OpenAI設定（Embeddings + Agenticチャンク分割用LLM）
	OpenAI OpenAIConfig

	// Embedding設定
	Embedding EmbeddingConfig

	// チャンク分割設定
	Chunking ChunkingConfig

	// 品質フィルタ設定
	Quality QualityConfig

	// 検索設定
	Search SearchConfig

	// ベクトルストア設定
	Store StoreConfig

	// HTTPサーバ設定
	HTTP HTTPConfig

	// ログ設定
	Log LogConfig

	// RSSフィード設定
	Feeds []string
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN はpgx用の接続文字列を返します
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
	SegmenterModel     string // Agenticチャンク分割に使用するLLMモデル名
}

// EmbeddingConfig はEmbedding生成の挙動設定
type EmbeddingConfig struct {
	Provider    string // "openai" or "local"
	BatchSize   int    // サブバッチの最大サイズ
	MaxAttempts int    // 一時エラー時の最大試行回数
	CacheSize   int64  // Embeddingキャッシュの最大コスト（バイト相当、0で無効）
}

// ChunkingConfig はチャンク分割の挙動設定
type ChunkingConfig struct {
	Strategy        string // "simple" or "agentic"
	WindowSize      int    // Simple戦略のウィンドウ幅（文字数）
	Overlap         int    // Simple戦略のオーバーラップ幅（文字数）
	MaxChunks       int    // 1記事あたりの最大チャンク数
	AgenticMinChars int    // Agentic戦略を適用する最小本文長
}

// QualityConfig は品質フィルタの閾値設定
type QualityConfig struct {
	MinChars int     // インデックス対象とする最小文字数
	MinScore float64 // インデックス対象とする最小品質スコア（0.0〜1.0）
}

// SearchConfig は検索の挙動設定
type SearchConfig struct {
	FanOutFactor int // チャンクヒットのオーバーフェッチ係数
	MaxSnippets  int // 記事あたりのスニペット最大数
}

// StoreConfig はベクトルストアの選択設定
type StoreConfig struct {
	Provider string // "postgres" or "memory"
}

// HTTPConfig はHTTPサーバ設定
type HTTPConfig struct {
	Addr string
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "newsrag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "newsrag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			SegmenterModel:     getEnv("OPENAI_SEGMENTER_MODEL", "gpt-4o-mini"),
		},
		Embedding: EmbeddingConfig{
			Provider:    getEnv("EMBEDDING_PROVIDER", "openai"),
			BatchSize:   getEnvAsInt("EMBEDDING_BATCH_SIZE", 64),
			MaxAttempts: getEnvAsInt("EMBEDDING_MAX_ATTEMPTS", 4),
			CacheSize:   int64(getEnvAsInt("EMBEDDING_CACHE_SIZE", 64<<20)),
		},
		Chunking: ChunkingConfig{
			Strategy:        getEnv("CHUNKING_STRATEGY", "simple"),
			WindowSize:      getEnvAsInt("CHUNKING_WINDOW_SIZE", 2000),
			Overlap:         getEnvAsInt("CHUNKING_OVERLAP", 200),
			MaxChunks:       getEnvAsInt("CHUNKING_MAX_CHUNKS", 5),
			AgenticMinChars: getEnvAsInt("CHUNKING_AGENTIC_MIN_CHARS", 1500),
		},
		Quality: QualityConfig{
			MinChars: getEnvAsInt("QUALITY_MIN_CHARS", 400),
			MinScore: getEnvAsFloat("QUALITY_MIN_SCORE", 0.5),
		},
		Search: SearchConfig{
			FanOutFactor: getEnvAsInt("SEARCH_FANOUT_FACTOR", 8),
			MaxSnippets:  getEnvAsInt("SEARCH_MAX_SNIPPETS", 3),
		},
		Store: StoreConfig{
			Provider: getEnv("VECTOR_STORE", "postgres"),
		},
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Feeds: getEnvAsList("NEWS_FEEDS", []string{
			"https://www.bbc.com/mundo/index.xml",
			"https://www.reuters.com/world/rss",
		}),
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList は環境変数をカンマ区切りリストとして取得します
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
