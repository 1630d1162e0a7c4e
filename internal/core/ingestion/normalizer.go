package ingestion

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// ニュースサイトに典型的なボイラープレート表現（西語・英語）
var boilerplatePatterns = []string{
	// cookies / privacy
	`(?:aceptar|accept)(?:\s+all)?\s+cookies`,
	`pol[ií]tica\s+de\s+cookies`,
	`cookie\s?policy`,
	`privacy\s+policy`,

	// login / subscription / paywall
	`suscr[ií]bete`, `reg[ií]strate`, `inicia\s+sesi[oó]n`,
	`lector\s+premium`, `planes?\s+de\s+suscripci[oó]n`,
	`tu\s+suscripci[oó]n\s+se\s+est[aá]\s+usando\s+en\s+otro\s+dispositivo`,
	`sign\s+up`, `subscribe`,

	// promos / CTAs
	`boletines?`, `newsletter`,
	`haz\s+clic\s+aqu[ií]`, `haga\s+clic`,
	`contin[uú]a\s+leyendo`, `ver\s+m[aá]s`, `lee\s+tambi[eé]n`,
	`publicidad`, `anuncios?`,

	// social widgets
	`s[ií]guenos\s+en\s+(?:facebook|x|twitter|instagram|tiktok)`,

	// generic consent
	`al\s+continuar\s+navegando`,
	`configura\s+tus\s+preferencias`,
}

var (
	reBoilerplate = regexp.MustCompile("(?i)" + strings.Join(boilerplatePatterns, "|"))
	reNavLine     = regexp.MustCompile(`(?i)^(menu|home|inicio|buscar|search)$`)
	reBlankRuns   = regexp.MustCompile(`\n{3,}`)
	reLinks       = regexp.MustCompile(`https?://|www\.`)
	reSentenceEnd = regexp.MustCompile(`[.!?。]\s+`)
)

// CleanText は生テキストからナビゲーション行を除去し、空白を正規化します
// 決定的な純関数であり、同じ入力には常に同じ出力を返します
func CleanText(raw string) string {
	if raw == "" {
		return ""
	}

	raw = strings.ReplaceAll(raw, "\r", "\n")

	lines := strings.Split(raw, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		// 極端に短い行やメニュー行はナビゲーション由来とみなして捨てる
		if len(line) <= 2 || reNavLine.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}

	return strings.TrimSpace(reBlankRuns.ReplaceAllString(strings.Join(kept, "\n"), "\n\n"))
}

// IsBoilerplate はテキスト全体がボイラープレート主体かを判定します
func IsBoilerplate(text string) bool {
	if text == "" {
		return true
	}
	return len(reBoilerplate.FindAllStringIndex(text, 3)) >= 2
}

// QualityScore はテキストの品質スコアを0.0〜1.0で算出します
// アルファベット比率・平均文長・語数・リンク密度を組み合わせたヒューリスティックです
func QualityScore(text string) float64 {
	if text == "" {
		return 0
	}

	var letters, total int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if total == 0 {
		return 0
	}
	alphaRatio := float64(letters) / float64(total)

	sentenceSignal := sentenceLengthSignal(text)

	words := len(strings.Fields(text))
	wordSignal := float64(words) / float64(qualityMinWords)
	if wordSignal > 1 {
		wordSignal = 1
	}

	linkPenalty := float64(len(reLinks.FindAllStringIndex(text, -1))) * linkPenaltyPerMatch
	if linkPenalty > maxLinkPenalty {
		linkPenalty = maxLinkPenalty
	}

	score := 0.45*alphaRatio + 0.30*sentenceSignal + 0.25*wordSignal - linkPenalty
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

const (
	// qualityMinWords はこの語数以上で語数シグナルが満点になる閾値
	qualityMinWords = 60

	linkPenaltyPerMatch = 0.05
	maxLinkPenalty      = 0.30

	// 平均文長（ルーン数）がこの範囲内なら散文らしいとみなす
	minProseSentenceLen = 20
	goodProseSentenceLen = 40
)

// sentenceLengthSignal は平均文長から散文らしさのシグナルを算出します
func sentenceLengthSignal(text string) float64 {
	parts := reSentenceEnd.Split(text, -1)
	if len(parts) == 0 {
		return 0
	}

	var totalLen int
	var count int
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		totalLen += len([]rune(p))
		count++
	}
	if count == 0 {
		return 0
	}

	avg := float64(totalLen) / float64(count)
	switch {
	case avg < minProseSentenceLen:
		return 0
	case avg < goodProseSentenceLen:
		return (avg - minProseSentenceLen) / (goodProseSentenceLen - minProseSentenceLen)
	default:
		return 1
	}
}

// NormalizerConfig は品質フィルタの閾値設定です
type NormalizerConfig struct {
	MinChars int     // インデックス対象とする最小文字数
	MinScore float64 // インデックス対象とする最小品質スコア
}

// DefaultNormalizerConfig はデフォルトの品質閾値を返します
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		MinChars: 400,
		MinScore: 0.5,
	}
}

// Normalizer は記事本文のクリーニングと品質判定を行います
// 状態を持たず、同一入力に対して冪等です
type Normalizer struct {
	config NormalizerConfig
}

// NewNormalizer は新しいNormalizerを作成します
func NewNormalizer(config NormalizerConfig) *Normalizer {
	if config.MinChars <= 0 {
		config.MinChars = DefaultNormalizerConfig().MinChars
	}
	if config.MinScore <= 0 {
		config.MinScore = DefaultNormalizerConfig().MinScore
	}
	return &Normalizer{config: config}
}

// Normalize は生テキストをクリーニングし、品質閾値を満たす場合のみ
// CleanedDocumentを返します。閾値未満の場合はErrQualityRejectedを
// 理由付きで返します（記事単位の回復可能なエラー）
func (n *Normalizer) Normalize(articleID uuid.UUID, raw string) (*CleanedDocument, error) {
	text := CleanText(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty", ErrQualityRejected)
	}

	if IsBoilerplate(text) {
		return nil, fmt.Errorf("%w: boilerplate", ErrQualityRejected)
	}

	if length := len([]rune(text)); length < n.config.MinChars {
		return nil, fmt.Errorf("%w: too_short (%d chars)", ErrQualityRejected, length)
	}

	score := QualityScore(text)
	if score < n.config.MinScore {
		return nil, fmt.Errorf("%w: low_score (%.2f)", ErrQualityRejected, score)
	}

	return &CleanedDocument{
		ArticleID:    articleID,
		Text:         text,
		QualityScore: score,
	}, nil
}
