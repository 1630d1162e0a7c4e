package ingestion

import (
	"regexp"
	"strings"
)

// SnippetNoise はスニペット表示に不向きなノイズ表現の検出用パターンです
// 文書全体の判定より軽量な、UI向けのフィルタとして使います
var SnippetNoise = regexp.MustCompile("(?i)" + strings.Join([]string{
	`suscripci[oó]n`, `inicia\s+sesi[oó]n`, `aceptar\s+cookies?`,
	`cookies?`, `privacy\s+policy`, `newsletter`, `haz\s+clic`,
	`contin[uú]a\s+leyendo`, `ver\s+m[aá]s`,
	`publicidad`, `anuncios?`,
	`configura\s+tus\s+preferencias`,
}, "|"))

const (
	snippetMinLen = 40
	snippetMaxLen = 300
)

var reSentenceSplit = regexp.MustCompile(`(?:[.?!])\s+`)

// FirstCleanSentence はプレビュー表示に適した最初の文を抽出します
//
// ルール:
//   - ボイラープレート（広告、cookieバナー、ログイン誘導）を含む文は飛ばす
//   - 40文字未満の文は短すぎるため採用しない
//   - 300文字で打ち切る
//   - 適切な文が見つからない場合はクリーニング済みテキストの先頭を返す
func FirstCleanSentence(text string) string {
	if text == "" {
		return ""
	}

	soft := CleanText(text)

	for _, part := range splitSentences(soft) {
		part = strings.TrimSpace(part)
		if len([]rune(part)) >= snippetMinLen && !SnippetNoise.MatchString(part) {
			return truncateRunes(part, snippetMaxLen)
		}
	}

	return truncateRunes(strings.TrimSpace(soft), snippetMaxLen)
}

// splitSentences は文末記号の直後でテキストを分割します
func splitSentences(text string) []string {
	locs := reSentenceSplit.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	parts := make([]string, 0, len(locs)+1)
	prev := 0
	for _, loc := range locs {
		// 文末記号までを含めて切り出す
		parts = append(parts, text[prev:loc[0]+1])
		prev = loc[1]
	}
	parts = append(parts, text[prev:])
	return parts
}

// truncateRunes はルーン数でテキストを切り詰めます
func truncateRunes(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
