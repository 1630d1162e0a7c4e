package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstCleanSentenceSkipsNoise(t *testing.T) {
	text := "Aceptar cookies para acceder al contenido completo del sitio web. " +
		"El presidente anunció este martes un nuevo paquete de medidas económicas para el sector agrícola. " +
		"Más detalles a continuación."

	snippet := FirstCleanSentence(text)
	assert.Contains(t, snippet, "paquete de medidas económicas")
	assert.NotContains(t, snippet, "cookies")
}

func TestFirstCleanSentenceSkipsShortSpans(t *testing.T) {
	text := "Breve. El tribunal supremo rechazó este jueves el recurso presentado por la defensa del acusado."
	snippet := FirstCleanSentence(text)
	assert.Contains(t, snippet, "tribunal supremo")
	assert.NotEqual(t, "Breve.", snippet)
}

func TestFirstCleanSentenceCapsLength(t *testing.T) {
	text := strings.Repeat("palabra ", 100) + "."
	snippet := FirstCleanSentence(text)
	assert.LessOrEqual(t, len([]rune(snippet)), 300)
}

func TestFirstCleanSentenceFallsBackToHead(t *testing.T) {
	// 全文がノイズでも空にはせず、先頭を返す
	text := "Suscríbete a la newsletter. Aceptar cookies del sitio. Inicia sesión para ver publicidad personalizada."
	snippet := FirstCleanSentence(text)
	assert.NotEmpty(t, snippet)
}

func TestFirstCleanSentenceEmptyInput(t *testing.T) {
	assert.Equal(t, "", FirstCleanSentence(""))
}
