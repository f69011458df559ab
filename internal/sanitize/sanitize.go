// Package sanitize очищает свободный текст от разметки перед сохранением.
package sanitize

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxLen — предел длины заметок и причин отмены в рунах.
const DefaultMaxLen = 500

// Text удаляет HTML из пользовательского текста и ограничивает его длину.
// Политика bluemonday неизменяема после создания и безопасна для конкурентного использования.
type Text struct {
	policy *bluemonday.Policy
	maxLen int
}

// NewText создаёт очиститель со строгой политикой (без тегов).
func NewText(maxLen int) *Text {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Text{policy: bluemonday.StrictPolicy(), maxLen: maxLen}
}

// Clean возвращает текст без тегов, с раскрытыми сущностями, обрезанный по краям и по длине.
func (t *Text) Clean(value string) string {
	if t == nil {
		return strings.TrimSpace(value)
	}
	cleaned := strings.TrimSpace(html.UnescapeString(t.policy.Sanitize(value)))
	if utf8.RuneCountInString(cleaned) <= t.maxLen {
		return cleaned
	}
	runes := []rune(cleaned)
	return strings.TrimSpace(string(runes[:t.maxLen]))
}
