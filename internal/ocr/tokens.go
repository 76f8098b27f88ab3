package ocr

import (
	"strings"
	"unicode/utf8"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
)

// FilterTokens keeps tokens whose confidence is above floor and whose trimmed
// text has at least minLen runes. Survivors keep their detection order and are
// returned with trimmed text.
func FilterTokens(tokens []entity.Token, floor float64, minLen int) []entity.Token {
	out := make([]entity.Token, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Confidence <= floor {
			continue
		}
		txt := strings.TrimSpace(tok.Text)
		if utf8.RuneCountInString(txt) < minLen {
			continue
		}
		out = append(out, entity.Token{Text: txt, Confidence: tok.Confidence})
	}
	return out
}

// JoinTokens joins token texts with single spaces and averages their confidence.
func JoinTokens(tokens []entity.Token) (string, float64) {
	if len(tokens) == 0 {
		return "", 0
	}
	parts := make([]string, len(tokens))
	var sum float64
	for i, tok := range tokens {
		parts[i] = tok.Text
		sum += tok.Confidence
	}
	return strings.Join(parts, " "), sum / float64(len(tokens))
}
