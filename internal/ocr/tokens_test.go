package ocr

import (
	"testing"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	"github.com/stretchr/testify/assert"
)

func TestFilterTokensDropsLowConfidenceAndShortText(t *testing.T) {
	kept := FilterTokens([]entity.Token{
		{Text: "Hi", Confidence: 35},
		{Text: "Hello", Confidence: 75},
		{Text: "a", Confidence: 90},
	}, 40, 2)

	assert.Equal(t, []entity.Token{{Text: "Hello", Confidence: 75}}, kept)

	text, conf := JoinTokens(kept)
	assert.Equal(t, "Hello", text)
	assert.Equal(t, 75.0, conf)
}

func TestFilterTokensBoundaries(t *testing.T) {
	kept := FilterTokens([]entity.Token{
		{Text: "floor", Confidence: 40},
		{Text: "above", Confidence: 40.5},
		{Text: "  x  ", Confidence: 99},
		{Text: "  ok  ", Confidence: 99},
		{Text: "", Confidence: 95},
		{Text: "né", Confidence: 80},
	}, 40, 2)

	assert.Equal(t, []entity.Token{
		{Text: "above", Confidence: 40.5},
		{Text: "ok", Confidence: 99},
		{Text: "né", Confidence: 80},
	}, kept)
}

func TestJoinTokensKeepsDetectionOrder(t *testing.T) {
	text, conf := JoinTokens([]entity.Token{
		{Text: "LIVE", Confidence: 90},
		{Text: "FROM", Confidence: 60},
		{Text: "STUDIO", Confidence: 75},
	})
	assert.Equal(t, "LIVE FROM STUDIO", text)
	assert.Equal(t, 75.0, conf)
}

func TestJoinTokensEmpty(t *testing.T) {
	text, conf := JoinTokens(nil)
	assert.Empty(t, text)
	assert.Zero(t, conf)
}
