// Package tokens approximates language-model token counts.
//
// The estimate is a heuristic: dense scripts (CJK) average about two
// characters per token and everything else about four. It is good enough
// to keep a prompt under budget, not for billing.
package tokens

import (
	"unicode"
	"unicode/utf8"

	"github.com/eldtechnologies/agora/internal/models"
)

const (
	denseCharsPerToken  = 2
	sparseCharsPerToken = 4
)

// Estimate returns the approximate token cost of text, rounded up.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	dense, other := 0, 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if IsDense(r) {
			dense++
		} else {
			other++
		}
	}
	// ceil(dense/2 + other/4) computed in quarter-token units.
	quarters := dense*(sparseCharsPerToken/denseCharsPerToken) + other
	return (quarters + sparseCharsPerToken - 1) / sparseCharsPerToken
}

// IsDense reports whether r belongs to a CJK script or CJK punctuation block.
func IsDense(r rune) bool {
	if r < 0x2E80 {
		return false
	}
	switch {
	case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul, unicode.Bopomofo):
		return true
	case r >= 0x3000 && r <= 0x303F: // CJK symbols and punctuation
		return true
	case r >= 0xFF00 && r <= 0xFFEF: // half-width and full-width forms
		return true
	}
	return false
}

// MessageCost returns the estimated cost of a message in a prompt.
func MessageCost(m models.Message) int {
	return Estimate(m.Body)
}
