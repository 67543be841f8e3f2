// Package filter scrubs text on its way into and out of a reasoning call.
//
// Sanitize neutralizes prompt-injection phrasing in room messages before
// they are quoted to the model; Filter cleans model output before it is
// posted. Both are pure and flag whether anything matched.
package filter

import (
	"regexp"
	"strings"
	"unicode"
)

// Result is the filtered text and whether any rule fired.
type Result struct {
	Text    string
	Flagged bool
}

const (
	redacted = "[filtered]"
	// MaxOutputLength bounds a posted reply, in bytes.
	MaxOutputLength = 4096
)

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts?|messages)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|your)\s+(instructions|rules)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(in\s+)?(developer|dan|jailbreak)\s*mode`),
	regexp.MustCompile(`(?i)(reveal|print|show)\s+(your|the)\s+system\s+prompt`),
	regexp.MustCompile(`(?im)^\s*(system|assistant)\s*:`),
	regexp.MustCompile(`(?i)</?\s*(system|instructions?)\s*>`),
}

var outputPatterns = []*regexp.Regexp{
	// Leaked role prefixes.
	regexp.MustCompile(`(?im)^\s*(system|assistant|user)\s*:\s*`),
	// API keys and bearer tokens.
	regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{16,}\b`),
	regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]{20,}`),
}

// Sanitize neutralizes injection attempts in text quoted to the model.
func Sanitize(text string) Result {
	text = stripControl(text)
	flagged := false
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			flagged = true
			text = re.ReplaceAllString(text, redacted)
		}
	}
	return Result{Text: text, Flagged: flagged}
}

// Filter cleans model output before it is posted to the room.
func Filter(text string) Result {
	text = stripControl(text)
	flagged := false
	for i, re := range outputPatterns {
		if !re.MatchString(text) {
			continue
		}
		flagged = true
		if i == 0 {
			text = re.ReplaceAllString(text, "")
		} else {
			text = re.ReplaceAllString(text, redacted)
		}
	}
	text = strings.TrimSpace(text)
	if len(text) > MaxOutputLength {
		text = truncate(text, MaxOutputLength)
		flagged = true
	}
	return Result{Text: text, Flagged: flagged}
}

// Default satisfies the agent runtime's filter dependency with the
// package-level functions.
type Default struct{}

func (Default) Sanitize(text string) Result { return Sanitize(text) }
func (Default) Filter(text string) Result   { return Filter(text) }

// stripControl removes control characters other than newlines and tabs.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
