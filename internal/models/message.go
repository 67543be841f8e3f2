package models

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SenderKind distinguishes humans from automated participants.
type SenderKind string

const (
	KindHuman SenderKind = "human"
	KindAgent SenderKind = "agent"
)

// Valid reports whether k is a known sender kind.
func (k SenderKind) Valid() bool {
	return k == KindHuman || k == KindAgent
}

// Message represents a chat message in the room log.
type Message struct {
	ID        string     `json:"id"` // ULID
	From      string     `json:"from"`
	Kind      SenderKind `json:"kind"`
	Body      string     `json:"body"`
	Mentioned []string   `json:"mentions,omitempty"`
	ParentID  string     `json:"pid,omitempty"` // For threading
	Timestamp int64      `json:"ts"`            // Unix ms
	Deleted   bool       `json:"deleted,omitempty"`
}

// mentionRegex matches @name tokens in a message body.
var mentionRegex = regexp.MustCompile(`@([\p{L}\p{N}_\-.]{1,64})`)

// ParseMentions extracts the distinct @names referenced in body, in order
// of first appearance.
func ParseMentions(body string) []string {
	matches := mentionRegex.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		name := strings.TrimRight(m[1], ".")
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, name)
	}
	return names
}

// Mentions reports whether the message addresses name, either through the
// parsed mention set or a literal @name in the body. The name must end at
// a character that cannot continue a name, so @Bob does not mention Bo.
func (m Message) Mentions(name string) bool {
	if name == "" {
		return false
	}
	for _, n := range m.MentionSet() {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	body := strings.ToLower(m.Body)
	needle := "@" + strings.ToLower(name)
	for i := 0; ; {
		j := strings.Index(body[i:], needle)
		if j < 0 {
			return false
		}
		end := i + j + len(needle)
		next, _ := utf8.DecodeRuneInString(body[end:])
		if end == len(body) || !isNameRune(next) {
			return true
		}
		i = end
	}
}

func isNameRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_' || r == '-'
}

// MentionSet returns the mention set, parsing the body when the stored set is
// empty (messages built by hand in tests or older log entries).
func (m Message) MentionSet() []string {
	if len(m.Mentioned) > 0 {
		return m.Mentioned
	}
	return ParseMentions(m.Body)
}

// IsAgent reports whether the message was authored by an automated participant.
func (m Message) IsAgent() bool {
	return m.Kind == KindAgent
}

// SortChronological orders messages by timestamp, keeping the relative
// order of messages that share a timestamp.
func SortChronological(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})
}
