// Package trigger matches inbound message text against a chatbot's keyword rules.
package trigger

import (
	"strings"
	"unicode"
)

// MatchMode controls how a rule's keywords are compared against the text.
type MatchMode string

const (
	MatchExact      MatchMode = "exact"
	MatchContains   MatchMode = "contains"
	MatchStartsWith MatchMode = "startsWith"
)

// ParseMatchMode normalizes a stored match mode string, defaulting to contains.
func ParseMatchMode(raw string) MatchMode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "exact":
		return MatchExact
	case "startswith", "starts_with":
		return MatchStartsWith
	default:
		return MatchContains
	}
}

// Rule maps a keyword set to a flow node. Rules belong to chatbot
// configuration and are read-only here.
type Rule struct {
	ID           string
	ChatbotID    string
	Position     int
	Keywords     []string
	Mode         MatchMode
	TargetNodeID string
}

// Match returns the first rule whose keyword set matches the text under its
// mode. Rules are evaluated in declaration order (ascending Position as
// loaded), so on multi-match the first-declared rule wins; this ordering is a
// behavioral contract relied on by chatbot authors. ok is false when no rule
// matches.
func Match(rules []Rule, text string) (Rule, bool) {
	exact := Normalize(text)
	loose := stripPunct(exact)
	for _, rule := range rules {
		for _, keyword := range rule.Keywords {
			if matches(rule.Mode, exact, loose, keyword) {
				return rule, true
			}
		}
	}
	return Rule{}, false
}

func matches(mode MatchMode, exact, loose, keyword string) bool {
	kw := Normalize(keyword)
	if kw == "" {
		return false
	}
	switch mode {
	case MatchExact:
		return exact == kw
	case MatchStartsWith:
		return strings.HasPrefix(loose, stripPunct(kw))
	default:
		return strings.Contains(loose, stripPunct(kw))
	}
}

// Normalize lowercases and trims text for comparison.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// stripPunct removes punctuation and collapses runs of whitespace, making
// contains/startsWith matching insensitive to "¿hola?" vs "hola".
func stripPunct(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		switch {
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		case unicode.IsSpace(r):
			space = true
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
