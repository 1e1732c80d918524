package session

import (
	"regexp"
	"strings"

	"github.com/nugget/hearth/internal/tools"
)

// affirmative matches replies that grant a pending confirmation request.
var affirmative = regexp.MustCompile(`(?i)^\s*(yes|yeah|yep|yup|y|sure|ok|okay|confirm|confirmed|do it|go ahead|please do|proceed|approved|absolutely|definitely|sounds good|make it so)\b`)

// negation vetoes an otherwise affirmative reply ("yes, but not yet").
var negation = regexp.MustCompile(`(?i)\b(no|not|don'?t|cancel|stop|wait|never mind|nevermind)\b`)

// IsAffirmative reports whether text is an explicit confirmation.
func IsAffirmative(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	return affirmative.MatchString(text) && !negation.MatchString(text)
}

// approval is what the caller's latest message confirmed: every action
// in prompt mode, otherwise only the actions named by the assistant
// request it affirms.
type approval struct {
	all bool
	// proposal is the affirmed assistant message, lowercased. Empty
	// when nothing was confirmed.
	proposal string
}

func newApproval(mode string, history []Message) approval {
	if mode == ConfirmPrompt {
		return approval{all: true}
	}
	n := len(history)
	if n < 2 {
		return approval{}
	}
	last, prev := history[n-1], history[n-2]
	if last.Role != RoleUser || prev.Role != RoleAssistant || !IsAffirmative(last.Content) {
		return approval{}
	}
	return approval{proposal: strings.ToLower(prev.Content)}
}

func (a approval) granted() bool {
	return a.all || a.proposal != ""
}

// allows reports whether inv was confirmed. Every subject of the
// invocation must be named in the affirmed request.
func (a approval) allows(inv *tools.Invocation) bool {
	if a.all {
		return true
	}
	if a.proposal == "" {
		return false
	}
	for _, spellings := range inv.Subjects() {
		if !a.names(spellings) {
			return false
		}
	}
	return true
}

func (a approval) names(spellings []string) bool {
	for _, s := range spellings {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" && containsTerm(a.proposal, s) {
			return true
		}
	}
	return false
}

// containsTerm reports whether term occurs in text as a whole
// identifier, so light.kitchen does not match light.kitchen_island. A
// trailing full stop ends a sentence, not an identifier.
func containsTerm(text, term string) bool {
	for from := 0; ; {
		i := strings.Index(text[from:], term)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(term)
		before := start == 0 || !isIdentByte(text[start-1]) && text[start-1] != '.'
		after := end == len(text) || !isIdentByte(text[end]) &&
			(text[end] != '.' || end+1 == len(text) || !isIdentByte(text[end+1]))
		if before && after {
			return true
		}
		from = start + 1
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
