package command

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Tokens holds the recognized keyword surface for each command kind.
// Tokens are configuration rather than hardcoded logic so the reply
// language can be adjusted without touching the parser.
type Tokens struct {
	Select     []string
	Modify     []string
	Regenerate []string
	Skip       []string
	Discuss    []string
}

// DefaultTokens returns the stock Chinese command surface with English
// aliases.
func DefaultTokens() Tokens {
	return Tokens{
		Select:     []string{"选择", "发布", "采用", "select", "publish", "选"},
		Modify:     []string{"修改", "modify"},
		Regenerate: []string{"重新生成", "重写", "regenerate"},
		Skip:       []string{"跳过", "skip"},
		Discuss:    []string{"讨论", "discuss"},
	}
}

// Parser classifies raw reply text into commands. Parse is total: every
// input maps to exactly one Command and never fails.
type Parser struct {
	tokens Tokens
}

// Option configures a Parser.
type Option func(*Parser)

// WithTokens overrides the default command tokens.
func WithTokens(tokens Tokens) Option {
	return func(p *Parser) {
		p.tokens = tokens
	}
}

// NewParser creates a parser with the default token set.
func NewParser(opts ...Option) *Parser {
	p := &Parser{tokens: DefaultTokens()}
	for _, opt := range opts {
		opt(p)
	}
	sortByLength(p.tokens.Select)
	sortByLength(p.tokens.Modify)
	sortByLength(p.tokens.Regenerate)
	sortByLength(p.tokens.Skip)
	sortByLength(p.tokens.Discuss)
	return p
}

// Longer tokens first so "选择" wins over "选" on prefix matching.
func sortByLength(tokens []string) {
	sort.SliceStable(tokens, func(i, j int) bool {
		return len(tokens[i]) > len(tokens[j])
	})
}

var attributionRegex = regexp.MustCompile(`(?i)^(on .+ wrote:|在.+写道[:：]?|-+\s*(original message|原始邮件)\s*-+.*)$`)

// Parse maps one reply body to exactly one Command.
func (p *Parser) Parse(raw string) Command {
	body := stripQuoted(raw)
	if body == "" {
		return Unrecognized(raw)
	}

	// A bare letter or number is a selection ("B", "2").
	if idx, ok := bareIndex(body); ok {
		return Select(idx)
	}

	if rest, ok := matchToken(body, p.tokens.Regenerate); ok {
		return Regenerate(trimDelimiters(rest))
	}

	if rest, ok := matchToken(body, p.tokens.Modify); ok {
		idx, instructions, ok := splitIndexed(rest)
		if !ok || instructions == "" {
			// Ambiguous intent is never silently accepted.
			return Unrecognized(raw)
		}
		return Modify(idx, instructions)
	}

	if rest, ok := matchToken(body, p.tokens.Skip); ok {
		if trimDelimiters(rest) == "" {
			return Skip()
		}
		// Skip plus trailing text reads as open conversation.
		return Discuss(body)
	}

	if rest, ok := matchToken(body, p.tokens.Select); ok {
		// Trailing commentary after a selection is ignored.
		idx, _, ok := splitIndexed(rest)
		if !ok {
			return Unrecognized(raw)
		}
		return Select(idx)
	}

	if rest, ok := matchToken(body, p.tokens.Discuss); ok {
		if msg := trimDelimiters(rest); msg != "" {
			return Discuss(msg)
		}
		return Discuss(body)
	}

	// Anything else non-empty is open-ended discussion.
	return Discuss(body)
}

// stripQuoted removes quoted-reply artifacts: quote-prefixed lines and
// everything following an attribution marker.
func stripQuoted(raw string) string {
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if attributionRegex.MatchString(trimmed) {
			break
		}
		if strings.HasPrefix(trimmed, ">") || strings.HasPrefix(trimmed, "》") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func matchToken(body string, tokens []string) (rest string, ok bool) {
	for _, tok := range tokens {
		if tok == "" || len(body) < len(tok) {
			continue
		}
		if strings.EqualFold(body[:len(tok)], tok) {
			return body[len(tok):], true
		}
	}
	return "", false
}

// splitIndexed parses a 1-based candidate index from the head of s and
// returns the remaining text. Accepts "2", "B", "候选2", "candidate 2",
// "2号" forms.
func splitIndexed(s string) (idx int, rest string, ok bool) {
	s = trimDelimiters(s)
	for _, prefix := range []string{"候选", "candidate"} {
		if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
			s = trimDelimiters(s[len(prefix):])
			break
		}
	}
	if s == "" {
		return 0, "", false
	}

	if idx, ok := letterIndex(rune(s[0])); ok && !isDigitAt(s, 1) {
		return idx, trimDelimiters(s[1:]), true
	}

	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, "", false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n <= 0 {
		return 0, "", false
	}
	rest = strings.TrimPrefix(s[end:], "号")
	return n, trimDelimiters(rest), true
}

// bareIndex recognizes a reply that is nothing but a candidate reference.
func bareIndex(body string) (int, bool) {
	body = strings.TrimRight(body, "。.!！ \t")
	if body == "" || strings.ContainsAny(body, "\n") {
		return 0, false
	}
	if len(body) == 1 {
		if idx, ok := letterIndex(rune(body[0])); ok {
			return idx, true
		}
	}
	if len(body) <= 2 {
		if n, err := strconv.Atoi(body); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// Letters A..H map to candidates 1..8.
func letterIndex(r rune) (int, bool) {
	switch {
	case r >= 'A' && r <= 'H':
		return int(r-'A') + 1, true
	case r >= 'a' && r <= 'h':
		return int(r-'a') + 1, true
	}
	return 0, false
}

func trimDelimiters(s string) string {
	return strings.Trim(s, " \t\n:：,，、-")
}

func isDigitAt(s string, i int) bool {
	return i < len(s) && s[i] >= '0' && s[i] <= '9'
}
