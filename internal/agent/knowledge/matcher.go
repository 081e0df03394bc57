// Package knowledge scores a company's Q&A scenarios against inbound text.
package knowledge

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"agent-engine/internal/models"
)

const (
	ScoreExact    = 1.0
	ScorePhrase   = 0.9
	overlapCap    = 0.89
	tokenWeight   = 0.6
	keywordWeight = 0.4
	// tokenOnlyWeight applies when an entry declares no keywords.
	tokenOnlyWeight = 0.8
)

// Match is one scored scenario.
type Match struct {
	Entry models.QAEntry `json:"entry"`
	Score float64        `json:"score"`
	// Index is the declaration position inside the company's entry list.
	Index int `json:"index"`
	// Specificity is the pattern length in tokens.
	Specificity int `json:"specificity"`
}

// Matcher never fails; an empty slice means nothing scored above zero.
type Matcher interface {
	Match(ctx context.Context, cfg *models.CompanyConfig, text string) []Match
}

// Best returns the top match, if any.
func Best(matches []Match) (Match, bool) {
	if len(matches) == 0 {
		return Match{}, false
	}
	return matches[0], true
}

// LexicalMatcher scores entries with phrase and token overlap heuristics.
type LexicalMatcher struct{}

func NewLexicalMatcher() *LexicalMatcher {
	return &LexicalMatcher{}
}

func (m *LexicalMatcher) Match(_ context.Context, cfg *models.CompanyConfig, text string) []Match {
	if cfg == nil {
		return []Match{}
	}
	return scoreEntries(cfg.QAEntries, nil, text)
}

// scoreEntries scores entries (all of them, or only the indexes listed in
// only) and returns them in ranking order.
func scoreEntries(entries []models.QAEntry, only []int, text string) []Match {
	input := normalize(text)
	out := []Match{}
	if input == "" {
		return out
	}
	inputTokens := tokenSet(input)

	score := func(i int) {
		e := entries[i]
		s, spec := scoreEntry(e, input, inputTokens)
		if s > 0 {
			out = append(out, Match{Entry: e, Score: s, Index: i, Specificity: spec})
		}
	}
	if only == nil {
		for i := range entries {
			score(i)
		}
	} else {
		for _, i := range only {
			if i >= 0 && i < len(entries) {
				score(i)
			}
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		if out[a].Specificity != out[b].Specificity {
			return out[a].Specificity > out[b].Specificity
		}
		return out[a].Index < out[b].Index
	})
	return out
}

func scoreEntry(e models.QAEntry, input string, inputTokens map[string]struct{}) (float64, int) {
	pattern := normalize(e.Question)
	patternTokens := strings.Fields(pattern)
	spec := len(patternTokens)
	if pattern == "" {
		return 0, 0
	}

	if pattern == input {
		return ScoreExact, spec
	}
	if containsPhrase(input, pattern) {
		return ScorePhrase, spec
	}

	tok := overlap(contentTokens(patternTokens), inputTokens)

	var s float64
	if len(e.Keywords) == 0 {
		s = tok * tokenOnlyWeight
	} else {
		hits := 0
		for _, kw := range e.Keywords {
			if k := normalize(kw); k != "" && containsPhrase(input, k) {
				hits++
			}
		}
		kwScore := float64(hits) / float64(len(e.Keywords))
		s = tokenWeight*tok + keywordWeight*kwScore
	}
	if s > overlapCap {
		s = overlapCap
	}
	return s, spec
}

// overlap is the share of pattern tokens present in the input.
func overlap(pattern []string, input map[string]struct{}) float64 {
	if len(pattern) == 0 {
		return 0
	}
	uniq := make(map[string]struct{}, len(pattern))
	hits := 0
	for _, t := range pattern {
		if _, dup := uniq[t]; dup {
			continue
		}
		uniq[t] = struct{}{}
		if _, ok := input[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(uniq))
}

// normalize lowercases, maps punctuation to spaces and collapses whitespace.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'':
			// "what's" and "whats" should agree
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// MentionsAny reports whether text contains any of phrases as a whole,
// normalized phrase.
func MentionsAny(text string, phrases []string) bool {
	if len(phrases) == 0 {
		return false
	}
	norm := normalize(text)
	for _, p := range phrases {
		if np := normalize(p); np != "" && containsPhrase(norm, np) {
			return true
		}
	}
	return false
}

func containsPhrase(haystack, needle string) bool {
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}

func tokenSet(normalized string) map[string]struct{} {
	fields := strings.Fields(normalized)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "do": {}, "does": {}, "you": {},
	"your": {}, "i": {}, "me": {}, "my": {}, "we": {}, "to": {}, "of": {}, "for": {},
	"on": {}, "in": {}, "at": {}, "and": {}, "or": {}, "what": {}, "whats": {}, "can": {},
	"it": {}, "be": {}, "with": {}, "how": {},
}

// contentTokens drops stopwords unless nothing would remain.
func contentTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, stop := stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return tokens
	}
	return out
}
