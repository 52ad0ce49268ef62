package query

import (
	"strings"

	"github.com/ryosukesatoh/paperwatch/internal/config"
)

// Topic is a named group of feed queries sharing one yield target.
// Keywords are the cleaned terms behind Queries. Strict drops papers whose
// title and abstract contain none of them.
type Topic struct {
	Name        string
	Queries     []string
	Keywords    []string
	TargetCount int
	Strict      bool
}

// Build expands keywords into exact-phrase, field-scoped queries: one per
// keyword and, when maxCombine >= 2, one per unordered pair. The result is
// deduplicated in first-seen order. No keywords means no queries.
func Build(keywords []string, maxCombine int) []string {
	terms := uniqueTerms(keywords)
	queries := make([]string, 0, len(terms))
	seen := make(map[string]struct{})
	push := func(q string) {
		if _, ok := seen[q]; ok {
			return
		}
		seen[q] = struct{}{}
		queries = append(queries, q)
	}

	for _, t := range terms {
		push(phrase(t))
	}
	if maxCombine < 2 {
		return queries
	}
	for i := 0; i < len(terms); i++ {
		for j := i + 1; j < len(terms); j++ {
			push(phrase(terms[i]) + " AND " + phrase(terms[j]))
		}
	}
	return queries
}

// Topics builds one Topic per configured topic.
func Topics(cfgs []config.TopicConfig) []Topic {
	topics := make([]Topic, 0, len(cfgs))
	for _, tc := range cfgs {
		topics = append(topics, Topic{
			Name:        tc.Name,
			Queries:     Build(tc.Keywords, tc.MaxCombine),
			Keywords:    uniqueTerms(tc.Keywords),
			TargetCount: tc.TargetCount,
			Strict:      tc.Strict,
		})
	}
	return topics
}

// Match returns the first keyword contained in title or abstract, ignoring
// case and whitespace runs, or "" when none is.
func Match(title, abstract string, keywords []string) string {
	text := strings.ToLower(strings.Join(strings.Fields(title+" "+abstract), " "))
	for _, kw := range keywords {
		needle := strings.ToLower(strings.Join(strings.Fields(kw), " "))
		if needle != "" && strings.Contains(text, needle) {
			return kw
		}
	}
	return ""
}

func phrase(term string) string {
	return `all:"` + term + `"`
}

// quoteStripper removes characters arXiv phrase syntax cannot escape.
var quoteStripper = strings.NewReplacer(`"`, " ", `\`, " ")

// uniqueTerms trims keywords and drops quotes, blanks and case-insensitive
// repeats.
func uniqueTerms(keywords []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = strings.Join(strings.Fields(quoteStripper.Replace(kw)), " ")
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
	}
	return out
}
