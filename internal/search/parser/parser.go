// Package parser turns free text search input into a query plan.
package parser

import (
	"strings"

	"github.com/digitalroastery/weblounge-sub005/internal/search/tokenizer"
)

type QueryType int

const (
	QueryAND QueryType = iota
	QueryOR
)

func (t QueryType) String() string {
	if t == QueryOR {
		return "OR"
	}
	return "AND"
}

// QueryPlan holds the normalized terms of a query. All terms must match
// for QueryAND, any of them for QueryOR. Documents containing an excluded
// term never match.
type QueryPlan struct {
	Terms        []string
	Type         QueryType
	ExcludeTerms []string
	RawQuery     string
}

// Empty reports whether the plan neither requires nor excludes any term.
func (p *QueryPlan) Empty() bool {
	return len(p.Terms) == 0 && len(p.ExcludeTerms) == 0
}

// Parse reads AND, OR and NOT operators and the -word shorthand for NOT.
// Operators are case insensitive. The last AND or OR wins for the whole
// query; stop words are dropped.
func Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		Terms:        make([]string, 0),
		ExcludeTerms: make([]string, 0),
		Type:         QueryAND,
		RawQuery:     query,
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	excludeNext := false
	for _, word := range strings.Fields(query) {
		switch strings.ToUpper(word) {
		case "AND":
			plan.Type = QueryAND
			continue
		case "OR":
			plan.Type = QueryOR
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		exclude := excludeNext
		excludeNext = false
		if len(word) > 1 && word[0] == '-' {
			exclude = true
			word = word[1:]
		}
		// A word like "e-mail" yields several terms.
		for _, token := range tokenizer.Tokenize(word) {
			if exclude {
				plan.ExcludeTerms = appendUnique(plan.ExcludeTerms, token.Term)
			} else {
				plan.Terms = appendUnique(plan.Terms, token.Term)
			}
		}
	}
	return plan
}

func appendUnique(terms []string, term string) []string {
	for _, t := range terms {
		if t == term {
			return terms
		}
	}
	return append(terms, term)
}
