package engine

import (
	"maps"
	"slices"
	"strings"

	"github.com/digitalroastery/weblounge-sub005/internal/search/tokenizer"
)

// Suggest completes prefix from the words of document titles and subjects.
// Suggestions are ordered by the number of documents using them, then
// alphabetically. Words are folded but not stemmed.
func (e *Engine) Suggest(prefix string, n int) []string {
	prefix = tokenizer.Fold(strings.TrimSpace(prefix))
	if prefix == "" || n <= 0 {
		return []string{}
	}

	e.mu.RLock()
	counts := make(map[string]int)
	for _, sd := range e.docs {
		words := make(map[string]struct{})
		for _, title := range sd.Doc.Title {
			for _, w := range tokenizer.Words(title) {
				words[w] = struct{}{}
			}
		}
		for _, subject := range sd.Doc.Subjects {
			for _, w := range tokenizer.Words(subject) {
				words[w] = struct{}{}
			}
		}
		for w := range words {
			if strings.HasPrefix(w, prefix) {
				counts[w]++
			}
		}
	}
	e.mu.RUnlock()

	suggestions := slices.SortedFunc(maps.Keys(counts), func(a, b string) int {
		if counts[a] != counts[b] {
			return counts[b] - counts[a]
		}
		return strings.Compare(a, b)
	})
	if len(suggestions) > n {
		suggestions = suggestions[:n]
	}
	return suggestions
}
