package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeFoldsAndStems(t *testing.T) {
	tokens := Tokenize("The Café is OPENING today")
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok.Term
	}
	assert.Equal(t, []string{"cafe", "open", "today"}, terms)
	assert.Equal(t, 2, tokens[2].Position)
}

func TestTermMatchesIndexedForm(t *testing.T) {
	assert.Equal(t, Term("Opening"), Tokenize("opening hours")[0].Term)
	assert.Equal(t, "", Term("the"))
	assert.Equal(t, "zurich", Fold("Zürich"))
}

func TestWordsKeepsStopWords(t *testing.T) {
	assert.Equal(t, []string{"the", "news", "of", "today"}, Words("The news of today!"))
}
