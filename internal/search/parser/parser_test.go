package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		terms    []string
		excludes []string
		typ      QueryType
	}{
		{"empty", "   ", []string{}, []string{}, QueryAND},
		{"implicit and", "weather report", []string{"weath", "report"}, []string{}, QueryAND},
		{"or", "sports OR weather", []string{"sport", "weath"}, []string{}, QueryOR},
		{"not", "news NOT sports", []string{"new"}, []string{"sport"}, QueryAND},
		{"minus", "news -sports", []string{"new"}, []string{"sport"}, QueryAND},
		{"stop words", "the news of the day", []string{"new", "day"}, []string{}, QueryAND},
		{"duplicates", "report reports", []string{"report"}, []string{}, QueryAND},
		{"diacritics", "Café", []string{"cafe"}, []string{}, QueryAND},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Parse(tt.query)
			assert.Equal(t, tt.terms, plan.Terms)
			assert.Equal(t, tt.excludes, plan.ExcludeTerms)
			assert.Equal(t, tt.typ, plan.Type)
			assert.Equal(t, tt.query, plan.RawQuery)
		})
	}
}

func TestPlanEmpty(t *testing.T) {
	assert.True(t, Parse("the and of").Empty())
	assert.False(t, Parse("NOT draft").Empty())
}
