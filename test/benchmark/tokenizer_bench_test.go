package benchmark

import (
	"fmt"
	"strings"
	"testing"

	"github.com/digitalroastery/weblounge-sub005/internal/search/parser"
	"github.com/digitalroastery/weblounge-sub005/internal/search/tokenizer"
)

var sampleTexts = map[string]string{
	"short": "Die Straßenbahn fährt über die Brücke zum Hafenfest",
	"medium": `The harbour festival opens on Saturday with concerts on three stages.
        Visitors reach the quay by tram or ferry, and the old town stays open
        until midnight. Exhibitions in the maritime museum run all weekend.`,
	"long": strings.Repeat(`Le festival du port ouvre samedi avec des concerts sur trois scènes.
        Les visiteurs rejoignent le quai en tram ou en ferry. `, 40),
}

func BenchmarkTokenize(b *testing.B) {
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for b.Loop() {
				_ = tokenizer.Tokenize(text)
			}
		})
	}
}

func BenchmarkFold(b *testing.B) {
	words := []string{"Zürich", "Straße", "éàèùâêîôû", "naïve", "Ångström", "plain"}
	b.ReportAllocs()
	for b.Loop() {
		for _, w := range words {
			_ = tokenizer.Fold(w)
		}
	}
}

func BenchmarkTokenizeVaryingSize(b *testing.B) {
	sizes := []int{10, 100, 500, 1000, 5000}
	baseWord := "content repository festival harbour concert "
	for _, size := range sizes {
		text := strings.Repeat(baseWord, size/len(baseWord)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for b.Loop() {
				_ = tokenizer.Tokenize(text)
			}
		})
	}
}

func BenchmarkQueryParse(b *testing.B) {
	queries := []struct {
		name  string
		query string
	}{
		{"simple", "harbour festival"},
		{"boolean_or", "concert OR festival OR exhibition"},
		{"with_not", "festival NOT winter"},
		{"shorthand_not", "festival -winter -rain"},
	}
	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				_ = parser.Parse(q.query)
			}
		})
	}
}
