package content

import (
	"slices"

	"golang.org/x/text/language"

	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
)

// LanguageBytes is the on-disk width of a language code.
const LanguageBytes = 2

// CanonicalLanguage reduces a BCP 47 tag ("en-US", "DE", "fr_CH") to its
// two letter ISO 639-1 base language.
func CanonicalLanguage(code string) (string, error) {
	const op = "content.language"
	tag, err := language.Parse(code)
	if err != nil {
		return "", apperrors.Newf(apperrors.ErrInvalidInput, op, "invalid language %q: %v", code, err)
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "", apperrors.Newf(apperrors.ErrInvalidInput, op, "language %q has no base language", code)
	}
	s := base.String()
	if len(s) != LanguageBytes {
		return "", apperrors.Newf(apperrors.ErrInvalidInput, op, "language %q has no two letter code", code)
	}
	return s, nil
}

// CanonicalLanguages canonicalizes codes and removes duplicates, keeping the
// order of first occurrence.
func CanonicalLanguages(codes []string) ([]string, error) {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		lang, err := CanonicalLanguage(c)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, lang) {
			out = append(out, lang)
		}
	}
	return out, nil
}
