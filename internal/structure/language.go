package structure

import (
	"github.com/digitalroastery/weblounge-sub005/internal/content"
	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
)

const (
	LanguageIndexFile = "language.idx"

	languageMagic uint32 = 0x4c414e58 // "LANX"
)

// LanguageIndex records the languages a resource is available in. Unlike
// the version index, an entry may hold no language at all; it then marks a
// known resource that has not been translated yet.
type LanguageIndex struct {
	list *listIndex
}

// OpenLanguageIndex opens or creates dir/language.idx.
func OpenLanguageIndex(dir string, opts ListOptions) (*LanguageIndex, error) {
	l, err := openListIndex(dir, LanguageIndexFile, "language", languageMagic, content.LanguageBytes, true, opts)
	if err != nil {
		return nil, err
	}
	return &LanguageIndex{list: l}, nil
}

func canonical(op string, langs []string) ([]string, error) {
	out, err := content.CanonicalLanguages(langs)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, op, "%v", err)
	}
	return out, nil
}

// Set replaces the languages of the resource at address. An empty set keeps
// a placeholder entry.
func (idx *LanguageIndex) Set(address int64, id string, langs []string) error {
	values, err := canonical("language.set", langs)
	if err != nil {
		return err
	}
	return idx.list.put(address, id, values)
}

// Register stores langs for a resource that has no address yet and returns
// the allocated address.
func (idx *LanguageIndex) Register(id string, langs []string) (int64, error) {
	values, err := canonical("language.register", langs)
	if err != nil {
		return -1, err
	}
	return idx.list.register(id, values)
}

// AddLanguage adds one language to the existing entry at address.
func (idx *LanguageIndex) AddLanguage(address int64, lang string) error {
	l, err := content.CanonicalLanguage(lang)
	if err != nil {
		return err
	}
	return idx.list.add(address, l)
}

// HasLanguage reports whether lang is recorded at address.
func (idx *LanguageIndex) HasLanguage(address int64, lang string) (bool, error) {
	l, err := content.CanonicalLanguage(lang)
	if err != nil {
		return false, err
	}
	return idx.list.has(address, l)
}

// HasAnyLanguage reports whether the entry at address holds at least one
// language.
func (idx *LanguageIndex) HasAnyLanguage(address int64) (bool, error) {
	langs, err := idx.list.values(address)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	return len(langs) > 0, err
}

// Languages returns the recorded languages in insertion order.
func (idx *LanguageIndex) Languages(address int64) ([]string, error) {
	return idx.list.values(address)
}

// DeleteLanguage removes one language. The entry is kept even when it
// becomes empty.
func (idx *LanguageIndex) DeleteLanguage(address int64, lang string) error {
	l, err := content.CanonicalLanguage(lang)
	if err != nil {
		return err
	}
	return idx.list.remove(address, l)
}

// Delete removes the entry at address.
func (idx *LanguageIndex) Delete(address int64) error { return idx.list.Delete(address) }

// Contains reports whether address holds a live entry.
func (idx *LanguageIndex) Contains(address int64) (bool, error) { return idx.list.Contains(address) }

func (idx *LanguageIndex) ID(address int64) (string, error) { return idx.list.ID(address) }

// Scan calls fn for every live entry in address order.
func (idx *LanguageIndex) Scan(fn func(address int64, id string, langs []string) error) error {
	return idx.list.scan(fn)
}

// LanguagesPerEntry is the current per entry capacity.
func (idx *LanguageIndex) LanguagesPerEntry() int { return idx.list.Capacity() }

func (idx *LanguageIndex) Entries() int64     { return idx.list.Entries() }
func (idx *LanguageIndex) Slots() int64       { return idx.list.Slots() }
func (idx *LanguageIndex) Size() int64        { return idx.list.Size() }
func (idx *LanguageIndex) FormatVersion() int { return idx.list.FormatVersion() }
func (idx *LanguageIndex) Clear() error       { return idx.list.Clear() }
func (idx *LanguageIndex) Close() error       { return idx.list.Close() }
