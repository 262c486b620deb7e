package models

import "strings"

// Language is one of the closed set of conversation languages.
type Language string

const (
	LanguageRussian Language = "ru"
	LanguageUzbek   Language = "uz"
	LanguageEnglish Language = "en"
)

// FallbackLanguage is used before the user picks one.
const FallbackLanguage = LanguageEnglish

// Languages lists supported languages in menu order.
var Languages = []Language{LanguageRussian, LanguageUzbek, LanguageEnglish}

// ParseLanguage maps a code such as "ru" or "uz-Latn" onto a supported language.
func ParseLanguage(raw string) (Language, bool) {
	code := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	for _, lang := range Languages {
		if string(lang) == code {
			return lang, true
		}
	}
	return "", false
}

// Valid reports whether l is supported.
func (l Language) Valid() bool {
	switch l {
	case LanguageRussian, LanguageUzbek, LanguageEnglish:
		return true
	}
	return false
}
