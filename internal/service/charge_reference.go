package service

import (
	"strconv"
	"strings"
)

// cyrillicToLatin covers Russian and the Uzbek-specific letters. Characters
// outside the table pass through unchanged.
var cyrillicToLatin = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "yo",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "shch",
	'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
	'ў': "o", 'қ': "q", 'ғ': "g", 'ҳ': "h",
	'А': "A", 'Б': "B", 'В': "V", 'Г': "G", 'Д': "D", 'Е': "E", 'Ё': "Yo",
	'Ж': "Zh", 'З': "Z", 'И': "I", 'Й': "Y", 'К': "K", 'Л': "L", 'М': "M",
	'Н': "N", 'О': "O", 'П': "P", 'Р': "R", 'С': "S", 'Т': "T", 'У': "U",
	'Ф': "F", 'Х': "Kh", 'Ц': "Ts", 'Ч': "Ch", 'Ш': "Sh", 'Щ': "Shch",
	'Ъ': "", 'Ы': "Y", 'Ь': "", 'Э': "E", 'Ю': "Yu", 'Я': "Ya",
	'Ў': "O", 'Қ': "Q", 'Ғ': "G", 'Ҳ': "H",
}

// Transliterate maps Cyrillic letters to Latin and keeps everything else.
func Transliterate(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if latin, ok := cyrillicToLatin[r]; ok {
			b.WriteString(latin)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// alphanumeric transliterates text and drops everything outside [A-Za-z0-9].
func alphanumeric(text string) string {
	latin := Transliterate(text)
	var b strings.Builder
	b.Grow(len(latin))
	for i := 0; i < len(latin); i++ {
		c := latin[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// GenerateChargeReference builds the payment reconciliation key
// "{id}_{surname}_{givenName}_{grade}" from the store-assigned id.
func GenerateChargeReference(id int64, surname, givenName string, grade int) string {
	return strconv.FormatInt(id, 10) + "_" + alphanumeric(surname) + "_" + alphanumeric(givenName) + "_" + strconv.Itoa(grade)
}
