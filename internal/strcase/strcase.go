// Package strcase splits identifiers into words and re-joins them in Go naming styles.
package strcase

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Split an identifier into words on case, digit and punctuation boundaries.
//
// Runs of upper case letters are kept together, except for the last letter of a run that is
// followed by lower case letters, so "HTTPServer" splits into "HTTP", "Server".
func Split(src string) []string {
	if !utf8.ValidString(src) {
		return []string{src}
	}
	var runs [][]rune
	lastClass := 0
	for _, r := range src {
		class := classify(r)
		if class == lastClass && len(runs) > 0 {
			runs[len(runs)-1] = append(runs[len(runs)-1], r)
		} else {
			runs = append(runs, []rune{r})
		}
		lastClass = class
	}
	for i := 0; i < len(runs)-1; i++ {
		if unicode.IsUpper(runs[i][0]) && unicode.IsLower(runs[i+1][0]) {
			last := runs[i][len(runs[i])-1]
			runs[i+1] = append([]rune{last}, runs[i+1]...)
			runs[i] = runs[i][:len(runs[i])-1]
		}
	}
	out := make([]string, 0, len(runs))
	for _, run := range runs {
		if len(run) > 0 {
			out = append(out, string(run))
		}
	}
	return out
}

// UpperCamel converts an identifier to UpperCamelCase, dropping any non-alphanumeric words.
func UpperCamel(s string) string {
	var b strings.Builder
	for _, word := range Split(s) {
		r, size := utf8.DecodeRuneInString(word)
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(word[size:])
	}
	return b.String()
}

// LowerCamel converts an identifier to lowerCamelCase.
func LowerCamel(s string) string {
	words := Split(UpperCamel(s))
	if len(words) == 0 {
		return ""
	}
	words[0] = strings.ToLower(words[0])
	return strings.Join(words, "")
}

func classify(r rune) int {
	switch {
	case unicode.IsLower(r):
		return 1
	case unicode.IsUpper(r):
		return 2
	case unicode.IsDigit(r):
		return 3
	default:
		return 4
	}
}
