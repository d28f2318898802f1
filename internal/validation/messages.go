package validation

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/fieldlogic/internal/ir"
)

// builtinMessages are the defaults for the built-in validator kinds.
var builtinMessages = map[string]string{
	"required":  "This field is required",
	"email":     "Enter a valid email address",
	"min":       "Must be at least {{value}}",
	"max":       "Must be at most {{value}}",
	"minLength": "Must be at least {{value}} characters",
	"maxLength": "Must be at most {{value}} characters",
	"pattern":   "Invalid format",
}

var titleCaser = cases.Title(language.English)

// ResolveMessage returns the text for an error kind. Lookup order: the
// field's messages, the form defaults, the built-in defaults, and finally a
// message derived from the kind name itself. It never fails.
func ResolveMessage(kind string, fieldMessages, formDefaults map[string]string, param any) string {
	tmpl, ok := fieldMessages[kind]
	if !ok {
		tmpl, ok = formDefaults[kind]
	}
	if !ok {
		tmpl, ok = builtinMessages[kind]
	}
	if !ok {
		return KindMessage(kind)
	}
	if param == nil {
		return tmpl
	}
	return strings.ReplaceAll(tmpl, "{{value}}", ir.ToString(param))
}

// KindMessage derives a readable message from a kind name:
// "passwordMismatch" becomes "Password mismatch".
func KindMessage(kind string) string {
	words := splitWords(kind)
	if len(words) == 0 {
		return "Invalid value"
	}
	for i := range words {
		words[i] = strings.ToLower(words[i])
	}
	words[0] = titleCaser.String(words[0])
	return strings.Join(words, " ")
}

func splitWords(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range s {
		switch {
		case r == '_' || r == '-' || unicode.IsSpace(r):
			flush()
		case unicode.IsUpper(r) && len(cur) > 0 && !unicode.IsUpper(cur[len(cur)-1]):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return words
}
