package security

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind selects the masking pattern applied by Anonymize.
type Kind string

const (
	KindCPF     Kind = "cpf"
	KindPhone   Kind = "phone"
	KindEmail   Kind = "email"
	KindName    Kind = "name"
	KindGeneric Kind = "generic"
)

// Anonymize masks value irreversibly with a partial-reveal pattern per kind.
// Nil or empty input yields nil. Values that do not fit their kind's shape are
// fully masked.
func Anonymize(value *string, kind Kind) *string {
	if value == nil || *value == "" {
		return nil
	}

	var masked string
	var ok bool
	switch kind {
	case KindCPF:
		masked, ok = maskCPF(*value)
	case KindPhone:
		masked, ok = maskPhone(*value)
	case KindEmail:
		masked, ok = maskEmail(*value)
	case KindName:
		masked, ok = maskName(*value), true
	}
	if !ok {
		masked = maskAll(*value)
	}
	return &masked
}

// AnonymizeString is Anonymize for non-pointer values; empty stays empty.
func AnonymizeString(value string, kind Kind) string {
	masked := Anonymize(&value, kind)
	if masked == nil {
		return ""
	}
	return *masked
}

// 12345678909 -> 123.***.**-09
func maskCPF(v string) (string, bool) {
	d := digits(v)
	if len(d) != 11 {
		return "", false
	}
	return d[:3] + ".***.**-" + d[9:], true
}

// 11987654321 -> (11) 9****-4321, 1133334444 -> (11) ****-4444
func maskPhone(v string) (string, bool) {
	d := digits(v)
	switch len(d) {
	case 11:
		return "(" + d[:2] + ") 9****-" + d[7:], true
	case 10:
		return "(" + d[:2] + ") ****-" + d[6:], true
	}
	return "", false
}

func maskEmail(v string) (string, bool) {
	local, domain, found := strings.Cut(v, "@")
	if !found || local == "" || domain == "" {
		return "", false
	}

	runes := []rune(local)
	if len(runes) <= 2 {
		return string(runes[0]) + strings.Repeat("*", len(runes)-1) + "@" + domain, true
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-2) + string(runes[len(runes)-1]) + "@" + domain, true
}

func maskName(v string) string {
	words := strings.Fields(v)
	for i := 1; i < len(words); i++ {
		first, size := utf8.DecodeRuneInString(words[i])
		words[i] = string(first) + strings.Repeat("*", utf8.RuneCountInString(words[i][size:]))
	}
	return strings.Join(words, " ")
}

func maskAll(v string) string {
	return strings.Repeat("*", utf8.RuneCountInString(v))
}

func digits(v string) string {
	var sb strings.Builder
	for _, r := range v {
		if unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
