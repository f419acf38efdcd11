// Package validator holds the Brazilian document and contact checks used by
// request binding.
package validator

import (
	"regexp"
	"strings"
)

var (
	phonePattern = regexp.MustCompile(`^\(?\d{2}\)?\s?9?\d{4}-?\d{4}$`)
	zipPattern   = regexp.MustCompile(`^\d{5}-?\d{3}$`)
)

var states = map[string]struct{}{
	"AC": {}, "AL": {}, "AP": {}, "AM": {}, "BA": {}, "CE": {}, "DF": {}, "ES": {}, "GO": {},
	"MA": {}, "MT": {}, "MS": {}, "MG": {}, "PA": {}, "PB": {}, "PR": {}, "PE": {}, "PI": {},
	"RJ": {}, "RN": {}, "RS": {}, "RO": {}, "RR": {}, "SC": {}, "SP": {}, "SE": {}, "TO": {},
}

// Digits strips everything but ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CPF reports whether s is a CPF with valid check digits, formatted or not.
// Sequences of a single repeated digit are rejected.
func CPF(s string) bool {
	d := Digits(s)
	if len(d) != 11 {
		return false
	}
	if strings.Count(d, d[:1]) == 11 {
		return false
	}
	return checkDigit(d[:9], 10) == d[9] && checkDigit(d[:10], 11) == d[10]
}

func checkDigit(digits string, weight int) byte {
	sum := 0
	for i := 0; i < len(digits); i++ {
		sum += int(digits[i]-'0') * (weight - i)
	}
	rest := (sum * 10) % 11
	if rest == 10 {
		rest = 0
	}
	return byte('0' + rest)
}

// Phone accepts landline and mobile numbers with area code, e.g.
// "(11) 98765-4321" or "11987654321".
func Phone(s string) bool {
	return phonePattern.MatchString(strings.TrimSpace(s))
}

// Zip accepts a CEP with or without the hyphen.
func Zip(s string) bool {
	return zipPattern.MatchString(s)
}

// UF reports whether s is a two-letter state abbreviation.
func UF(s string) bool {
	_, ok := states[strings.ToUpper(s)]
	return ok
}
