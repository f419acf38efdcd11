package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"
)

// BlindIndex derives a keyed, deterministic lookup token for a sensitive value
// so equality queries work without storing plaintext.
type BlindIndex struct {
	key []byte
}

func NewBlindIndex(key []byte) (*BlindIndex, error) {
	if len(key) < 16 {
		return nil, errors.New("index key must be at least 16 bytes")
	}
	return &BlindIndex{key: key}, nil
}

// Compute returns hex(HMAC-SHA256(key, normalized value)).
func (b *BlindIndex) Compute(value string) string {
	mac := hmac.New(sha256.New, b.key)
	mac.Write([]byte(normalizeIndexValue(value)))
	return hex.EncodeToString(mac.Sum(nil))
}

// normalizeIndexValue drops punctuation and case so "123.456.789-09" and
// "12345678909" collide.
func normalizeIndexValue(value string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(value) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
