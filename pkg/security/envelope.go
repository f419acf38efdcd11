package security

import (
	"encoding/base64"
	"strings"
)

// envelopeV1 prefixes every stored envelope so the format can change without
// guessing what a column holds.
const envelopeV1 = "v1:"

// Envelope converts sensitive field values to and from their stored form.
// A nil value stays nil in both directions.
type Envelope struct {
	enc Encryptor
}

func NewEnvelope(enc Encryptor) *Envelope {
	return &Envelope{enc: enc}
}

// Seal encrypts a plaintext value into an opaque "v1:<base64>" string.
func (e *Envelope) Seal(plaintext *string) (*string, error) {
	if plaintext == nil {
		return nil, nil
	}

	ct, err := e.enc.Encrypt([]byte(*plaintext))
	if err != nil {
		return nil, err
	}

	sealed := envelopeV1 + base64.StdEncoding.EncodeToString(ct)
	return &sealed, nil
}

// Open reverses Seal. Tampered or foreign values fail with ErrDecryption.
func (e *Envelope) Open(sealed *string) (*string, error) {
	if sealed == nil {
		return nil, nil
	}

	raw, ok := strings.CutPrefix(*sealed, envelopeV1)
	if !ok {
		return nil, ErrDecryption
	}

	ct, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, ErrDecryption
	}

	pt, err := e.enc.Decrypt(ct)
	if err != nil {
		return nil, err
	}

	plaintext := string(pt)
	return &plaintext, nil
}

// SealString is Seal for required fields.
func (e *Envelope) SealString(plaintext string) (string, error) {
	sealed, err := e.Seal(&plaintext)
	if err != nil {
		return "", err
	}
	return *sealed, nil
}

// OpenString is Open for required fields.
func (e *Envelope) OpenString(sealed string) (string, error) {
	pt, err := e.Open(&sealed)
	if err != nil {
		return "", err
	}
	return *pt, nil
}
