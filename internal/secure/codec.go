// Package secure decrypts the canonical-answer blobs shipped with exam
// content and validates raw user answers against them. Blobs ride along
// inside the client-visible payload, so this is tamper resistance for the
// graded content, not a transport security boundary.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"arena-engine/internal/domain"
)

// Codec encrypts and decrypts canonical answers. The blob wire format is
// "ivHex:cipherHex": a per-blob IV followed by the AES-256-CBC ciphertext
// of the JSON-encoded answer, keyed by the SHA-256 of a shared secret.
type Codec struct {
	key [32]byte
}

func NewCodec(secret string) *Codec {
	return &Codec{key: sha256.Sum256([]byte(secret))}
}

// Decrypt recovers the plaintext JSON of a blob. It reports ok=false on any
// format, padding or crypto failure; it never panics and never returns an
// error, because a bad blob on one question must not abort the session.
func (c *Codec) Decrypt(blob string) ([]byte, bool) {
	ivHex, cipherHex, found := strings.Cut(blob, ":")
	if !found {
		return nil, false
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, false
	}
	ciphertext, err := hex.DecodeString(cipherHex)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, false
	}

	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, false
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext)
}

// Encrypt produces a blob for a canonical answer value. Used by content
// seeding and tests; the serving path only decrypts.
func (c *Codec) Encrypt(answer any) (string, error) {
	plaintext, err := json.Marshal(answer)
	if err != nil {
		return "", err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Canonical decrypts a blob and shapes it by question kind. It reports
// ok=false when the blob cannot be decrypted or its JSON does not match the
// shape the kind requires (fail closed for that single comparison).
func (c *Codec) Canonical(blob string, kind domain.QuestionKind) (domain.CanonicalAnswer, bool) {
	plaintext, ok := c.Decrypt(blob)
	if !ok {
		return domain.CanonicalAnswer{}, false
	}

	out := domain.CanonicalAnswer{Kind: kind}
	switch kind {
	case domain.SingleChoice, domain.TrueFalse, domain.YesNo:
		value, ok := decodeScalar(plaintext)
		if !ok {
			return domain.CanonicalAnswer{}, false
		}
		out.Value = value
	case domain.MultiChoice, domain.Ordering:
		var values []string
		if err := json.Unmarshal(plaintext, &values); err != nil || len(values) == 0 {
			return domain.CanonicalAnswer{}, false
		}
		out.Values = values
	case domain.Matching:
		var pairs map[string]string
		if err := json.Unmarshal(plaintext, &pairs); err != nil || len(pairs) == 0 {
			return domain.CanonicalAnswer{}, false
		}
		out.Pairs = pairs
	default:
		return domain.CanonicalAnswer{}, false
	}
	return out, true
}

// decodeScalar accepts the scalar encodings seen in shipped content:
// plain strings, booleans, and bare JSON numbers.
func decodeScalar(plaintext []byte) (string, bool) {
	var v any
	if err := json.Unmarshal(plaintext, &v); err != nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padding)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padding)
	}
	return out
}

func pkcs7Unpad(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, false
		}
	}
	return data[:len(data)-padding], true
}
