// Package pii decrypts field-level encrypted user data. Values are Fernet
// tokens; anything without the token prefix is treated as plaintext.
package pii

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// Prefix is how every base64 Fernet token starts: version byte 0x80
// followed by the high bytes of a Unix timestamp.
const Prefix = "gAAAAA"

const (
	version     byte = 0x80
	headerLen        = 1 + 8 + aes.BlockSize
	hmacLen          = sha256.Size
	minTokenLen      = headerLen + aes.BlockSize + hmacLen
)

var ErrInvalidToken = stderrors.New("invalid token")

type key struct {
	signing    []byte
	encryption []byte
}

func parseKey(encoded string) (key, error) {
	raw, err := decodeBase64(strings.TrimSpace(encoded))
	if err != nil || len(raw) != 32 {
		return key{}, fmt.Errorf("key must be 32 url-safe base64 encoded bytes")
	}
	return key{signing: raw[:16], encryption: raw[16:]}, nil
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// Decryptor tries each configured key in order, so keys can be rotated by
// prepending the new one.
type Decryptor struct {
	keys []key
}

func NewDecryptor(encodedKeys []string) (*Decryptor, error) {
	d := &Decryptor{}
	for i, k := range encodedKeys {
		if strings.TrimSpace(k) == "" {
			continue
		}
		parsed, err := parseKey(k)
		if err != nil {
			return nil, fmt.Errorf("pii key %d: %w", i, err)
		}
		d.keys = append(d.keys, parsed)
	}
	return d, nil
}

func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// Reveal returns value unchanged unless it is encrypted, in which case it is decrypted.
func (d *Decryptor) Reveal(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	return d.Decrypt(value)
}

// Decrypt fails closed: a token that does not verify under any key is an error.
func (d *Decryptor) Decrypt(token string) (string, error) {
	if len(d.keys) == 0 {
		return "", fmt.Errorf("no decryption keys configured")
	}
	raw, err := decodeBase64(token)
	if err != nil || len(raw) < minTokenLen || raw[0] != version {
		return "", ErrInvalidToken
	}
	for _, k := range d.keys {
		if plain, ok := k.open(raw); ok {
			return string(plain), nil
		}
	}
	return "", ErrInvalidToken
}

func (k key) open(raw []byte) ([]byte, bool) {
	body, sig := raw[:len(raw)-hmacLen], raw[len(raw)-hmacLen:]
	mac := hmac.New(sha256.New, k.signing)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return nil, false
	}

	iv := body[9:headerLen]
	ciphertext := body[headerLen:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, false
	}
	block, err := aes.NewCipher(k.encryption)
	if err != nil {
		return nil, false
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)
	return unpad(plain)
}

func unpad(b []byte) ([]byte, bool) {
	if len(b) == 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, false
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}

// Encrypt produces a Fernet token for plaintext under encodedKey. The pipeline
// only decrypts; seeding tools and tests use this.
func Encrypt(encodedKey string, plaintext []byte, iv []byte, now time.Time) (string, error) {
	k, err := parseKey(encodedKey)
	if err != nil {
		return "", err
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("iv must be %d bytes", aes.BlockSize)
	}

	n := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(append([]byte{}, plaintext...), make([]byte, n)...)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(n)
	}

	block, err := aes.NewCipher(k.encryption)
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	body := make([]byte, headerLen, headerLen+len(ciphertext)+hmacLen)
	body[0] = version
	binary.BigEndian.PutUint64(body[1:9], uint64(now.Unix()))
	copy(body[9:], iv)
	body = append(body, ciphertext...)

	mac := hmac.New(sha256.New, k.signing)
	mac.Write(body)
	return base64.URLEncoding.EncodeToString(mac.Sum(body)), nil
}
