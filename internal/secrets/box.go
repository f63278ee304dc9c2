package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

var ErrCiphertext = errors.New("secrets: malformed ciphertext")

// Box шифрует поля AES-256-GCM, формат шифротекста nonce || ciphertext+tag.
type Box struct {
	aead cipher.AEAD
}

func NewBox(key []byte) (*Box, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("secrets: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: aead}, nil
}

func (b *Box) SealBytes(plain []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return b.aead.Seal(nonce, nonce, plain, nil), nil
}

func (b *Box) OpenBytes(data []byte) ([]byte, error) {
	ns := b.aead.NonceSize()
	if len(data) < ns+b.aead.Overhead() {
		return nil, ErrCiphertext
	}
	plain, err := b.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return nil, ErrCiphertext
	}
	return plain, nil
}

// Seal шифрует строку в base64url (для текстовых колонок).
func (b *Box) Seal(plain string) (string, error) {
	out, err := b.SealBytes([]byte(plain))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (b *Box) Open(enc string) (string, error) {
	if enc == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return "", ErrCiphertext
	}
	plain, err := b.OpenBytes(raw)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
