package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Параметры argon2id для паролей.
const (
	argonTime    = 2
	argonMemory  = 64 * 1024
	argonThreads = 1
	argonKeyLen  = 32
	saltLen      = 16
)

const sessionKeyInfo = "signdesk session data key"

// Service: мастер-ключ (KEK из конфига) и криптопримитивы панели.
type Service struct {
	master *Box
}

func New(masterKey []byte) (*Service, error) {
	b, err := NewBox(masterKey)
	if err != nil {
		return nil, err
	}
	return &Service{master: b}, nil
}

// HashPassword возвращает argon2id-хэш и свежую соль.
func (s *Service) HashPassword(password string) (hash, salt []byte, err error) {
	salt = make([]byte, saltLen)
	if _, err = rand.Read(salt); err != nil {
		return nil, nil, err
	}
	hash = argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return hash, salt, nil
}

func (s *Service) VerifyPassword(hash, salt []byte, candidate string) bool {
	h := argon2.IDKey([]byte(candidate), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(h, hash) == 1
}

// NewDataKey: случайный DEK для шифрования полей.
func (s *Service) NewDataKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// WrapDataKey шифрует DEK мастер-ключом (хранится в settings).
func (s *Service) WrapDataKey(dek []byte) (string, error) {
	out, err := s.master.SealBytes(dek)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *Service) UnwrapDataKey(wrapped string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, ErrCiphertext
	}
	return s.master.OpenBytes(raw)
}

// WrapForSession оборачивает DEK ключом, выведенным из cookie-токена сессии.
// Без токена (он есть только у браузера) значение в БД бесполезно.
func (s *Service) WrapForSession(token string, dek []byte) (string, error) {
	b, err := sessionBox(token)
	if err != nil {
		return "", err
	}
	out, err := b.SealBytes(dek)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *Service) UnwrapForSession(token, wrapped string) ([]byte, error) {
	b, err := sessionBox(token)
	if err != nil {
		return nil, err
	}
	raw, err := base64.RawURLEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, ErrCiphertext
	}
	return b.OpenBytes(raw)
}

func sessionBox(token string) (*Box, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(token), nil, []byte(sessionKeyInfo)), key); err != nil {
		return nil, err
	}
	return NewBox(key)
}

// NewToken: 32 случайных байта в base64url без паддинга.
func NewToken() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashToken: hex(sha256(token)); только это значение попадает в БД.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
