package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"signdesk/internal/models"
	"signdesk/internal/secrets"
)

const DefaultSessionTTL = 24 * time.Hour

// SessionRepo: хранилище сессий (repo.SessionStore).
type SessionRepo interface {
	Create(ctx context.Context, s *models.Session) error
	GetByTokenHash(ctx context.Context, hash string) (*models.Session, error)
	DeleteByTokenHash(ctx context.Context, hash string) error
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
}

// KeyWrapper оборачивает ключ данных под токен сессии (secrets.Service).
type KeyWrapper interface {
	WrapForSession(token string, dek []byte) (string, error)
	UnwrapForSession(token, wrapped string) ([]byte, error)
}

type Sessions struct {
	repo SessionRepo
	keys KeyWrapper
	ttl  time.Duration
	now  func() time.Time
}

func NewSessions(repo SessionRepo, keys KeyWrapper, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{repo: repo, keys: keys, ttl: ttl, now: time.Now}
}

// Issue создаёт сессию и возвращает токен для cookie. dataKey может быть nil.
func (s *Sessions) Issue(ctx context.Context, userID, userAgent string, dataKey []byte) (string, *models.Session, error) {
	return s.issue(ctx, userID, userAgent, dataKey, nil)
}

// IssueImpersonation создаёт временную сессию target, помеченную сессией администратора.
func (s *Sessions) IssueImpersonation(ctx context.Context, actor *models.Session, targetID, userAgent string, dataKey []byte) (string, *models.Session, error) {
	id := actor.ID
	return s.issue(ctx, targetID, userAgent, dataKey, &id)
}

func (s *Sessions) issue(ctx context.Context, userID, userAgent string, dataKey []byte, impersonator *string) (string, *models.Session, error) {
	token, err := secrets.NewToken()
	if err != nil {
		return "", nil, err
	}
	csrf, err := secrets.NewToken()
	if err != nil {
		return "", nil, err
	}
	sess := &models.Session{
		ID:        uuid.NewString(),
		TokenHash: secrets.HashToken(token),
		CSRFToken: csrf,
		Expires:   s.now().Add(s.ttl).UnixMilli(),
		UserID:    userID,
		UserAgent: truncateUA(userAgent),
		CreatedAt: s.now(),

		ImpersonatorID: impersonator,
	}
	if dataKey != nil && s.keys != nil {
		wrapped, err := s.keys.WrapForSession(token, dataKey)
		if err != nil {
			return "", nil, err
		}
		sess.WrappedDataKey = &wrapped
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return "", nil, err
	}
	return token, sess, nil
}

// Validate: живая сессия по токену из cookie или repo.ErrNotFound.
func (s *Sessions) Validate(ctx context.Context, token string) (*models.Session, error) {
	return s.repo.GetByTokenHash(ctx, secrets.HashToken(token))
}

func (s *Sessions) Revoke(ctx context.Context, token string) error {
	return s.repo.DeleteByTokenHash(ctx, secrets.HashToken(token))
}

func (s *Sessions) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return s.repo.DeleteAllForUser(ctx, userID)
}

// DataKey разворачивает ключ данных, привязанный к сессии; ok=false, если его нет.
func (s *Sessions) DataKey(p *Principal) ([]byte, bool, error) {
	if p == nil || p.Session == nil || p.Session.WrappedDataKey == nil || s.keys == nil {
		return nil, false, nil
	}
	dek, err := s.keys.UnwrapForSession(p.token, *p.Session.WrappedDataKey)
	if err != nil {
		return nil, false, err
	}
	return dek, true, nil
}

func truncateUA(ua string) string {
	if len(ua) > 255 {
		return ua[:255]
	}
	return ua
}
