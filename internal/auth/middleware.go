// Package auth - сессии, роли и обёртки обработчиков: вход обязателен, роль не ниже, CSRF.
package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"signdesk/internal/logs"
	"signdesk/internal/models"
	"signdesk/internal/repo"
)

var (
	ErrNoSession           = errors.New("auth: no valid session")
	ErrForbidden           = errors.New("auth: insufficient role")
	ErrNestedImpersonation = errors.New("auth: already impersonating")
	ErrNotImpersonating    = errors.New("auth: not impersonating")
)

// UserRepo: загрузка пользователя сессии (repo.UserStore).
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// Principal: кто выполняет запрос.
type Principal struct {
	User          *models.User
	Session       *models.Session
	Role          Role
	Impersonating bool

	token string
}

func (p *Principal) CSRFToken() string {
	if p == nil || p.Session == nil {
		return ""
	}
	return p.Session.CSRFToken
}

// Handler: обработчик, которому уже известен Principal.
type Handler func(w http.ResponseWriter, r *http.Request, p *Principal)

type Middleware struct {
	Sessions  *Sessions
	Users     UserRepo
	LoginPath string

	// Forbidden и Error рендерят страницы ошибок; nil - problem+json.
	Forbidden func(w http.ResponseWriter, r *http.Request, p *Principal)
	Error     func(w http.ResponseWriter, r *http.Request, err error)
}

// Resolve читает cookie сессии и возвращает Principal или ErrNoSession.
func (m *Middleware) Resolve(r *http.Request) (*Principal, error) {
	token := cookieValue(r, SessionCookie)
	if token == "" {
		return nil, ErrNoSession
	}
	ctx := r.Context()
	sess, err := m.Sessions.Validate(ctx, token)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	user, err := m.Users.GetByID(ctx, sess.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	role, err := ParseRole(user.Role)
	if err != nil {
		logs.Component("auth").WithField("user", user.ID).WithError(err).Warn("user has invalid role")
		return nil, ErrNoSession
	}
	return &Principal{
		User:          user,
		Session:       sess,
		Role:          role,
		Impersonating: sess.ImpersonatorID != nil,
		token:         token,
	}, nil
}

// RequireSessionOr вызывает onMissing, если сессии нет.
func (m *Middleware) RequireSessionOr(onMissing http.HandlerFunc, h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := m.Resolve(r)
		switch {
		case err == nil:
			h(w, r.WithContext(WithPrincipal(r.Context(), p)), p)
		case errors.Is(err, ErrNoSession):
			onMissing(w, r)
		default:
			m.fail(w, r, err)
		}
	}
}

// RequireSession для страниц: без сессии 302 на страницу входа.
func (m *Middleware) RequireSession(h Handler) http.HandlerFunc {
	return m.RequireSessionOr(m.redirectToLogin, h)
}

// RequireAPISession для JSON-эндпоинтов: без сессии 401.
func (m *Middleware) RequireAPISession(h Handler) http.HandlerFunc {
	return m.RequireSessionOr(func(w http.ResponseWriter, r *http.Request) {
		models.WriteProblem(w, r, http.StatusUnauthorized, "session required", nil)
	}, h)
}

// RequireRole: сессия плюс роль не ниже role, иначе 403.
func (m *Middleware) RequireRole(role Role, h Handler) http.HandlerFunc {
	return m.RequireSession(m.roleCheck(role, h))
}

// WithAuthForm: сессия плюс CSRF-проверка формы; при несовпадении h не вызывается.
func (m *Middleware) WithAuthForm(h Handler) http.HandlerFunc {
	return m.RequireSession(m.formCheck(h))
}

func (m *Middleware) WithRoleForm(role Role, h Handler) http.HandlerFunc {
	return m.RequireSession(m.roleCheck(role, m.formCheck(h)))
}

func (m *Middleware) roleCheck(role Role, h Handler) Handler {
	return func(w http.ResponseWriter, r *http.Request, p *Principal) {
		if !AtLeast(p.Role, role) {
			logs.Component("auth").WithFields(map[string]any{
				"user": p.User.ID, "role": p.Role.String(), "required": role.String(), "path": r.URL.Path,
			}).Warn("forbidden")
			m.forbid(w, r, p)
			return
		}
		h(w, r, p)
	}
}

func (m *Middleware) formCheck(h Handler) Handler {
	return func(w http.ResponseWriter, r *http.Request, p *Principal) {
		if err := r.ParseForm(); err != nil {
			models.WriteProblem(w, r, http.StatusBadRequest, "malformed form", nil)
			return
		}
		got := r.PostForm.Get(CSRFField)
		if got == "" {
			got = r.Header.Get("X-CSRF-Token")
		}
		if !ValidCSRF(p.CSRFToken(), got) {
			logs.Component("auth").WithFields(map[string]any{
				"user": p.User.ID, "path": r.URL.Path,
			}).Warn("csrf token mismatch")
			m.forbid(w, r, p)
			return
		}
		h(w, r, p)
	}
}

func (m *Middleware) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	if cookieValue(r, SessionCookie) != "" {
		clearCookie(w, SessionCookie)
	}
	if cookieValue(r, AdminSessionCookie) != "" {
		clearCookie(w, AdminSessionCookie)
	}
	target := m.LoginPath
	if target == "" {
		target = "/admin/login"
	}
	if r.Method == http.MethodGet {
		target += "?next=" + url.QueryEscape(r.URL.RequestURI())
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (m *Middleware) forbid(w http.ResponseWriter, r *http.Request, p *Principal) {
	if m.Forbidden != nil {
		m.Forbidden(w, r, p)
		return
	}
	models.WriteProblem(w, r, http.StatusForbidden, "forbidden", nil)
}

func (m *Middleware) fail(w http.ResponseWriter, r *http.Request, err error) {
	logs.Component("auth").WithError(err).WithField("path", r.URL.Path).Error("session lookup failed")
	if m.Error != nil {
		m.Error(w, r, err)
		return
	}
	models.WriteProblem(w, r, http.StatusInternalServerError, "session lookup failed", nil)
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}
