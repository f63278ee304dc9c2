package auth

import (
	"errors"
	"net/http"
	"time"

	"signdesk/internal/logs"
	"signdesk/internal/models"
	"signdesk/internal/repo"
)

// Impersonate входит под target: создаётся временная сессия, текущая cookie
// паркуется в AdminSessionCookie. Actor должен быть строго выше target по роли.
func (m *Middleware) Impersonate(w http.ResponseWriter, r *http.Request, actor *Principal, target *models.User, dataKey []byte) error {
	if actor.Impersonating {
		return ErrNestedImpersonation
	}
	targetRole, err := ParseRole(target.Role)
	if err != nil {
		return err
	}
	if !actor.Role.Outranks(targetRole) || actor.User.ID == target.ID {
		return ErrForbidden
	}

	token, sess, err := m.Sessions.IssueImpersonation(r.Context(), actor.Session, target.ID, r.UserAgent(), dataKey)
	if err != nil {
		return err
	}
	setCookie(w, AdminSessionCookie, actor.token, time.UnixMilli(actor.Session.Expires))
	SetSessionCookie(w, token, sess.Expires)

	logs.Component("auth").WithFields(map[string]any{
		"actor": actor.User.ID, "target": target.ID,
	}).Info("impersonation started")
	return nil
}

// StopImpersonating удаляет временную сессию и возвращает припаркованную.
// Припаркованная cookie принимается только если это та самая сессия, из
// которой запущена текущая имперсонация.
func (m *Middleware) StopImpersonating(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	parked := cookieValue(r, AdminSessionCookie)
	current := cookieValue(r, SessionCookie)
	if parked != "" {
		clearCookie(w, AdminSessionCookie)
	}
	if current == "" {
		return ErrNotImpersonating
	}

	temp, err := m.Sessions.Validate(ctx, current)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotImpersonating
	}
	if err != nil {
		return err
	}
	if temp.ImpersonatorID == nil {
		return ErrNotImpersonating
	}
	if err := m.Sessions.Revoke(ctx, current); err != nil {
		return err
	}

	var admin *models.Session
	if parked != "" {
		admin, err = m.Sessions.Validate(ctx, parked)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			admin = nil
		case err != nil:
			return err
		}
	}
	if admin == nil || admin.ID != *temp.ImpersonatorID {
		// сессия администратора истекла или cookie не от этой имперсонации
		clearCookie(w, SessionCookie)
		return ErrNoSession
	}
	SetSessionCookie(w, parked, admin.Expires)
	logs.Component("auth").WithField("actor", admin.UserID).Info("impersonation stopped")
	return nil
}
