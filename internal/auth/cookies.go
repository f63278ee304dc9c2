package auth

import (
	"net/http"
	"time"
)

const (
	SessionCookie      = "__Host-session"
	AdminSessionCookie = "__Host-admin-session" // сессия администратора на время имперсонации
	SetupCSRFCookie    = "setup_csrf"
	CSRFField          = "csrf_token"
)

func setCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// SetSessionCookie кладёт токен сессии; срок cookie совпадает со сроком сессии.
func SetSessionCookie(w http.ResponseWriter, token string, expiresMs int64) {
	setCookie(w, SessionCookie, token, time.UnixMilli(expiresMs))
}

// ClearParkedSession убирает припаркованную сессию администратора.
func ClearParkedSession(w http.ResponseWriter) {
	clearCookie(w, AdminSessionCookie)
}

func ClearSessionCookies(w http.ResponseWriter) {
	clearCookie(w, SessionCookie)
	clearCookie(w, AdminSessionCookie)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
