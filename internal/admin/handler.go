package admin

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"signdesk/internal/auth"
	"signdesk/internal/cms"
	"signdesk/internal/logs"
	"signdesk/internal/models"
	"signdesk/internal/router"
	"signdesk/internal/secrets"
)

const flashCookie = "flash"

type Handler struct {
	d Dependencies
	t pageTemplates
}

type flash struct {
	Kind string // ok|error
	Text string
}

func (h *Handler) redirect(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, path, http.StatusFound)
	}
}

// render выполняет страницу в буфер и только потом пишет ответ:
// ошибка шаблона не оставляет полстраницы.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, p *auth.Principal, status int, page string, data map[string]any) {
	t, ok := h.t[page]
	if !ok {
		http.Error(w, "template not found: "+page, http.StatusInternalServerError)
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["P"] = p
	if p != nil {
		data["CSRF"] = p.CSRFToken()
		data["IsManager"] = auth.AtLeast(p.Role, auth.RoleManager)
		data["IsOwner"] = auth.AtLeast(p.Role, auth.RoleOwner)
	}
	if f := readFlash(w, r); f != nil {
		data["Flash"] = f
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		logs.Component("admin").WithError(err).WithField("page", page).Error("render failed")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) errorPage(w http.ResponseWriter, r *http.Request, p *auth.Principal, status int, msg string) {
	if models.WantsJSON(r) {
		models.WriteProblem(w, r, status, msg, nil)
		return
	}
	h.render(w, r, p, status, "error.tmpl", map[string]any{
		"Title":   http.StatusText(status),
		"Status":  status,
		"Message": msg,
	})
}

func (h *Handler) forbidden(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	h.errorPage(w, r, p, http.StatusForbidden, "You do not have access to this page.")
}

func (h *Handler) failure(w http.ResponseWriter, r *http.Request, _ error) {
	h.errorPage(w, r, nil, http.StatusInternalServerError, "Something went wrong. Try again.")
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	p, _ := h.d.Auth.Resolve(r)
	h.errorPage(w, r, p, http.StatusNotFound, "Page not found.")
}

// storeFailed обрабатывает ошибку локального хранилища: лог и 500.
func (h *Handler) storeFailed(w http.ResponseWriter, r *http.Request, p *auth.Principal, err error) {
	entry := logs.Component("admin").WithError(err).WithField("path", r.URL.Path)
	if p != nil {
		entry = entry.WithField("user", p.User.ID)
	}
	entry.Error("store failed")
	h.errorPage(w, r, p, http.StatusInternalServerError, "Something went wrong. Try again.")
}

// cmsFailed обрабатывает ошибку CMS: flash с понятным текстом и возврат на back.
func (h *Handler) cmsFailed(w http.ResponseWriter, r *http.Request, back string, err error) {
	logs.Component("admin").WithError(err).WithField("path", r.URL.Path).Warn("cms call failed")
	setFlash(w, "error", cms.Message(err))
	http.Redirect(w, r, back, http.StatusFound)
}

func (h *Handler) done(w http.ResponseWriter, r *http.Request, back, msg string) {
	setFlash(w, "ok", msg)
	http.Redirect(w, r, back, http.StatusFound)
}

func (h *Handler) invalid(w http.ResponseWriter, r *http.Request, back, msg string) {
	setFlash(w, "error", msg)
	http.Redirect(w, r, back, http.StatusFound)
}

// box: шифратор полей. Ключ берётся из сессии, иначе из settings.
func (h *Handler) box(ctx context.Context, p *auth.Principal) (*secrets.Box, error) {
	if p != nil {
		dek, ok, err := h.d.Auth.Sessions.DataKey(p)
		if err != nil {
			logs.Component("admin").WithError(err).WithField("user", p.User.ID).Warn("session data key unreadable")
		}
		if ok {
			return secrets.NewBox(dek)
		}
	}
	dek, err := h.d.Keys.DataKey(ctx)
	if err != nil {
		return nil, err
	}
	return secrets.NewBox(dek)
}

func openField(b *secrets.Box, enc string) string {
	s, err := b.Open(enc)
	if err != nil {
		return "(unreadable)"
	}
	return s
}

func (h *Handler) record(ctx context.Context, p *auth.Principal, action string, detail map[string]any) {
	if detail == nil {
		detail = map[string]any{}
	}
	userID := ""
	if p != nil {
		userID = p.User.ID
		if p.Impersonating {
			detail["impersonating"] = true
		}
	}
	if err := h.d.Activity.Record(ctx, userID, action, detail); err != nil {
		logs.Component("admin").WithError(err).WithField("action", action).Warn("activity log write failed")
	}
}

func idParam(r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(router.FromRequest(r)[name])
	return n, err == nil && n > 0
}

func formInt(r *http.Request, key string) (int, error) {
	v := strings.TrimSpace(r.PostForm.Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a positive number")
	}
	return n, nil
}

// safeNext пропускает только локальные пути.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return ""
	}
	return next
}

// ---------- flash ----------

func setFlash(w http.ResponseWriter, kind, text string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(kind + "|" + text)),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func readFlash(w http.ResponseWriter, r *http.Request) *flash {
	c, err := r.Cookie(flashCookie)
	if err != nil || c.Value == "" {
		return nil
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Path: "/", MaxAge: -1, HttpOnly: true, Secure: true, SameSite: http.SameSiteStrictMode})
	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil
	}
	kind, text, ok := strings.Cut(string(raw), "|")
	if !ok || (kind != "ok" && kind != "error") {
		return nil
	}
	return &flash{Kind: kind, Text: text}
}
