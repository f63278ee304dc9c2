package admin

import (
	"errors"
	"net/http"
	"strings"

	"signdesk/internal/auth"
	"signdesk/internal/logs"
	"signdesk/internal/metrics"
	"signdesk/internal/models"
	"signdesk/internal/repo"
	"signdesk/internal/router"
)

const minPasswordLen = 12

// соль для холостой проверки пароля несуществующего пользователя
var timingSalt = []byte("signdesk-timing!")

func landing(p *auth.Principal) string {
	if auth.AtLeast(p.Role, auth.RoleManager) {
		return "/admin/businesses"
	}
	return "/dashboard"
}

// ---------- setup ----------

func (h *Handler) setupDone(w http.ResponseWriter, r *http.Request) bool {
	n, err := h.d.Users.CountOwners(r.Context())
	if err != nil {
		h.storeFailed(w, r, nil, err)
		return true
	}
	if n > 0 {
		h.notFound(w, r)
		return true
	}
	return false
}

func (h *Handler) SetupPage(w http.ResponseWriter, r *http.Request) {
	if h.setupDone(w, r) {
		return
	}
	h.setupForm(w, r, http.StatusOK, "", nil)
}

func (h *Handler) setupForm(w http.ResponseWriter, r *http.Request, status int, errMsg string, form map[string]string) {
	tok, err := auth.IssueSetupCSRF(w)
	if err != nil {
		h.storeFailed(w, r, nil, err)
		return
	}
	h.render(w, r, nil, status, "setup.tmpl", map[string]any{
		"Title": "First-run setup",
		"CSRF":  tok,
		"Error": errMsg,
		"Form":  form,
	})
}

func (h *Handler) SetupSubmit(w http.ResponseWriter, r *http.Request) {
	if h.setupDone(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.errorPage(w, r, nil, http.StatusBadRequest, "Malformed form.")
		return
	}
	if !auth.CheckSetupCSRF(r) {
		h.errorPage(w, r, nil, http.StatusForbidden, "Your form expired. Reload the page and try again.")
		return
	}
	ctx := r.Context()
	form := map[string]string{
		"email":    repo.NormalizeEmail(r.PostForm.Get("email")),
		"name":     strings.TrimSpace(r.PostForm.Get("name")),
		"base_url": strings.TrimSpace(r.PostForm.Get("cms_base_url")),
		"client":   strings.TrimSpace(r.PostForm.Get("cms_client_id")),
	}
	password := r.PostForm.Get("password")
	if msg := checkNewPassword(password, r.PostForm.Get("confirm")); msg != "" {
		h.setupForm(w, r, http.StatusBadRequest, msg, form)
		return
	}
	if !strings.Contains(form["email"], "@") || form["name"] == "" {
		h.setupForm(w, r, http.StatusBadRequest, "Enter a name and a valid email.", form)
		return
	}
	if form["base_url"] != "" {
		if msg := baseURLProblem(form["base_url"]); msg != "" {
			h.setupForm(w, r, http.StatusBadRequest, msg, form)
			return
		}
	}

	box, err := h.box(ctx, nil)
	if err != nil {
		h.storeFailed(w, r, nil, err)
		return
	}
	nameEnc, err := box.Seal(form["name"])
	if err != nil {
		h.storeFailed(w, r, nil, err)
		return
	}
	hash, salt, err := h.d.Secrets.HashPassword(password)
	if err != nil {
		h.storeFailed(w, r, nil, err)
		return
	}
	u := &models.User{Email: form["email"], NameEnc: nameEnc, PasswordHash: hash, PasswordSalt: salt, Role: models.RoleOwner}
	if err := h.d.Users.Create(ctx, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			h.setupForm(w, r, http.StatusBadRequest, "This email is already registered.", form)
			return
		}
		h.storeFailed(w, r, nil, err)
		return
	}
	if form["base_url"] != "" {
		if err := h.saveCredentials(ctx, box, form["base_url"], form["client"], r.PostForm.Get("cms_client_secret")); err != nil {
			h.storeFailed(w, r, nil, err)
			return
		}
	}
	auth.ClearSetupCSRF(w)
	p, ok := h.startSession(w, r, u)
	if !ok {
		return
	}
	h.record(ctx, p, "setup", map[string]any{"email": u.Email})
	logs.Component("admin").WithField("user", u.ID).Info("first owner created")
	h.done(w, r, "/admin/settings", "Setup complete.")
}

// startSession выдаёт сессию с ключом данных и ставит cookie.
func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, u *models.User) (*auth.Principal, bool) {
	ctx := r.Context()
	dek, err := h.d.Keys.DataKey(ctx)
	if err != nil {
		h.storeFailed(w, r, nil, err)
		return nil, false
	}
	token, sess, err := h.d.Auth.Sessions.Issue(ctx, u.ID, r.UserAgent(), dek)
	if err != nil {
		h.storeFailed(w, r, nil, err)
		return nil, false
	}
	auth.SetSessionCookie(w, token, sess.Expires)
	if _, err := r.Cookie(auth.AdminSessionCookie); err == nil {
		auth.ClearParkedSession(w)
	}
	role, _ := auth.ParseRole(u.Role)
	return &auth.Principal{User: u, Session: sess, Role: role}, true
}

// ---------- login / logout ----------

func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if p, err := h.d.Auth.Resolve(r); err == nil {
		http.Redirect(w, r, landing(p), http.StatusFound)
		return
	}
	n, err := h.d.Users.CountOwners(r.Context())
	if err != nil {
		h.storeFailed(w, r, nil, err)
		return
	}
	if n == 0 {
		http.Redirect(w, r, "/setup", http.StatusFound)
		return
	}
	h.loginForm(w, r, http.StatusOK, "", "", safeNext(r.URL.Query().Get("next")))
}

func (h *Handler) loginForm(w http.ResponseWriter, r *http.Request, status int, errMsg, email, next string) {
	tok, err := auth.IssueSetupCSRF(w)
	if err != nil {
		h.storeFailed(w, r, nil, err)
		return
	}
	h.render(w, r, nil, status, "login.tmpl", map[string]any{
		"Title": "Sign in",
		"CSRF":  tok,
		"Error": errMsg,
		"Email": email,
		"Next":  next,
	})
}

func (h *Handler) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.errorPage(w, r, nil, http.StatusBadRequest, "Malformed form.")
		return
	}
	if !auth.CheckSetupCSRF(r) {
		h.errorPage(w, r, nil, http.StatusForbidden, "Your form expired. Reload the page and try again.")
		return
	}
	ctx := r.Context()
	email := repo.NormalizeEmail(r.PostForm.Get("email"))
	password := r.PostForm.Get("password")
	next := safeNext(r.PostForm.Get("next"))
	if email == "" || password == "" {
		h.loginForm(w, r, http.StatusBadRequest, "Enter your email and password.", email, next)
		return
	}

	locked, err := h.d.Attempts.Locked(ctx, email, h.d.Login.MaxAttempts, h.d.Login.Window)
	if err != nil {
		h.storeFailed(w, r, nil, err)
		return
	}
	if locked {
		metrics.LoginFailures.WithLabelValues("locked").Inc()
		logs.Component("auth").WithField("email", email).Warn("login refused: too many failures")
		h.loginForm(w, r, http.StatusTooManyRequests, "Too many failed attempts. Try again later.", email, next)
		return
	}

	u, err := h.d.Users.GetByEmail(ctx, email)
	reason := ""
	switch {
	case errors.Is(err, repo.ErrNotFound):
		h.d.Secrets.VerifyPassword(nil, timingSalt, password)
		reason = "unknown_user"
	case err != nil:
		h.storeFailed(w, r, nil, err)
		return
	case !h.d.Secrets.VerifyPassword(u.PasswordHash, u.PasswordSalt, password):
		reason = "bad_password"
	}
	if reason != "" {
		metrics.LoginFailures.WithLabelValues(reason).Inc()
		logs.Component("auth").WithField("email", email).WithField("reason", reason).Warn("login failed")
		if err := h.d.Attempts.Fail(ctx, email, h.d.Login.Window); err != nil {
			h.storeFailed(w, r, nil, err)
			return
		}
		h.loginForm(w, r, http.StatusUnauthorized, "Invalid email or password.", email, next)
		return
	}

	if err := h.d.Attempts.Clear(ctx, email); err != nil {
		logs.Component("auth").WithError(err).WithField("email", email).Warn("clear login attempts failed")
	}
	p, ok := h.startSession(w, r, u)
	if !ok {
		return
	}
	auth.ClearSetupCSRF(w)
	h.record(ctx, p, "login", nil)

	target := next
	if u.MustChangePassword {
		target = "/admin/password"
	} else if target == "" {
		target = landing(p)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx := r.Context()
	if p.Impersonating {
		h.StopImpersonating(w, r, p)
		return
	}
	if err := h.d.Sessions.DeleteByID(ctx, p.User.ID, p.Session.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		h.storeFailed(w, r, p, err)
		return
	}
	auth.ClearSessionCookies(w)
	h.record(ctx, p, "logout", nil)
	http.Redirect(w, r, "/admin/login", http.StatusFound)
}

// ---------- password ----------

func checkNewPassword(pw, confirm string) string {
	switch {
	case len(pw) < minPasswordLen:
		return "The password must be at least 12 characters."
	case pw != confirm:
		return "The passwords do not match."
	}
	return ""
}

func (h *Handler) PasswordPage(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	h.render(w, r, p, http.StatusOK, "password.tmpl", map[string]any{
		"Title":      "Change password",
		"MustChange": p.User.MustChangePassword,
	})
}

func (h *Handler) PasswordSubmit(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if p.Impersonating {
		h.errorPage(w, r, p, http.StatusForbidden, "Stop impersonating to change this password.")
		return
	}
	ctx := r.Context()
	current := r.PostForm.Get("current")
	next := r.PostForm.Get("password")
	fail := func(msg string) {
		h.render(w, r, p, http.StatusBadRequest, "password.tmpl", map[string]any{
			"Title": "Change password", "Error": msg, "MustChange": p.User.MustChangePassword,
		})
	}
	if !h.d.Secrets.VerifyPassword(p.User.PasswordHash, p.User.PasswordSalt, current) {
		fail("The current password is wrong.")
		return
	}
	if msg := checkNewPassword(next, r.PostForm.Get("confirm")); msg != "" {
		fail(msg)
		return
	}
	if next == current {
		fail("Choose a password you have not used here.")
		return
	}

	hash, salt, err := h.d.Secrets.HashPassword(next)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	if err := h.d.Users.UpdatePassword(ctx, p.User.ID, hash, salt); err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	revoked, err := h.d.Auth.Sessions.RevokeAll(ctx, p.User.ID)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	np, ok := h.startSession(w, r, p.User)
	if !ok {
		return
	}
	h.record(ctx, np, "password_changed", map[string]any{"revoked_sessions": revoked})
	h.done(w, r, landing(np), "Password changed. Other sessions were signed out.")
}

// ---------- sessions ----------

type sessionRow struct {
	ID        string
	UserAgent string
	Created   string
	Expires   int64
	Current   bool
}

func (h *Handler) SessionsPage(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	list, err := h.d.Sessions.ListForUser(r.Context(), p.User.ID)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	rows := make([]sessionRow, 0, len(list))
	for _, s := range list {
		rows = append(rows, sessionRow{
			ID:        s.ID,
			UserAgent: s.UserAgent,
			Created:   s.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"),
			Expires:   s.Expires,
			Current:   s.ID == p.Session.ID,
		})
	}
	h.render(w, r, p, http.StatusOK, "sessions.tmpl", map[string]any{"Title": "Sessions", "Rows": rows})
}

func (h *Handler) SessionRevoke(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	sid := router.FromRequest(r)["sid"]
	err := h.d.Sessions.DeleteByID(r.Context(), p.User.ID, sid)
	if errors.Is(err, repo.ErrNotFound) {
		h.errorPage(w, r, p, http.StatusNotFound, "Session not found.")
		return
	}
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	h.record(r.Context(), p, "session_revoked", map[string]any{"session": sid})
	if sid == p.Session.ID {
		auth.ClearSessionCookies(w)
		http.Redirect(w, r, "/admin/login", http.StatusFound)
		return
	}
	h.done(w, r, "/admin/sessions", "Session revoked.")
}
