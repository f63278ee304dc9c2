package admin

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"signdesk/internal/auth"
	"signdesk/internal/logs"
	"signdesk/internal/models"
	"signdesk/internal/secrets"
)

// baseURLProblem: текст ошибки для формы или "".
func baseURLProblem(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "The CMS address must be an http(s) URL."
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "The CMS address must not contain a query or fragment."
	}
	return ""
}

// saveCredentials шифрует client id/secret; пустой secret оставляет прежний.
func (h *Handler) saveCredentials(ctx context.Context, box *secrets.Box, baseURL, clientID, clientSecret string) error {
	if err := h.d.Settings.Set(ctx, models.SettingCMSBaseURL, strings.TrimRight(baseURL, "/")); err != nil {
		return err
	}
	idEnc, err := box.Seal(clientID)
	if err != nil {
		return err
	}
	if err := h.d.Settings.Set(ctx, models.SettingCMSClientID, idEnc); err != nil {
		return err
	}
	if clientSecret != "" {
		secEnc, err := box.Seal(clientSecret)
		if err != nil {
			return err
		}
		if err := h.d.Settings.Set(ctx, models.SettingCMSClientSecret, secEnc); err != nil {
			return err
		}
	}
	h.d.CMS.ClearToken()
	if err := h.d.Cache.InvalidateAll(ctx); err != nil {
		logs.Component("admin").WithError(err).Warn("cache purge after credentials change failed")
	}
	return nil
}

func (h *Handler) SettingsPage(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx := r.Context()
	vals, err := h.d.Settings.GetMany(ctx, models.SettingCMSBaseURL, models.SettingCMSClientID, models.SettingCMSClientSecret)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	box, err := h.box(ctx, p)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	recent, err := h.d.Activity.Recent(ctx, 30)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	h.render(w, r, p, http.StatusOK, "settings.tmpl", map[string]any{
		"Title":     "Settings",
		"BaseURL":   vals[models.SettingCMSBaseURL],
		"ClientID":  openField(box, vals[models.SettingCMSClientID]),
		"HasSecret": vals[models.SettingCMSClientSecret] != "",
		"Breaker":   h.d.CMS.Breaker().Snapshot(),
		"Activity":  recent,
	})
}

func (h *Handler) SettingsSave(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx := r.Context()
	base := strings.TrimSpace(r.PostForm.Get("cms_base_url"))
	clientID := strings.TrimSpace(r.PostForm.Get("cms_client_id"))
	if msg := baseURLProblem(base); msg != "" {
		h.invalid(w, r, "/admin/settings", msg)
		return
	}
	if clientID == "" {
		h.invalid(w, r, "/admin/settings", "Enter the OAuth client id.")
		return
	}
	box, err := h.box(ctx, p)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	if err := h.saveCredentials(ctx, box, base, clientID, r.PostForm.Get("cms_client_secret")); err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	h.record(ctx, p, "settings_saved", map[string]any{"base_url": base})
	h.done(w, r, "/admin/settings", "CMS credentials saved.")
}

// SettingsTest: проверка соединения через /about (без кэша).
func (h *Handler) SettingsTest(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	about, err := h.d.CMS.About(r.Context())
	if err != nil {
		h.cmsFailed(w, r, "/admin/settings", err)
		return
	}
	msg := "Connected to the signage CMS."
	if about.Version != "" {
		msg = "Connected to the signage CMS, version " + about.Version + "."
	}
	h.done(w, r, "/admin/settings", msg)
}

func (h *Handler) CachePurge(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if err := h.d.Cache.InvalidateAll(r.Context()); err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	h.record(r.Context(), p, "cache_purged", nil)
	h.done(w, r, "/admin/settings", "Response cache cleared.")
}

func (h *Handler) BreakerReset(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	h.d.CMS.Breaker().Reset()
	h.record(r.Context(), p, "breaker_reset", nil)
	h.done(w, r, "/admin/settings", "CMS circuit breaker reset.")
}
