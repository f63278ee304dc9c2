package admin

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"signdesk/internal/auth"
	"signdesk/internal/logs"
	"signdesk/internal/models"
	"signdesk/internal/repo"
	"signdesk/internal/router"
	"signdesk/internal/secrets"
)

type userRow struct {
	ID         string
	Email      string
	Name       string
	Role       string
	MustChange bool
	Self       bool
	CanAct     bool // текущий пользователь может войти под этим
}

func (h *Handler) UsersList(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	h.usersPage(w, r, p, http.StatusOK, nil)
}

func (h *Handler) usersPage(w http.ResponseWriter, r *http.Request, p *auth.Principal, status int, extra map[string]any) {
	ctx := r.Context()
	list, err := h.d.Users.List(ctx)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	box, err := h.box(ctx, p)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	rows := make([]userRow, 0, len(list))
	for _, u := range list {
		role, _ := auth.ParseRole(u.Role)
		rows = append(rows, userRow{
			ID: u.ID, Email: u.Email, Name: openField(box, u.NameEnc), Role: u.Role,
			MustChange: u.MustChangePassword,
			Self:       u.ID == p.User.ID,
			CanAct:     !p.Impersonating && u.ID != p.User.ID && p.Role.Outranks(role),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Email < rows[j].Email })

	data := map[string]any{"Title": "Users", "Rows": rows, "Roles": grantableRoles(p.Role)}
	for k, v := range extra {
		data[k] = v
	}
	h.render(w, r, p, status, "users.tmpl", data)
}

// grantableRoles: владелец выдаёт любую роль, остальные только ниже своей.
func grantableRoles(actor auth.Role) []string {
	var out []string
	for _, role := range []auth.Role{auth.RoleUser, auth.RoleManager, auth.RoleOwner} {
		if actor == auth.RoleOwner || actor.Outranks(role) {
			out = append(out, role.String())
		}
	}
	return out
}

// UserCreate заводит пользователя с временным паролем, который показывается один раз.
func (h *Handler) UserCreate(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx := r.Context()
	email := repo.NormalizeEmail(r.PostForm.Get("email"))
	name := strings.TrimSpace(r.PostForm.Get("name"))
	role, err := auth.ParseRole(r.PostForm.Get("role"))
	if err != nil {
		h.invalid(w, r, "/admin/users", "Choose a role.")
		return
	}
	if p.Role != auth.RoleOwner && !p.Role.Outranks(role) {
		h.forbidden(w, r, p)
		return
	}
	if !strings.Contains(email, "@") || name == "" {
		h.invalid(w, r, "/admin/users", "Enter a name and a valid email.")
		return
	}

	tmp, err := secrets.NewToken()
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	tmp = tmp[:16]
	hash, salt, err := h.d.Secrets.HashPassword(tmp)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	box, err := h.box(ctx, p)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	nameEnc, err := box.Seal(name)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	u := &models.User{
		Email: email, NameEnc: nameEnc, PasswordHash: hash, PasswordSalt: salt,
		Role: role.String(), MustChangePassword: true,
	}
	if err := h.d.Users.Create(ctx, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			h.invalid(w, r, "/admin/users", "This email is already registered.")
			return
		}
		h.storeFailed(w, r, p, err)
		return
	}
	h.record(ctx, p, "user_created", map[string]any{"user": u.ID, "role": u.Role})
	h.usersPage(w, r, p, http.StatusCreated, map[string]any{
		"Created": map[string]string{"Email": u.Email, "Password": tmp},
	})
}

func (h *Handler) loadUser(w http.ResponseWriter, r *http.Request, p *auth.Principal) (*models.User, bool) {
	u, err := h.d.Users.GetByID(r.Context(), router.FromRequest(r)["uid"])
	if errors.Is(err, repo.ErrNotFound) {
		h.errorPage(w, r, p, http.StatusNotFound, "User not found.")
		return nil, false
	}
	if err != nil {
		h.storeFailed(w, r, p, err)
		return nil, false
	}
	return u, true
}

// lastOwner: u единственный владелец.
func (h *Handler) lastOwner(r *http.Request, u *models.User) (bool, error) {
	if u.Role != models.RoleOwner {
		return false, nil
	}
	n, err := h.d.Users.CountOwners(r.Context())
	return n <= 1, err
}

func (h *Handler) UserRole(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	u, ok := h.loadUser(w, r, p)
	if !ok {
		return
	}
	role, err := auth.ParseRole(r.PostForm.Get("role"))
	if err != nil {
		h.invalid(w, r, "/admin/users", "Choose a role.")
		return
	}
	if u.ID == p.User.ID {
		h.invalid(w, r, "/admin/users", "You cannot change your own role.")
		return
	}
	last, err := h.lastOwner(r, u)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	if last && role != auth.RoleOwner {
		h.invalid(w, r, "/admin/users", "At least one owner must remain.")
		return
	}
	if err := h.d.Users.UpdateRole(r.Context(), u.ID, role.String()); err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	h.record(r.Context(), p, "user_role_changed", map[string]any{"user": u.ID, "from": u.Role, "to": role.String()})
	h.done(w, r, "/admin/users", "Role updated.")
}

func (h *Handler) UserDelete(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	u, ok := h.loadUser(w, r, p)
	if !ok {
		return
	}
	if u.ID == p.User.ID {
		h.invalid(w, r, "/admin/users", "You cannot delete your own account.")
		return
	}
	last, err := h.lastOwner(r, u)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	if last {
		h.invalid(w, r, "/admin/users", "At least one owner must remain.")
		return
	}
	if err := h.d.Users.Delete(r.Context(), u.ID); err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	h.record(r.Context(), p, "user_deleted", map[string]any{"user": u.ID})
	h.done(w, r, "/admin/users", "User deleted.")
}

// ---------- impersonation ----------

func (h *Handler) Impersonate(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx := r.Context()
	target, ok := h.loadUser(w, r, p)
	if !ok {
		return
	}
	dek, err := h.d.Keys.DataKey(ctx)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	err = h.d.Auth.Impersonate(w, r, p, target, dek)
	switch {
	case errors.Is(err, auth.ErrNestedImpersonation):
		h.invalid(w, r, "/dashboard", "Stop the current impersonation first.")
		return
	case errors.Is(err, auth.ErrForbidden):
		h.forbidden(w, r, p)
		return
	case err != nil:
		h.storeFailed(w, r, p, err)
		return
	}
	h.record(ctx, p, "impersonation_started", map[string]any{"target": target.ID})
	h.done(w, r, "/dashboard", "You are now acting as "+target.Email+".")
}

func (h *Handler) StopImpersonating(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	err := h.d.Auth.StopImpersonating(w, r)
	switch {
	case errors.Is(err, auth.ErrNotImpersonating):
		h.invalid(w, r, "/dashboard", "You are not impersonating anyone.")
		return
	case errors.Is(err, auth.ErrNoSession):
		http.Redirect(w, r, "/admin/login", http.StatusFound)
		return
	case err != nil:
		h.storeFailed(w, r, p, err)
		return
	}
	logs.Component("admin").WithField("target", p.User.ID).Info("impersonation ended")
	h.record(r.Context(), p, "impersonation_stopped", nil)
	h.done(w, r, "/admin/users", "Impersonation ended.")
}
