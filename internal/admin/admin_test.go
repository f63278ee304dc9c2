package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signdesk/internal/auth"
	"signdesk/internal/breaker"
	"signdesk/internal/cms"
	"signdesk/internal/models"
	"signdesk/internal/repo"
	"signdesk/internal/router"
	"signdesk/internal/secrets"
)

// ---------- in-memory stores ----------

type memUsers struct {
	mu   sync.Mutex
	byID map[string]models.User
}

func (m *memUsers) Create(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.byID {
		if x.Email == u.Email {
			return repo.ErrDuplicate
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	m.byID[u.ID] = *u
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &u, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memUsers) List(context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.User, 0, len(m.byID))
	for _, u := range m.byID {
		out = append(out, u)
	}
	return out, nil
}

func (m *memUsers) CountOwners(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range m.byID {
		if u.Role == models.RoleOwner {
			n++
		}
	}
	return n, nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id string, hash, salt []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repo.ErrNotFound
	}
	u.PasswordHash, u.PasswordSalt, u.MustChangePassword = hash, salt, false
	m.byID[id] = u
	return nil
}

func (m *memUsers) UpdateRole(_ context.Context, id, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repo.ErrNotFound
	}
	u.Role = role
	m.byID[id] = u
	return nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

type memBusinesses struct {
	mu         sync.Mutex
	next       uint
	businesses map[uint]*models.Business
	screens    map[uint]*models.Screen
	members    map[uint]map[string]bool
}

func newMemBusinesses() *memBusinesses {
	return &memBusinesses{
		businesses: map[uint]*models.Business{},
		screens:    map[uint]*models.Screen{},
		members:    map[uint]map[string]bool{},
	}
}

func (m *memBusinesses) List(context.Context) ([]models.Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Business
	for _, b := range m.businesses {
		out = append(out, *b)
	}
	return out, nil
}

func (m *memBusinesses) ListForUser(_ context.Context, userID string) ([]models.Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Business
	for id, b := range m.businesses {
		if m.members[id][userID] {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memBusinesses) Get(_ context.Context, id uint) (*models.Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *b
	cp.Screens = nil
	for _, sc := range m.screens {
		if sc.BusinessID == id {
			cp.Screens = append(cp.Screens, *sc)
		}
	}
	return &cp, nil
}

func (m *memBusinesses) Create(_ context.Context, b *models.Business) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	b.ID = m.next
	cp := *b
	m.businesses[b.ID] = &cp
	m.members[b.ID] = map[string]bool{}
	return nil
}

func (m *memBusinesses) Rename(_ context.Context, id uint, nameEnc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[id]
	if !ok {
		return repo.ErrNotFound
	}
	b.NameEnc = nameEnc
	return nil
}

func (m *memBusinesses) Delete(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.businesses, id)
	return nil
}

func (m *memBusinesses) AddUser(_ context.Context, businessID uint, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[businessID][userID] = true
	return nil
}

func (m *memBusinesses) RemoveUser(_ context.Context, businessID uint, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members[businessID], userID)
	return nil
}

func (m *memBusinesses) CreateScreen(_ context.Context, sc *models.Screen) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	sc.ID = m.next
	cp := *sc
	m.screens[sc.ID] = &cp
	return nil
}

func (m *memBusinesses) GetScreen(_ context.Context, id uint) (*models.Screen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.screens[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *sc
	cp.MenuScreens = append([]models.MenuScreen(nil), sc.MenuScreens...)
	return &cp, nil
}

func (m *memBusinesses) DeleteScreen(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.screens, id)
	return nil
}

func (m *memBusinesses) AttachMenuBoard(_ context.Context, ms *models.MenuScreen) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.screens[ms.ScreenID]
	if !ok {
		return repo.ErrNotFound
	}
	sc.MenuScreens = append(sc.MenuScreens, *ms)
	return nil
}

func (m *memBusinesses) DetachMenuBoard(_ context.Context, screenID uint, menuBoardID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.screens[screenID]
	if !ok {
		return repo.ErrNotFound
	}
	kept := sc.MenuScreens[:0]
	for _, ms := range sc.MenuScreens {
		if ms.MenuBoardID != menuBoardID {
			kept = append(kept, ms)
		}
	}
	sc.MenuScreens = kept
	return nil
}

func (m *memBusinesses) MenuBoardIDsForUser(_ context.Context, userID string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for _, sc := range m.screens {
		if !m.members[sc.BusinessID][userID] {
			continue
		}
		for _, ms := range sc.MenuScreens {
			out = append(out, ms.MenuBoardID)
		}
	}
	return out, nil
}

func (m *memBusinesses) links(screenID uint) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.screens[screenID].MenuScreens)
}

func (m *memBusinesses) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.businesses)
}

type memSettings struct {
	mu   sync.Mutex
	vals map[string]string
}

func (m *memSettings) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	if !ok {
		return "", repo.ErrNotFound
	}
	return v, nil
}

func (m *memSettings) GetMany(_ context.Context, keys ...string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for _, k := range keys {
		if v, ok := m.vals[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memSettings) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	return nil
}

type memAttempts struct {
	mu    sync.Mutex
	fails map[string]int
}

func (m *memAttempts) Locked(_ context.Context, email string, max int, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fails[email] >= max, nil
}

func (m *memAttempts) Fail(_ context.Context, email string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fails[email]++
	return nil
}

func (m *memAttempts) Clear(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fails, email)
	return nil
}

func (m *memAttempts) get(email string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fails[email]
}

type memActivity struct {
	mu      sync.Mutex
	actions []string
}

func (m *memActivity) Record(_ context.Context, _, action string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action)
	return nil
}

func (m *memActivity) Recent(context.Context, int) ([]models.ActivityLog, error) {
	return nil, nil
}

func (m *memActivity) has(action string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.actions {
		if a == action {
			return true
		}
	}
	return false
}

// memSessions обслуживает и auth.Sessions, и страницу сессий.
type memSessions struct {
	mu     sync.Mutex
	byHash map[string]models.Session
}

func (m *memSessions) Create(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byHash[s.TokenHash] = *s
	return nil
}

func (m *memSessions) GetByTokenHash(_ context.Context, hash string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byHash[hash]
	if !ok || s.Expired(time.Now()) {
		return nil, repo.ErrNotFound
	}
	return &s, nil
}

func (m *memSessions) DeleteByTokenHash(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byHash, hash)
	return nil
}

func (m *memSessions) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for h, s := range m.byHash {
		if s.UserID == userID {
			delete(m.byHash, h)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) ListForUser(_ context.Context, userID string) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, s := range m.byHash {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSessions) DeleteByID(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h, s := range m.byHash {
		if s.ID == id && s.UserID == userID {
			delete(m.byHash, h)
			return nil
		}
	}
	return repo.ErrNotFound
}

type nopPurger struct{ calls int }

func (n *nopPurger) InvalidateAll(context.Context) error {
	n.calls++
	return nil
}

// ---------- fake CMS ----------

type fakeCMS struct {
	mu      sync.Mutex
	boards  []cms.MenuBoard
	created []cms.MenuBoardInput
	down    bool
	br      *breaker.Breaker
}

func (f *fakeCMS) unavailable() error {
	return &cms.APIError{Status: http.StatusBadGateway, Method: http.MethodGet, Path: "/"}
}

func (f *fakeCMS) MenuBoards(context.Context) ([]cms.MenuBoard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, f.unavailable()
	}
	return append([]cms.MenuBoard(nil), f.boards...), nil
}

func (f *fakeCMS) MenuBoard(_ context.Context, id int) (*cms.MenuBoard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.boards {
		if f.boards[i].ID == id {
			b := f.boards[i]
			return &b, nil
		}
	}
	return nil, &cms.APIError{Status: http.StatusNotFound, Method: http.MethodGet, Path: fmt.Sprintf("/menuboards?menuId=%d", id)}
}

func (f *fakeCMS) CreateMenuBoard(_ context.Context, in cms.MenuBoardInput) (*cms.MenuBoard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	b := cms.MenuBoard{ID: 100 + len(f.created), Name: in.Name, Code: in.Code}
	f.boards = append(f.boards, b)
	return &b, nil
}

func (f *fakeCMS) UpdateMenuBoard(context.Context, int, cms.MenuBoardInput) error { return nil }
func (f *fakeCMS) DeleteMenuBoard(context.Context, int) error                      { return nil }
func (f *fakeCMS) Categories(context.Context, int) ([]cms.Category, error)         { return nil, nil }
func (f *fakeCMS) CreateCategory(_ context.Context, menuID int, in cms.CategoryInput) (*cms.Category, error) {
	return &cms.Category{ID: 1, MenuID: menuID, Name: in.Name}, nil
}
func (f *fakeCMS) UpdateCategory(context.Context, int, cms.CategoryInput) error { return nil }
func (f *fakeCMS) DeleteCategory(context.Context, int) error                   { return nil }
func (f *fakeCMS) Products(context.Context, int) ([]cms.Product, error)        { return nil, nil }
func (f *fakeCMS) CreateProduct(_ context.Context, categoryID int, in cms.ProductInput) (*cms.Product, error) {
	return &cms.Product{ID: 1, CategoryID: categoryID, Name: in.Name, Price: in.Price}, nil
}
func (f *fakeCMS) UpdateProduct(context.Context, int, cms.ProductInput) error { return nil }
func (f *fakeCMS) DeleteProduct(context.Context, int) error                   { return nil }
func (f *fakeCMS) Media(context.Context) ([]cms.Media, error)                 { return nil, nil }
func (f *fakeCMS) DeleteMedia(context.Context, int) error                     { return nil }
func (f *fakeCMS) Layouts(context.Context) ([]cms.Layout, error)              { return nil, nil }
func (f *fakeCMS) DataSets(context.Context) ([]cms.DataSet, error)            { return nil, nil }
func (f *fakeCMS) Folders(context.Context) ([]cms.Folder, error) {
	return []cms.Folder{{ID: 1, Text: "Root", Children: []cms.Folder{{ID: 7, Text: "Cafe"}}}}, nil
}
func (f *fakeCMS) Displays(context.Context) ([]cms.Display, error) { return nil, nil }
func (f *fakeCMS) About(context.Context) (*cms.About, error)       { return &cms.About{Version: "4.0"}, nil }
func (f *fakeCMS) ClearToken()                                     {}
func (f *fakeCMS) Breaker() *breaker.Breaker                       { return f.br }

// ---------- harness ----------

type testEnv struct {
	t          *testing.T
	rt         *router.Router
	users      *memUsers
	businesses *memBusinesses
	settings   *memSettings
	attempts   *memAttempts
	activity   *memActivity
	sessions   *memSessions
	cms        *fakeCMS
	svc        *secrets.Service
	keys       *secrets.DBKeyProvider
	auth       *auth.Middleware
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	svc, err := secrets.New(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	e := &testEnv{
		t:          t,
		rt:         router.New(),
		users:      &memUsers{byID: map[string]models.User{}},
		businesses: newMemBusinesses(),
		settings:   &memSettings{vals: map[string]string{}},
		attempts:   &memAttempts{fails: map[string]int{}},
		activity:   &memActivity{},
		sessions:   &memSessions{byHash: map[string]models.Session{}},
		cms:        &fakeCMS{br: breaker.New(breaker.Options{})},
		svc:        svc,
	}
	e.keys = secrets.NewDBKeyProvider(e.settings, svc)
	e.auth = &auth.Middleware{Sessions: auth.NewSessions(e.sessions, svc, time.Hour), Users: e.users}

	_, err = Attach(e.rt, Dependencies{
		Users:      e.users,
		Businesses: e.businesses,
		Settings:   e.settings,
		Attempts:   e.attempts,
		Activity:   e.activity,
		Sessions:   e.sessions,
		CMS:        e.cms,
		Cache:      &nopPurger{},
		Secrets:    svc,
		Keys:       e.keys,
		Auth:       e.auth,
		Login:      LoginPolicy{MaxAttempts: 3, Window: time.Minute},
	})
	require.NoError(t, err)
	return e
}

func (e *testEnv) addUser(email, role, password string) *models.User {
	e.t.Helper()
	hash, salt, err := e.svc.HashPassword(password)
	require.NoError(e.t, err)
	box, err := e.keys.Box(context.Background())
	require.NoError(e.t, err)
	nameEnc, err := box.Seal(strings.Split(email, "@")[0])
	require.NoError(e.t, err)
	u := &models.User{Email: email, NameEnc: nameEnc, PasswordHash: hash, PasswordSalt: salt, Role: role}
	require.NoError(e.t, e.users.Create(context.Background(), u))
	return u
}

// client: cookie сессии и CSRF-токен вошедшего пользователя.
type client struct {
	cookie *http.Cookie
	csrf   string
}

func (e *testEnv) login(u *models.User) client {
	e.t.Helper()
	ctx := context.Background()
	dek, err := e.keys.DataKey(ctx)
	require.NoError(e.t, err)
	token, sess, err := e.auth.Sessions.Issue(ctx, u.ID, "test", dek)
	require.NoError(e.t, err)
	return client{cookie: &http.Cookie{Name: auth.SessionCookie, Value: token}, csrf: sess.CSRFToken}
}

func (e *testEnv) do(req *http.Request, c *client) *httptest.ResponseRecorder {
	if c != nil {
		req.AddCookie(c.cookie)
	}
	rec := httptest.NewRecorder()
	e.rt.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(path string, c *client) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil), c)
}

func (e *testEnv) post(path string, form url.Values, c *client) *httptest.ResponseRecorder {
	if c != nil && form.Get(auth.CSRFField) == "" {
		form.Set(auth.CSRFField, c.csrf)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req, c)
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ---------- tests ----------

func TestTemplatesParse(t *testing.T) {
	pages, err := parseTemplates()
	require.NoError(t, err)
	for _, name := range []string{
		"error.tmpl", "setup.tmpl", "login.tmpl", "password.tmpl", "sessions.tmpl",
		"businesses.tmpl", "business.tmpl", "users.tmpl", "settings.tmpl",
		"dashboard.tmpl", "menuboard.tmpl", "category.tmpl",
		"media.tmpl", "layouts.tmpl", "datasets.tmpl", "folders.tmpl", "displays.tmpl",
	} {
		assert.Contains(t, pages, name)
	}
	assert.NotContains(t, pages, "layout.tmpl")
}

func TestUnauthenticatedPageRedirectsToLogin(t *testing.T) {
	e := newTestEnv(t)
	rec := e.get("/admin/businesses", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/admin/login?next=%2Fadmin%2Fbusinesses", rec.Header().Get("Location"))
}

func TestAPIWithoutSessionIs401(t *testing.T) {
	e := newTestEnv(t)
	rec := e.get("/api/menuboards", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "json")
}

func TestCSRFMismatchRejectsWithoutWrite(t *testing.T) {
	e := newTestEnv(t)
	u := e.addUser("boss@example.com", models.RoleManager, "manager-password-1")
	c := e.login(u)

	rec := e.post("/admin/businesses", url.Values{"name": {"Cafe"}, auth.CSRFField: {"forged"}}, &c)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, e.businesses.count())

	rec = e.post("/admin/businesses", url.Values{"name": {"Cafe"}}, &c)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/admin/business/1", rec.Header().Get("Location"))
	assert.Equal(t, 1, e.businesses.count())
	assert.True(t, e.activity.has("business_created"))
}

func TestBusinessCreateChecksFolderInCMS(t *testing.T) {
	e := newTestEnv(t)
	c := e.login(e.addUser("boss@example.com", models.RoleManager, "manager-password-1"))

	rec := e.post("/admin/businesses", url.Values{"name": {"Cafe"}, "cms_folder_id": {"99"}}, &c)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/admin/businesses", rec.Header().Get("Location"))
	assert.Equal(t, 0, e.businesses.count())

	rec = e.post("/admin/businesses", url.Values{"name": {"Cafe"}, "cms_folder_id": {"7"}}, &c)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, 1, e.businesses.count())
}

func loginForm(email, password string) (url.Values, *http.Cookie) {
	return url.Values{
		"email":        {email},
		"password":     {password},
		auth.CSRFField: {"pre-session"},
	}, &http.Cookie{Name: auth.SetupCSRFCookie, Value: "pre-session"}
}

func TestLoginFlow(t *testing.T) {
	e := newTestEnv(t)
	e.addUser("owner@example.com", models.RoleOwner, "owner-password-1")

	t.Run("success", func(t *testing.T) {
		form, csrf := loginForm("Owner@Example.com", "owner-password-1")
		req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.AddCookie(csrf)
		rec := e.do(req, nil)

		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/admin/businesses", rec.Header().Get("Location"))
		sess := findCookie(rec, auth.SessionCookie)
		require.NotNil(t, sess)
		assert.True(t, sess.HttpOnly)
		assert.True(t, sess.Secure)

		page := e.get("/admin/businesses", &client{cookie: &http.Cookie{Name: auth.SessionCookie, Value: sess.Value}})
		assert.Equal(t, http.StatusOK, page.Code)
	})

	t.Run("wrong password", func(t *testing.T) {
		form, csrf := loginForm("owner@example.com", "not-the-password")
		req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.AddCookie(csrf)
		rec := e.do(req, nil)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, findCookie(rec, auth.SessionCookie))
		assert.Equal(t, 1, e.attempts.get("owner@example.com"))
	})

	t.Run("missing csrf", func(t *testing.T) {
		form, _ := loginForm("owner@example.com", "owner-password-1")
		req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := e.do(req, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("locked", func(t *testing.T) {
		e.attempts.fails["owner@example.com"] = 3
		form, csrf := loginForm("owner@example.com", "owner-password-1")
		req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.AddCookie(csrf)
		rec := e.do(req, nil)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Nil(t, findCookie(rec, auth.SessionCookie))
	})
}

func TestSetup(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get("/admin/login", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/setup", rec.Header().Get("Location"))

	rec = e.get("/setup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, findCookie(rec, auth.SetupCSRFCookie))

	form := url.Values{
		"email":        {"first@example.com"},
		"name":         {"First Owner"},
		"password":     {"a-long-password"},
		"confirm":      {"a-long-password"},
		auth.CSRFField: {"tok"},
	}
	req := httptest.NewRequest(http.MethodPost, "/setup", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: auth.SetupCSRFCookie, Value: "tok"})
	rec = e.do(req, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/admin/settings", rec.Header().Get("Location"))
	assert.NotNil(t, findCookie(rec, auth.SessionCookie))

	u, err := e.users.GetByEmail(context.Background(), "first@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, u.Role)
	assert.NotContains(t, u.NameEnc, "First Owner")

	// владелец есть: страница настройки больше не существует
	assert.Equal(t, http.StatusNotFound, e.get("/setup", nil).Code)
}

func TestRoleUserCannotManageUsers(t *testing.T) {
	e := newTestEnv(t)
	c := e.login(e.addUser("staff@example.com", models.RoleUser, "staff-password-1"))

	assert.Equal(t, http.StatusForbidden, e.get("/admin/users", &c).Code)
	assert.Equal(t, http.StatusForbidden, e.get("/admin/settings", &c).Code)
	assert.Equal(t, http.StatusOK, e.get("/dashboard", &c).Code)
}

func TestManagerCannotGrantOwner(t *testing.T) {
	e := newTestEnv(t)
	c := e.login(e.addUser("boss@example.com", models.RoleManager, "manager-password-1"))

	rec := e.post("/admin/users", url.Values{"email": {"x@example.com"}, "name": {"X"}, "role": {"owner"}}, &c)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	_, err := e.users.GetByEmail(context.Background(), "x@example.com")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	rec = e.post("/admin/users", url.Values{"email": {"x@example.com"}, "name": {"X"}, "role": {"user"}}, &c)
	assert.Equal(t, http.StatusCreated, rec.Code)
	u, err := e.users.GetByEmail(context.Background(), "x@example.com")
	require.NoError(t, err)
	assert.True(t, u.MustChangePassword)
}

func TestLastOwnerIsKept(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser("owner@example.com", models.RoleOwner, "owner-password-1")
	other := e.addUser("second@example.com", models.RoleOwner, "owner-password-2")
	c := e.login(owner)

	rec := e.post("/admin/users/"+other.ID+"/role", url.Values{"role": {"manager"}}, &c)
	require.Equal(t, http.StatusFound, rec.Code)
	u, _ := e.users.GetByID(context.Background(), other.ID)
	assert.Equal(t, models.RoleManager, u.Role)

	// owner остался один и не может удалить себя
	rec = e.post("/admin/users/"+owner.ID+"/delete", url.Values{}, &c)
	require.Equal(t, http.StatusFound, rec.Code)
	_, err := e.users.GetByID(context.Background(), owner.ID)
	assert.NoError(t, err)
}

func TestDashboardListsBoards(t *testing.T) {
	e := newTestEnv(t)
	e.cms.boards = []cms.MenuBoard{{ID: 1, Name: "Lunch"}, {ID: 2, Name: "Drinks"}}
	c := e.login(e.addUser("boss@example.com", models.RoleManager, "manager-password-1"))

	rec := e.get("/dashboard", &c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Lunch")
	assert.Contains(t, rec.Body.String(), "Drinks")
}

func TestDashboardShowsCMSErrorInline(t *testing.T) {
	e := newTestEnv(t)
	e.cms.down = true
	c := e.login(e.addUser("boss@example.com", models.RoleManager, "manager-password-1"))

	rec := e.get("/dashboard", &c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "flash-error")
}

func TestUserSeesOnlyLinkedBoards(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.cms.boards = []cms.MenuBoard{{ID: 1, Name: "Lunch"}, {ID: 2, Name: "Drinks"}}
	staff := e.addUser("staff@example.com", models.RoleUser, "staff-password-1")

	b := &models.Business{NameEnc: "x"}
	require.NoError(t, e.businesses.Create(ctx, b))
	require.NoError(t, e.businesses.AddUser(ctx, b.ID, staff.ID))
	sc := &models.Screen{BusinessID: b.ID, NameEnc: "x"}
	require.NoError(t, e.businesses.CreateScreen(ctx, sc))
	require.NoError(t, e.businesses.AttachMenuBoard(ctx, &models.MenuScreen{ScreenID: sc.ID, MenuBoardID: 1}))

	c := e.login(staff)
	rec := e.get("/dashboard", &c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Lunch")
	assert.NotContains(t, rec.Body.String(), "Drinks")

	assert.Equal(t, http.StatusNotFound, e.get("/dashboard/menuboard/2", &c).Code)
	assert.Equal(t, http.StatusOK, e.get("/dashboard/menuboard/1", &c).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/menuboards", nil)
	req.Header.Set("Accept", "application/json")
	api := e.do(req, &c)
	require.Equal(t, http.StatusOK, api.Code)
	var body struct {
		MenuBoards []cms.MenuBoard `json:"menuBoards"`
	}
	require.NoError(t, json.Unmarshal(api.Body.Bytes(), &body))
	require.Len(t, body.MenuBoards, 1)
	assert.Equal(t, 1, body.MenuBoards[0].ID)
}

func TestAttachMenuBoardRequiresCMSBoard(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.cms.boards = []cms.MenuBoard{{ID: 1, Name: "Lunch"}}
	c := e.login(e.addUser("boss@example.com", models.RoleManager, "manager-password-1"))

	b := &models.Business{NameEnc: "x"}
	require.NoError(t, e.businesses.Create(ctx, b))
	sc := &models.Screen{BusinessID: b.ID, NameEnc: "x"}
	require.NoError(t, e.businesses.CreateScreen(ctx, sc))
	path := fmt.Sprintf("/admin/screen/%d/menuboard", sc.ID)

	rec := e.post(path, url.Values{"menu_id": {"99"}}, &c)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, businessPath(b.ID), rec.Header().Get("Location"))
	assert.NotNil(t, findCookie(rec, flashCookie))
	assert.Equal(t, 0, e.businesses.links(sc.ID))

	rec = e.post(path, url.Values{"menu_id": {"1"}}, &c)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, 1, e.businesses.links(sc.ID))

	// повторная привязка того же борда отклоняется
	rec = e.post(path, url.Values{"menu_id": {"1"}}, &c)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, 1, e.businesses.links(sc.ID))
}

func TestUnknownPathRendersNotFound(t *testing.T) {
	e := newTestEnv(t)
	rec := e.get("/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Page not found.")
}

func TestFlashRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	setFlash(rec, "ok", "Saved | done")
	c := findCookie(rec, flashCookie)
	require.NotNil(t, c)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	f := readFlash(httptest.NewRecorder(), req)
	require.NotNil(t, f)
	assert.Equal(t, "ok", f.Kind)
	assert.Equal(t, "Saved | done", f.Text)
}

func TestSafeNext(t *testing.T) {
	assert.Equal(t, "/dashboard", safeNext("/dashboard"))
	assert.Equal(t, "", safeNext("//evil.example"))
	assert.Equal(t, "", safeNext("https://evil.example"))
	assert.Equal(t, "", safeNext("/\\evil"))
}

// postWith: как post, но с дополнительными cookie (припаркованная сессия и т.п.).
func (e *testEnv) postWith(path string, form url.Values, c *client, extra ...*http.Cookie) *httptest.ResponseRecorder {
	if c != nil && form.Get(auth.CSRFField) == "" {
		form.Set(auth.CSRFField, c.csrf)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, ck := range extra {
		req.AddCookie(ck)
	}
	return e.do(req, c)
}

// clientFor собирает client по токену из cookie ответа.
func (e *testEnv) clientFor(token string) client {
	e.t.Helper()
	sess, err := e.auth.Sessions.Validate(context.Background(), token)
	require.NoError(e.t, err)
	return client{cookie: &http.Cookie{Name: auth.SessionCookie, Value: token}, csrf: sess.CSRFToken}
}

func (e *testEnv) sessionCount(userID string) int {
	e.t.Helper()
	list, err := e.sessions.ListForUser(context.Background(), userID)
	require.NoError(e.t, err)
	return len(list)
}

func TestPasswordChangeRevokesOtherSessions(t *testing.T) {
	e := newTestEnv(t)
	u := e.addUser("owner@example.com", models.RoleOwner, "owner-password-1")
	c1 := e.login(u)
	c2 := e.login(u)
	require.Equal(t, 2, e.sessionCount(u.ID))

	rec := e.post("/admin/password", url.Values{
		"current":  {"owner-password-1"},
		"password": {"brand-new-password-2"},
		"confirm":  {"brand-new-password-2"},
	}, &c1)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/admin/businesses", rec.Header().Get("Location"))

	fresh := findCookie(rec, auth.SessionCookie)
	require.NotNil(t, fresh)
	assert.NotEqual(t, c1.cookie.Value, fresh.Value)
	assert.Equal(t, 1, e.sessionCount(u.ID))

	for _, old := range []client{c1, c2} {
		page := e.get("/admin/businesses", &old)
		assert.Equal(t, http.StatusFound, page.Code)
		assert.True(t, strings.HasPrefix(page.Header().Get("Location"), "/admin/login"))
	}
	nc := e.clientFor(fresh.Value)
	assert.Equal(t, http.StatusOK, e.get("/admin/businesses", &nc).Code)

	stored, err := e.users.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.True(t, e.svc.VerifyPassword(stored.PasswordHash, stored.PasswordSalt, "brand-new-password-2"))
	assert.True(t, e.activity.has("password_changed"))
}

func TestPasswordChangeWrongCurrentKeepsSessions(t *testing.T) {
	e := newTestEnv(t)
	u := e.addUser("owner@example.com", models.RoleOwner, "owner-password-1")
	c := e.login(u)

	rec := e.post("/admin/password", url.Values{
		"current":  {"not-my-password"},
		"password": {"brand-new-password-2"},
		"confirm":  {"brand-new-password-2"},
	}, &c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, e.sessionCount(u.ID))
	assert.Equal(t, http.StatusOK, e.get("/admin/businesses", &c).Code)
}

func TestLogoutDeletesSession(t *testing.T) {
	e := newTestEnv(t)
	u := e.addUser("owner@example.com", models.RoleOwner, "owner-password-1")
	c := e.login(u)
	other := e.login(u)

	rec := e.post("/admin/logout", url.Values{}, &c)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/admin/login", rec.Header().Get("Location"))

	sess := findCookie(rec, auth.SessionCookie)
	require.NotNil(t, sess)
	assert.Equal(t, -1, sess.MaxAge)
	parked := findCookie(rec, auth.AdminSessionCookie)
	require.NotNil(t, parked)
	assert.Equal(t, -1, parked.MaxAge)

	_, err := e.auth.Sessions.Validate(context.Background(), c.cookie.Value)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.Equal(t, 1, e.sessionCount(u.ID), "only the current session is removed")
	assert.Equal(t, http.StatusOK, e.get("/admin/businesses", &other).Code)
	assert.True(t, e.activity.has("logout"))
}

func TestImpersonationHandlers(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser("owner@example.com", models.RoleOwner, "owner-password-1")
	target := e.addUser("staff@example.com", models.RoleUser, "staff-password-1")
	oc := e.login(owner)

	rec := e.post("/admin/users/"+target.ID+"/impersonate", url.Values{}, &oc)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
	parked := findCookie(rec, auth.AdminSessionCookie)
	require.NotNil(t, parked)
	assert.Equal(t, oc.cookie.Value, parked.Value)
	temp := findCookie(rec, auth.SessionCookie)
	require.NotNil(t, temp)
	assert.True(t, e.activity.has("impersonation_started"))

	tc := e.clientFor(temp.Value)
	parkedCookie := &http.Cookie{Name: auth.AdminSessionCookie, Value: parked.Value}

	t.Run("password change refused", func(t *testing.T) {
		rec := e.postWith("/admin/password", url.Values{
			"current":  {"staff-password-1"},
			"password": {"brand-new-password-2"},
			"confirm":  {"brand-new-password-2"},
		}, &tc, parkedCookie)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		stored, err := e.users.GetByID(context.Background(), target.ID)
		require.NoError(t, err)
		assert.True(t, e.svc.VerifyPassword(stored.PasswordHash, stored.PasswordSalt, "staff-password-1"))
	})

	t.Run("acting user cannot impersonate", func(t *testing.T) {
		rec := e.postWith("/admin/users/"+owner.ID+"/impersonate", url.Values{}, &tc, parkedCookie)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Nil(t, findCookie(rec, auth.AdminSessionCookie))
		assert.Equal(t, 1, e.sessionCount(owner.ID))
	})

	t.Run("logout ends impersonation", func(t *testing.T) {
		rec := e.postWith("/admin/logout", url.Values{}, &tc, parkedCookie)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/admin/users", rec.Header().Get("Location"))

		back := findCookie(rec, auth.SessionCookie)
		require.NotNil(t, back)
		assert.Equal(t, oc.cookie.Value, back.Value)
		cleared := findCookie(rec, auth.AdminSessionCookie)
		require.NotNil(t, cleared)
		assert.Equal(t, -1, cleared.MaxAge)

		assert.Equal(t, 0, e.sessionCount(target.ID))
		assert.Equal(t, http.StatusOK, e.get("/admin/users", &oc).Code)
		assert.True(t, e.activity.has("impersonation_stopped"))
	})
}

func TestStaleParkedCookieGrantsNothing(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser("owner@example.com", models.RoleOwner, "owner-password-1")
	staff := e.addUser("staff@example.com", models.RoleUser, "staff-password-1")
	e.addUser("boss@example.com", models.RoleManager, "manager-password-1")
	oc := e.login(owner)

	rec := e.post("/admin/users/"+staff.ID+"/impersonate", url.Values{}, &oc)
	require.Equal(t, http.StatusFound, rec.Code)
	parked := &http.Cookie{Name: auth.AdminSessionCookie, Value: findCookie(rec, auth.AdminSessionCookie).Value}

	// временная сессия исчезла, cookie администратора осталась в браузере
	_, err := e.auth.Sessions.RevokeAll(context.Background(), staff.ID)
	require.NoError(t, err)

	form, csrf := loginForm("boss@example.com", "manager-password-1")
	login := e.postWith("/admin/login", form, nil, csrf, parked)
	require.Equal(t, http.StatusFound, login.Code)
	cleared := findCookie(login, auth.AdminSessionCookie)
	require.NotNil(t, cleared, "login drops a parked admin session")
	assert.Equal(t, -1, cleared.MaxAge)
	mc := e.clientFor(findCookie(login, auth.SessionCookie).Value)

	// пароль менять можно: это не имперсонация
	pw := e.postWith("/admin/password", url.Values{
		"current":  {"manager-password-1"},
		"password": {"brand-new-password-2"},
		"confirm":  {"brand-new-password-2"},
	}, &mc, parked)
	require.Equal(t, http.StatusFound, pw.Code)
	mc = e.clientFor(findCookie(pw, auth.SessionCookie).Value)

	out := e.postWith("/admin/logout", url.Values{}, &mc, parked)
	require.Equal(t, http.StatusFound, out.Code)
	assert.Equal(t, "/admin/login", out.Header().Get("Location"))
	sess := findCookie(out, auth.SessionCookie)
	require.NotNil(t, sess)
	assert.NotEqual(t, oc.cookie.Value, sess.Value)
	assert.Empty(t, sess.Value)
}
