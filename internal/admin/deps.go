package admin

import (
	"context"
	"net/http"
	"time"

	"signdesk/internal/auth"
	"signdesk/internal/breaker"
	"signdesk/internal/cms"
	"signdesk/internal/middleware"
	"signdesk/internal/models"
	"signdesk/internal/router"
	"signdesk/internal/secrets"
)

// UserStore: repo.UserStore.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	CountOwners(ctx context.Context) (int64, error)
	UpdatePassword(ctx context.Context, id string, hash, salt []byte) error
	UpdateRole(ctx context.Context, id, role string) error
	Delete(ctx context.Context, id string) error
}

// BusinessStore: repo.BusinessStore.
type BusinessStore interface {
	List(ctx context.Context) ([]models.Business, error)
	ListForUser(ctx context.Context, userID string) ([]models.Business, error)
	Get(ctx context.Context, id uint) (*models.Business, error)
	Create(ctx context.Context, b *models.Business) error
	Rename(ctx context.Context, id uint, nameEnc string) error
	Delete(ctx context.Context, id uint) error
	AddUser(ctx context.Context, businessID uint, userID string) error
	RemoveUser(ctx context.Context, businessID uint, userID string) error
	CreateScreen(ctx context.Context, sc *models.Screen) error
	GetScreen(ctx context.Context, id uint) (*models.Screen, error)
	DeleteScreen(ctx context.Context, id uint) error
	AttachMenuBoard(ctx context.Context, ms *models.MenuScreen) error
	DetachMenuBoard(ctx context.Context, screenID uint, menuBoardID int) error
	MenuBoardIDsForUser(ctx context.Context, userID string) ([]int, error)
}

type SettingsStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
}

// AttemptStore: счётчики неудачных входов (repo.LoginAttemptStore).
type AttemptStore interface {
	Locked(ctx context.Context, email string, max int, window time.Duration) (bool, error)
	Fail(ctx context.Context, email string, window time.Duration) error
	Clear(ctx context.Context, email string) error
}

type ActivityLog interface {
	Record(ctx context.Context, userID, action string, detail map[string]any) error
	Recent(ctx context.Context, limit int) ([]models.ActivityLog, error)
}

// SessionList: просмотр и отзыв своих сессий (repo.SessionStore).
type SessionList interface {
	ListForUser(ctx context.Context, userID string) ([]models.Session, error)
	DeleteByID(ctx context.Context, userID, id string) error
}

// CMS: то, чем панель пользуется из cms.Client.
type CMS interface {
	MenuBoards(ctx context.Context) ([]cms.MenuBoard, error)
	MenuBoard(ctx context.Context, id int) (*cms.MenuBoard, error)
	CreateMenuBoard(ctx context.Context, in cms.MenuBoardInput) (*cms.MenuBoard, error)
	UpdateMenuBoard(ctx context.Context, id int, in cms.MenuBoardInput) error
	DeleteMenuBoard(ctx context.Context, id int) error
	Categories(ctx context.Context, menuID int) ([]cms.Category, error)
	CreateCategory(ctx context.Context, menuID int, in cms.CategoryInput) (*cms.Category, error)
	UpdateCategory(ctx context.Context, categoryID int, in cms.CategoryInput) error
	DeleteCategory(ctx context.Context, categoryID int) error
	Products(ctx context.Context, categoryID int) ([]cms.Product, error)
	CreateProduct(ctx context.Context, categoryID int, in cms.ProductInput) (*cms.Product, error)
	UpdateProduct(ctx context.Context, productID int, in cms.ProductInput) error
	DeleteProduct(ctx context.Context, productID int) error
	Media(ctx context.Context) ([]cms.Media, error)
	DeleteMedia(ctx context.Context, id int) error
	Layouts(ctx context.Context) ([]cms.Layout, error)
	DataSets(ctx context.Context) ([]cms.DataSet, error)
	Folders(ctx context.Context) ([]cms.Folder, error)
	Displays(ctx context.Context) ([]cms.Display, error)
	About(ctx context.Context) (*cms.About, error)
	ClearToken()
	Breaker() *breaker.Breaker
}

// CachePurger: ручная очистка кэша ответов CMS.
type CachePurger interface {
	InvalidateAll(ctx context.Context) error
}

// KeyProvider: ключ данных для шифрования полей (secrets.DBKeyProvider).
type KeyProvider interface {
	DataKey(ctx context.Context) ([]byte, error)
}

// LoginPolicy: блокировка после MaxAttempts неудач в пределах Window.
type LoginPolicy struct {
	MaxAttempts int
	Window      time.Duration
}

type Dependencies struct {
	Users      UserStore
	Businesses BusinessStore
	Settings   SettingsStore
	Attempts   AttemptStore
	Activity   ActivityLog
	Sessions   SessionList
	CMS        CMS
	Cache      CachePurger
	Secrets    *secrets.Service
	Keys       KeyProvider
	Auth       *auth.Middleware
	Limiter    *middleware.RateLimiter // nil - без ограничения частоты входа
	Login      LoginPolicy
}

// Attach регистрирует страницы панели в rt. Страницы 403/500 middleware
// берутся из панели, если они не заданы.
func Attach(rt *router.Router, d Dependencies) (*Handler, error) {
	t, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	if d.Login.MaxAttempts <= 0 {
		d.Login.MaxAttempts = 5
	}
	if d.Login.Window <= 0 {
		d.Login.Window = 15 * time.Minute
	}
	h := &Handler{d: d, t: t}
	if d.Auth.Forbidden == nil {
		d.Auth.Forbidden = h.forbidden
	}
	if d.Auth.Error == nil {
		d.Auth.Error = h.failure
	}

	loginPost := h.LoginSubmit
	if d.Limiter != nil {
		loginPost = d.Limiter.Wrap(loginPost)
	}

	m := d.Auth
	manager, owner := auth.RoleManager, auth.RoleOwner
	routes := []router.Route{
		{Pattern: "GET /", Handler: h.redirect("/dashboard")},
		{Pattern: "GET /setup", Handler: h.SetupPage},
		{Pattern: "POST /setup", Handler: h.SetupSubmit},

		{Pattern: "GET /admin", Handler: h.redirect("/admin/businesses")},
		{Pattern: "GET /admin/login", Handler: h.LoginPage},
		{Pattern: "POST /admin/login", Handler: loginPost},
		{Pattern: "POST /admin/logout", Handler: m.WithAuthForm(h.Logout)},
		{Pattern: "GET /admin/password", Handler: m.RequireSession(h.PasswordPage)},
		{Pattern: "POST /admin/password", Handler: m.WithAuthForm(h.PasswordSubmit)},
		{Pattern: "GET /admin/sessions", Handler: m.RequireSession(h.SessionsPage)},
		{Pattern: "POST /admin/sessions/:sid/revoke", Handler: m.WithAuthForm(h.SessionRevoke)},

		{Pattern: "GET /admin/businesses", Handler: m.RequireRole(manager, h.BusinessesList)},
		{Pattern: "POST /admin/businesses", Handler: m.WithRoleForm(manager, h.BusinessCreate)},
		{Pattern: "GET /admin/business/:id", Handler: m.RequireRole(manager, h.BusinessDetail)},
		{Pattern: "POST /admin/business/:id", Handler: m.WithRoleForm(manager, h.BusinessRename)},
		{Pattern: "POST /admin/business/:id/delete", Handler: m.WithRoleForm(owner, h.BusinessDelete)},
		{Pattern: "POST /admin/business/:businessId/screen", Handler: m.WithRoleForm(manager, h.ScreenCreate)},
		{Pattern: "POST /admin/business/:businessId/users", Handler: m.WithRoleForm(manager, h.BusinessAddUser)},
		{Pattern: "POST /admin/business/:businessId/users/:uid/remove", Handler: m.WithRoleForm(manager, h.BusinessRemoveUser)},
		{Pattern: "POST /admin/screen/:id/delete", Handler: m.WithRoleForm(manager, h.ScreenDelete)},
		{Pattern: "POST /admin/screen/:id/menuboard", Handler: m.WithRoleForm(manager, h.ScreenAttachBoard)},
		{Pattern: "POST /admin/screen/:id/menuboard/:menuId/detach", Handler: m.WithRoleForm(manager, h.ScreenDetachBoard)},

		{Pattern: "GET /admin/users", Handler: m.RequireRole(manager, h.UsersList)},
		{Pattern: "POST /admin/users", Handler: m.WithRoleForm(manager, h.UserCreate)},
		{Pattern: "POST /admin/users/:uid/role", Handler: m.WithRoleForm(owner, h.UserRole)},
		{Pattern: "POST /admin/users/:uid/delete", Handler: m.WithRoleForm(owner, h.UserDelete)},
		{Pattern: "POST /admin/users/:uid/impersonate", Handler: m.WithRoleForm(manager, h.Impersonate)},
		{Pattern: "POST /admin/impersonate/stop", Handler: m.WithAuthForm(h.StopImpersonating)},

		{Pattern: "GET /admin/settings", Handler: m.RequireRole(owner, h.SettingsPage)},
		{Pattern: "POST /admin/settings", Handler: m.WithRoleForm(owner, h.SettingsSave)},
		{Pattern: "POST /admin/settings/test", Handler: m.WithRoleForm(owner, h.SettingsTest)},
		{Pattern: "POST /admin/settings/cache/purge", Handler: m.WithRoleForm(owner, h.CachePurge)},
		{Pattern: "POST /admin/settings/breaker/reset", Handler: m.WithRoleForm(owner, h.BreakerReset)},

		{Pattern: "GET /dashboard", Handler: m.RequireSession(h.Dashboard)},
		{Pattern: "POST /dashboard/menuboards", Handler: m.WithRoleForm(manager, h.MenuBoardCreate)},
		{Pattern: "GET /dashboard/menuboard/:menuId", Handler: m.RequireSession(h.MenuBoardPage)},
		{Pattern: "POST /dashboard/menuboard/:menuId", Handler: m.WithAuthForm(h.MenuBoardUpdate)},
		{Pattern: "POST /dashboard/menuboard/:menuId/delete", Handler: m.WithRoleForm(manager, h.MenuBoardDelete)},
		{Pattern: "POST /dashboard/menuboard/:menuId/category", Handler: m.WithAuthForm(h.CategoryCreate)},
		{Pattern: "GET /dashboard/menuboard/:menuId/category/:categoryId", Handler: m.RequireSession(h.CategoryPage)},
		{Pattern: "POST /dashboard/menuboard/:menuId/category/:categoryId", Handler: m.WithAuthForm(h.CategoryUpdate)},
		{Pattern: "POST /dashboard/menuboard/:menuId/category/:categoryId/delete", Handler: m.WithAuthForm(h.CategoryDelete)},
		{Pattern: "POST /dashboard/menuboard/:menuId/category/:categoryId/product", Handler: m.WithAuthForm(h.ProductCreate)},
		{Pattern: "POST /dashboard/menuboard/:menuId/category/:categoryId/product/:productId", Handler: m.WithAuthForm(h.ProductUpdate)},
		{Pattern: "POST /dashboard/menuboard/:menuId/category/:categoryId/product/:productId/delete", Handler: m.WithAuthForm(h.ProductDelete)},

		{Pattern: "GET /dashboard/media", Handler: m.RequireSession(h.MediaList)},
		{Pattern: "POST /dashboard/media/:id/delete", Handler: m.WithRoleForm(manager, h.MediaDelete)},
		{Pattern: "GET /dashboard/layouts", Handler: m.RequireSession(h.LayoutsList)},
		{Pattern: "GET /dashboard/datasets", Handler: m.RequireSession(h.DataSetsList)},
		{Pattern: "GET /dashboard/folders", Handler: m.RequireRole(manager, h.FoldersList)},
		{Pattern: "GET /dashboard/displays", Handler: m.RequireRole(manager, h.DisplaysList)},

		{Pattern: "GET /api/menuboards", Handler: m.RequireAPISession(h.APIMenuBoards)},

		// static (very small)
		{Pattern: "GET /admin/static/style.css", Handler: serveCSS},
		{Pattern: "GET /admin/static/app.js", Handler: serveJS},
	}
	for _, r := range routes {
		if err := rt.Add(r.Pattern, r.Handler); err != nil {
			return nil, err
		}
	}
	rt.NotFound = http.HandlerFunc(h.notFound)
	return h, nil
}
