package admin

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"signdesk/internal/auth"
	"signdesk/internal/cms"
	"signdesk/internal/models"
	"signdesk/internal/repo"
	"signdesk/internal/router"
)

type businessRow struct {
	ID       uint
	Name     string
	FolderID *int
	Screens  int
}

type screenRow struct {
	ID        uint
	Name      string
	DisplayID *int
	Boards    []int
}

type memberRow struct {
	ID    string
	Email string
	Name  string
	Role  string
}

func businessPath(id uint) string { return fmt.Sprintf("/admin/business/%d", id) }

func (h *Handler) BusinessesList(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx := r.Context()
	list, err := h.d.Businesses.List(ctx)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	box, err := h.box(ctx, p)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	rows := make([]businessRow, 0, len(list))
	for _, b := range list {
		rows = append(rows, businessRow{
			ID: b.ID, Name: openField(box, b.NameEnc), FolderID: b.CMSFolderID, Screens: len(b.Screens),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return strings.ToLower(rows[i].Name) < strings.ToLower(rows[j].Name) })
	h.render(w, r, p, http.StatusOK, "businesses.tmpl", map[string]any{"Title": "Businesses", "Rows": rows})
}

// BusinessCreate: папка CMS, если указана, сперва проверяется в CMS.
func (h *Handler) BusinessCreate(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx := r.Context()
	name := strings.TrimSpace(r.PostForm.Get("name"))
	if name == "" {
		h.invalid(w, r, "/admin/businesses", "Enter a business name.")
		return
	}
	folderID, err := formInt(r, "cms_folder_id")
	if err != nil {
		h.invalid(w, r, "/admin/businesses", "The CMS folder must be a number.")
		return
	}
	b := &models.Business{}
	if folderID > 0 {
		tree, err := h.d.CMS.Folders(ctx)
		if err != nil {
			h.cmsFailed(w, r, "/admin/businesses", err)
			return
		}
		if !folderExists(tree, folderID) {
			h.invalid(w, r, "/admin/businesses", "That folder does not exist in the signage CMS.")
			return
		}
		b.CMSFolderID = &folderID
	}

	box, err := h.box(ctx, p)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	if b.NameEnc, err = box.Seal(name); err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	if err := h.d.Businesses.Create(ctx, b); err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	h.record(ctx, p, "business_created", map[string]any{"business": b.ID})
	h.done(w, r, businessPath(b.ID), "Business created.")
}

func folderExists(tree []cms.Folder, id int) bool {
	for _, f := range cms.Flatten(tree) {
		if f.ID == id {
			return true
		}
	}
	return false
}

func (h *Handler) loadBusiness(w http.ResponseWriter, r *http.Request, p *auth.Principal, param string) (*models.Business, bool) {
	id, ok := idParam(r, param)
	if !ok {
		h.errorPage(w, r, p, http.StatusNotFound, "Business not found.")
		return nil, false
	}
	b, err := h.d.Businesses.Get(r.Context(), uint(id))
	if errors.Is(err, repo.ErrNotFound) {
		h.errorPage(w, r, p, http.StatusNotFound, "Business not found.")
		return nil, false
	}
	if err != nil {
		h.storeFailed(w, r, p, err)
		return nil, false
	}
	return b, true
}

func (h *Handler) BusinessDetail(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx := r.Context()
	b, ok := h.loadBusiness(w, r, p, "id")
	if !ok {
		return
	}
	box, err := h.box(ctx, p)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}

	screens := make([]screenRow, 0, len(b.Screens))
	for _, sc := range b.Screens {
		row := screenRow{ID: sc.ID, Name: openField(box, sc.NameEnc), DisplayID: sc.CMSDisplayID}
		for _, ms := range sc.MenuScreens {
			row.Boards = append(row.Boards, ms.MenuBoardID)
		}
		screens = append(screens, row)
	}
	members := make([]memberRow, 0, len(b.Users))
	inBusiness := map[string]bool{}
	for _, u := range b.Users {
		inBusiness[u.ID] = true
		members = append(members, memberRow{ID: u.ID, Email: u.Email, Name: openField(box, u.NameEnc), Role: u.Role})
	}
	all, err := h.d.Users.List(ctx)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	var candidates []memberRow
	for _, u := range all {
		if !inBusiness[u.ID] {
			candidates = append(candidates, memberRow{ID: u.ID, Email: u.Email})
		}
	}

	// меню-борды для привязки; CMS может быть недоступна - страница всё равно открывается
	data := map[string]any{
		"Title":      openField(box, b.NameEnc),
		"Business":   businessRow{ID: b.ID, Name: openField(box, b.NameEnc), FolderID: b.CMSFolderID},
		"Screens":    screens,
		"Members":    members,
		"Candidates": candidates,
	}
	boards, err := h.d.CMS.MenuBoards(ctx)
	if err != nil {
		data["CMSError"] = cms.Message(err)
	} else {
		data["Boards"] = boards
	}
	h.render(w, r, p, http.StatusOK, "business.tmpl", data)
}

func (h *Handler) BusinessRename(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx := r.Context()
	id, ok := idParam(r, "id")
	if !ok {
		h.errorPage(w, r, p, http.StatusNotFound, "Business not found.")
		return
	}
	name := strings.TrimSpace(r.PostForm.Get("name"))
	if name == "" {
		h.invalid(w, r, businessPath(uint(id)), "Enter a business name.")
		return
	}
	box, err := h.box(ctx, p)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	enc, err := box.Seal(name)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	err = h.d.Businesses.Rename(ctx, uint(id), enc)
	if errors.Is(err, repo.ErrNotFound) {
		h.errorPage(w, r, p, http.StatusNotFound, "Business not found.")
		return
	}
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	h.record(ctx, p, "business_renamed", map[string]any{"business": id})
	h.done(w, r, businessPath(uint(id)), "Business renamed.")
}

func (h *Handler) BusinessDelete(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx := r.Context()
	id, ok := idParam(r, "id")
	if !ok {
		h.errorPage(w, r, p, http.StatusNotFound, "Business not found.")
		return
	}
	err := h.d.Businesses.Delete(ctx, uint(id))
	if errors.Is(err, repo.ErrNotFound) {
		h.errorPage(w, r, p, http.StatusNotFound, "Business not found.")
		return
	}
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	h.record(ctx, p, "business_deleted", map[string]any{"business": id})
	h.done(w, r, "/admin/businesses", "Business deleted.")
}

func (h *Handler) BusinessAddUser(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx := r.Context()
	b, ok := h.loadBusiness(w, r, p, "businessId")
	if !ok {
		return
	}
	back := businessPath(b.ID)
	u, err := h.d.Users.GetByID(ctx, strings.TrimSpace(r.PostForm.Get("user_id")))
	if errors.Is(err, repo.ErrNotFound) {
		h.invalid(w, r, back, "Choose a user to add.")
		return
	}
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	err = h.d.Businesses.AddUser(ctx, b.ID, u.ID)
	if errors.Is(err, repo.ErrDuplicate) {
		h.invalid(w, r, back, "That user is already a member.")
		return
	}
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	h.record(ctx, p, "business_user_added", map[string]any{"business": b.ID, "user": u.ID})
	h.done(w, r, back, "User added.")
}

func (h *Handler) BusinessRemoveUser(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx := r.Context()
	id, ok := idParam(r, "businessId")
	if !ok {
		h.errorPage(w, r, p, http.StatusNotFound, "Business not found.")
		return
	}
	uid := router.FromRequest(r)["uid"]
	if err := h.d.Businesses.RemoveUser(ctx, uint(id), uid); err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	h.record(ctx, p, "business_user_removed", map[string]any{"business": id, "user": uid})
	h.done(w, r, businessPath(uint(id)), "User removed.")
}

// ---------- screens ----------

// ScreenCreate: дисплей CMS, если указан, сперва проверяется в CMS.
func (h *Handler) ScreenCreate(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx := r.Context()
	b, ok := h.loadBusiness(w, r, p, "businessId")
	if !ok {
		return
	}
	back := businessPath(b.ID)
	name := strings.TrimSpace(r.PostForm.Get("name"))
	if name == "" {
		h.invalid(w, r, back, "Enter a screen name.")
		return
	}
	displayID, err := formInt(r, "cms_display_id")
	if err != nil {
		h.invalid(w, r, back, "The CMS display must be a number.")
		return
	}
	sc := &models.Screen{BusinessID: b.ID}
	if displayID > 0 {
		displays, err := h.d.CMS.Displays(ctx)
		if err != nil {
			h.cmsFailed(w, r, back, err)
			return
		}
		found := false
		for _, d := range displays {
			found = found || d.ID == displayID
		}
		if !found {
			h.invalid(w, r, back, "That display does not exist in the signage CMS.")
			return
		}
		sc.CMSDisplayID = &displayID
	}
	box, err := h.box(ctx, p)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	if sc.NameEnc, err = box.Seal(name); err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	if err := h.d.Businesses.CreateScreen(ctx, sc); err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	h.record(ctx, p, "screen_created", map[string]any{"business": b.ID, "screen": sc.ID})
	h.done(w, r, back, "Screen added.")
}

func (h *Handler) loadScreen(w http.ResponseWriter, r *http.Request, p *auth.Principal) (*models.Screen, bool) {
	id, ok := idParam(r, "id")
	if !ok {
		h.errorPage(w, r, p, http.StatusNotFound, "Screen not found.")
		return nil, false
	}
	sc, err := h.d.Businesses.GetScreen(r.Context(), uint(id))
	if errors.Is(err, repo.ErrNotFound) {
		h.errorPage(w, r, p, http.StatusNotFound, "Screen not found.")
		return nil, false
	}
	if err != nil {
		h.storeFailed(w, r, p, err)
		return nil, false
	}
	return sc, true
}

func (h *Handler) ScreenDelete(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	sc, ok := h.loadScreen(w, r, p)
	if !ok {
		return
	}
	if err := h.d.Businesses.DeleteScreen(r.Context(), sc.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		h.storeFailed(w, r, p, err)
		return
	}
	h.record(r.Context(), p, "screen_deleted", map[string]any{"screen": sc.ID})
	h.done(w, r, businessPath(sc.BusinessID), "Screen deleted.")
}

// ScreenAttachBoard привязывает меню-борд к экрану. Борд сперва запрашивается
// в CMS: если CMS его не подтвердила, локальная запись не создаётся.
func (h *Handler) ScreenAttachBoard(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx := r.Context()
	sc, ok := h.loadScreen(w, r, p)
	if !ok {
		return
	}
	back := businessPath(sc.BusinessID)
	menuID, err := formInt(r, "menu_id")
	if err != nil || menuID == 0 {
		h.invalid(w, r, back, "Choose a menu board.")
		return
	}
	for _, ms := range sc.MenuScreens {
		if ms.MenuBoardID == menuID {
			h.invalid(w, r, back, "That menu board is already on this screen.")
			return
		}
	}
	board, err := h.d.CMS.MenuBoard(ctx, menuID)
	if err != nil {
		h.cmsFailed(w, r, back, err)
		return
	}
	if err := h.d.Businesses.AttachMenuBoard(ctx, &models.MenuScreen{ScreenID: sc.ID, MenuBoardID: board.ID}); err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	h.record(ctx, p, "menuboard_attached", map[string]any{"screen": sc.ID, "menu": board.ID})
	h.done(w, r, back, "Menu board "+board.Name+" linked.")
}

func (h *Handler) ScreenDetachBoard(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	sc, ok := h.loadScreen(w, r, p)
	if !ok {
		return
	}
	menuID, _ := idParam(r, "menuId")
	if err := h.d.Businesses.DetachMenuBoard(r.Context(), sc.ID, menuID); err != nil {
		h.storeFailed(w, r, p, err)
		return
	}
	h.record(r.Context(), p, "menuboard_detached", map[string]any{"screen": sc.ID, "menu": menuID})
	h.done(w, r, businessPath(sc.BusinessID), "Menu board unlinked.")
}
