package admin

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"signdesk/internal/auth"
	"signdesk/internal/cms"
	"signdesk/internal/models"
)

func boardPath(menuID int) string { return fmt.Sprintf("/dashboard/menuboard/%d", menuID) }

func categoryPath(menuID, categoryID int) string {
	return fmt.Sprintf("/dashboard/menuboard/%d/category/%d", menuID, categoryID)
}

// boardFilter: nil значит «все борды» (менеджер и выше); иначе только
// борды, привязанные к экранам заведений пользователя.
func (h *Handler) boardFilter(ctx context.Context, p *auth.Principal) (map[int]bool, error) {
	if auth.AtLeast(p.Role, auth.RoleManager) {
		return nil, nil
	}
	ids, err := h.d.Businesses.MenuBoardIDsForUser(ctx, p.User.ID)
	if err != nil {
		return nil, err
	}
	allowed := make(map[int]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}
	return allowed, nil
}

func (h *Handler) visibleBoards(ctx context.Context, p *auth.Principal) ([]cms.MenuBoard, error) {
	allowed, err := h.boardFilter(ctx, p)
	if err != nil {
		return nil, err
	}
	boards, err := h.d.CMS.MenuBoards(ctx)
	if err != nil {
		return nil, err
	}
	if allowed == nil {
		return boards, nil
	}
	out := boards[:0:0]
	for _, b := range boards {
		if allowed[b.ID] {
			out = append(out, b)
		}
	}
	return out, nil
}

// boardParam достаёт menuId и проверяет доступ. Чужой борд выглядит как отсутствующий.
func (h *Handler) boardParam(w http.ResponseWriter, r *http.Request, p *auth.Principal) (int, bool) {
	menuID, ok := idParam(r, "menuId")
	if !ok {
		h.errorPage(w, r, p, http.StatusNotFound, "Menu board not found.")
		return 0, false
	}
	allowed, err := h.boardFilter(r.Context(), p)
	if err != nil {
		h.storeFailed(w, r, p, err)
		return 0, false
	}
	if allowed != nil && !allowed[menuID] {
		h.errorPage(w, r, p, http.StatusNotFound, "Menu board not found.")
		return 0, false
	}
	return menuID, true
}

// categoryParam: категория из пути, принадлежащая борду menuID.
func (h *Handler) categoryParam(w http.ResponseWriter, r *http.Request, p *auth.Principal, menuID int) (*cms.Category, bool) {
	categoryID, ok := idParam(r, "categoryId")
	if !ok {
		h.errorPage(w, r, p, http.StatusNotFound, "Category not found.")
		return nil, false
	}
	cats, err := h.d.CMS.Categories(r.Context(), menuID)
	if err != nil {
		h.cmsFailed(w, r, boardPath(menuID), err)
		return nil, false
	}
	for i := range cats {
		if cats[i].ID == categoryID {
			return &cats[i], true
		}
	}
	h.errorPage(w, r, p, http.StatusNotFound, "Category not found.")
	return nil, false
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	data := map[string]any{"Title": "Menu boards"}
	boards, err := h.visibleBoards(r.Context(), p)
	if err != nil {
		if isStoreErr(err) {
			h.storeFailed(w, r, p, err)
			return
		}
		data["CMSError"] = cms.Message(err)
	}
	data["Boards"] = boards
	h.render(w, r, p, http.StatusOK, "dashboard.tmpl", data)
}

// isStoreErr: ошибка не из CMS (ту показываем текстом на странице).
func isStoreErr(err error) bool {
	return !cms.IsRemote(err)
}

func menuBoardInput(r *http.Request) (cms.MenuBoardInput, string) {
	in := cms.MenuBoardInput{
		Name:        strings.TrimSpace(r.PostForm.Get("name")),
		Code:        strings.TrimSpace(r.PostForm.Get("code")),
		Description: strings.TrimSpace(r.PostForm.Get("description")),
	}
	if in.Name == "" {
		return in, "Enter a name."
	}
	folderID, err := formInt(r, "folder_id")
	if err != nil {
		return in, "The folder must be a number."
	}
	in.FolderID = folderID
	return in, ""
}

func (h *Handler) MenuBoardCreate(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	in, msg := menuBoardInput(r)
	if msg != "" {
		h.invalid(w, r, "/dashboard", msg)
		return
	}
	board, err := h.d.CMS.CreateMenuBoard(r.Context(), in)
	if err != nil {
		h.cmsFailed(w, r, "/dashboard", err)
		return
	}
	h.record(r.Context(), p, "menuboard_created", map[string]any{"menu": board.ID})
	h.done(w, r, boardPath(board.ID), "Menu board created.")
}

func (h *Handler) MenuBoardPage(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx := r.Context()
	menuID, ok := h.boardParam(w, r, p)
	if !ok {
		return
	}
	board, err := h.d.CMS.MenuBoard(ctx, menuID)
	if cms.IsStatus(err, http.StatusNotFound) {
		h.errorPage(w, r, p, http.StatusNotFound, "Menu board not found.")
		return
	}
	if err != nil {
		h.cmsFailed(w, r, "/dashboard", err)
		return
	}
	cats, err := h.d.CMS.Categories(ctx, menuID)
	if err != nil {
		h.cmsFailed(w, r, "/dashboard", err)
		return
	}
	h.render(w, r, p, http.StatusOK, "menuboard.tmpl", map[string]any{
		"Title":      board.Name,
		"Board":      board,
		"Categories": cats,
	})
}

func (h *Handler) MenuBoardUpdate(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	menuID, ok := h.boardParam(w, r, p)
	if !ok {
		return
	}
	in, msg := menuBoardInput(r)
	if msg != "" {
		h.invalid(w, r, boardPath(menuID), msg)
		return
	}
	if err := h.d.CMS.UpdateMenuBoard(r.Context(), menuID, in); err != nil {
		h.cmsFailed(w, r, boardPath(menuID), err)
		return
	}
	h.record(r.Context(), p, "menuboard_updated", map[string]any{"menu": menuID})
	h.done(w, r, boardPath(menuID), "Menu board saved.")
}

func (h *Handler) MenuBoardDelete(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	menuID, ok := h.boardParam(w, r, p)
	if !ok {
		return
	}
	if err := h.d.CMS.DeleteMenuBoard(r.Context(), menuID); err != nil {
		h.cmsFailed(w, r, boardPath(menuID), err)
		return
	}
	h.record(r.Context(), p, "menuboard_deleted", map[string]any{"menu": menuID})
	h.done(w, r, "/dashboard", "Menu board deleted.")
}

// ---------- categories ----------

func categoryInput(r *http.Request) (cms.CategoryInput, string) {
	in := cms.CategoryInput{
		Name:        strings.TrimSpace(r.PostForm.Get("name")),
		Code:        strings.TrimSpace(r.PostForm.Get("code")),
		Description: strings.TrimSpace(r.PostForm.Get("description")),
	}
	if in.Name == "" {
		return in, "Enter a name."
	}
	mediaID, err := formInt(r, "media_id")
	if err != nil {
		return in, "The image must be a media id."
	}
	in.MediaID = mediaID
	return in, ""
}

func (h *Handler) CategoryCreate(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	menuID, ok := h.boardParam(w, r, p)
	if !ok {
		return
	}
	in, msg := categoryInput(r)
	if msg != "" {
		h.invalid(w, r, boardPath(menuID), msg)
		return
	}
	cat, err := h.d.CMS.CreateCategory(r.Context(), menuID, in)
	if err != nil {
		h.cmsFailed(w, r, boardPath(menuID), err)
		return
	}
	h.record(r.Context(), p, "category_created", map[string]any{"menu": menuID, "category": cat.ID})
	h.done(w, r, categoryPath(menuID, cat.ID), "Category created.")
}

func (h *Handler) CategoryPage(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	menuID, ok := h.boardParam(w, r, p)
	if !ok {
		return
	}
	cat, ok := h.categoryParam(w, r, p, menuID)
	if !ok {
		return
	}
	products, err := h.d.CMS.Products(r.Context(), cat.ID)
	if err != nil {
		h.cmsFailed(w, r, boardPath(menuID), err)
		return
	}
	h.render(w, r, p, http.StatusOK, "category.tmpl", map[string]any{
		"Title":    cat.Name,
		"MenuID":   menuID,
		"Category": cat,
		"Products": products,
	})
}

func (h *Handler) CategoryUpdate(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	menuID, ok := h.boardParam(w, r, p)
	if !ok {
		return
	}
	cat, ok := h.categoryParam(w, r, p, menuID)
	if !ok {
		return
	}
	back := categoryPath(menuID, cat.ID)
	in, msg := categoryInput(r)
	if msg != "" {
		h.invalid(w, r, back, msg)
		return
	}
	if err := h.d.CMS.UpdateCategory(r.Context(), cat.ID, in); err != nil {
		h.cmsFailed(w, r, back, err)
		return
	}
	h.record(r.Context(), p, "category_updated", map[string]any{"menu": menuID, "category": cat.ID})
	h.done(w, r, back, "Category saved.")
}

func (h *Handler) CategoryDelete(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	menuID, ok := h.boardParam(w, r, p)
	if !ok {
		return
	}
	cat, ok := h.categoryParam(w, r, p, menuID)
	if !ok {
		return
	}
	if err := h.d.CMS.DeleteCategory(r.Context(), cat.ID); err != nil {
		h.cmsFailed(w, r, categoryPath(menuID, cat.ID), err)
		return
	}
	h.record(r.Context(), p, "category_deleted", map[string]any{"menu": menuID, "category": cat.ID})
	h.done(w, r, boardPath(menuID), "Category deleted.")
}

// ---------- products ----------

func productInput(r *http.Request) (cms.ProductInput, string) {
	in := cms.ProductInput{
		Name:        strings.TrimSpace(r.PostForm.Get("name")),
		Description: strings.TrimSpace(r.PostForm.Get("description")),
		Code:        strings.TrimSpace(r.PostForm.Get("code")),
		Available:   r.PostForm.Get("available") != "",
	}
	if in.Name == "" {
		return in, "Enter a name."
	}
	price, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(r.PostForm.Get("price")), ",", "."), 64)
	if err != nil || price < 0 {
		return in, "Enter a price like 4.50."
	}
	in.Price = price
	return in, ""
}

func (h *Handler) productParam(w http.ResponseWriter, r *http.Request, p *auth.Principal, menuID, categoryID int) (*cms.Product, bool) {
	productID, ok := idParam(r, "productId")
	if !ok {
		h.errorPage(w, r, p, http.StatusNotFound, "Product not found.")
		return nil, false
	}
	products, err := h.d.CMS.Products(r.Context(), categoryID)
	if err != nil {
		h.cmsFailed(w, r, categoryPath(menuID, categoryID), err)
		return nil, false
	}
	for i := range products {
		if products[i].ID == productID {
			return &products[i], true
		}
	}
	h.errorPage(w, r, p, http.StatusNotFound, "Product not found.")
	return nil, false
}

func (h *Handler) ProductCreate(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	menuID, ok := h.boardParam(w, r, p)
	if !ok {
		return
	}
	cat, ok := h.categoryParam(w, r, p, menuID)
	if !ok {
		return
	}
	back := categoryPath(menuID, cat.ID)
	in, msg := productInput(r)
	if msg != "" {
		h.invalid(w, r, back, msg)
		return
	}
	prod, err := h.d.CMS.CreateProduct(r.Context(), cat.ID, in)
	if err != nil {
		h.cmsFailed(w, r, back, err)
		return
	}
	h.record(r.Context(), p, "product_created", map[string]any{"menu": menuID, "product": prod.ID})
	h.done(w, r, back, "Product added.")
}

func (h *Handler) ProductUpdate(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	menuID, ok := h.boardParam(w, r, p)
	if !ok {
		return
	}
	cat, ok := h.categoryParam(w, r, p, menuID)
	if !ok {
		return
	}
	prod, ok := h.productParam(w, r, p, menuID, cat.ID)
	if !ok {
		return
	}
	back := categoryPath(menuID, cat.ID)
	in, msg := productInput(r)
	if msg != "" {
		h.invalid(w, r, back, msg)
		return
	}
	if err := h.d.CMS.UpdateProduct(r.Context(), prod.ID, in); err != nil {
		h.cmsFailed(w, r, back, err)
		return
	}
	h.record(r.Context(), p, "product_updated", map[string]any{"menu": menuID, "product": prod.ID})
	h.done(w, r, back, "Product saved.")
}

func (h *Handler) ProductDelete(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	menuID, ok := h.boardParam(w, r, p)
	if !ok {
		return
	}
	cat, ok := h.categoryParam(w, r, p, menuID)
	if !ok {
		return
	}
	prod, ok := h.productParam(w, r, p, menuID, cat.ID)
	if !ok {
		return
	}
	back := categoryPath(menuID, cat.ID)
	if err := h.d.CMS.DeleteProduct(r.Context(), prod.ID); err != nil {
		h.cmsFailed(w, r, back, err)
		return
	}
	h.record(r.Context(), p, "product_deleted", map[string]any{"menu": menuID, "product": prod.ID})
	h.done(w, r, back, "Product deleted.")
}

// ---------- json ----------

// APIMenuBoards: список бордов для dashboard.js.
func (h *Handler) APIMenuBoards(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	boards, err := h.visibleBoards(r.Context(), p)
	if err != nil {
		if isStoreErr(err) {
			models.WriteProblem(w, r, http.StatusInternalServerError, "store failed", nil)
			return
		}
		models.WriteProblem(w, r, http.StatusBadGateway, cms.Message(err), nil)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	models.WriteJSON(w, http.StatusOK, map[string]any{"menuBoards": boards})
}
