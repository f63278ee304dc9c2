package admin

import (
	"net/http"

	"signdesk/internal/auth"
	"signdesk/internal/cms"
)

// listPage рисует страницу-список CMS; ошибка CMS показывается на странице.
func (h *Handler) listPage(w http.ResponseWriter, r *http.Request, p *auth.Principal, page, title string, rows any, err error) {
	data := map[string]any{"Title": title, "Rows": rows}
	if err != nil {
		data["CMSError"] = cms.Message(err)
		data["Rows"] = nil
	}
	h.render(w, r, p, http.StatusOK, page, data)
}

func (h *Handler) MediaList(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	rows, err := h.d.CMS.Media(r.Context())
	h.listPage(w, r, p, "media.tmpl", "Media library", rows, err)
}

func (h *Handler) MediaDelete(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	id, ok := idParam(r, "id")
	if !ok {
		h.errorPage(w, r, p, http.StatusNotFound, "Media not found.")
		return
	}
	if err := h.d.CMS.DeleteMedia(r.Context(), id); err != nil {
		h.cmsFailed(w, r, "/dashboard/media", err)
		return
	}
	h.record(r.Context(), p, "media_deleted", map[string]any{"media": id})
	h.done(w, r, "/dashboard/media", "Media deleted.")
}

func (h *Handler) LayoutsList(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	rows, err := h.d.CMS.Layouts(r.Context())
	h.listPage(w, r, p, "layouts.tmpl", "Layouts", rows, err)
}

func (h *Handler) DataSetsList(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	rows, err := h.d.CMS.DataSets(r.Context())
	h.listPage(w, r, p, "datasets.tmpl", "Datasets", rows, err)
}

func (h *Handler) FoldersList(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	tree, err := h.d.CMS.Folders(r.Context())
	h.listPage(w, r, p, "folders.tmpl", "Folders", cms.Flatten(tree), err)
}

func (h *Handler) DisplaysList(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	rows, err := h.d.CMS.Displays(r.Context())
	h.listPage(w, r, p, "displays.tmpl", "Displays", rows, err)
}
