package admin

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strings"
	"time"
)

//go:embed templates/*.tmpl
var tplFS embed.FS

// набор готовых шаблонов по страницам (ключ = имя файла страницы, напр. "dashboard.tmpl")
type pageTemplates map[string]*template.Template

var funcs = template.FuncMap{
	"price": func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"indent": func(depth int) string {
		return strings.Repeat("    ", depth)
	},
	"ms": func(v int64) string {
		return time.UnixMilli(v).UTC().Format("2006-01-02 15:04 UTC")
	},
	"when": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04 UTC") },
	"size": func(n int64) string {
		switch {
		case n >= 1<<20:
			return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
		case n >= 1<<10:
			return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
		}
		return fmt.Sprintf("%d B", n)
	},
	"deref": func(p *int) int {
		if p == nil {
			return 0
		}
		return *p
	},
}

func parseTemplates() (pageTemplates, error) {
	all, err := fs.Glob(tplFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("admin: glob templates: %w", err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("admin: no templates found in embed FS")
	}

	// соберём по одной паре: layout + конкретная страница
	out := make(pageTemplates)
	for _, f := range all {
		if path.Base(f) == "layout.tmpl" {
			continue
		}
		t := template.New("layout").Funcs(funcs)
		if _, err := t.ParseFS(tplFS, "templates/layout.tmpl"); err != nil {
			return nil, fmt.Errorf("admin: parse layout.tmpl: %w", err)
		}
		if _, err := t.ParseFS(tplFS, f); err != nil {
			return nil, fmt.Errorf("admin: parse %s: %w", f, err)
		}
		out[path.Base(f)] = t
	}
	return out, nil
}
