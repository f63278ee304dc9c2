// Package router - декларативная таблица маршрутов "METHOD /path/:param" поверх gorilla/mux.
//
// Параметры с именем id или оканчивающиеся на Id принимают только цифры,
// остальные - любой непустой сегмент без "/".
package router

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
)

// Params: значения именованных сегментов пути.
type Params map[string]string

// Route: строка таблицы маршрутов.
type Route struct {
	Pattern string // "GET /admin/business/:id"
	Handler http.HandlerFunc
}

type Router struct {
	mux      *mux.Router
	patterns map[*mux.Route]string

	// NotFound вызывается из ServeHTTP, когда маршрут не найден.
	NotFound http.Handler
}

func New() *Router {
	return &Router{
		mux:      mux.NewRouter(),
		patterns: map[*mux.Route]string{},
		NotFound: http.NotFoundHandler(),
	}
}

// NewFromTable строит роутер из таблицы; первая некорректная строка - ошибка.
func NewFromTable(routes []Route) (*Router, error) {
	rt := New()
	for _, r := range routes {
		if err := rt.Add(r.Pattern, r.Handler); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// Add регистрирует маршрут. Порядок регистрации - порядок сопоставления.
func (rt *Router) Add(pattern string, h http.HandlerFunc) error {
	if h == nil {
		return fmt.Errorf("router: nil handler for %q", pattern)
	}
	method, tpl, err := compile(pattern)
	if err != nil {
		return err
	}
	route := rt.mux.NewRoute().Methods(method).Path(tpl).HandlerFunc(h)
	if err := route.GetError(); err != nil {
		return fmt.Errorf("router: %q: %w", pattern, err)
	}
	rt.patterns[route] = pattern
	return nil
}

func (rt *Router) MustAdd(pattern string, h http.HandlerFunc) {
	if err := rt.Add(pattern, h); err != nil {
		panic(err)
	}
}

// Match ищет маршрут без выполнения обработчика.
func (rt *Router) Match(method, path string) (http.Handler, Params, bool) {
	req := &http.Request{Method: strings.ToUpper(method), URL: &url.URL{Path: path}, Header: http.Header{}}
	var m mux.RouteMatch
	if !rt.mux.Match(req, &m) || m.MatchErr != nil || m.Handler == nil {
		return nil, nil, false
	}
	return m.Handler, Params(m.Vars), true
}

// Dispatch выполняет подходящий маршрут и возвращает true; без совпадения - false, ответ не пишется.
func (rt *Router) Dispatch(w http.ResponseWriter, r *http.Request) bool {
	var m mux.RouteMatch
	if !rt.mux.Match(r, &m) || m.MatchErr != nil || m.Handler == nil {
		return false
	}
	ctx := context.WithValue(r.Context(), paramsKey, Params(m.Vars))
	if slot, ok := ctx.Value(patternKey).(*string); ok && slot != nil {
		*slot = rt.patterns[m.Route]
	}
	m.Handler.ServeHTTP(w, r.WithContext(ctx))
	return true
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !rt.Dispatch(w, r) {
		rt.NotFound.ServeHTTP(w, r)
	}
}

// Patterns: зарегистрированные шаблоны (для лога при старте).
func (rt *Router) Patterns() []string {
	out := make([]string, 0, len(rt.patterns))
	_ = rt.mux.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		if p, ok := rt.patterns[route]; ok {
			out = append(out, p)
		}
		return nil
	})
	return out
}

type ctxKey int

const (
	paramsKey ctxKey = iota
	patternKey
)

// FromRequest возвращает параметры пути текущего запроса (пустые вне Dispatch).
func FromRequest(r *http.Request) Params {
	if p, ok := r.Context().Value(paramsKey).(Params); ok {
		return p
	}
	return Params{}
}

// WithPatternSlot кладёт в контекст ячейку, куда Dispatch запишет шаблон совпавшего маршрута.
// Нужна внешним middleware (метрики), которые работают до роутера.
func WithPatternSlot(r *http.Request) (*http.Request, *string) {
	slot := new(string)
	return r.WithContext(context.WithValue(r.Context(), patternKey, slot)), slot
}

func compile(pattern string) (method, tpl string, err error) {
	method, path, ok := strings.Cut(strings.TrimSpace(pattern), " ")
	path = strings.TrimSpace(path)
	if !ok || method == "" || !strings.HasPrefix(path, "/") {
		return "", "", fmt.Errorf("router: pattern must be \"METHOD /path\", got %q", pattern)
	}
	if method != strings.ToUpper(method) {
		return "", "", fmt.Errorf("router: method must be upper case in %q", pattern)
	}

	segs := strings.Split(path, "/")
	for i, seg := range segs {
		if strings.ContainsAny(seg, "{}") {
			return "", "", fmt.Errorf("router: braces are not allowed in %q", pattern)
		}
		if !strings.HasPrefix(seg, ":") {
			continue
		}
		name := seg[1:]
		if name == "" {
			return "", "", fmt.Errorf("router: empty parameter name in %q", pattern)
		}
		segs[i] = "{" + name + ":" + paramRegexp(name) + "}"
	}
	return method, strings.Join(segs, "/"), nil
}

func paramRegexp(name string) string {
	if name == "id" || strings.HasSuffix(name, "Id") {
		return "[0-9]+"
	}
	return "[^/]+"
}
