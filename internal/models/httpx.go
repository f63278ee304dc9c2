package models

import (
	"encoding/json"
	"net/http"
)

// Problem представляет ответ об ошибке в стиле RFC 7807.
type Problem struct {
	Type     string `json:"type,omitempty"`   // URL с описанием типа проблемы (можно оставить пустым)
	Title    string `json:"title"`            // краткое название
	Status   int    `json:"status"`           // HTTP код
	Detail   string `json:"detail,omitempty"` // подробности
	Instance string `json:"instance,omitempty"`
	Extra    any    `json:"extra,omitempty"` // произвольные поля (map/struct)
}

// WriteProblem пишет problem+json. Instance берётся из пути запроса, если r не nil.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string, extra any) {
	p := Problem{
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Extra:  extra,
	}
	if r != nil && r.URL != nil {
		p.Instance = r.URL.Path
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WantsJSON: клиент явно просит JSON (fetch из dashboard.js или API-клиент).
func WantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return accept == "application/json" || r.Header.Get("X-Requested-With") == "fetch"
}
