package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"signdesk/internal/breaker"
	"signdesk/internal/db"
	"signdesk/internal/models"
)

// BreakerView: то, что /health знает о предохранителе CMS.
type BreakerView interface {
	Snapshot() breaker.Snapshot
}

// Report: тело ответа /health.
type Report struct {
	Status      string            `json:"status"`
	DB          string            `json:"db"`
	DBLatencyMs int64             `json:"dbLatencyMs"`
	Breaker     *breaker.Snapshot `json:"breaker,omitempty"`
}

// RegisterRoutes: базовый liveness.
func RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", liveness).Methods(http.MethodGet)
}

// RegisterRoutesWithDB: liveness + /health (БД и состояние предохранителя).
func RegisterRoutesWithDB(r *mux.Router, gdb *gorm.DB, br BreakerView) {
	RegisterRoutes(r)
	r.Handle("/health", Handler(gdb, br)).Methods(http.MethodGet)
}

// Handler отвечает 200, если БД доступна, иначе 503. Открытый предохранитель
// статус не роняет: панель работает с локальными данными и кэшем.
func Handler(gdb *gorm.DB, br BreakerView) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := Report{Status: "ok", DB: "ok"}
		if br != nil {
			snap := br.Snapshot()
			rep.Breaker = &snap
		}

		if gdb == nil {
			rep.Status, rep.DB = "degraded", "not configured"
			writeReport(w, http.StatusServiceUnavailable, rep)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		lat, err := db.Ping(ctx, gdb)
		if err != nil {
			rep.Status, rep.DB = "degraded", "unreachable"
			writeReport(w, http.StatusServiceUnavailable, rep)
			return
		}
		rep.DBLatencyMs = lat.Milliseconds()
		writeReport(w, http.StatusOK, rep)
	}
}

func writeReport(w http.ResponseWriter, status int, rep Report) {
	w.Header().Set("Cache-Control", "no-store")
	models.WriteJSON(w, status, rep)
}

func liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
