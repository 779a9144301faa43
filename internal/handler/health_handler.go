package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/guidehub/internal/middleware"
)

// HealthHandler は死活監視用のハンドラー。
type HealthHandler struct {
	environment string
	now         func() time.Time
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(environment string) *HealthHandler {
	return &HealthHandler{environment: environment, now: time.Now}
}

// ServeHTTP は稼働状況を返す。
// GET /api/health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"status":      "ok",
		"timestamp":   h.now().UTC().Format(time.RFC3339),
		"environment": h.environment,
	})
}
