package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/guessparty/backend/internal/hub"
	"github.com/guessparty/backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, log *zap.SugaredLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/rooms", ListRooms(h))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, log))
	return r
}
