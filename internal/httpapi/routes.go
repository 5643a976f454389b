package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/texrace-backend/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func SetupRoutes(d Deps, wsOpts ws.Options) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if wsOpts.Hub == nil {
		wsOpts.Hub = d.Hub
	}
	if wsOpts.Tickets == nil {
		wsOpts.Tickets = d.Tickets
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Post("/lobbies", CreateLobby(d))
	r.Post("/lobbies/{id}/login", Login(d))
	r.Get("/lobbies/{id}/status", Status(d))
	r.Get("/lobbies/{id}/qr.png", QRCode(d))
	r.Get("/results/{id}", Result(d))
	r.Get("/healthz", Healthz(d))
	r.Get("/ws", ws.Handler(wsOpts))
	return r
}
