package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/DoyleJ11/texrace-backend/internal/auth"
	"github.com/DoyleJ11/texrace-backend/internal/engine"
	"github.com/DoyleJ11/texrace-backend/internal/hub"
	"github.com/DoyleJ11/texrace-backend/internal/results"
	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const (
	maxNameLen = 64
	maxBody    = 16 << 10
	qrSize     = 320
)

// Status values reported for a lobby id.
const (
	StatusWaiting  = "waiting"
	StatusPlaying  = "playing"
	StatusFinished = "finished"
	StatusUnknown  = "dne"
)

type Deps struct {
	Hub         *hub.Hub
	Tickets     *auth.Tickets
	Credentials *auth.Credentials
	Results     results.Store
	Logger      *zap.Logger
	// JoinURL is encoded into the lobby QR code.
	JoinURL func(lobbyID string) string
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return false
	}
	return true
}

func CreateLobby(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" || utf8.RuneCountInString(name) > maxNameLen {
			http.Error(w, "lobby name must be 1-64 characters", http.StatusBadRequest)
			return
		}

		lb := d.Hub.Create(r.Context(), name)
		if lb == nil {
			http.Error(w, "failed to create lobby", http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, http.StatusCreated, struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}{ID: lb.ID(), Name: name})
	}
}

func Login(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req struct {
			Name     string `json:"name"`
			Password string `json:"password"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		name := engine.NormalizeName(req.Name)
		if name == "" || utf8.RuneCountInString(name) > maxNameLen {
			http.Error(w, "player name must be 1-64 characters", http.StatusBadRequest)
			return
		}

		lb := d.Hub.Get(r.Context(), id)
		if lb == nil {
			http.Error(w, "lobby not found", http.StatusNotFound)
			return
		}
		if v, ok := lb.State(r.Context()); !ok || v.Phase == engine.PhaseEnded {
			http.Error(w, "game is over", http.StatusGone)
			return
		}

		if err := d.Credentials.Check(id, name, req.Password); err != nil {
			if errors.Is(err, auth.ErrBadCredentials) {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			d.Logger.Error("credential check failed", zap.String("lobby", id), zap.Error(err))
			http.Error(w, "login failed", http.StatusInternalServerError)
			return
		}

		tk := d.Tickets.Issue(id, name)
		writeJSON(w, http.StatusOK, struct {
			Ticket    string    `json:"ticket"`
			Name      string    `json:"name"`
			ExpiresAt time.Time `json:"expires_at"`
		}{Ticket: tk.Key, Name: name, ExpiresAt: tk.ExpiresAt})
	}
}

func Status(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		status := StatusUnknown

		if lb := d.Hub.Get(r.Context(), id); lb != nil {
			if v, ok := lb.State(r.Context()); ok {
				switch v.Phase {
				case engine.PhaseForming:
					status = StatusWaiting
				case engine.PhaseActive:
					status = StatusPlaying
				case engine.PhaseEnded:
					status = StatusFinished
				}
			}
		}
		if status == StatusUnknown {
			ok, err := d.Results.Exists(r.Context(), id)
			if err != nil {
				d.Logger.Warn("result lookup failed", zap.String("lobby", id), zap.Error(err))
			}
			if ok {
				status = StatusFinished
			}
		}

		writeJSON(w, http.StatusOK, struct {
			Status string `json:"status"`
		}{Status: status})
	}
}

func QRCode(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if d.Hub.Get(r.Context(), id) == nil {
			http.Error(w, "lobby not found", http.StatusNotFound)
			return
		}

		png, err := qrcode.Encode(d.JoinURL(id), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

func Result(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := d.Results.Get(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, results.ErrNotFound) {
			http.Error(w, "result not found", http.StatusNotFound)
			return
		}
		if err != nil {
			d.Logger.Error("result lookup failed", zap.Error(err))
			http.Error(w, "result lookup failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func Healthz(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Status  string `json:"status"`
			Lobbies int    `json:"lobbies"`
		}{Status: "ok", Lobbies: len(d.Hub.List(r.Context()))})
	}
}
