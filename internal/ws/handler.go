package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/DoyleJ11/texrace-backend/internal/auth"
	"github.com/DoyleJ11/texrace-backend/internal/engine"
	"github.com/DoyleJ11/texrace-backend/internal/hub"
	"github.com/DoyleJ11/texrace-backend/internal/lobby"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Options struct {
	Hub     *hub.Hub
	Tickets *auth.Tickets
	Logger  *zap.Logger
	Limits  Limits

	OutboxSize     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	OriginPatterns []string
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Limits == (Limits{}) {
		o.Limits = DefaultLimits
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = 32
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
}

// readLimit fits a SubmitAnswer carrying two base64 images.
func (o Options) readLimit() int64 {
	return int64(o.Limits.MaxImageBytes)*2*4/3 + 64<<10
}

func Handler(opts Options) http.HandlerFunc {
	opts.defaults()
	return func(w http.ResponseWriter, r *http.Request) {
		lobbyID := r.URL.Query().Get("lobby")
		ticket := r.URL.Query().Get("ticket")
		if lobbyID == "" || ticket == "" {
			http.Error(w, "missing lobby or ticket", http.StatusBadRequest)
			return
		}

		lb := opts.Hub.Get(r.Context(), lobbyID)
		if lb == nil {
			http.Error(w, "lobby not found", http.StatusNotFound)
			return
		}
		tk, ok := opts.Tickets.Redeem(ticket, lobbyID)
		if !ok {
			http.Error(w, "invalid ticket", http.StatusUnauthorized)
			return
		}
		if v, ok := lb.State(r.Context()); !ok || v.Phase == engine.PhaseEnded {
			http.Error(w, "game is over", http.StatusGone)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		conn.SetReadLimit(opts.readLimit())

		connID := uuid.NewString()
		log := opts.Logger.With(zap.String("lobby", lobbyID), zap.String("conn", connID), zap.String("name", tk.Name))

		out := make(chan lobby.Outbound, opts.OutboxSize)
		reply := make(chan error, 1)
		if !lb.Send(lobby.Join{ConnID: connID, Name: tk.Name, Outbox: out, Reply: reply}) {
			conn.Close(websocket.StatusGoingAway, "lobby closed")
			return
		}
		select {
		case err = <-reply:
		case <-lb.Done():
			err = errors.New("lobby closed")
		}
		if err != nil {
			log.Info("join rejected", zap.Error(err))
			writeJSON(r.Context(), conn, ErrorMessage(err), opts.WriteTimeout)
			conn.Close(websocket.StatusPolicyViolation, ErrorCode(err))
			return
		}
		defer lb.Send(lobby.Leave{ConnID: connID})

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			var ping <-chan time.Time
			if opts.PingInterval > 0 {
				t := time.NewTicker(opts.PingInterval)
				defer t.Stop()
				ping = t.C
			}
			for {
				select {
				case o, ok := <-out:
					if !ok {
						// Lobby dropped us or shut down.
						conn.Close(websocket.StatusGoingAway, "disconnected by lobby")
						return
					}
					payload, err := Encode(o)
					if err != nil {
						log.Error("encode failed", zap.Error(err))
						continue
					}
					ctx, cancel := context.WithTimeout(writeCtx, opts.WriteTimeout)
					err = conn.Write(ctx, websocket.MessageText, payload)
					cancel()
					if err != nil {
						log.Debug("write failed", zap.Error(err))
						conn.CloseNow()
						return
					}
				case <-ping:
					ctx, cancel := context.WithTimeout(writeCtx, opts.WriteTimeout)
					err := conn.Ping(ctx)
					cancel()
					if err != nil {
						conn.CloseNow()
						return
					}
				case <-writeCtx.Done():
					return
				}
			}
		}()

		log.Info("connected")
		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Info("disconnected")
				default:
					log.Debug("read failed", zap.Error(err))
				}
				return
			}

			cmd, err := Decode(data, opts.Limits)
			if err != nil {
				writeJSON(r.Context(), conn, ErrorMessage(err), opts.WriteTimeout)
				continue
			}
			if !lb.Send(lobby.FromClient{ConnID: connID, Cmd: cmd}) {
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any, timeout time.Duration) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, payload)
}
