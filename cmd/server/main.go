package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/texrace-backend/internal/auth"
	"github.com/DoyleJ11/texrace-backend/internal/config"
	"github.com/DoyleJ11/texrace-backend/internal/engine"
	"github.com/DoyleJ11/texrace-backend/internal/httpapi"
	"github.com/DoyleJ11/texrace-backend/internal/hub"
	"github.com/DoyleJ11/texrace-backend/internal/lobby"
	"github.com/DoyleJ11/texrace-backend/internal/logging"
	"github.com/DoyleJ11/texrace-backend/internal/problems"
	"github.com/DoyleJ11/texrace-backend/internal/render"
	"github.com/DoyleJ11/texrace-backend/internal/results"
	"github.com/DoyleJ11/texrace-backend/internal/ws"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const releaseVersion = "0.1.0"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		cobra.CheckErr(err)
	}
	cfg := &config.Config{}
	cobra.CheckErr(config.NewCommand(cfg, releaseVersion, run).Execute())
}

func run(cmd *cobra.Command, cfg *config.Config) (err error) {
	log, err := logging.New(cfg.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog := problems.Default()
	if cfg.ProblemsFile != "" {
		if catalog, err = problems.Load(cfg.ProblemsFile); err != nil {
			return err
		}
	}
	log.Info("problem catalog loaded", zap.Int("problems", len(catalog)), zap.String("file", cfg.ProblemsFile))

	var renderer render.Renderer
	if cfg.RendererURL != "" {
		renderer = render.NewCache(render.NewHTTP(cfg.RendererURL, cfg.RenderTimeout), cfg.RenderCacheSize)
		log.Info("rendering goals server side", zap.String("renderer", cfg.RendererURL))
	} else {
		log.Info("no renderer configured, clients supply goal renderings")
	}

	store, closeStore, err := openResults(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeStore()) }()

	tickets := auth.NewTickets(cfg.TicketTTL)
	creds := auth.NewCredentials(cfg.BcryptCost)

	h := hub.NewHub(ctx, hub.Options{
		Logger:   log,
		OnRemove: creds.Forget,
		Lobby: lobby.Options{
			Env: engine.Env{
				Catalog:         catalog,
				DefaultDuration: cfg.DefaultDuration,
			},
			Renderer:        renderer,
			RenderTimeout:   cfg.RenderTimeout,
			EnforceDeadline: cfg.EnforceDeadline,
			IdleTimeout:     cfg.IdleTimeout,
			Logger:          log,
			OnEnded: func(res results.Result) {
				saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := store.Save(saveCtx, res); err != nil {
					log.Error("saving result failed", zap.String("lobby", res.LobbyID), zap.Error(err))
					return
				}
				log.Info("result saved", zap.String("lobby", res.LobbyID), zap.Int("players", len(res.Players)))
			},
		},
	})

	handler := httpapi.SetupRoutes(httpapi.Deps{
		Hub:         h,
		Tickets:     tickets,
		Credentials: creds,
		Results:     store,
		Logger:      log,
		JoinURL:     cfg.JoinURL,
	}, ws.Options{
		Logger:         log,
		Limits:         ws.Limits{MaxImageBytes: cfg.MaxImageBytes, MaxImagePixels: cfg.MaxImagePixels},
		PingInterval:   30 * time.Second,
		OriginPatterns: cfg.OriginPatterns,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tickets.Run(gctx, cfg.TicketTTL)
		return nil
	})
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("version", releaseVersion))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		select {
		case h.Inbox() <- hub.ShutdownHub{}:
		case <-h.Done():
		}
		<-h.Done()
		return err
	})

	return g.Wait()
}

func openResults(cfg *config.Config) (results.Store, func() error, error) {
	if cfg.DatabaseURL != "" {
		s, err := results.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	s, err := results.NewFileStore(cfg.ResultsDir)
	if err != nil {
		return nil, nil, err
	}
	return s, func() error { return nil }, nil
}
