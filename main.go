package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pliu/murmur/internal/auth"
	"github.com/pliu/murmur/internal/blob"
	"github.com/pliu/murmur/internal/config"
	"github.com/pliu/murmur/internal/handlers"
	"github.com/pliu/murmur/internal/logging"
	"github.com/pliu/murmur/internal/middleware"
	"github.com/pliu/murmur/internal/presence"
	"github.com/pliu/murmur/internal/registry"
	"github.com/pliu/murmur/internal/relay"
	"github.com/pliu/murmur/internal/store/sqlstore"
	"github.com/pliu/murmur/internal/ws"
)

var envFile = flag.String("env-file", ".env", "dotenv file loaded before reading the environment")

func main() {
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		l := logging.New("production", "info")
		l.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)

	store, err := sqlstore.New(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("failed to open store")
	}
	defer store.Close()

	blobs, err := blob.New(cfg.UploadDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare upload dir")
	}

	reg := registry.New()
	broadcaster := presence.New(reg, store, cfg.SnapshotInterval, cfg.StoreTimeout, logger)
	if err := broadcaster.Reconcile(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to reconcile presence")
	}
	messageRelay := relay.New(store, reg, cfg.StoreTimeout, logger)
	tokens := auth.NewJWT(cfg.JWTSecret, cfg.TokenTTL)

	hub := ws.NewHub(ws.Config{
		GraceWindow:    cfg.GraceWindow,
		StoreTimeout:   cfg.StoreTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
	}, reg, broadcaster, messageRelay, store, tokens, logger)
	go hub.Run()

	authHandler := &handlers.AuthHandler{Store: store, Tokens: tokens, Presence: broadcaster, Sessions: hub, StoreTimeout: cfg.StoreTimeout, Log: logger}
	chatHandler := &handlers.ChatHandler{Store: store, Relay: messageRelay, Notifier: hub, StoreTimeout: cfg.StoreTimeout, Log: logger}
	uploadHandler := &handlers.UploadHandler{Blobs: blobs, MaxBytes: cfg.UploadMaxBytes, Log: logger}
	healthHandler := &handlers.HealthHandler{DB: store}

	r := mux.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, middleware.Logger(logger), chimw.Recoverer, middleware.Metrics)

	r.HandleFunc("/signup", authHandler.Signup).Methods("POST")
	r.HandleFunc("/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/health", healthHandler.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.PathPrefix(blob.URLPrefix).Handler(blobs.Handler()).Methods("GET")

	// The websocket authenticates after the upgrade so failures can be
	// reported in-band.
	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	})

	api := r.NewRoute().Subrouter()
	api.Use(middleware.Auth(tokens))
	api.HandleFunc("/users", authHandler.Users).Methods("GET")
	api.HandleFunc("/users/search", authHandler.SearchUsers).Methods("GET")
	api.HandleFunc("/user", authHandler.Me).Methods("GET")
	api.HandleFunc("/logout", authHandler.Logout).Methods("POST")
	api.HandleFunc("/messages/{id:[0-9]+}", chatHandler.GetDirectMessages).Methods("GET")
	api.HandleFunc("/groups", chatHandler.CreateGroup).Methods("POST")
	api.HandleFunc("/groups", chatHandler.GetGroups).Methods("GET")
	api.HandleFunc("/groups/{id:[0-9]+}/members", chatHandler.AddMember).Methods("POST")
	api.HandleFunc("/groups/{id:[0-9]+}/members", chatHandler.GetGroupMembers).Methods("GET")
	api.HandleFunc("/groups/{id:[0-9]+}/messages", chatHandler.GetGroupMessages).Methods("GET")
	api.HandleFunc("/upload", uploadHandler.Upload).Methods("POST")

	handler := cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})(r)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("env", cfg.Env).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	// Hijacked websocket connections are not covered by srv.Shutdown.
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("hub shutdown")
	}
	logger.Info().Msg("server stopped")
}
