package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/internal/agent/core"
	"github.com/mohammad-safakhou/counsel/internal/conversation"
	"github.com/mohammad-safakhou/counsel/internal/search"
	"github.com/mohammad-safakhou/counsel/internal/store"
	"github.com/mohammad-safakhou/counsel/internal/telemetry"
)

func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	_ = Migrate("file://migrations", dsn, "up", 0)

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	tele := telemetry.NewTelemetry(cfg.Telemetry, prometheus.DefaultRegisterer)
	llmProvider, err := core.NewLLMProvider(cfg.LLM)
	if err != nil {
		return err
	}

	templates, err := st.ListTemplates(ctx)
	if err != nil {
		return err
	}
	templateIndex, err := search.NewTemplateIndex(templates)
	if err != nil {
		return err
	}
	backends := []search.Backend{
		&search.StatuteBackend{Store: st},
		&search.PrecedentBackend{Store: st},
		templateIndex,
	}
	if cfg.Search.ExternalEnabled && cfg.Search.ExternalAPIKey != "" {
		backends = append(backends, search.NewExternalBackend(cfg.Search.ExternalAPIKey, cfg.Search.ExternalBaseURL, cfg.Search.Timeout))
	}
	coordinator := search.NewCoordinator(backends, cfg.Search.Timeout, nil)

	manager := conversation.NewManager(cfg.Pipeline.MaxTurns, cfg.Pipeline.IdleTTL, nil)
	defer manager.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Host + ":" + cfg.Storage.Redis.Port,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	admin := &AdminHandler{Config: cfg, Redis: rdb}

	secret := cfg.Server.JWTSecret
	if secret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}
	auth := &AuthHandler{Store: st, Secret: []byte(secret)}

	api := e.Group("/api")
	auth.Register(api.Group("/auth"))

	chat := &ChatHandler{
		Config:      cfg,
		Admin:       admin,
		Provider:    llmProvider,
		Coordinator: coordinator,
		Manager:     manager,
		Store:       st,
		Telemetry:   tele,
		Logger:      log.New(log.Writer(), "[CHAT] ", log.LstdFlags),
	}
	chat.Register(api)

	adminGroup := api.Group("/admin")
	adminGroup.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, auth.Secret) })
	admin.Register(adminGroup)

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":8080"
	}
	return e.Start(addr)
}
