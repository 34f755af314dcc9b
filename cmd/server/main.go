package main // Entry point package

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/envisionapp/envision-api/internal/canva"
	"github.com/envisionapp/envision-api/internal/config"
	"github.com/envisionapp/envision-api/internal/database"
	"github.com/envisionapp/envision-api/internal/filestore"
	"github.com/envisionapp/envision-api/internal/handler"
	"github.com/envisionapp/envision-api/internal/queue"
	"github.com/envisionapp/envision-api/internal/repository"
	"github.com/envisionapp/envision-api/internal/router"
	"github.com/envisionapp/envision-api/internal/token"
)

func main() {
	// .env is a development convenience; in production the variables
	// come from the orchestrator.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	cfg := config.Load()
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Storage: MySQL when configured, per-key JSON files otherwise.
	// The file store covers identity and the OAuth flow; sync and gift
	// codes need transactions and stay disabled without a database.
	var (
		sqlDB *sql.DB
		files *filestore.Store
	)
	if cfg.DBHost != "" {
		var err error
		sqlDB, err = database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		defer sqlDB.Close()
		if err := database.EnsureSchema(context.Background(), sqlDB); err != nil {
			log.Fatal().Err(err).Msg("schema bootstrap failed")
		}
	} else {
		var err error
		files, err = filestore.New(cfg.DataDir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("file store init failed")
		}
		log.Warn().Str("dir", cfg.DataDir).Msg("running on file store, sync and gift codes disabled")
	}

	users := repository.NewUserRepo(sqlDB, files)
	states := repository.NewOAuthStateRepo(sqlDB, files)
	codes := repository.NewGiftCodeRepo(sqlDB)
	sync := repository.NewSyncRepo(sqlDB)

	redirectURL := cfg.PublicBaseURL + "/v1/auth/canva/callback"
	client := canva.New(cfg.CanvaClientID, cfg.CanvaClientSecret, redirectURL, cfg.CanvaAPIBase)
	tokens := token.NewManager(client)

	h := router.Handlers{
		Auth:   handler.NewAuthHandler(users, sync),
		OAuth:  handler.NewOAuthHandler(users, states, client),
		Sync:   handler.NewSyncHandler(sync, cfg.RetainDays),
		Gift:   handler.NewGiftHandler(codes, users),
		Export: handler.NewExportHandler(users, client, tokens),
		Admin:  handler.NewAdminHandler(codes, cfg.JWTSecret, cfg.AdminEmail, cfg.AdminPasswordHash, cfg.AdminTTLMin),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	rdb := config.NewRedisClient()
	router.RegisterRoutes(e, h, users, config.LoadRateLimitConfig(), rdb, cfg.JWTSecret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.OAuth.SweepStatesLoop(ctx, 5*time.Minute)
	go func() {
		if err := queue.StartSyncConsumer(queue.LogNotifier{}); err != nil {
			log.Error().Err(err).Msg("sync consumer stopped")
		}
	}()

	addr := ":" + cfg.Port
	log.Info().Str("addr", addr).Str("env", cfg.Env).Msg("listening")
	// Error, not Fatal: Fatal would os.Exit past the deferred pool close.
	if err := e.Start(addr); err != nil {
		log.Error().Err(err).Msg("server stopped")
	}
}
