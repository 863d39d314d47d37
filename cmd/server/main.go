package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/autoall/lacedore-verifier/internal/business/verify"
	"github.com/autoall/lacedore-verifier/internal/platform/config"
	firestoreclient "github.com/autoall/lacedore-verifier/internal/platform/firestore"
	apirouter "github.com/autoall/lacedore-verifier/internal/platform/http"
	"github.com/autoall/lacedore-verifier/internal/platform/lacedore"
	"github.com/autoall/lacedore-verifier/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load(".env.local", ".env")

	cfg, err := config.Load()
	if err != nil {
		bootLog := config.NewLogger("info", false)
		bootLog.Fatal().Err(err).Msg("config load")
	}
	log := config.NewLogger(cfg.LogLevel, false)

	gin.SetMode(cfg.GinMode)

	firestoreClient, credsSource, err := firestoreclient.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("firestore init")
	}
	defer firestoreClient.Close()

	if err := firestoreclient.Ping(ctx, firestoreClient); err != nil {
		log.Fatal().Err(err).Msg("firestore ping")
	}
	log.Info().
		Str("project", cfg.FirebaseProjectID).
		Str("credentials", credsSource).
		Msg("connected to Firestore")

	settingsRepo := repository.NewSettingsRepository(firestoreClient)
	runRepo := repository.NewRunRepository(firestoreClient)

	client := lacedore.New(&http.Client{Timeout: cfg.HTTPTimeout}, lacedore.Config{
		BaseURL:      cfg.LacedoreBaseURL,
		APIKey:       cfg.LacedoreAPIKey,
		MaxRetries:   cfg.RetryAttempts,
		RetryBackoff: cfg.RetryBackoff,
	}, log)

	verifier := verify.NewVerifier(client, settingsRepo, verify.Options{
		ChunkSize:       cfg.ChunkSize,
		ChunkPause:      cfg.ChunkPause,
		SubmitDelay:     cfg.SubmitDelay,
		PollBase:        cfg.PollBase,
		PollIncrement:   cfg.PollIncrement,
		PollMax:         cfg.PollMax,
		PollMaxAttempts: cfg.PollMaxAttempts,
	}, log)
	service := verify.NewService(verifier, runRepo, log)

	router := apirouter.NewRouter(verifier, service, runRepo, settingsRepo, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()
	log.Info().Str("port", cfg.Port).Msg("server listening")

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	log.Info().Msg("server exited")
}
