package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/calendar-sync-service/internal/crypto"
	"github.com/teresa-solution/calendar-sync-service/internal/gcal"
	"github.com/teresa-solution/calendar-sync-service/internal/httpapi"
	"github.com/teresa-solution/calendar-sync-service/internal/model"
	"github.com/teresa-solution/calendar-sync-service/internal/monitoring"
	"github.com/teresa-solution/calendar-sync-service/internal/service"
	"github.com/teresa-solution/calendar-sync-service/internal/store"
)

const (
	drainJobLimit     = 25
	drainAccountLimit = 10
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		port      = flag.Int("port", 8080, "HTTP listen port")
		dbHost    = flag.String("db-host", "localhost", "Database host")
		dbPort    = flag.Int("db-port", 5432, "Database port")
		dbUser    = flag.String("db-user", "admin", "Database user")
		dbPass    = flag.String("db-pass", "securepassword", "Database password")
		dbName    = flag.String("db-name", "calendar_sync", "Database name")
		redisAddr = flag.String("redis-addr", "localhost:6379", "Redis address")

		googleClientID = flag.String("google-client-id", "", "Google OAuth client id")
		googleRedirect = flag.String("google-redirect-uri", "http://localhost:8080/api/v1/google/callback", "Google OAuth redirect URI")
	)
	flag.Parse()

	encryptionKey := os.Getenv("TOKEN_ENCRYPTION_KEY")
	if encryptionKey == "" {
		log.Fatal().Msg("TOKEN_ENCRYPTION_KEY is required")
	}
	googleClientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")

	cipher, err := crypto.New([]byte(encryptionKey))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid token encryption key")
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		*dbHost, *dbPort, *dbUser, *dbPass, *dbName)

	db, err := store.Open(dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: *redisAddr})
	defer redisClient.Close()

	monitoring.InitMetrics()

	settingsRepo := store.NewSettingsRepository(db, redisClient)
	eventRepo := store.NewEventRepository(db)
	holdRepo := store.NewHoldRepository(db)
	timeOffRepo := store.NewTimeOffRepository(db)
	accountRepo := store.NewAccountRepository(db, cipher)
	jobRepo := store.NewSyncJobRepository(db)
	alertRepo := store.NewAlertRepository(db)

	gateway := gcal.New(*googleClientID, googleClientSecret, *googleRedirect)

	finder := service.NewBlockedFinder(eventRepo, holdRepo, timeOffRepo)
	scheduler := service.NewScheduler(settingsRepo, eventRepo, jobRepo, accountRepo, finder)
	conflicts := service.NewConflictDetector(settingsRepo, finder)
	holds := service.NewHoldService(holdRepo, scheduler)
	accounts := service.NewAccountService(accountRepo, gateway, gateway.AuthCodeURL)
	processor := service.NewSyncProcessor(jobRepo, eventRepo, accountRepo, gateway)
	health := service.NewHealthService(jobRepo, alertRepo)

	scheduledJobs := cron.New()
	scheduledJobs.AddFunc("* * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 55*time.Second)
		defer cancel()
		if _, err := processor.RunCycle(ctx, model.RunSourceCron, drainJobLimit, drainAccountLimit); err != nil {
			log.Error().Err(err).Msg("Drain cycle failed")
		}
	})
	scheduledJobs.AddFunc("*/5 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := processor.SweepStuck(ctx); err != nil {
			log.Error().Err(err).Msg("Stuck job sweep failed")
		}
	})
	scheduledJobs.AddFunc("0 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := health.Evaluate(ctx); err != nil {
			log.Error().Err(err).Msg("Health evaluation failed")
		}
	})
	scheduledJobs.Start()

	server := httpapi.NewServer(scheduler, conflicts, holds, accounts, processor, health, settingsRepo, timeOffRepo)
	e := server.Echo()

	go func() {
		log.Info().Msgf("Starting Calendar Sync Service on port %d", *port)
		if err := e.Start(fmt.Sprintf(":%d", *port)); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	scheduledJobs.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Forced shutdown")
	}
	log.Info().Msg("Server exiting")
}
