package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/database"
	"github.com/stemsi/exstem-attempt/internal/handler"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/router"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
	"github.com/stemsi/exstem-attempt/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Attempt service stopped")
	}
	log.Info().Msg("Shutdown complete")
}

// app holds the wired object graph of the attempt service.
type app struct {
	ranking  *service.RankingService
	exams    *repository.ExamRepository
	handlers *router.Handlers
	auth     *service.AuthService
}

func wire(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *app {
	attempts := repository.NewAttemptRepository(pool)
	exams := repository.NewExamRepository(pool, rdb, cfg.ExamCacheTTL, log)
	queue := repository.NewQueueRepository(rdb)

	creds := service.NewCredentialService(cfg)
	ranking := service.NewRankingService(attempts, queue, log)
	limits := service.AntiCheatLimits{TabSwitches: cfg.TabSwitchLimit, FullscreenExits: cfg.FullscreenExitLimit}

	submissions := service.NewSubmissionService(attempts, exams, creds, ranking, limits, log)
	sessions := service.NewSessionService(attempts, exams, creds, log)
	answers := service.NewAnswerService(attempts, exams, creds, submissions, log)
	proctor := service.NewProctorService(attempts, exams, creds, submissions, queue, log)
	results := service.NewResultService(attempts, exams, log)

	return &app{
		ranking: ranking,
		exams:   exams,
		auth:    service.NewAuthService(cfg, rdb),
		handlers: &router.Handlers{
			Attempt: handler.NewAttemptHandler(sessions, answers, submissions, proctor, results, log),
			WS:      handler.NewWSHandler(answers, submissions, proctor, log, cfg.AllowedOrigins),
		},
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Bool("single_login", cfg.EnforceSingleLogin).
		Msg("Starting ExStem attempt service")

	validator.Setup()
	if cfg.MetricsEnabled {
		metrics.Init()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rdb.Close()

	a := wire(cfg, pool, rdb, log)

	// Workers get their own context so they outlive the HTTP drain and flush
	// whatever the last requests queued.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	for _, w := range []interface{ Start(context.Context) }{
		worker.NewEventWorker(pool, rdb, log),
		worker.NewRankWorker(rdb, a.ranking, repository.NewQueueRepository(rdb), log),
	} {
		workers.Add(1)
		go func() {
			defer workers.Done()
			w.Start(workerCtx)
		}()
	}
	defer func() {
		stopWorkers()
		workers.Wait()
	}()

	if n, err := a.exams.PrewarmOpen(ctx, time.Now()); err != nil {
		log.Warn().Err(err).Msg("Exam snapshot prewarm failed")
	} else {
		log.Info().Int("exams", n).Msg("Exam snapshots prewarmed")
	}

	reportLimiter := middleware.NewRateLimiter(cfg.ReportRatePerMinute, time.Minute)
	defer reportLimiter.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router.SetupRouter(a.auth, a.handlers, reportLimiter, cfg, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	return nil
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
