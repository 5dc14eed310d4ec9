package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/database"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/service"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "attemptctl",
		Short:        "Operations tool for the exam attempt service",
		SilenceUsage: true,
	}
	root.AddCommand(migrateCmd(), rerankCmd(), cacheCmd(), tokenCmd())
	return root
}

// ─── migrate ───────────────────────────────────────────────────────────

func migrateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect schema migrations",
	}
	cmd.PersistentFlags().StringVar(&dir, "path", "migrations", "Path to migration files")

	open := func() (*migrate.Migrate, error) {
		cfg := config.Load()
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is not set")
		}
		m, err := migrate.New("file://"+dir, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("initialize migrations: %w", err)
		}
		return m, nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := open()
				if err != nil {
					return err
				}
				defer m.Close()
				if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("up: %w", err)
				}
				cmd.Println("Migrated up successfully")
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := open()
				if err != nil {
					return err
				}
				defer m.Close()
				if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("down: %w", err)
				}
				cmd.Println("Migrated down successfully")
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := open()
				if err != nil {
					return err
				}
				defer m.Close()
				version, dirty, err := m.Version()
				if err != nil {
					return fmt.Errorf("version: %w", err)
				}
				cmd.Printf("Version: %d, Dirty: %t\n", version, dirty)
				return nil
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Mark the schema as being at version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version: %w", err)
				}
				m, err := open()
				if err != nil {
					return err
				}
				defer m.Close()
				if err := m.Force(v); err != nil {
					return fmt.Errorf("force: %w", err)
				}
				cmd.Printf("Forced version to %d\n", v)
				return nil
			},
		},
	)
	return cmd
}

// ─── rerank ────────────────────────────────────────────────────────────

func rerankCmd() *cobra.Command {
	var examFlag string

	cmd := &cobra.Command{
		Use:   "rerank",
		Short: "Recompute ranks for every finalized attempt of an exam",
		RunE: func(cmd *cobra.Command, _ []string) error {
			examID, err := uuid.Parse(examFlag)
			if err != nil {
				return fmt.Errorf("invalid --exam: %w", err)
			}

			cfg, log := setup()
			ctx := cmd.Context()

			pool, err := database.NewPostgresPool(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			// Recompute never enqueues, so no queue is needed here.
			ranking := service.NewRankingService(repository.NewAttemptRepository(pool), nil, log)
			n, err := ranking.Recompute(ctx, examID)
			if err != nil {
				return err
			}
			cmd.Printf("Ranked %d attempts\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&examFlag, "exam", "", "Exam ID (required)")
	_ = cmd.MarkFlagRequired("exam")
	return cmd
}

// ─── cache ─────────────────────────────────────────────────────────────

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached exam snapshots",
	}

	var examFlag string
	invalidate := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop one exam's cached snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			examID, err := uuid.Parse(examFlag)
			if err != nil {
				return fmt.Errorf("invalid --exam: %w", err)
			}

			cfg, log := setup()
			rdb, err := database.NewRedisClient(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer rdb.Close()

			exams := repository.NewExamRepository(nil, rdb, cfg.ExamCacheTTL, log)
			if err := exams.Invalidate(cmd.Context(), examID); err != nil {
				return fmt.Errorf("invalidate: %w", err)
			}
			cmd.Println("Snapshot cache cleared")
			return nil
		},
	}
	invalidate.Flags().StringVar(&examFlag, "exam", "", "Exam ID (required)")
	_ = invalidate.MarkFlagRequired("exam")

	warm := &cobra.Command{
		Use:   "warm",
		Short: "Cache every open exam",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log := setup()
			ctx := cmd.Context()

			pool, err := database.NewPostgresPool(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer pool.Close()
			rdb, err := database.NewRedisClient(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer rdb.Close()

			n, err := repository.NewExamRepository(pool, rdb, cfg.ExamCacheTTL, log).PrewarmOpen(ctx, time.Now())
			if err != nil {
				return err
			}
			cmd.Printf("Cached %d exams\n", n)
			return nil
		},
	}

	cmd.AddCommand(invalidate, warm)
	return cmd
}

// ─── token ─────────────────────────────────────────────────────────────

func tokenCmd() *cobra.Command {
	var (
		studentID int
		classID   int
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a student access token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if studentID <= 0 {
				return errors.New("--student must be positive")
			}
			cfg, _ := setup()
			tok, err := service.NewAuthService(cfg, nil).IssueStudentToken(studentID, classID, ttl)
			if err != nil {
				return err
			}
			cmd.Println(tok)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&studentID, "student", 0, "Student ID (required)")
	f.IntVar(&classID, "class", 0, "Class ID")
	f.DurationVar(&ttl, "ttl", 8*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("student")
	return cmd
}

func setup() (*config.Config, zerolog.Logger) {
	cfg := config.Load()
	return cfg, logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
}
