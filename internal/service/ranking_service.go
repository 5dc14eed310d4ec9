package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/ranking"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

// RankingService recomputes the strict ranking of finalized attempts per exam.
type RankingService struct {
	store repository.AttemptStore
	queue repository.Queue
	log   zerolog.Logger
}

// NewRankingService creates a new RankingService.
func NewRankingService(store repository.AttemptStore, queue repository.Queue, log zerolog.Logger) *RankingService {
	return &RankingService{
		store: store,
		queue: queue,
		log:   log.With().Str("component", "ranking_service").Logger(),
	}
}

// Recompute re-ranks every finalized attempt of one exam in a single
// transaction. Recomputations of the same exam are serialized by an exam lock.
func (s *RankingService) Recompute(ctx context.Context, examID uuid.UUID) (int, error) {
	start := time.Now()
	var n int

	err := s.store.WithTx(ctx, func(tx repository.AttemptTx) error {
		if err := tx.LockExamRanking(ctx, examID); err != nil {
			return err
		}
		entries, err := tx.ListFinalized(ctx, examID)
		if err != nil {
			return fmt.Errorf("list finalized: %w", err)
		}
		n = len(entries)
		if err := tx.AssignRanks(ctx, examID, ranking.Order(entries)); err != nil {
			return fmt.Errorf("assign ranks: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.RankRecomputeDuration.Observe(time.Since(start).Seconds())
	return n, nil
}

// RecomputeOrEnqueue recomputes inline and hands the exam to the rank worker
// when that fails. A finalized attempt is never rolled back over ranking.
func (s *RankingService) RecomputeOrEnqueue(ctx context.Context, examID uuid.UUID) {
	log := logger.FromContext(ctx, s.log)

	n, err := s.Recompute(ctx, examID)
	if err == nil {
		log.Debug().Str("exam_id", examID.String()).Int("ranked", n).Msg("Ranks recomputed")
		return
	}

	metrics.RankRecomputeFailures.Inc()
	log.Error().Err(err).Str("exam_id", examID.String()).Msg("Rank recompute failed, queueing retry")

	if qErr := s.queue.EnqueueRankRecompute(context.WithoutCancel(ctx), examID); qErr != nil {
		log.Error().Err(qErr).Str("exam_id", examID.String()).Msg("Failed to queue rank recompute")
	}
}
