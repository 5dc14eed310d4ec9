package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

const (
	RankBatchSize    = 20
	RankBatchTimeout = 2 * time.Second
	RankPollTimeout  = 1 * time.Second
)

// Ranker recomputes ranks for one exam.
type Ranker interface {
	Recompute(ctx context.Context, examID uuid.UUID) (int, error)
}

// RankWorker retries rank recomputations that failed inline after a submission.
// Duplicate exam IDs within a batch collapse into a single recomputation.
type RankWorker struct {
	rdb    *redis.Client
	ranker Ranker
	queue  repository.Queue
	log    zerolog.Logger
}

func NewRankWorker(rdb *redis.Client, ranker Ranker, queue repository.Queue, log zerolog.Logger) *RankWorker {
	return &RankWorker{
		rdb:    rdb,
		ranker: ranker,
		queue:  queue,
		log:    log.With().Str("component", "rank_worker").Logger(),
	}
}

func (w *RankWorker) Start(ctx context.Context) {
	w.log.Info().Msg("RankWorker started")

	batch := make([]string, 0, RankBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= RankBatchSize || time.Since(lastFlush) >= RankBatchTimeout) {
			w.process(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.process(shutdownCtx, batch)
			cancel()
			return

		default:
			item, err := w.rdb.BLPop(ctx, RankPollTimeout, config.WorkerKey.RankRecomputeQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
					time.Sleep(time.Second)
				}
				continue
			}

			if len(item) < 2 {
				continue
			}
			batch = append(batch, item[1])
		}
	}
}

// process recomputes each distinct exam once and requeues the ones that fail.
func (w *RankWorker) process(ctx context.Context, batch []string) (done, failed int) {
	seen := make(map[uuid.UUID]struct{}, len(batch))

	for _, raw := range batch {
		examID, err := uuid.Parse(raw)
		if err != nil {
			w.log.Error().Str("exam_id", raw).Msg("Dropping rank job with invalid UUID")
			continue
		}
		if _, dup := seen[examID]; dup {
			continue
		}
		seen[examID] = struct{}{}

		n, err := w.ranker.Recompute(ctx, examID)
		if err != nil {
			failed++
			w.log.Error().Err(err).Str("exam_id", raw).Msg("Rank recompute failed, requeueing")
			if qErr := w.queue.EnqueueRankRecompute(context.WithoutCancel(ctx), examID); qErr != nil {
				w.log.Error().Err(qErr).Str("exam_id", raw).Msg("Failed to requeue rank job")
			}
			continue
		}

		done++
		w.log.Info().Str("exam_id", raw).Int("ranked", n).Msg("Ranks recomputed")
	}
	return done, failed
}
