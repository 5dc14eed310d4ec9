package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// QueueRepository pushes work items onto the Redis lists drained by the workers.
type QueueRepository struct {
	rdb *redis.Client
}

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(rdb *redis.Client) *QueueRepository {
	return &QueueRepository{rdb: rdb}
}

// EnqueueRankRecompute asks the rank worker to recompute ranks for an exam.
func (r *QueueRepository) EnqueueRankRecompute(ctx context.Context, examID uuid.UUID) error {
	return r.rdb.RPush(ctx, config.WorkerKey.RankRecomputeQueue, examID.String()).Err()
}

// EnqueueProctorEvent queues a proctoring report for the audit table.
func (r *QueueRepository) EnqueueProctorEvent(ctx context.Context, ev model.ProctorEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.rdb.RPush(ctx, config.WorkerKey.PersistProctorEventsQueue, raw).Err()
}
