package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// EventWorker drains proctoring reports into the attempt_events audit table.
// Counters on the attempt are already authoritative; this is history only.
type EventWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewEventWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *EventWorker {
	return &EventWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "event_worker").Logger(),
	}
}

func (w *EventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("EventWorker started")

	buffer := make([]*model.ProctorEvent, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistProctorEventsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		ev, err := decodeEvent(result[1])
		if err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed event")
			continue
		}

		buffer = append(buffer, ev)
	}
}

// decodeEvent parses and checks one queued event. Malformed input cannot be
// retried and is dropped by the caller.
func decodeEvent(raw string) (*model.ProctorEvent, error) {
	var ev model.ProctorEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(ev.AttemptID); err != nil {
		return nil, fmt.Errorf("attempt_id: %w", err)
	}
	if _, err := uuid.Parse(ev.ExamID); err != nil {
		return nil, fmt.Errorf("exam_id: %w", err)
	}
	if ev.Type != model.ProctorEventTabSwitch && ev.Type != model.ProctorEventFullscreenExit {
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return &ev, nil
}

func eventRow(ev *model.ProctorEvent) []interface{} {
	return []interface{}{
		uuid.MustParse(ev.AttemptID),
		uuid.MustParse(ev.ExamID),
		ev.StudentID,
		string(ev.Type),
		time.UnixMilli(ev.RecordedAt).UTC(),
	}
}

var eventColumns = []string{"attempt_id", "exam_id", "student_id", "event_type", "recorded_at"}

// flushSafe attempts bulk insert, then row-by-row insert, then requeue.
func (w *EventWorker) flushSafe(ctx context.Context, batch []*model.ProctorEvent) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *EventWorker) bulkInsert(ctx context.Context, batch []*model.ProctorEvent) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, ev := range batch {
		rows = append(rows, eventRow(ev))
	}

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"attempt_events"},
		eventColumns,
		pgx.CopyFromRows(rows),
	)
	return err
}

func (w *EventWorker) fallbackInsert(ctx context.Context, batch []*model.ProctorEvent) {
	requeueList := make([]*model.ProctorEvent, 0)

	for _, ev := range batch {
		_, err := w.pool.Exec(ctx,
			`INSERT INTO attempt_events (attempt_id, exam_id, student_id, event_type, recorded_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			eventRow(ev)...,
		)
		if err == nil {
			continue
		}
		if permanentInsertError(err) {
			w.log.Error().Err(err).
				Str("attempt_id", ev.AttemptID).
				Str("type", string(ev.Type)).
				Msg("Dropping proctor event the database will never accept")
			continue
		}
		w.log.Error().Err(err).Str("attempt_id", ev.AttemptID).Msg("Insert failed, requeueing")
		requeueList = append(requeueList, ev)
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

// permanentInsertError reports whether retrying the insert cannot succeed:
// data exceptions (class 22) and integrity violations (class 23), such as an
// event whose attempt was deleted by a reset.
func permanentInsertError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "22", "23":
		return true
	}
	return false
}

func (w *EventWorker) requeue(ctx context.Context, items []*model.ProctorEvent) {
	pipe := w.rdb.Pipeline()
	for _, ev := range items {
		data, _ := json.Marshal(ev)
		pipe.RPush(ctx, config.WorkerKey.PersistProctorEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("Failed to requeue proctor events, audit rows lost")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// back off so a down database is not hammered
	time.Sleep(2 * time.Second)
}

func (w *EventWorker) shutdown(buffer []*model.ProctorEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
