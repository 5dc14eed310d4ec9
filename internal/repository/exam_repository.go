package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ExamRepository reads exam snapshots owned by the content service.
// Snapshots are cached in Redis as JSON; PostgreSQL stays authoritative.
type ExamRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	ttl  time.Duration
	log  zerolog.Logger
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *ExamRepository {
	return &ExamRepository{
		pool: pool,
		rdb:  rdb,
		ttl:  ttl,
		log:  log.With().Str("component", "exam_repository").Logger(),
	}
}

// GetSnapshot returns the exam with its questions and options in natural order.
func (r *ExamRepository) GetSnapshot(ctx context.Context, examID uuid.UUID) (*model.ExamSnapshot, error) {
	key := config.CacheKey.ExamSnapshotKey(examID.String())

	data, err := r.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var snap model.ExamSnapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			return &snap, nil
		}
		r.log.Warn().Str("exam_id", examID.String()).Msg("Corrupt snapshot cache entry, reloading")
	} else if !errors.Is(err, redis.Nil) {
		r.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Snapshot cache read failed")
	}

	snap, err := r.load(ctx, examID)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(snap); err == nil {
		if err := r.rdb.Set(ctx, key, raw, r.ttl).Err(); err != nil {
			r.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Snapshot cache write failed")
		}
	}
	return snap, nil
}

// Invalidate drops the cached snapshot so the next read hits PostgreSQL.
func (r *ExamRepository) Invalidate(ctx context.Context, examID uuid.UUID) error {
	return r.rdb.Del(ctx, config.CacheKey.ExamSnapshotKey(examID.String())).Err()
}

// PrewarmOpen caches every published, active exam that has not closed yet so
// the first wave of starts does not stampede PostgreSQL.
func (r *ExamRepository) PrewarmOpen(ctx context.Context, now time.Time) (int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM exams
		 WHERE is_published AND is_active AND end_time > $1`, now)
	if err != nil {
		return 0, fmt.Errorf("list open exams: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return 0, fmt.Errorf("scan open exams: %w", err)
	}

	warmed := 0
	for _, id := range ids {
		snap, err := r.load(ctx, id)
		if err != nil {
			r.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Prewarm load failed")
			continue
		}
		raw, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		if err := r.rdb.Set(ctx, config.CacheKey.ExamSnapshotKey(id.String()), raw, r.ttl).Err(); err != nil {
			return warmed, fmt.Errorf("cache exam %s: %w", id, err)
		}
		warmed++
	}
	return warmed, nil
}

func (r *ExamRepository) load(ctx context.Context, examID uuid.UUID) (*model.ExamSnapshot, error) {
	e := &model.ExamSnapshot{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, is_published, is_active, start_time, end_time,
		        duration_minutes, max_attempts, shuffle_questions, shuffle_options,
		        negative_marking, negative_mark_value, passing_marks, total_marks,
		        show_result_immediately
		 FROM exams WHERE id = $1`, examID,
	).Scan(&e.ID, &e.Title, &e.IsPublished, &e.IsActive, &e.StartTime, &e.EndTime,
		&e.DurationMinutes, &e.MaxAttempts, &e.ShuffleQuestions, &e.ShuffleOptions,
		&e.NegativeMarking, &e.DefaultNegativeMarkValue, &e.PassingMarks, &e.TotalMarks,
		&e.ShowResultImmediately)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("exam: %w", ErrNotFound)
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.text, q.type, q.marks, q.negative_mark, q.explanation,
		        o.id, o.text, o.is_correct
		 FROM questions q
		 LEFT JOIN question_options o ON o.question_id = q.id
		 WHERE q.exam_id = $1
		 ORDER BY q.position ASC, o.position ASC`, examID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var (
			q        model.Question
			optID    *uuid.UUID
			optText  *string
			optRight *bool
		)
		if err := rows.Scan(&q.ID, &q.Text, &q.Type, &q.Marks, &q.NegativeMark, &q.Explanation,
			&optID, &optText, &optRight); err != nil {
			return nil, err
		}

		i, seen := index[q.ID]
		if !seen {
			i = len(e.Questions)
			index[q.ID] = i
			e.Questions = append(e.Questions, q)
		}
		if optID != nil {
			e.Questions[i].Options = append(e.Questions[i].Options, model.Option{
				ID:        *optID,
				Text:      *optText,
				IsCorrect: *optRight,
			})
		}
	}
	return e, rows.Err()
}
