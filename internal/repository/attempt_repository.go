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
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/ranking"
)

const attemptColumns = `id, exam_id, student_id, question_order, option_order, answers,
	status, started_at, submitted_at, server_deadline, time_left_seconds,
	total_marks, marks_obtained, percentage, is_passed, rank,
	correct_count, incorrect_count, skipped_count,
	tab_switch_count, fullscreen_exit_count, flagged, flag_reason,
	session_jti, ip_address, device_info, created_at, updated_at`

// AttemptRepository persists attempts in PostgreSQL.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// WithTx runs fn inside a transaction, committing on nil and rolling back otherwise.
func (r *AttemptRepository) WithTx(ctx context.Context, fn func(tx AttemptTx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&attemptTx{tx: tx})
	})
}

// GetByID retrieves an attempt without locking it.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id)
	return scanAttempt(row)
}

// ListByStudent returns a page of a student's attempts, newest first, with the total count.
func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID, limit, offset int) ([]model.Attempt, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE student_id = $1`, studentID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE student_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, studentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	attempts := make([]model.Attempt, 0, limit)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, 0, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, total, rows.Err()
}

// ----------------------------------------------------------------
// Transaction-scoped operations
// ----------------------------------------------------------------

type attemptTx struct {
	tx pgx.Tx
}

func (t *attemptTx) LockStudentExam(ctx context.Context, examID uuid.UUID, studentID int) error {
	return t.advisoryLock(ctx, config.CacheKey.StudentExamLockKey(examID.String(), studentID))
}

func (t *attemptTx) LockExamRanking(ctx context.Context, examID uuid.UUID) error {
	return t.advisoryLock(ctx, config.CacheKey.ExamRankLockKey(examID.String()))
}

// advisoryLock holds a transaction-scoped lock released on commit or rollback.
func (t *attemptTx) advisoryLock(ctx context.Context, key string) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("advisory lock %s: %w", key, err)
	}
	return nil
}

func (t *attemptTx) CountByStudentExam(ctx context.Context, examID uuid.UUID, studentID int) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID,
	).Scan(&n)
	return n, err
}

func (t *attemptTx) FindInProgress(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE exam_id = $1 AND student_id = $2 AND status = $3
		 FOR UPDATE`,
		examID, studentID, model.AttemptStatusInProgress)
	return scanAttempt(row)
}

func (t *attemptTx) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = $1 FOR UPDATE`, id)
	return scanAttempt(row)
}

func (t *attemptTx) Insert(ctx context.Context, a *model.Attempt) error {
	qOrder, oOrder, answers, err := encodeAttemptJSON(a)
	if err != nil {
		return err
	}

	return t.tx.QueryRow(ctx,
		`INSERT INTO attempts (
			id, exam_id, student_id, question_order, option_order, answers,
			status, started_at, server_deadline, time_left_seconds, total_marks,
			session_jti, ip_address, device_info
		 ) VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6::jsonb, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING created_at, updated_at`,
		a.ID, a.ExamID, a.StudentID, qOrder, oOrder, answers,
		a.Status, a.StartedAt, a.ServerDeadline, a.TimeLeftSeconds, a.TotalMarks,
		a.SessionJTI, a.IPAddress, a.DeviceInfo,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (t *attemptTx) RotateCredential(ctx context.Context, id uuid.UUID, jti string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE attempts SET session_jti = $1, updated_at = NOW() WHERE id = $2`, jti, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveProgress writes the fields that may change while an attempt is in progress.
func (t *attemptTx) SaveProgress(ctx context.Context, a *model.Attempt) error {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}

	_, err = t.tx.Exec(ctx,
		`UPDATE attempts
		 SET answers = $1::jsonb,
		     time_left_seconds = $2,
		     tab_switch_count = $3,
		     fullscreen_exit_count = $4,
		     updated_at = NOW()
		 WHERE id = $5 AND status = $6`,
		string(answers), a.TimeLeftSeconds, a.TabSwitchCount, a.FullscreenExitCount,
		a.ID, model.AttemptStatusInProgress)
	return err
}

// Finalize persists the graded result and terminal status in one statement.
func (t *attemptTx) Finalize(ctx context.Context, a *model.Attempt) error {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}

	tag, err := t.tx.Exec(ctx,
		`UPDATE attempts
		 SET answers = $1::jsonb,
		     status = $2,
		     submitted_at = $3,
		     time_left_seconds = $4,
		     total_marks = $5,
		     marks_obtained = $6,
		     percentage = $7,
		     is_passed = $8,
		     correct_count = $9,
		     incorrect_count = $10,
		     skipped_count = $11,
		     tab_switch_count = $12,
		     fullscreen_exit_count = $13,
		     flagged = $14,
		     flag_reason = $15,
		     updated_at = NOW()
		 WHERE id = $16 AND status = $17`,
		string(answers), a.Status, a.SubmittedAt, a.TimeLeftSeconds,
		a.TotalMarks, a.MarksObtained, a.Percentage, a.IsPassed,
		a.CorrectCount, a.IncorrectCount, a.SkippedCount,
		a.TabSwitchCount, a.FullscreenExitCount, a.Flagged, a.FlagReason,
		a.ID, model.AttemptStatusInProgress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *attemptTx) ListFinalized(ctx context.Context, examID uuid.UUID) ([]ranking.Entry, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, marks_obtained, submitted_at
		 FROM attempts
		 WHERE exam_id = $1 AND status IN ($2, $3)`,
		examID, model.AttemptStatusSubmitted, model.AttemptStatusAutoSubmitted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ranking.Entry
	for rows.Next() {
		var e ranking.Entry
		if err := rows.Scan(&e.AttemptID, &e.MarksObtained, &e.SubmittedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AssignRanks bulk-updates ranks with UNNEST, touching only rows whose rank changed.
func (t *attemptTx) AssignRanks(ctx context.Context, examID uuid.UUID, ranks []ranking.Assignment) error {
	if len(ranks) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(ranks))
	values := make([]int, len(ranks))
	for i, r := range ranks {
		ids[i] = r.AttemptID
		values[i] = r.Rank
	}

	_, err := t.tx.Exec(ctx,
		`UPDATE attempts AS a
		 SET rank = t.rank
		 FROM UNNEST($1::uuid[], $2::int[]) AS t (id, rank)
		 WHERE a.id = t.id
		   AND a.exam_id = $3
		   AND a.rank IS DISTINCT FROM t.rank`,
		ids, values, examID)
	return err
}

// ----------------------------------------------------------------
// Row mapping
// ----------------------------------------------------------------

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	var (
		a                       model.Attempt
		qOrder, oOrder, answers []byte
		submittedAt             *time.Time
	)

	err := row.Scan(
		&a.ID, &a.ExamID, &a.StudentID, &qOrder, &oOrder, &answers,
		&a.Status, &a.StartedAt, &submittedAt, &a.ServerDeadline, &a.TimeLeftSeconds,
		&a.TotalMarks, &a.MarksObtained, &a.Percentage, &a.IsPassed, &a.Rank,
		&a.CorrectCount, &a.IncorrectCount, &a.SkippedCount,
		&a.TabSwitchCount, &a.FullscreenExitCount, &a.Flagged, &a.FlagReason,
		&a.SessionJTI, &a.IPAddress, &a.DeviceInfo, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("attempt: %w", ErrNotFound)
		}
		return nil, err
	}
	a.SubmittedAt = submittedAt

	if err := json.Unmarshal(qOrder, &a.QuestionOrder); err != nil {
		return nil, fmt.Errorf("decode question_order: %w", err)
	}
	if err := json.Unmarshal(oOrder, &a.OptionOrder); err != nil {
		return nil, fmt.Errorf("decode option_order: %w", err)
	}
	if err := json.Unmarshal(answers, &a.Answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	if a.Answers == nil {
		a.Answers = map[uuid.UUID]model.Answer{}
	}
	return &a, nil
}

func encodeAttemptJSON(a *model.Attempt) (qOrder, oOrder, answers string, err error) {
	q, err := json.Marshal(a.QuestionOrder)
	if err != nil {
		return "", "", "", fmt.Errorf("encode question_order: %w", err)
	}
	o, err := json.Marshal(a.OptionOrder)
	if err != nil {
		return "", "", "", fmt.Errorf("encode option_order: %w", err)
	}
	ans, err := json.Marshal(a.Answers)
	if err != nil {
		return "", "", "", fmt.Errorf("encode answers: %w", err)
	}
	return string(q), string(o), string(ans), nil
}
