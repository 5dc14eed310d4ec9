package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/ranking"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// ExamSource supplies read-only exam snapshots.
type ExamSource interface {
	GetSnapshot(ctx context.Context, examID uuid.UUID) (*model.ExamSnapshot, error)
}

// AttemptStore is the durable home of attempts. Mutations go through WithTx so
// that a single attempt is never read and written by two operations at once.
type AttemptStore interface {
	WithTx(ctx context.Context, fn func(tx AttemptTx) error) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	ListByStudent(ctx context.Context, studentID, limit, offset int) ([]model.Attempt, int, error)
}

// AttemptTx is the set of operations available inside one transaction.
type AttemptTx interface {
	// LockStudentExam serializes attempt creation for one (exam, student) pair.
	LockStudentExam(ctx context.Context, examID uuid.UUID, studentID int) error
	// LockExamRanking serializes rank recomputation for one exam.
	LockExamRanking(ctx context.Context, examID uuid.UUID) error

	CountByStudentExam(ctx context.Context, examID uuid.UUID, studentID int) (int, error)
	FindInProgress(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Attempt, error)

	Insert(ctx context.Context, a *model.Attempt) error
	RotateCredential(ctx context.Context, id uuid.UUID, jti string) error
	SaveProgress(ctx context.Context, a *model.Attempt) error
	Finalize(ctx context.Context, a *model.Attempt) error

	ListFinalized(ctx context.Context, examID uuid.UUID) ([]ranking.Entry, error)
	AssignRanks(ctx context.Context, examID uuid.UUID, ranks []ranking.Assignment) error
}

// Queue hands work to the background workers.
type Queue interface {
	EnqueueRankRecompute(ctx context.Context, examID uuid.UUID) error
	EnqueueProctorEvent(ctx context.Context, ev model.ProctorEvent) error
}
