// Package memstore is an in-memory implementation of the repository
// interfaces, used by service and handler tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/ranking"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

// Store holds exams and attempts in maps. Transactions are serialized by mu
// and rolled back by restoring a copy of the attempt map. Exams sit behind
// their own lock so snapshot reads work inside a transaction.
type Store struct {
	examMu sync.RWMutex
	exams  map[uuid.UUID]*model.ExamSnapshot

	mu       sync.Mutex
	attempts map[uuid.UUID]*model.Attempt
	seq      time.Duration

	// FailAssignRanks, when set, is returned by every AssignRanks call.
	FailAssignRanks error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		exams:    make(map[uuid.UUID]*model.ExamSnapshot),
		attempts: make(map[uuid.UUID]*model.Attempt),
	}
}

// PutExam registers an exam snapshot.
func (s *Store) PutExam(e *model.ExamSnapshot) {
	s.examMu.Lock()
	defer s.examMu.Unlock()
	s.exams[e.ID] = e
}

// Attempts returns copies of every stored attempt for an (exam, student) pair.
func (s *Store) Attempts(examID uuid.UUID, studentID int) []*model.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Attempt
	for _, a := range s.attempts {
		if a.ExamID == examID && a.StudentID == studentID {
			out = append(out, a.Clone())
		}
	}
	return out
}

// Reset deletes every attempt for an (exam, student) pair, as an administrative reset would.
func (s *Store) Reset(examID uuid.UUID, studentID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.attempts {
		if a.ExamID == examID && a.StudentID == studentID {
			delete(s.attempts, id)
		}
	}
}

func (s *Store) GetSnapshot(_ context.Context, examID uuid.UUID) (*model.ExamSnapshot, error) {
	s.examMu.RLock()
	defer s.examMu.RUnlock()
	e, ok := s.exams[examID]
	if !ok {
		return nil, fmt.Errorf("exam: %w", repository.ErrNotFound)
	}
	return e, nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.AttemptTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := make(map[uuid.UUID]*model.Attempt, len(s.attempts))
	for id, a := range s.attempts {
		backup[id] = a.Clone()
	}

	if err := fn(&tx{s: s}); err != nil {
		s.attempts = backup
		return err
	}
	return nil
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, fmt.Errorf("attempt: %w", repository.ErrNotFound)
	}
	return a.Clone(), nil
}

func (s *Store) ListByStudent(_ context.Context, studentID, limit, offset int) ([]model.Attempt, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []model.Attempt
	for _, a := range s.attempts {
		if a.StudentID == studentID {
			all = append(all, *a.Clone())
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset >= total {
		return []model.Attempt{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// tx operates on the store directly; the caller already holds s.mu.
type tx struct {
	s *Store
}

func (t *tx) LockStudentExam(context.Context, uuid.UUID, int) error { return nil }
func (t *tx) LockExamRanking(context.Context, uuid.UUID) error      { return nil }

func (t *tx) CountByStudentExam(_ context.Context, examID uuid.UUID, studentID int) (int, error) {
	n := 0
	for _, a := range t.s.attempts {
		if a.ExamID == examID && a.StudentID == studentID {
			n++
		}
	}
	return n, nil
}

func (t *tx) FindInProgress(_ context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	for _, a := range t.s.attempts {
		if a.ExamID == examID && a.StudentID == studentID && a.Status == model.AttemptStatusInProgress {
			return a.Clone(), nil
		}
	}
	return nil, fmt.Errorf("attempt: %w", repository.ErrNotFound)
}

func (t *tx) GetForUpdate(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, ok := t.s.attempts[id]
	if !ok {
		return nil, fmt.Errorf("attempt: %w", repository.ErrNotFound)
	}
	return a.Clone(), nil
}

func (t *tx) Insert(_ context.Context, a *model.Attempt) error {
	for _, existing := range t.s.attempts {
		if existing.ExamID == a.ExamID && existing.StudentID == a.StudentID &&
			existing.Status == model.AttemptStatusInProgress {
			return fmt.Errorf("duplicate in-progress attempt for exam %s student %d", a.ExamID, a.StudentID)
		}
	}
	// Strictly increasing creation times keep history ordering stable.
	t.s.seq += time.Microsecond
	a.CreatedAt = a.StartedAt.Add(t.s.seq)
	a.UpdatedAt = a.CreatedAt
	t.s.attempts[a.ID] = a.Clone()
	return nil
}

func (t *tx) RotateCredential(_ context.Context, id uuid.UUID, jti string) error {
	a, ok := t.s.attempts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.SessionJTI = jti
	return nil
}

func (t *tx) SaveProgress(_ context.Context, a *model.Attempt) error {
	cur, ok := t.s.attempts[a.ID]
	if !ok || cur.Status != model.AttemptStatusInProgress {
		return nil
	}
	c := a.Clone()
	cur.Answers = c.Answers
	cur.TimeLeftSeconds = c.TimeLeftSeconds
	cur.TabSwitchCount = c.TabSwitchCount
	cur.FullscreenExitCount = c.FullscreenExitCount
	return nil
}

func (t *tx) Finalize(_ context.Context, a *model.Attempt) error {
	cur, ok := t.s.attempts[a.ID]
	if !ok || cur.Status != model.AttemptStatusInProgress {
		return repository.ErrNotFound
	}
	c := a.Clone()
	c.Rank = cur.Rank
	c.SessionJTI = cur.SessionJTI
	t.s.attempts[a.ID] = c
	return nil
}

func (t *tx) ListFinalized(_ context.Context, examID uuid.UUID) ([]ranking.Entry, error) {
	var out []ranking.Entry
	for _, a := range t.s.attempts {
		if a.ExamID == examID && a.Status.Finalized() && a.SubmittedAt != nil {
			out = append(out, ranking.Entry{
				AttemptID:     a.ID,
				MarksObtained: a.MarksObtained,
				SubmittedAt:   *a.SubmittedAt,
			})
		}
	}
	return out, nil
}

func (t *tx) AssignRanks(_ context.Context, examID uuid.UUID, ranks []ranking.Assignment) error {
	if t.s.FailAssignRanks != nil {
		return t.s.FailAssignRanks
	}
	for _, r := range ranks {
		a, ok := t.s.attempts[r.AttemptID]
		if !ok || a.ExamID != examID {
			continue
		}
		rank := r.Rank
		a.Rank = &rank
	}
	return nil
}

// Queue records enqueued work instead of pushing to Redis.
type Queue struct {
	mu     sync.Mutex
	Ranks  []uuid.UUID
	Events []model.ProctorEvent
	Err    error
}

func (q *Queue) EnqueueRankRecompute(_ context.Context, examID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return q.Err
	}
	q.Ranks = append(q.Ranks, examID)
	return nil
}

func (q *Queue) EnqueueProctorEvent(_ context.Context, ev model.ProctorEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return q.Err
	}
	q.Events = append(q.Events, ev)
	return nil
}

// Snapshot returns copies of the recorded queue contents.
func (q *Queue) Snapshot() ([]uuid.UUID, []model.ProctorEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.Ranks...), append([]model.ProctorEvent(nil), q.Events...)
}

var (
	_ repository.AttemptStore = (*Store)(nil)
	_ repository.ExamSource   = (*Store)(nil)
	_ repository.Queue        = (*Queue)(nil)
)
