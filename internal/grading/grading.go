// Package grading scores an answer set against an exam snapshot.
// Grade is pure: same inputs, same result, no side effects.
package grading

import (
	"math"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// Outcome is the graded state of a single question.
type Outcome struct {
	QuestionID   uuid.UUID
	Skipped      bool
	IsCorrect    bool
	MarksAwarded float64
}

// Result is the graded summary of one attempt.
type Result struct {
	Outcomes       []Outcome // exam natural order
	TotalMarks     float64
	MarksObtained  float64
	Percentage     int
	IsPassed       bool
	CorrectCount   int
	IncorrectCount int
	SkippedCount   int
}

// Grade scores every question in the exam, answered or not.
func Grade(exam *model.ExamSnapshot, answers map[uuid.UUID]model.Answer) Result {
	res := Result{
		Outcomes:   make([]Outcome, 0, len(exam.Questions)),
		TotalMarks: exam.TotalMarks,
	}

	var raw float64
	for _, q := range exam.Questions {
		out := gradeQuestion(exam, q, answers[q.ID].SelectedOptionIDs)
		switch {
		case out.Skipped:
			res.SkippedCount++
		case out.IsCorrect:
			res.CorrectCount++
		default:
			res.IncorrectCount++
		}
		raw += out.MarksAwarded
		res.Outcomes = append(res.Outcomes, out)
	}

	res.MarksObtained = math.Max(0, raw)
	if exam.TotalMarks > 0 {
		res.Percentage = int(math.Round(res.MarksObtained / exam.TotalMarks * 100))
	}
	res.IsPassed = res.MarksObtained >= exam.PassingMarks

	return res
}

// Apply writes per-question correctness back onto the answer map.
// Answers for questions the exam does not contain are left untouched.
func (r Result) Apply(answers map[uuid.UUID]model.Answer) {
	for _, out := range r.Outcomes {
		a, ok := answers[out.QuestionID]
		if !ok {
			continue
		}
		a.IsCorrect = out.IsCorrect
		a.MarksAwarded = out.MarksAwarded
		answers[out.QuestionID] = a
	}
}

func gradeQuestion(exam *model.ExamSnapshot, q model.Question, selected []uuid.UUID) Outcome {
	out := Outcome{QuestionID: q.ID}
	if len(selected) == 0 {
		out.Skipped = true
		return out
	}

	correct := q.CorrectOptionIDs()
	switch q.Type {
	case model.QuestionTypeSingle, model.QuestionTypeTrueFalse:
		out.IsCorrect = len(selected) == 1 && len(correct) == 1 && selected[0] == correct[0]
	case model.QuestionTypeMultiple:
		out.IsCorrect = setEqual(toSet(selected), toSet(correct))
	}

	if out.IsCorrect {
		out.MarksAwarded = q.Marks
	} else if exam.NegativeMarking {
		out.MarksAwarded = -penalty(exam, q)
	}
	return out
}

func penalty(exam *model.ExamSnapshot, q model.Question) float64 {
	if q.NegativeMark != 0 {
		return q.NegativeMark
	}
	return exam.DefaultNegativeMarkValue
}

func toSet(ids []uuid.UUID) map[uuid.UUID]struct{} {
	s := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func setEqual(a, b map[uuid.UUID]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
