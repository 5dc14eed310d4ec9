//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/service"
)

const (
	defaultBaseURL = "http://localhost:8080/api/v1"
	e2eStudentID   = 990001
	e2eClassID     = 1
)

var (
	baseURL      string
	dbURL        string
	studentToken string

	examID     uuid.UUID
	questionID uuid.UUID
	correctOpt uuid.UUID
)

func TestMain(m *testing.M) {
	_ = godotenv.Load("../../.env")

	baseURL = os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	cfg := config.Load()
	dbURL = cfg.DatabaseURL

	if err := seedExam(); err != nil {
		fmt.Printf("Setup failed: %v\n", err)
		os.Exit(1)
	}

	// Tokens are minted by the identity service in production; sign one
	// with the shared secret instead.
	tok, err := service.NewAuthService(cfg, nil).IssueStudentToken(e2eStudentID, e2eClassID, time.Hour)
	if err != nil {
		fmt.Printf("Token mint failed: %v\n", err)
		os.Exit(1)
	}
	studentToken = tok

	os.Exit(m.Run())
}

// seedExam inserts one open exam with a single question. The snapshot cache
// is keyed by a fresh exam ID, so no invalidation is needed.
func seedExam() error {
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, `DELETE FROM attempts WHERE student_id = $1`, e2eStudentID); err != nil {
		return fmt.Errorf("cleanup attempts: %w", err)
	}

	examID, questionID, correctOpt = uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO exams (id, title, is_published, is_active, start_time, end_time,
			duration_minutes, max_attempts, passing_marks, total_marks, show_result_immediately)
		 VALUES ($1, 'E2E Exam', TRUE, TRUE, $2, $3, 30, 1, 5, 10, TRUE)`,
		examID, now.Add(-time.Minute), now.Add(2*time.Hour))
	batch.Queue(`INSERT INTO questions (id, exam_id, text, type, marks, position)
		 VALUES ($1, $2, 'What is 2+2?', 'single', 10, 1)`, questionID, examID)
	batch.Queue(`INSERT INTO question_options (question_id, text, is_correct, position)
		 VALUES ($1, '3', FALSE, 1), ($1, '5', FALSE, 3)`, questionID)
	batch.Queue(`INSERT INTO question_options (id, question_id, text, is_correct, position)
		 VALUES ($1, $2, '4', TRUE, 2)`, correctOpt, questionID)

	return conn.SendBatch(ctx, batch).Close()
}

func TestAttemptLifecycle(t *testing.T) {
	var (
		attemptID    string
		sessionToken string
	)

	t.Run("StartAttempt", func(t *testing.T) {
		resp, err := do(http.MethodPost, fmt.Sprintf("/attempts/start/%s", examID), nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}

		var body struct {
			Data service.StartResult `json:"data"`
		}
		decodeJSON(t, resp, &body)
		if body.Data.SessionToken == "" || len(body.Data.Questions) != 1 {
			t.Fatalf("unexpected start payload: %+v", body.Data)
		}
		attemptID = body.Data.AttemptID.String()
		sessionToken = body.Data.SessionToken
	})

	t.Run("ResumeAttempt", func(t *testing.T) {
		resp, err := do(http.MethodPost, fmt.Sprintf("/attempts/start/%s", examID), nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data service.StartResult `json:"data"`
		}
		decodeJSON(t, resp, &body)
		if body.Data.AttemptID.String() != attemptID {
			t.Fatalf("resume returned attempt %s, want %s", body.Data.AttemptID, attemptID)
		}
		sessionToken = body.Data.SessionToken
	})

	t.Run("SaveAnswers", func(t *testing.T) {
		req := model.SaveAnswersRequest{
			SessionToken: sessionToken,
			Answers: []model.AnswerInput{
				{QuestionID: questionID, SelectedOptionIDs: []uuid.UUID{correctOpt}, TimeSpentSeconds: 12},
			},
		}
		resp, err := do(http.MethodPut, fmt.Sprintf("/attempts/%s/save", attemptID), req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	t.Run("ReportEvent", func(t *testing.T) {
		req := model.ReportEventRequest{SessionToken: sessionToken, Type: model.ProctorEventTabSwitch}
		resp, err := do(http.MethodPost, fmt.Sprintf("/attempts/%s/report", attemptID), req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	t.Run("SubmitAttempt", func(t *testing.T) {
		req := model.SubmitAttemptRequest{SessionToken: sessionToken}
		resp, err := do(http.MethodPost, fmt.Sprintf("/attempts/%s/submit", attemptID), req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data service.SubmissionResult `json:"data"`
		}
		decodeJSON(t, resp, &body)
		if body.Data.Result == nil || body.Data.Result.MarksObtained != 10 {
			t.Fatalf("unexpected result: %+v", body.Data.Result)
		}
	})

	t.Run("SubmitTwiceConflicts", func(t *testing.T) {
		req := model.SubmitAttemptRequest{SessionToken: sessionToken}
		resp, err := do(http.MethodPost, fmt.Sprintf("/attempts/%s/submit", attemptID), req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	t.Run("GetResult", func(t *testing.T) {
		resp, err := do(http.MethodGet, fmt.Sprintf("/attempts/%s/result", attemptID), nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	t.Run("LimitReached", func(t *testing.T) {
		resp, err := do(http.MethodPost, fmt.Sprintf("/attempts/start/%s", examID), nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})
}

// Helpers

func do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+studentToken)
	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("json decode: %v", err)
	}
}
