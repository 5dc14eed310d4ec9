package service

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// credentialGrace keeps a credential valid past the deadline so a late
// request still authenticates and can be redirected to auto-submit.
const credentialGrace = time.Hour

// SessionClaims binds a credential to one (attempt, exam, student) triple.
type SessionClaims struct {
	jwt.RegisteredClaims
	AttemptID string `json:"attempt_id"`
	ExamID    string `json:"exam_id"`
	StudentID int    `json:"student_id"`
}

// CredentialService signs and verifies per-attempt session credentials.
type CredentialService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCredentialService creates a new CredentialService.
func NewCredentialService(cfg *config.Config) *CredentialService {
	return &CredentialService{
		secret: []byte(cfg.ExamTokenSecret),
		ttl:    cfg.ExamTokenTTL,
		now:    time.Now,
	}
}

// Issue signs a credential for the attempt using its current SessionJTI.
func (s *CredentialService) Issue(a *model.Attempt) (string, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	if floor := a.ServerDeadline.Add(credentialGrace); expires.Before(floor) {
		expires = floor
	}

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        a.SessionJTI,
			Subject:   strconv.Itoa(a.StudentID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		AttemptID: a.ID.String(),
		ExamID:    a.ExamID.String(),
		StudentID: a.StudentID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session credential: %w", err)
	}
	return signed, nil
}

// Decode verifies signature and expiry. Any failure is ErrInvalidSession.
func (s *CredentialService) Decode(tokenStr string) (*SessionClaims, error) {
	if tokenStr == "" {
		return nil, ErrInvalidSession
	}

	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

// Authorize checks a decoded credential against the caller and the target attempt.
// The attempt itself is checked separately once it has been loaded.
func (c *SessionClaims) Authorize(attemptID uuid.UUID, studentID int) error {
	if c.AttemptID != attemptID.String() || c.StudentID != studentID {
		return ErrInvalidSession
	}
	return nil
}

// Matches reports whether the credential is the current one for the attempt.
func (c *SessionClaims) Matches(a *model.Attempt) bool {
	return c.ExamID == a.ExamID.String() &&
		c.StudentID == a.StudentID &&
		c.ID != "" && c.ID == a.SessionJTI
}
