package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempt/internal/config"
)

// TokenType is the audience marker the identity service puts on access tokens.
type TokenType string

const TokenTypeStudent TokenType = "student"

// accessLeeway absorbs clock drift between lab machines and the server.
const accessLeeway = 30 * time.Second

var (
	ErrTokenExpired     = errors.New("access token expired")
	ErrTokenMalformed   = errors.New("access token malformed")
	ErrNoActiveLogin    = errors.New("no active login")
	ErrLoginSuperseded  = errors.New("login superseded by another device")
	errUnexpectedClaims = errors.New("unexpected access token claims")
)

// Claims mirrors the access token minted by the identity service.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	UserID    int       `json:"user_id"`
	ClassID   int       `json:"class_id,omitempty"`
}

// AuthService verifies identity tokens. It never handles passwords.
type AuthService struct {
	secret      []byte
	singleLogin bool
	rdb         *redis.Client
	parser      *jwt.Parser
}

// NewAuthService creates a new AuthService. rdb may be nil when single-login
// enforcement is disabled.
func NewAuthService(cfg *config.Config, rdb *redis.Client) *AuthService {
	return &AuthService{
		secret:      []byte(cfg.JWTSecret),
		singleLogin: cfg.EnforceSingleLogin,
		rdb:         rdb,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(accessLeeway),
		),
	}
}

// IssueStudentToken mints an access token in the identity service's format.
// Production tokens come from the identity service; this exists for the ops CLI
// and tests.
func (s *AuthService) IssueStudentToken(studentID, classID int, ttl time.Duration) (string, error) {
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.Itoa(studentID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: TokenTypeStudent,
		UserID:    studentID,
		ClassID:   classID,
	}).SignedString(s.secret)
}

// ValidateToken verifies signature and expiry and returns the claims.
// Expiry is reported as ErrTokenExpired so clients can re-login instead of
// treating the token as forged.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	case claims.UserID <= 0:
		return nil, errUnexpectedClaims
	}
	return claims, nil
}

// ValidateStudentSession checks that jti is the student's current login as
// recorded by the identity service. No-op unless single login is enforced.
func (s *AuthService) ValidateStudentSession(ctx context.Context, studentID int, jti string) error {
	if !s.singleLogin || s.rdb == nil {
		return nil
	}

	active, err := s.rdb.Get(ctx, config.CacheKey.StudentSessionKey(studentID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrNoActiveLogin
	case err != nil:
		return fmt.Errorf("read login session: %w", err)
	case active != jti:
		return ErrLoginSuperseded
	}
	return nil
}
