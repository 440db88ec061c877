package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/chatline-server/internal/store"
)

var (
	// ErrInvalidToken is returned when a bearer token cannot be verified.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidUserID is returned when a token is requested for an empty or oversized user id.
	ErrInvalidUserID = errors.New("invalid user id")
)

const maxUserIDLen = 128

// Service issues and verifies bearer tokens. Credentials are checked by an external identity service;
// this side only mints tokens for operators and tests and validates them on every request.
type Service struct {
	users     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(users store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		users:     users,
		jwtConfig: jwtConfig,
	}
}

// Issue records the user in the directory and returns a signed token.
func (s *Service) Issue(ctx context.Context, userID, username string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || len(userID) > maxUserIDLen {
		return "", ErrInvalidUserID
	}
	username = strings.TrimSpace(username)
	if username == "" {
		username = userID
	}

	if s.users != nil {
		if err := s.users.UpsertUser(ctx, &store.User{ID: userID, Username: username}); err != nil {
			return "", fmt.Errorf("record user: %w", err)
		}
	}

	token, err := GenerateToken(s.jwtConfig, userID, username)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := ValidateToken(s.jwtConfig, tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
