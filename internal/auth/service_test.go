package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vovakirdan/chatline-server/internal/store/sqlite"
)

func newTestAuthService(t *testing.T) (*Service, *sqlite.SQLiteStore) {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	jwtConfig := &JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	return NewService(st, jwtConfig), st
}

func TestIssue_RejectsInvalidUserID(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Issue(ctx, "   ", "alice"); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
}

func TestIssue_RecordsUserAndRoundTrips(t *testing.T) {
	svc, st := newTestAuthService(t)
	ctx := context.Background()

	token, err := svc.Issue(ctx, " u-1 ", "Alice")
	if err != nil {
		t.Fatalf("expected issue success, got %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if claims.UserID() != "u-1" || claims.Username != "Alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	users, err := st.GetUsers(ctx, []string{"u-1"})
	if err != nil || len(users) != 1 || users[0].Username != "Alice" {
		t.Fatalf("expected user in directory, got %v (err %v)", users, err)
	}
}

func TestValidateToken_RejectsForeignTokens(t *testing.T) {
	svc, _ := newTestAuthService(t)

	otherSecret := &JWTConfig{Secret: []byte("other"), Issuer: "test", Audience: "test", TTL: time.Hour}
	wrongAudience := &JWTConfig{Secret: []byte("test-secret-change-me"), Issuer: "test", Audience: "elsewhere", TTL: time.Hour}
	expired := &JWTConfig{Secret: []byte("test-secret-change-me"), Issuer: "test", Audience: "test", TTL: -time.Minute}

	for name, cfg := range map[string]*JWTConfig{
		"wrong secret":   otherSecret,
		"wrong audience": wrongAudience,
		"expired":        expired,
	} {
		t.Run(name, func(t *testing.T) {
			token, err := GenerateToken(cfg, "u-1", "alice")
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			if _, err := svc.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}

	if _, err := svc.ValidateToken("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestValidateToken_RequiresSubject(t *testing.T) {
	cfg := &JWTConfig{Secret: []byte("s"), TTL: time.Hour}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: "ghost",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(cfg.Secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ValidateToken(cfg, signed); err == nil {
		t.Fatal("expected token without subject to be rejected")
	}
}
