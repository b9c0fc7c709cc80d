package enrollment

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sablesec/strikepoint/internal/activity"
	"github.com/sablesec/strikepoint/internal/collectors"
)

const (
	tokenPrefix = "ct_"
	tokenLength = 32 // 32 bytes = 256 bits

	// DefaultTokenTTL is the enrollment window for a freshly issued token.
	DefaultTokenTTL = 15 * time.Minute
)

// ErrInvalidToken covers unknown, expired and already-consumed tokens alike.
// Callers are unauthenticated, so the three cases are indistinguishable on
// purpose.
var ErrInvalidToken = errors.New("invalid enrollment token")

// Service issues, validates and consumes one-time enrollment tokens. A
// collector holds at most one valid token at any instant; re-issuing
// replaces the prior token in a single store update.
type Service struct {
	collectors collectors.Store
	activity   activity.Log
	ttl        time.Duration
}

func NewService(collectorStore collectors.Store, log activity.Log, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{
		collectors: collectorStore,
		activity:   log,
		ttl:        ttl,
	}
}

// GenerateToken creates a new enrollment token with crypto/rand.
func GenerateToken() (string, error) {
	b := make([]byte, tokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken computes the SHA-256 hash stored in place of the plaintext.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", hash)
}

// Issue generates a token for the collector and moves it to enrolling. Any
// outstanding token for the same collector stops validating immediately.
// The plaintext token is returned once and never stored.
func (s *Service) Issue(ctx context.Context, collectorID string) (string, time.Time, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token: %w", err)
	}

	expiresAt := time.Now().UTC().Add(s.ttl)
	if err := s.collectors.ReplaceEnrollmentToken(ctx, collectorID, HashToken(token), expiresAt); err != nil {
		if errors.Is(err, collectors.ErrCollectorNotFound) {
			return "", time.Time{}, fmt.Errorf("collector %s: %w", collectorID, collectors.ErrCollectorNotFound)
		}
		return "", time.Time{}, fmt.Errorf("store token: %w", err)
	}

	s.logActivity(ctx, collectorID, "enrollment.token_issued", "enrollment token issued")
	slog.Info("Enrollment token issued", "collector_id", collectorID, "expires_at", expiresAt)
	return token, expiresAt, nil
}

// Validate authenticates a token without consuming it. Telemetry may be sent
// repeatedly during the enrollment window, so validation is a pure read.
func (s *Service) Validate(ctx context.Context, token string) (*collectors.Collector, error) {
	c, err := s.collectors.GetCollectorByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, collectors.ErrCollectorNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup token: %w", err)
	}

	if !c.HasValidToken(time.Now().UTC()) {
		slog.Warn("Enrollment attempt with expired token", "collector_id", c.ID)
		return nil, ErrInvalidToken
	}
	return c, nil
}

// Expire consumes the token after its first successful use: the hash is
// cleared and the collector goes online, so the same token value is rejected
// from then on. Expiring a token that is already gone is a no-op.
func (s *Service) Expire(ctx context.Context, token string) error {
	c, err := s.collectors.ConsumeEnrollmentToken(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, collectors.ErrCollectorNotFound) {
			return nil
		}
		return fmt.Errorf("consume token: %w", err)
	}

	s.logActivity(ctx, c.ID, "enrollment.completed", "collector enrolled and online")
	slog.Info("Enrollment token consumed", "collector_id", c.ID, "tenant_id", c.TenantID)
	return nil
}

func (s *Service) logActivity(ctx context.Context, collectorID, kind, message string) {
	if s.activity == nil {
		return
	}
	err := s.activity.Append(ctx, activity.Event{
		Kind:    kind,
		Message: message,
		Fields:  map[string]string{"collector_id": collectorID},
		At:      time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("Failed to append activity event", "kind", kind, "error", err)
	}
}
