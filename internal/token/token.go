package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/krishvatech/pds-netra-sub000/internal/models"
	"github.com/krishvatech/pds-netra-sub000/internal/repository"
)

// Acknowledgment failures, distinguishable by the caller. Acknowledging an
// already-ACK alert is NOT an error: the second click of the same link is
// accepted as a no-op.
var (
	ErrAlertNotFound = errors.New("alert not found")
	ErrInvalidToken  = errors.New("invalid acknowledgment token")
	ErrTokenExpired  = errors.New("acknowledgment token expired")
	ErrTokenUsed     = errors.New("acknowledgment token already used")
)

const tokenBytes = 32

// Service issues and verifies alert acknowledgment tokens. Only the SHA-256
// hash of a token is ever persisted; the plaintext lives in the notification
// link alone.
type Service struct {
	alertsRepo *repository.AlertsRepository
	ttl        time.Duration
	logger     *zap.Logger
}

// NewService creates the token service.
func NewService(alertsRepo *repository.AlertsRepository, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{
		alertsRepo: alertsRepo,
		ttl:        ttl,
		logger:     logger,
	}
}

// Issue generates a fresh token for an alert, stores its hash and expiry,
// and returns the plaintext. Re-issuing replaces the previous token.
func (s *Service) Issue(ctx context.Context, q repository.Querier, alertID string) (string, error) {
	if alertID == "" {
		return "", fmt.Errorf("alert_id is required")
	}

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	plaintext := hex.EncodeToString(raw)

	expiresAt := time.Now().UTC().Add(s.ttl)
	if err := s.alertsRepo.SetAckToken(ctx, q, alertID, Hash(plaintext), expiresAt); err != nil {
		return "", err
	}

	return plaintext, nil
}

// Acknowledge verifies a token against an alert's stored hash and marks the
// alert ACK. Verification is constant-time regardless of where it fails.
func (s *Service) Acknowledge(ctx context.Context, publicID, plaintext string, now time.Time) error {
	if publicID == "" || plaintext == "" {
		return ErrInvalidToken
	}

	alert, err := s.alertsRepo.GetAlertByPublicID(ctx, publicID)
	if err != nil {
		return err
	}
	if alert == nil {
		return ErrAlertNotFound
	}

	if alert.Status == models.AlertStatusAck {
		return nil
	}
	if alert.Status != models.AlertStatusOpen {
		return ErrInvalidToken
	}
	if alert.AckTokenHash == nil || *alert.AckTokenHash == "" {
		return ErrInvalidToken
	}

	if subtle.ConstantTimeCompare([]byte(Hash(plaintext)), []byte(*alert.AckTokenHash)) != 1 {
		return ErrInvalidToken
	}
	if alert.AckUsedAt != nil {
		return ErrTokenUsed
	}
	if alert.AckExpiresAt == nil || now.After(*alert.AckExpiresAt) {
		return ErrTokenExpired
	}

	if err := s.alertsRepo.Acknowledge(ctx, alert.AlertID, now); err != nil {
		return err
	}

	s.logger.Info("Alert acknowledged",
		zap.String("alert_id", alert.AlertID),
		zap.String("public_id", publicID),
	)

	return nil
}

// Hash returns the hex SHA-256 digest stored in place of a plaintext token.
func Hash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// AckLink builds the acknowledgment URL embedded in notifications.
func AckLink(baseURL, publicID, plaintext string) string {
	return fmt.Sprintf("%s/alerts/%s/ack-link?token=%s",
		baseURL, url.PathEscape(publicID), url.QueryEscape(plaintext))
}
