package utils

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"mation/models"
)

const (
	// RefreshWindow is how close to expiry a stored token may get before an
	// authenticated read refreshes it pre-emptively.
	RefreshWindow = 5 * 24 * time.Hour

	// DefaultTokenTTL is used when the platform omits expires_in.
	DefaultTokenTTL = 60 * 24 * time.Hour
)

// TokenRefresher exchanges a long-lived token for a fresh one.
type TokenRefresher interface {
	RefreshLongLived(ctx context.Context, token string) (*TokenResponse, error)
}

// TokenManager implements the dual refresh policy for the platform's
// silently-expiring long-lived tokens: pre-emptive refresh near expiry and
// reactive refresh-and-retry-once on a reported expired-token error.
type TokenManager struct {
	DB        *gorm.DB
	Refresher TokenRefresher
	Logger    *log.Logger
}

func NewTokenManager(db *gorm.DB, refresher TokenRefresher, logger *log.Logger) *TokenManager {
	return &TokenManager{DB: db, Refresher: refresher, Logger: logger}
}

// EnsureFresh returns a usable token for the integration, refreshing and
// persisting it first when the stored expiry is inside RefreshWindow. A
// failed pre-emptive refresh is logged and the old token returned; the
// platform will reject it if it is actually dead.
func (tm *TokenManager) EnsureFresh(ctx context.Context, integration *models.Integration) string {
	if !integration.ExpiresWithin(RefreshWindow) {
		return integration.Token
	}

	tm.Logger.Printf("token for integration %d expires soon, refreshing pre-emptively", integration.ID)

	refreshed, err := tm.Refresher.RefreshLongLived(ctx, integration.Token)
	if err != nil {
		tm.Logger.Printf("pre-emptive refresh failed for integration %d: %v", integration.ID, err)
		return integration.Token
	}

	if err := tm.persist(integration, refreshed); err != nil {
		tm.Logger.Printf("failed to persist refreshed token for integration %d: %v", integration.ID, err)
		return integration.Token
	}

	return integration.Token
}

// WithRetry runs call with the integration's token. If the platform reports
// the token expired, the token is refreshed, persisted, and the call retried
// exactly once; a second failure is surfaced to the caller.
func (tm *TokenManager) WithRetry(ctx context.Context, integration *models.Integration, call func(token string) error) error {
	err := call(tm.EnsureFresh(ctx, integration))
	if err == nil || !IsTokenExpired(err) {
		return err
	}

	tm.Logger.Printf("token expired mid-call for integration %d, refreshing and retrying once", integration.ID)

	refreshed, refreshErr := tm.Refresher.RefreshLongLived(ctx, integration.Token)
	if refreshErr != nil {
		return fmt.Errorf("authentication failed: token refresh: %w", refreshErr)
	}
	if err := tm.persist(integration, refreshed); err != nil {
		return fmt.Errorf("authentication failed: persisting refreshed token: %w", err)
	}

	if retryErr := call(integration.Token); retryErr != nil {
		if IsTokenExpired(retryErr) {
			return fmt.Errorf("authentication failed after token refresh: %w", retryErr)
		}
		return retryErr
	}
	return nil
}

func (tm *TokenManager) persist(integration *models.Integration, refreshed *TokenResponse) error {
	ttl := DefaultTokenTTL
	if refreshed.ExpiresIn > 0 {
		ttl = time.Duration(refreshed.ExpiresIn) * time.Second
	}
	expiresAt := time.Now().Add(ttl)

	integration.Token = refreshed.AccessToken
	integration.ExpiresAt = &expiresAt

	return tm.DB.Model(&models.Integration{}).
		Where("id = ?", integration.ID).
		Updates(map[string]interface{}{
			"token":      integration.Token,
			"expires_at": integration.ExpiresAt,
		}).Error
}
