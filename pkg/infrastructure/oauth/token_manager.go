// Package oauth owns the Strava connection lifecycle: exchanging codes,
// persisting encrypted tokens, refreshing them before they expire and
// disconnecting.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	shared "github.com/trailblazerplus/server/pkg"
	"github.com/trailblazerplus/server/pkg/integrations/strava"
	"github.com/trailblazerplus/server/pkg/types"
	"github.com/trailblazerplus/server/pkg/vault"
)

// RefreshBuffer is how long before expiry a stored token is considered stale.
const RefreshBuffer = 60 * time.Second

// TokenProvider is the subset of the Strava client used for grants.
type TokenProvider interface {
	ExchangeCode(ctx context.Context, code string) (*strava.TokenBundle, error)
	RefreshToken(ctx context.Context, refreshToken string) (*strava.TokenBundle, error)
	RevokeToken(ctx context.Context, accessToken string) error
}

// Backfiller runs the bounded initial sync after a new connection.
type Backfiller interface {
	SyncRecentWindow(ctx context.Context, userID, accessToken string) (int, error)
}

// TokenStore is the persistence the manager needs.
type TokenStore interface {
	GetUser(ctx context.Context, userID string) (*types.User, error)
	shared.ConnectionStore
}

// ConnectResult is returned to the client after a successful connect.
type ConnectResult struct {
	AthleteID   int64
	AthleteName string
	SyncedCount int
	// BackfillErr is set when the initial sync failed; the connection is kept.
	BackfillErr error
}

// TokenManager obtains and refreshes access tokens for connected users.
type TokenManager struct {
	store    TokenStore
	cipher   vault.Cipher
	provider TokenProvider
	backfill Backfiller
	now      func() time.Time
	logger   *slog.Logger
}

// NewTokenManager creates a token manager. backfill may be nil.
func NewTokenManager(store TokenStore, cipher vault.Cipher, provider TokenProvider, backfill Backfiller, logger *slog.Logger) *TokenManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenManager{
		store:    store,
		cipher:   cipher,
		provider: provider,
		backfill: backfill,
		now:      time.Now,
		logger:   logger.With("component", "oauth"),
	}
}

// WithClock overrides the time source.
func (m *TokenManager) WithClock(now func() time.Time) *TokenManager {
	m.now = now
	return m
}

// SetBackfiller wires the initial-sync hook after construction.
func (m *TokenManager) SetBackfiller(b Backfiller) {
	m.backfill = b
}

func (m *TokenManager) connection(ctx context.Context, userID string) (*types.ProviderConnection, error) {
	user, err := m.store.GetUser(ctx, userID)
	if errors.Is(err, shared.ErrUserNotFound) {
		return nil, shared.ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user.Connection == nil {
		return nil, shared.ErrNotConnected
	}
	return user.Connection, nil
}

// GetValidAccessToken returns a plaintext access token, refreshing it first
// when it expires within RefreshBuffer.
func (m *TokenManager) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	conn, err := m.connection(ctx, userID)
	if err != nil {
		return "", err
	}

	if conn.TokenExpiresAt.After(m.now().Add(RefreshBuffer)) {
		return m.cipher.Decrypt(conn.AccessToken)
	}

	refreshToken, err := m.cipher.Decrypt(conn.RefreshToken)
	if err != nil {
		return "", err
	}

	m.logger.Info("refreshing strava token", "user_id", userID, "expires_at", conn.TokenExpiresAt)
	bundle, err := m.provider.RefreshToken(ctx, refreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	if bundle.RefreshToken == "" {
		bundle.RefreshToken = refreshToken
	}

	encAccess, encRefresh, err := m.encryptPair(bundle)
	if err != nil {
		return "", err
	}
	if err := m.store.UpdateConnectionTokens(ctx, userID, encAccess, encRefresh, bundle.ExpiresAtTime()); err != nil {
		return "", fmt.Errorf("failed to persist new tokens: %w", err)
	}
	return bundle.AccessToken, nil
}

// ExchangeAndConnect completes the OAuth flow for userID and runs the initial
// backfill. A failed backfill is logged and reported on the result; the
// connection stays in place with lastSyncAt unset.
func (m *TokenManager) ExchangeAndConnect(ctx context.Context, userID, code string, scopes []string) (*ConnectResult, error) {
	bundle, err := m.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if bundle.Athlete == nil {
		return nil, &shared.ProviderAuthError{StatusCode: 200, Body: "token response missing athlete"}
	}
	athlete := bundle.Athlete

	// One athlete maps to one user: detach a previous owner before linking.
	if previous, err := m.store.FindUserIDByAthleteID(ctx, athlete.ID); err != nil {
		return nil, fmt.Errorf("athlete lookup: %w", err)
	} else if previous != "" && previous != userID {
		m.logger.Warn("strava athlete already linked to another user, moving connection",
			"athlete_id", athlete.ID, "previous_user_id", previous, "user_id", userID)
		if err := m.store.DeleteConnection(ctx, previous); err != nil {
			return nil, fmt.Errorf("detach previous connection: %w", err)
		}
	}

	encAccess, encRefresh, err := m.encryptPair(bundle)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = strava.DefaultScopes
	}

	conn := &types.ProviderConnection{
		AthleteID:       athlete.ID,
		AthleteUsername: athlete.Username,
		AccessToken:     encAccess,
		RefreshToken:    encRefresh,
		TokenExpiresAt:  bundle.ExpiresAtTime(),
		Scopes:          append([]string(nil), scopes...),
		ConnectedAt:     m.now().UTC(),
	}
	if err := m.store.SetConnection(ctx, userID, conn); err != nil {
		return nil, fmt.Errorf("failed to save connection: %w", err)
	}
	m.logger.Info("strava connected", "user_id", userID, "athlete_id", athlete.ID)

	result := &ConnectResult{AthleteID: athlete.ID, AthleteName: athlete.Name()}
	if m.backfill == nil {
		return result, nil
	}

	synced, err := m.backfill.SyncRecentWindow(ctx, userID, bundle.AccessToken)
	if err != nil {
		m.logger.Warn("initial strava sync failed", "user_id", userID, "error", err)
		result.BackfillErr = err
		return result, nil
	}
	result.SyncedCount = synced
	if err := m.store.TouchLastSync(ctx, userID, m.now()); err != nil {
		m.logger.Warn("failed to record last sync", "user_id", userID, "error", err)
	}
	return result, nil
}

// Disconnect revokes the token on a best-effort basis and removes the connection.
func (m *TokenManager) Disconnect(ctx context.Context, userID string) error {
	conn, err := m.connection(ctx, userID)
	if err != nil {
		return err
	}

	if accessToken, err := m.cipher.Decrypt(conn.AccessToken); err != nil {
		m.logger.Warn("skipping strava revoke, stored token unreadable", "user_id", userID, "error", err)
	} else if err := m.provider.RevokeToken(ctx, accessToken); err != nil {
		m.logger.Warn("strava deauthorize failed", "user_id", userID, "athlete_id", conn.AthleteID, "error", err)
	}

	if err := m.store.DeleteConnection(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	m.logger.Info("strava disconnected", "user_id", userID, "athlete_id", conn.AthleteID)
	return nil
}

// FindUserByAthleteID maps a Strava athlete to an internal user id ("" when unknown).
func (m *TokenManager) FindUserByAthleteID(ctx context.Context, athleteID int64) (string, error) {
	return m.store.FindUserIDByAthleteID(ctx, athleteID)
}

func (m *TokenManager) encryptPair(b *strava.TokenBundle) (string, string, error) {
	encAccess, err := m.cipher.Encrypt(b.AccessToken)
	if err != nil {
		return "", "", fmt.Errorf("encrypt access token: %w", err)
	}
	encRefresh, err := m.cipher.Encrypt(b.RefreshToken)
	if err != nil {
		return "", "", fmt.Errorf("encrypt refresh token: %w", err)
	}
	return encAccess, encRefresh, nil
}
