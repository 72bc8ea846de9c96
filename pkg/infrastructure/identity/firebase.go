// Package identity resolves callable callers to user ids.
package identity

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"

	shared "github.com/trailblazerplus/server/pkg"
)

type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseVerifier checks Firebase ID tokens with the Admin SDK.
type FirebaseVerifier struct {
	client tokenVerifier
	logger *slog.Logger
}

var _ shared.IdentityVerifier = (*FirebaseVerifier)(nil)

func NewFirebaseVerifier(ctx context.Context, app *firebase.App, logger *slog.Logger) (*FirebaseVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get auth client: %w", err)
	}
	return newFirebaseVerifier(client, logger), nil
}

func newFirebaseVerifier(client tokenVerifier, logger *slog.Logger) *FirebaseVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &FirebaseVerifier{client: client, logger: logger}
}

// VerifyIDToken returns the Firebase uid of a valid token. Every failure maps
// to ErrUnauthenticated; the cause is logged at debug level only.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (string, error) {
	if idToken == "" {
		return "", shared.ErrUnauthenticated
	}
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		v.logger.Debug("id token rejected", "error", err)
		return "", shared.ErrUnauthenticated
	}
	if token.UID == "" {
		return "", shared.ErrUnauthenticated
	}
	return token.UID, nil
}

// DevVerifier treats the bearer value as the user id. It exists for the
// in-memory local server and is never wired to a persistent backend.
type DevVerifier struct{}

func (DevVerifier) VerifyIDToken(ctx context.Context, idToken string) (string, error) {
	if idToken == "" {
		return "", shared.ErrUnauthenticated
	}
	return idToken, nil
}
