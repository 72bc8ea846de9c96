// Package api serves the client-facing callable operations: connecting and
// syncing Strava, manual activity logging and challenge bookkeeping.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	shared "github.com/trailblazerplus/server/pkg"
	"github.com/trailblazerplus/server/pkg/domain/stats"
	httputil "github.com/trailblazerplus/server/pkg/infrastructure/http"
	"github.com/trailblazerplus/server/pkg/infrastructure/oauth"
	"github.com/trailblazerplus/server/pkg/infrastructure/sentry"
	"github.com/trailblazerplus/server/pkg/ingest"
	"github.com/trailblazerplus/server/pkg/integrations/strava"
	"github.com/trailblazerplus/server/pkg/types"
)

const (
	maxListLimit        = 500
	defaultPollInterval = 5 * time.Second
	defaultHeartbeat    = 25 * time.Second
)

// Connector is the token lifecycle surface the callables drive.
type Connector interface {
	ExchangeAndConnect(ctx context.Context, userID, code string, scopes []string) (*oauth.ConnectResult, error)
	Disconnect(ctx context.Context, userID string) error
	GetValidAccessToken(ctx context.Context, userID string) (string, error)
}

// Ingester is the activity ledger surface the callables drive.
type Ingester interface {
	SyncRecentWindow(ctx context.Context, userID, accessToken string) (int, error)
	LogManualActivity(ctx context.Context, userID string, entry ingest.ManualEntry) (*types.Activity, error)
	RecentActivities(ctx context.Context, userID string, limit int) ([]*types.Activity, error)
	ListActivities(ctx context.Context, userID string, query types.ActivityQuery) ([]*types.Activity, error)
	IsEligibleForGiveaway(ctx context.Context, userID string) (bool, int, error)
	ResetChallenge(ctx context.Context, userID string) (int, error)
}

// Authorizer builds the provider consent URL.
type Authorizer interface {
	AuthorizeURL(state, redirectURI string, scopes []string) string
}

// UserSource reads users and records sync watermarks.
type UserSource interface {
	GetUser(ctx context.Context, userID string) (*types.User, error)
	TouchLastSync(ctx context.Context, userID string, at time.Time) error
}

// Deps are the collaborators of a Handler. Watcher is optional; without it the
// status stream polls Users.
type Deps struct {
	Identity    shared.IdentityVerifier
	Users       UserSource
	Tokens      Connector
	Ingest      Ingester
	Authorizer  Authorizer
	Watcher     shared.ConnectionWatcher
	RedirectURI string
}

// Handler serves the callable routes.
type Handler struct {
	deps         Deps
	now          func() time.Time
	pollInterval time.Duration
	heartbeat    time.Duration
	logger       *slog.Logger
}

// NewHandler creates a handler.
func NewHandler(deps Deps, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		deps:         deps,
		now:          time.Now,
		pollInterval: defaultPollInterval,
		heartbeat:    defaultHeartbeat,
		logger:       logger.With("component", "api"),
	}
}

// Routes mounts every callable under its path.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/strava", func(r chi.Router) {
		r.Post("/tokenExchange", h.callable("tokenExchange", "Failed to connect Strava", h.tokenExchange))
		r.Post("/disconnect", h.callable("disconnect", "Failed to disconnect Strava", h.disconnect))
		r.Post("/sync", h.callable("sync", "Sync failed", h.sync))
		r.Post("/status", h.callable("status", "Failed to load Strava status", h.status))
		r.Get("/authorize-url", h.callable("authorizeUrl", "Failed to start Strava connect", h.authorizeURL))
		r.Get("/status/stream", h.statusStream)
	})

	r.Route("/activities", func(r chi.Router) {
		r.Post("/log", h.callable("logActivity", "Failed to log activity", h.logActivity))
		r.Post("/recent", h.callable("recentActivities", "Failed to load activities", h.recentActivities))
		r.Post("/list", h.callable("listActivities", "Failed to load activities", h.listActivities))
	})

	r.Route("/challenge", func(r chi.Router) {
		r.Post("/reset", h.callable("resetChallenge", "Failed to reset challenge", h.resetChallenge))
		r.Post("/weekly", h.callable("weeklyProgress", "Failed to load weekly progress", h.weeklyProgress))
	})

	return r
}

type callableFunc func(ctx context.Context, userID string, r *http.Request) (any, error)

// callable authenticates the caller, runs fn and writes the callable envelope.
func (h *Handler) callable(op, failureMessage string, fn callableFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.authenticate(r.Context(), httputil.BearerToken(r))
		if err != nil {
			writeError(w, toCallableError(err, failureMessage))
			return
		}

		logger := h.logger.With("operation", op, "user_id", userID)
		result, err := fn(r.Context(), userID, r)
		if err != nil {
			cerr := toCallableError(err, failureMessage)
			if cerr.Status == StatusInternal {
				logger.Error("callable failed", "error", err)
				sentry.CaptureException(err, map[string]string{"operation": op, "user_id": userID}, logger)
			} else {
				logger.Warn("callable rejected", "status", cerr.Status, "error", err)
			}
			writeError(w, cerr)
			return
		}
		writeResult(w, result)
	}
}

func (h *Handler) authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", shared.ErrUnauthenticated
	}
	uid, err := h.deps.Identity.VerifyIDToken(ctx, token)
	if err != nil || uid == "" {
		return "", shared.ErrUnauthenticated
	}
	return uid, nil
}

// --- Strava connection ---

type tokenExchangeRequest struct {
	Code   string   `json:"code"`
	Scopes []string `json:"scopes"`
}

type tokenExchangeResponse struct {
	Success        bool   `json:"success"`
	AthleteID      int64  `json:"athleteId"`
	AthleteName    string `json:"athleteName"`
	SyncedCount    int    `json:"syncedCount"`
	BackfillFailed bool   `json:"backfillFailed,omitempty"`
}

func (h *Handler) tokenExchange(ctx context.Context, userID string, r *http.Request) (any, error) {
	var req tokenExchangeRequest
	if err := decodeData(r, &req); err != nil {
		return nil, err
	}
	if req.Code == "" {
		return nil, invalidArgument("Missing authorization code")
	}

	res, err := h.deps.Tokens.ExchangeAndConnect(ctx, userID, req.Code, req.Scopes)
	if err != nil {
		return nil, err
	}
	return tokenExchangeResponse{
		Success:        true,
		AthleteID:      res.AthleteID,
		AthleteName:    res.AthleteName,
		SyncedCount:    res.SyncedCount,
		BackfillFailed: res.BackfillErr != nil,
	}, nil
}

type successResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) disconnect(ctx context.Context, userID string, r *http.Request) (any, error) {
	if err := h.deps.Tokens.Disconnect(ctx, userID); err != nil {
		return nil, err
	}
	return successResponse{Success: true}, nil
}

type syncResponse struct {
	Success     bool `json:"success"`
	SyncedCount int  `json:"syncedCount"`
}

func (h *Handler) sync(ctx context.Context, userID string, r *http.Request) (any, error) {
	token, err := h.deps.Tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	synced, err := h.deps.Ingest.SyncRecentWindow(ctx, userID, token)
	if err != nil {
		return nil, err
	}
	if err := h.deps.Users.TouchLastSync(ctx, userID, h.now()); err != nil {
		h.logger.Warn("failed to record last sync", "user_id", userID, "error", err)
	}
	return syncResponse{Success: true, SyncedCount: synced}, nil
}

type statusResponse struct {
	types.ConnectionStatus
	Stats            types.Stats `json:"stats"`
	Summary          string      `json:"summary"`
	LastActivityDate *time.Time  `json:"lastActivityDate,omitempty"`
}

func (h *Handler) status(ctx context.Context, userID string, r *http.Request) (any, error) {
	user, err := h.deps.Users.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, shared.ErrUserNotFound) {
		return nil, err
	}
	resp := statusResponse{ConnectionStatus: types.StatusFromUser(user)}
	if user != nil {
		resp.Stats = user.Stats
		resp.LastActivityDate = user.LastActivityDate
	}
	resp.Summary = stats.Summary(resp.Stats, stats.ParseLanguage(r.Header.Get("Accept-Language")))
	return resp, nil
}

type authorizeURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

func (h *Handler) authorizeURL(ctx context.Context, userID string, r *http.Request) (any, error) {
	redirectURI := r.URL.Query().Get("redirect_uri")
	if redirectURI == "" {
		redirectURI = h.deps.RedirectURI
	}
	state := uuid.NewString()
	return authorizeURLResponse{
		URL:   h.deps.Authorizer.AuthorizeURL(state, redirectURI, strava.DefaultScopes),
		State: state,
	}, nil
}

// --- Activities ---

type logActivityRequest struct {
	Type            string     `json:"type"`
	DurationMinutes float64    `json:"durationMinutes"`
	DistanceKm      float64    `json:"distanceKm"`
	Location        *string    `json:"location"`
	Date            *time.Time `json:"date"`
}

type activityResponse struct {
	Activity *types.Activity `json:"activity"`
}

func (h *Handler) logActivity(ctx context.Context, userID string, r *http.Request) (any, error) {
	var req logActivityRequest
	if err := decodeData(r, &req); err != nil {
		return nil, err
	}
	act, err := h.deps.Ingest.LogManualActivity(ctx, userID, ingest.ManualEntry{
		Type:            req.Type,
		DurationMinutes: req.DurationMinutes,
		DistanceKm:      req.DistanceKm,
		Location:        req.Location,
		Date:            req.Date,
	})
	if err != nil {
		return nil, err
	}
	return activityResponse{Activity: act}, nil
}

type activitiesResponse struct {
	Activities []*types.Activity `json:"activities"`
}

type recentRequest struct {
	Limit int `json:"limit"`
}

func (h *Handler) recentActivities(ctx context.Context, userID string, r *http.Request) (any, error) {
	var req recentRequest
	if err := decodeData(r, &req); err != nil {
		return nil, err
	}
	acts, err := h.deps.Ingest.RecentActivities(ctx, userID, clampLimit(req.Limit))
	if err != nil {
		return nil, err
	}
	return activitiesResponse{Activities: nonNil(acts)}, nil
}

type listRequest struct {
	Limit     int        `json:"limit"`
	Ascending bool       `json:"ascending"`
	Since     *time.Time `json:"since"`
}

func (h *Handler) listActivities(ctx context.Context, userID string, r *http.Request) (any, error) {
	var req listRequest
	if err := decodeData(r, &req); err != nil {
		return nil, err
	}
	if req.Limit < 0 {
		return nil, invalidArgument("limit must not be negative")
	}
	acts, err := h.deps.Ingest.ListActivities(ctx, userID, types.ActivityQuery{
		Limit:     clampLimit(req.Limit),
		Ascending: req.Ascending,
		Since:     req.Since,
	})
	if err != nil {
		return nil, err
	}
	return activitiesResponse{Activities: nonNil(acts)}, nil
}

// --- Challenge ---

type resetResponse struct {
	Success bool `json:"success"`
	Deleted int  `json:"deleted"`
}

func (h *Handler) resetChallenge(ctx context.Context, userID string, r *http.Request) (any, error) {
	n, err := h.deps.Ingest.ResetChallenge(ctx, userID)
	if err != nil {
		return nil, err
	}
	return resetResponse{Success: true, Deleted: n}, nil
}

type weeklyResponse struct {
	Count     int  `json:"count"`
	Threshold int  `json:"threshold"`
	Eligible  bool `json:"eligible"`
}

func (h *Handler) weeklyProgress(ctx context.Context, userID string, r *http.Request) (any, error) {
	eligible, n, err := h.deps.Ingest.IsEligibleForGiveaway(ctx, userID)
	if err != nil {
		return nil, err
	}
	return weeklyResponse{Count: n, Threshold: ingest.GiveawayThreshold, Eligible: eligible}, nil
}

func clampLimit(n int) int {
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func nonNil(acts []*types.Activity) []*types.Activity {
	if acts == nil {
		return []*types.Activity{}
	}
	return acts
}
