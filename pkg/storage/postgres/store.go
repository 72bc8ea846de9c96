package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	shared "github.com/trailblazerplus/server/pkg"
	"github.com/trailblazerplus/server/pkg/types"
)

// Store implements shared.Database. Stat increments are expressed in SQL so
// concurrent writers never lose updates; streak changes lock the user row.
type Store struct {
	db  *DB
	now func() time.Time
}

var _ shared.Database = (*Store)(nil)

func NewStore(db *DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()
	return fn(tx)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func deltaArgs(d types.StatDelta) (km, minutes float64, steps int64) {
	if d.Km != nil {
		km = *d.Km
	}
	if d.Minutes != nil {
		minutes = *d.Minutes
	}
	if d.Steps != nil {
		steps = *d.Steps
	}
	return km, minutes, steps
}

// --- UserStore ---

const selectUser = `
SELECT u.id, u.email, u.display_name, u.total_km, u.total_minutes, u.total_steps, u.current_streak,
       u.last_activity_date, u.created_at, u.updated_at,
       c.athlete_id, c.athlete_username, c.access_token, c.refresh_token, c.token_expires_at,
       c.scopes, c.connected_at, c.last_sync_at
FROM users u LEFT JOIN strava_connections c ON c.user_id = u.id
WHERE u.id = $1`

func (s *Store) GetUser(ctx context.Context, userID string) (*types.User, error) {
	var (
		u         types.User
		athleteID *int64
		username  *string
		access    *string
		refresh   *string
		expiresAt *time.Time
		scopes    []string
		connected *time.Time
		lastSync  *time.Time
	)
	err := s.db.Pool.QueryRow(ctx, selectUser, userID).Scan(
		&u.ID, &u.Email, &u.DisplayName, &u.Stats.TotalKm, &u.Stats.TotalMinutes, &u.Stats.TotalSteps, &u.Stats.CurrentStreak,
		&u.LastActivityDate, &u.CreatedAt, &u.UpdatedAt,
		&athleteID, &username, &access, &refresh, &expiresAt, &scopes, &connected, &lastSync,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	if athleteID != nil {
		u.Connection = &types.ProviderConnection{
			AthleteID:       *athleteID,
			AthleteUsername: username,
			Scopes:          scopes,
			LastSyncAt:      lastSync,
		}
		if access != nil {
			u.Connection.AccessToken = *access
		}
		if refresh != nil {
			u.Connection.RefreshToken = *refresh
		}
		if expiresAt != nil {
			u.Connection.TokenExpiresAt = *expiresAt
		}
		if connected != nil {
			u.Connection.ConnectedAt = *connected
		}
	}
	return &u, nil
}

const insertUser = `
INSERT INTO users (id, email, display_name, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`

func (s *Store) CreateUser(ctx context.Context, user *types.User) error {
	now := s.now().UTC()
	created := user.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.Pool.Exec(ctx, insertUser, user.ID, user.Email, user.DisplayName, created, now)
	return err
}

const ensureUser = `INSERT INTO users (id, created_at, updated_at) VALUES ($1, $2, $2) ON CONFLICT (id) DO NOTHING`

const upsertStatDelta = `
INSERT INTO users (id, total_km, total_minutes, total_steps, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (id) DO UPDATE SET
    total_km = users.total_km + EXCLUDED.total_km,
    total_minutes = users.total_minutes + EXCLUDED.total_minutes,
    total_steps = users.total_steps + EXCLUDED.total_steps,
    updated_at = EXCLUDED.updated_at`

func (s *Store) applyDelta(ctx context.Context, q execer, userID string, delta types.StatDelta) error {
	km, minutes, steps := deltaArgs(delta)
	_, err := q.Exec(ctx, upsertStatDelta, userID, km, minutes, steps, s.now().UTC())
	return err
}

func (s *Store) ApplyStatDelta(ctx context.Context, userID string, delta types.StatDelta) error {
	if delta.IsZero() {
		return nil
	}
	return s.applyDelta(ctx, s.db.Pool, userID, delta)
}

const (
	selectStreakForUpdate = `SELECT current_streak, last_activity_date FROM users WHERE id = $1 FOR UPDATE`
	updateStreak          = `UPDATE users SET current_streak = $2, last_activity_date = $3, updated_at = $4 WHERE id = $1`
)

func (s *Store) UpdateStreak(ctx context.Context, userID string, fn shared.StreakFunc) (types.StreakState, error) {
	var next types.StreakState
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		now := s.now().UTC()
		if _, err := tx.Exec(ctx, ensureUser, userID, now); err != nil {
			return err
		}
		var current types.StreakState
		if err := tx.QueryRow(ctx, selectStreakForUpdate, userID).Scan(&current.CurrentStreak, &current.LastActivityDate); err != nil {
			return err
		}
		next = fn(current)
		_, err := tx.Exec(ctx, updateStreak, userID, next.CurrentStreak, next.LastActivityDate, now)
		return err
	})
	if err != nil {
		return types.StreakState{}, fmt.Errorf("update streak for %s: %w", userID, err)
	}
	return next, nil
}

const upsertStreak = `
INSERT INTO users (id, current_streak, last_activity_date, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (id) DO UPDATE SET
    current_streak = EXCLUDED.current_streak,
    last_activity_date = EXCLUDED.last_activity_date,
    updated_at = EXCLUDED.updated_at`

func (s *Store) SetStreak(ctx context.Context, userID string, streak int, lastActivityDate *time.Time) error {
	_, err := s.db.Pool.Exec(ctx, upsertStreak, userID, streak, lastActivityDate, s.now().UTC())
	return err
}

const resetStats = `
INSERT INTO users (id, created_at, updated_at) VALUES ($1, $2, $2)
ON CONFLICT (id) DO UPDATE SET
    total_km = 0, total_minutes = 0, total_steps = 0, current_streak = 0,
    last_activity_date = NULL, updated_at = EXCLUDED.updated_at`

func (s *Store) ResetStats(ctx context.Context, userID string) error {
	_, err := s.db.Pool.Exec(ctx, resetStats, userID, s.now().UTC())
	return err
}

// --- ConnectionStore ---

const upsertConnection = `
INSERT INTO strava_connections
    (user_id, athlete_id, athlete_username, access_token, refresh_token, token_expires_at, scopes, connected_at, last_sync_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (user_id) DO UPDATE SET
    athlete_id = EXCLUDED.athlete_id,
    athlete_username = EXCLUDED.athlete_username,
    access_token = EXCLUDED.access_token,
    refresh_token = EXCLUDED.refresh_token,
    token_expires_at = EXCLUDED.token_expires_at,
    scopes = EXCLUDED.scopes,
    connected_at = EXCLUDED.connected_at,
    last_sync_at = EXCLUDED.last_sync_at`

func (s *Store) SetConnection(ctx context.Context, userID string, conn *types.ProviderConnection) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, ensureUser, userID, s.now().UTC()); err != nil {
			return err
		}
		scopes := conn.Scopes
		if scopes == nil {
			scopes = []string{}
		}
		_, err := tx.Exec(ctx, upsertConnection,
			userID, conn.AthleteID, conn.AthleteUsername, conn.AccessToken, conn.RefreshToken,
			conn.TokenExpiresAt.UTC(), scopes, conn.ConnectedAt.UTC(), conn.LastSyncAt)
		return err
	})
}

const updateTokens = `UPDATE strava_connections SET access_token = $2, refresh_token = $3, token_expires_at = $4 WHERE user_id = $1`

func (s *Store) UpdateConnectionTokens(ctx context.Context, userID string, accessToken, refreshToken string, expiresAt time.Time) error {
	tag, err := s.db.Pool.Exec(ctx, updateTokens, userID, accessToken, refreshToken, expiresAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotConnected
	}
	return nil
}

const touchLastSync = `UPDATE strava_connections SET last_sync_at = $2 WHERE user_id = $1`

func (s *Store) TouchLastSync(ctx context.Context, userID string, at time.Time) error {
	tag, err := s.db.Pool.Exec(ctx, touchLastSync, userID, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotConnected
	}
	return nil
}

const deleteConnection = `DELETE FROM strava_connections WHERE user_id = $1`

func (s *Store) DeleteConnection(ctx context.Context, userID string) error {
	_, err := s.db.Pool.Exec(ctx, deleteConnection, userID)
	return err
}

const selectUserByAthlete = `SELECT user_id FROM strava_connections WHERE athlete_id = $1 ORDER BY user_id LIMIT 1`

func (s *Store) FindUserIDByAthleteID(ctx context.Context, athleteID int64) (string, error) {
	var userID string
	err := s.db.Pool.QueryRow(ctx, selectUserByAthlete, athleteID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find athlete %d: %w", athleteID, err)
	}
	return userID, nil
}

// --- ActivityStore ---

const activityColumns = `id, source, external_id, type, duration, distance, location, date, created_at,
    elapsed_time, elevation_gain, name, sport_type, steps`

const insertActivity = `
INSERT INTO activities (user_id, ` + activityColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT DO NOTHING`

func scanActivity(row pgx.Row) (*types.Activity, error) {
	var a types.Activity
	var source string
	err := row.Scan(&a.ID, &source, &a.ExternalID, &a.Type, &a.Duration, &a.Distance, &a.Location, &a.Date, &a.CreatedAt,
		&a.ElapsedTime, &a.ElevationGain, &a.Name, &a.SportType, &a.Steps)
	if err != nil {
		return nil, err
	}
	a.Source = types.ActivitySource(source)
	return &a, nil
}

// InsertActivity relies on ON CONFLICT against the primary key and the
// partial (user_id, external_id) index.
func (s *Store) InsertActivity(ctx context.Context, userID string, act *types.Activity, delta types.StatDelta) (bool, error) {
	if act.ID == "" {
		act.ID = uuid.NewString()
	}
	inserted := false
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, ensureUser, userID, s.now().UTC()); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, insertActivity,
			userID, act.ID, string(act.Source), act.ExternalID, act.Type, act.Duration, act.Distance, act.Location,
			act.Date.UTC(), act.CreatedAt.UTC(), act.ElapsedTime, act.ElevationGain, act.Name, act.SportType, act.Steps)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if !delta.IsZero() {
			if err := s.applyDelta(ctx, tx, userID, delta); err != nil {
				return err
			}
		}
		inserted = true
		return nil
	})
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert activity %s: %w", act.ID, err)
	}
	return inserted, nil
}

const selectActivityByExternalID = `SELECT ` + activityColumns + ` FROM activities WHERE user_id = $1 AND external_id = $2`

func (s *Store) GetActivityByExternalID(ctx context.Context, userID, externalID string) (*types.Activity, error) {
	a, err := scanActivity(s.db.Pool.QueryRow(ctx, selectActivityByExternalID, userID, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

const patchActivity = `
UPDATE activities SET
    name = COALESCE($3, name),
    type = COALESCE($4, type),
    sport_type = COALESCE($5, sport_type)
WHERE user_id = $1 AND id = $2`

func (s *Store) PatchActivity(ctx context.Context, userID, activityID string, patch types.ActivityPatch) error {
	tag, err := s.db.Pool.Exec(ctx, patchActivity, userID, activityID, patch.Name, patch.Type, patch.SportType)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrActivityNotFound
	}
	return nil
}

const deleteActivityByExternalID = `DELETE FROM activities WHERE user_id = $1 AND external_id = $2 RETURNING ` + activityColumns

func (s *Store) DeleteActivityByExternalID(ctx context.Context, userID, externalID string, deltaFn shared.DeltaFunc) (*types.Activity, error) {
	var deleted *types.Activity
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		act, err := scanActivity(tx.QueryRow(ctx, deleteActivityByExternalID, userID, externalID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if deltaFn != nil {
			if delta := deltaFn(act); !delta.IsZero() {
				if err := s.applyDelta(ctx, tx, userID, delta); err != nil {
					return err
				}
			}
		}
		deleted = act
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete activity %s: %w", externalID, err)
	}
	return deleted, nil
}

func listActivitiesQuery(userID string, query types.ActivityQuery) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT ` + activityColumns + ` FROM activities WHERE user_id = $1`)
	args := []any{userID}
	if query.Since != nil {
		args = append(args, query.Since.UTC())
		fmt.Fprintf(&b, " AND date >= $%d", len(args))
	}
	if query.Ascending {
		b.WriteString(" ORDER BY date ASC")
	} else {
		b.WriteString(" ORDER BY date DESC")
	}
	if query.Limit > 0 {
		args = append(args, query.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func (s *Store) ListActivities(ctx context.Context, userID string, query types.ActivityQuery) ([]*types.Activity, error) {
	sql, args := listActivitiesQuery(userID, query)
	rows, err := s.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const deleteAllActivities = `DELETE FROM activities WHERE user_id = $1`

func (s *Store) DeleteAllActivities(ctx context.Context, userID string) (int, error) {
	tag, err := s.db.Pool.Exec(ctx, deleteAllActivities, userID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// --- QueueStore ---

const queueColumns = `id, object_type, object_id, aspect_type, owner_id, event_time, updates, received_at, processed_at, error, attempts`

const insertQueueEntry = `INSERT INTO webhook_queue (` + queueColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, '', 0)`

func (s *Store) EnqueueWebhook(ctx context.Context, entry *types.WebhookQueueEntry) (string, error) {
	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}
	received := entry.ReceivedAt
	if received.IsZero() {
		received = s.now()
	}
	_, err := s.db.Pool.Exec(ctx, insertQueueEntry,
		id, entry.ObjectType, entry.ObjectID, entry.AspectType, entry.OwnerID, entry.EventTime, entry.Updates, received.UTC())
	if err != nil {
		return "", fmt.Errorf("enqueue webhook: %w", err)
	}
	return id, nil
}

func scanQueueEntry(row pgx.Row) (*types.WebhookQueueEntry, error) {
	var e types.WebhookQueueEntry
	err := row.Scan(&e.ID, &e.ObjectType, &e.ObjectID, &e.AspectType, &e.OwnerID, &e.EventTime, &e.Updates,
		&e.ReceivedAt, &e.ProcessedAt, &e.Error, &e.Attempts)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

const selectQueueEntry = `SELECT ` + queueColumns + ` FROM webhook_queue WHERE id = $1`

func (s *Store) GetWebhookEntry(ctx context.Context, id string) (*types.WebhookQueueEntry, error) {
	e, err := scanQueueEntry(s.db.Pool.QueryRow(ctx, selectQueueEntry, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrEntryNotFound
	}
	return e, err
}

const markProcessed = `UPDATE webhook_queue SET processed_at = $2, error = $3, attempts = attempts + 1 WHERE id = $1`

func (s *Store) MarkWebhookProcessed(ctx context.Context, id string, at time.Time, errMsg string) error {
	tag, err := s.db.Pool.Exec(ctx, markProcessed, id, at.UTC(), errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrEntryNotFound
	}
	return nil
}

const selectFailed = `SELECT ` + queueColumns + ` FROM webhook_queue
WHERE processed_at IS NOT NULL AND error <> '' ORDER BY received_at ASC LIMIT $1`

func (s *Store) ListFailedWebhooks(ctx context.Context, limit int) ([]*types.WebhookQueueEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Pool.Query(ctx, selectFailed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.WebhookQueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const requeue = `UPDATE webhook_queue SET processed_at = NULL, error = '' WHERE id = $1`

func (s *Store) RequeueWebhook(ctx context.Context, id string) error {
	tag, err := s.db.Pool.Exec(ctx, requeue, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrEntryNotFound
	}
	return nil
}
