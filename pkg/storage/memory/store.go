// Package memory is an in-process implementation of the storage interfaces.
// A single mutex serialises every operation, which gives the same per-user
// atomicity the document and relational backends get from transactions.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	shared "github.com/trailblazerplus/server/pkg"
	"github.com/trailblazerplus/server/pkg/types"
)

type userRecord struct {
	user       types.User
	activities map[string]*types.Activity // by activity id
	byExternal map[string]string          // external id -> activity id
}

// Store holds everything in maps.
type Store struct {
	mu       sync.Mutex
	users    map[string]*userRecord
	queue    map[string]*types.WebhookQueueEntry
	order    []string
	watchers map[string]map[int]chan types.ConnectionStatus
	nextSub  int
	now      func() time.Time
}

var (
	_ shared.Database          = (*Store)(nil)
	_ shared.ConnectionWatcher = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:    make(map[string]*userRecord),
		queue:    make(map[string]*types.WebhookQueueEntry),
		watchers: make(map[string]map[int]chan types.ConnectionStatus),
		now:      time.Now,
	}
}

func (s *Store) Close() error { return nil }

// record returns the user record, creating an empty user on first touch.
// Documents in the hosted store spring into existence on first write as well.
func (s *Store) record(userID string) *userRecord {
	rec, ok := s.users[userID]
	if !ok {
		now := s.now().UTC()
		rec = &userRecord{
			user:       types.User{ID: userID, CreatedAt: now, UpdatedAt: now},
			activities: make(map[string]*types.Activity),
			byExternal: make(map[string]string),
		}
		s.users[userID] = rec
	}
	return rec
}

// --- UserStore ---

func (s *Store) GetUser(ctx context.Context, userID string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return copyUser(&rec.user), nil
}

func (s *Store) CreateUser(ctx context.Context, user *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(user.ID)
	created := rec.user.CreatedAt
	rec.user = *copyUser(user)
	if rec.user.CreatedAt.IsZero() {
		rec.user.CreatedAt = created
	}
	rec.user.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) ApplyStatDelta(ctx context.Context, userID string, delta types.StatDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(userID)
	delta.Apply(&rec.user.Stats)
	rec.user.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) UpdateStreak(ctx context.Context, userID string, fn shared.StreakFunc) (types.StreakState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(userID)
	next := fn(types.StreakState{
		CurrentStreak:    rec.user.Stats.CurrentStreak,
		LastActivityDate: copyTime(rec.user.LastActivityDate),
	})
	rec.user.Stats.CurrentStreak = next.CurrentStreak
	rec.user.LastActivityDate = copyTime(next.LastActivityDate)
	rec.user.UpdatedAt = s.now().UTC()
	return next, nil
}

func (s *Store) SetStreak(ctx context.Context, userID string, streak int, lastActivityDate *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(userID)
	rec.user.Stats.CurrentStreak = streak
	rec.user.LastActivityDate = copyTime(lastActivityDate)
	rec.user.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) ResetStats(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(userID)
	rec.user.Stats = types.Stats{}
	rec.user.LastActivityDate = nil
	rec.user.UpdatedAt = s.now().UTC()
	return nil
}

// --- ConnectionStore ---

func (s *Store) SetConnection(ctx context.Context, userID string, conn *types.ProviderConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(userID)
	rec.user.Connection = copyConnection(conn)
	s.notifyLocked(userID)
	return nil
}

func (s *Store) UpdateConnectionTokens(ctx context.Context, userID string, accessToken, refreshToken string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok || rec.user.Connection == nil {
		return shared.ErrNotConnected
	}
	rec.user.Connection.AccessToken = accessToken
	rec.user.Connection.RefreshToken = refreshToken
	rec.user.Connection.TokenExpiresAt = expiresAt.UTC()
	return nil
}

func (s *Store) TouchLastSync(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok || rec.user.Connection == nil {
		return shared.ErrNotConnected
	}
	at = at.UTC()
	rec.user.Connection.LastSyncAt = &at
	s.notifyLocked(userID)
	return nil
}

func (s *Store) DeleteConnection(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.users[userID]; ok {
		rec.user.Connection = nil
	}
	s.notifyLocked(userID)
	return nil
}

func (s *Store) FindUserIDByAthleteID(ctx context.Context, athleteID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if c := s.users[id].user.Connection; c != nil && c.AthleteID == athleteID {
			return id, nil
		}
	}
	return "", nil
}

// --- ActivityStore ---

func (s *Store) InsertActivity(ctx context.Context, userID string, act *types.Activity, delta types.StatDelta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(userID)
	if act.ExternalID != nil {
		if _, exists := rec.byExternal[*act.ExternalID]; exists {
			return false, nil
		}
	}
	if act.ID == "" {
		act.ID = uuid.NewString()
	}
	if _, exists := rec.activities[act.ID]; exists {
		return false, nil
	}

	stored := copyActivity(act)
	rec.activities[stored.ID] = stored
	if stored.ExternalID != nil {
		rec.byExternal[*stored.ExternalID] = stored.ID
	}
	delta.Apply(&rec.user.Stats)
	rec.user.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *Store) GetActivityByExternalID(ctx context.Context, userID, externalID string) (*types.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	id, ok := rec.byExternal[externalID]
	if !ok {
		return nil, nil
	}
	return copyActivity(rec.activities[id]), nil
}

func (s *Store) PatchActivity(ctx context.Context, userID, activityID string, patch types.ActivityPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return shared.ErrActivityNotFound
	}
	act, ok := rec.activities[activityID]
	if !ok {
		return shared.ErrActivityNotFound
	}
	if patch.Name != nil {
		v := *patch.Name
		act.Name = &v
	}
	if patch.Type != nil {
		act.Type = *patch.Type
	}
	if patch.SportType != nil {
		v := *patch.SportType
		act.SportType = &v
	}
	return nil
}

func (s *Store) DeleteActivityByExternalID(ctx context.Context, userID, externalID string, deltaFn shared.DeltaFunc) (*types.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	id, ok := rec.byExternal[externalID]
	if !ok {
		return nil, nil
	}
	act := rec.activities[id]
	delete(rec.activities, id)
	delete(rec.byExternal, externalID)
	if deltaFn != nil {
		deltaFn(act).Apply(&rec.user.Stats)
	}
	rec.user.UpdatedAt = s.now().UTC()
	return act, nil
}

func (s *Store) ListActivities(ctx context.Context, userID string, query types.ActivityQuery) ([]*types.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	out := make([]*types.Activity, 0, len(rec.activities))
	for _, act := range rec.activities {
		if query.Since != nil && act.Date.Before(*query.Since) {
			continue
		}
		out = append(out, copyActivity(act))
	}
	sort.Slice(out, func(i, j int) bool {
		if query.Ascending {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Date.After(out[j].Date)
	})
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (s *Store) DeleteAllActivities(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return 0, nil
	}
	n := len(rec.activities)
	rec.activities = make(map[string]*types.Activity)
	rec.byExternal = make(map[string]string)
	return n, nil
}

// --- QueueStore ---

func (s *Store) EnqueueWebhook(ctx context.Context, entry *types.WebhookQueueEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *entry
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = s.now().UTC()
	}
	e.ProcessedAt = nil
	s.queue[e.ID] = &e
	s.order = append(s.order, e.ID)
	return e.ID, nil
}

func (s *Store) GetWebhookEntry(ctx context.Context, id string) (*types.WebhookQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.queue[id]
	if !ok {
		return nil, shared.ErrEntryNotFound
	}
	c := *e
	c.ProcessedAt = copyTime(e.ProcessedAt)
	return &c, nil
}

func (s *Store) MarkWebhookProcessed(ctx context.Context, id string, at time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.queue[id]
	if !ok {
		return shared.ErrEntryNotFound
	}
	at = at.UTC()
	e.ProcessedAt = &at
	e.Error = errMsg
	e.Attempts++
	return nil
}

func (s *Store) ListFailedWebhooks(ctx context.Context, limit int) ([]*types.WebhookQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.WebhookQueueEntry
	for _, id := range s.order {
		e := s.queue[id]
		if e.ProcessedAt == nil || e.Error == "" {
			continue
		}
		c := *e
		c.ProcessedAt = copyTime(e.ProcessedAt)
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) RequeueWebhook(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.queue[id]
	if !ok {
		return shared.ErrEntryNotFound
	}
	e.ProcessedAt = nil
	e.Error = ""
	return nil
}

// --- ConnectionWatcher ---

func (s *Store) WatchConnection(ctx context.Context, userID string) (<-chan types.ConnectionStatus, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan types.ConnectionStatus, 4)
	id := s.nextSub
	s.nextSub++
	if s.watchers[userID] == nil {
		s.watchers[userID] = make(map[int]chan types.ConnectionStatus)
	}
	s.watchers[userID][id] = ch

	var initial types.ConnectionStatus
	if rec, ok := s.users[userID]; ok {
		initial = types.StatusFromUser(copyUser(&rec.user))
	}
	ch <- initial

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers[userID], id)
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}

// notifyLocked pushes the latest status to subscribers. Slow readers miss
// intermediate states rather than block writers.
func (s *Store) notifyLocked(userID string) {
	subs := s.watchers[userID]
	if len(subs) == 0 {
		return
	}
	var status types.ConnectionStatus
	if rec, ok := s.users[userID]; ok {
		status = types.StatusFromUser(copyUser(&rec.user))
	}
	for _, ch := range subs {
		select {
		case ch <- status:
		default:
		}
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyConnection(c *types.ProviderConnection) *types.ProviderConnection {
	if c == nil {
		return nil
	}
	out := *c
	out.Scopes = append([]string(nil), c.Scopes...)
	out.LastSyncAt = copyTime(c.LastSyncAt)
	return &out
}

func copyUser(u *types.User) *types.User {
	out := *u
	out.LastActivityDate = copyTime(u.LastActivityDate)
	out.Connection = copyConnection(u.Connection)
	return &out
}

func copyActivity(a *types.Activity) *types.Activity {
	out := *a
	return &out
}
