package firestore

import (
	"time"

	"cloud.google.com/go/firestore"

	"github.com/trailblazerplus/server/pkg/types"
)

// Field names. Nested fields are addressed with FieldPath values built from
// these constants.
const (
	FieldStats            = "stats"
	FieldTotalKm          = "total_km"
	FieldTotalMinutes     = "total_minutes"
	FieldTotalSteps       = "total_steps"
	FieldCurrentStreak    = "current_streak"
	FieldLastActivityDate = "last_activity_date"
	FieldConnection       = "strava_connection"
	FieldAthleteID        = "athlete_id"
	FieldAccessToken      = "access_token"
	FieldRefreshToken     = "refresh_token"
	FieldTokenExpiresAt   = "token_expires_at"
	FieldLastSyncAt       = "last_sync_at"
	FieldUpdatedAt        = "updated_at"

	FieldExternalID = "external_id"
	FieldDate       = "date"
	FieldName       = "name"
	FieldType       = "type"
	FieldSportType  = "sport_type"
	FieldSteps      = "steps"

	FieldProcessedAt = "processed_at"
	FieldError       = "error"
	FieldFailed      = "failed"
	FieldAttempts    = "attempts"
	FieldReceivedAt  = "received_at"
)

// Helper to safely get string from map
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Helper to convert string to pointer, returns nil for empty strings
func stringPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func getInt64(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func getFloat(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// Helper to safely get time from map (handles time.Time from Firestore)
func getTime(m map[string]interface{}, key string) *time.Time {
	if v, ok := m[key]; ok {
		if t, ok := v.(time.Time); ok {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func getMap(m map[string]interface{}, key string) map[string]interface{} {
	if v, ok := m[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

func getStrings(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func timeOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func orZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// --- User Converters ---

func StatsToFirestore(s types.Stats) map[string]interface{} {
	return map[string]interface{}{
		FieldTotalKm:       s.TotalKm,
		FieldTotalMinutes:  s.TotalMinutes,
		FieldTotalSteps:    s.TotalSteps,
		FieldCurrentStreak: int64(s.CurrentStreak),
	}
}

func ConnectionToFirestore(c *types.ProviderConnection) map[string]interface{} {
	m := map[string]interface{}{
		FieldAthleteID:      c.AthleteID,
		FieldAccessToken:    c.AccessToken,
		FieldRefreshToken:   c.RefreshToken,
		FieldTokenExpiresAt: c.TokenExpiresAt.UTC(),
		"scopes":            c.Scopes,
		"connected_at":      c.ConnectedAt.UTC(),
		FieldLastSyncAt:     timeOrNil(c.LastSyncAt),
	}
	if c.AthleteUsername != nil {
		m["athlete_username"] = *c.AthleteUsername
	} else {
		m["athlete_username"] = nil
	}
	return m
}

func UserToFirestore(u *types.User) map[string]interface{} {
	m := map[string]interface{}{
		"user_id":             u.ID,
		FieldStats:            StatsToFirestore(u.Stats),
		FieldLastActivityDate: timeOrNil(u.LastActivityDate),
		"created_at":          u.CreatedAt.UTC(),
		FieldUpdatedAt:        u.UpdatedAt.UTC(),
	}
	if u.Email != "" {
		m["email"] = u.Email
	}
	if u.DisplayName != "" {
		m["display_name"] = u.DisplayName
	}
	if u.Connection != nil {
		m[FieldConnection] = ConnectionToFirestore(u.Connection)
	}
	return m
}

func FirestoreToConnection(m map[string]interface{}) *types.ProviderConnection {
	if m == nil {
		return nil
	}
	return &types.ProviderConnection{
		AthleteID:       getInt64(m, FieldAthleteID),
		AthleteUsername: stringPtrOrNil(getString(m, "athlete_username")),
		AccessToken:     getString(m, FieldAccessToken),
		RefreshToken:    getString(m, FieldRefreshToken),
		TokenExpiresAt:  orZero(getTime(m, FieldTokenExpiresAt)),
		Scopes:          getStrings(m, "scopes"),
		ConnectedAt:     orZero(getTime(m, "connected_at")),
		LastSyncAt:      getTime(m, FieldLastSyncAt),
	}
}

func FirestoreToUser(id string, m map[string]interface{}) *types.User {
	u := &types.User{
		ID:               id,
		Email:            getString(m, "email"),
		DisplayName:      getString(m, "display_name"),
		LastActivityDate: getTime(m, FieldLastActivityDate),
		Connection:       FirestoreToConnection(getMap(m, FieldConnection)),
		CreatedAt:        orZero(getTime(m, "created_at")),
		UpdatedAt:        orZero(getTime(m, FieldUpdatedAt)),
	}
	if s := getMap(m, FieldStats); s != nil {
		u.Stats = types.Stats{
			TotalKm:       getFloat(s, FieldTotalKm),
			TotalMinutes:  getFloat(s, FieldTotalMinutes),
			TotalSteps:    getInt64(s, FieldTotalSteps),
			CurrentStreak: int(getInt64(s, FieldCurrentStreak)),
		}
	}
	return u
}

// StreakFromFirestore reads the streak state from a raw user document.
func StreakFromFirestore(m map[string]interface{}) types.StreakState {
	return types.StreakState{
		CurrentStreak:    int(getInt64(getMap(m, FieldStats), FieldCurrentStreak)),
		LastActivityDate: getTime(m, FieldLastActivityDate),
	}
}

// StatIncrements turns a typed delta into a merge-able nested map of
// server-side increments.
func StatIncrements(d types.StatDelta) map[string]interface{} {
	stats := map[string]interface{}{}
	if d.Km != nil {
		stats[FieldTotalKm] = firestore.Increment(*d.Km)
	}
	if d.Minutes != nil {
		stats[FieldTotalMinutes] = firestore.Increment(*d.Minutes)
	}
	if d.Steps != nil {
		stats[FieldTotalSteps] = firestore.Increment(*d.Steps)
	}
	return map[string]interface{}{FieldStats: stats}
}

// --- Activity Converters ---

func ActivityToFirestore(a *types.Activity) map[string]interface{} {
	m := map[string]interface{}{
		"source":     string(a.Source),
		FieldType:    a.Type,
		"duration":   int64(a.Duration),
		"distance":   a.Distance,
		FieldDate:    a.Date.UTC(),
		"created_at": a.CreatedAt.UTC(),
	}
	if a.ExternalID != nil {
		m[FieldExternalID] = *a.ExternalID
	} else {
		m[FieldExternalID] = nil
	}
	if a.Location != nil {
		m["location"] = *a.Location
	} else {
		m["location"] = nil
	}
	if a.ElapsedTime != nil {
		m["elapsed_time"] = int64(*a.ElapsedTime)
	}
	if a.ElevationGain != nil {
		m["elevation_gain"] = *a.ElevationGain
	}
	if a.Name != nil {
		m[FieldName] = *a.Name
	}
	if a.SportType != nil {
		m[FieldSportType] = *a.SportType
	}
	if a.Steps != nil {
		m[FieldSteps] = *a.Steps
	}
	return m
}

func FirestoreToActivity(id string, m map[string]interface{}) *types.Activity {
	a := &types.Activity{
		ID:         id,
		Source:     types.ActivitySource(getString(m, "source")),
		ExternalID: stringPtrOrNil(getString(m, FieldExternalID)),
		Type:       getString(m, FieldType),
		Duration:   int(getInt64(m, "duration")),
		Distance:   getFloat(m, "distance"),
		Location:   stringPtrOrNil(getString(m, "location")),
		Date:       orZero(getTime(m, FieldDate)),
		CreatedAt:  orZero(getTime(m, "created_at")),
		Name:       stringPtrOrNil(getString(m, FieldName)),
		SportType:  stringPtrOrNil(getString(m, FieldSportType)),
	}
	if _, ok := m["elapsed_time"]; ok {
		v := int(getInt64(m, "elapsed_time"))
		a.ElapsedTime = &v
	}
	if _, ok := m["elevation_gain"]; ok {
		v := getFloat(m, "elevation_gain")
		a.ElevationGain = &v
	}
	if _, ok := m[FieldSteps]; ok {
		v := getInt64(m, FieldSteps)
		a.Steps = &v
	}
	return a
}

// PatchUpdates lists the field updates for the non-nil parts of a patch.
func PatchUpdates(p types.ActivityPatch) []firestore.Update {
	var updates []firestore.Update
	if p.Name != nil {
		updates = append(updates, firestore.Update{Path: FieldName, Value: *p.Name})
	}
	if p.Type != nil {
		updates = append(updates, firestore.Update{Path: FieldType, Value: *p.Type})
	}
	if p.SportType != nil {
		updates = append(updates, firestore.Update{Path: FieldSportType, Value: *p.SportType})
	}
	return updates
}

// --- Webhook Queue Converters ---

func WebhookEntryToFirestore(e *types.WebhookQueueEntry) map[string]interface{} {
	m := map[string]interface{}{
		"object_type":    e.ObjectType,
		"object_id":      e.ObjectID,
		"aspect_type":    e.AspectType,
		"owner_id":       e.OwnerID,
		"event_time":     e.EventTime,
		FieldReceivedAt:  e.ReceivedAt.UTC(),
		FieldProcessedAt: timeOrNil(e.ProcessedAt),
		FieldError:       e.Error,
		FieldFailed:      e.ProcessedAt != nil && e.Error != "",
		FieldAttempts:    int64(e.Attempts),
	}
	if len(e.Updates) > 0 {
		m["updates"] = e.Updates
	}
	return m
}

func FirestoreToWebhookEntry(id string, m map[string]interface{}) *types.WebhookQueueEntry {
	e := &types.WebhookQueueEntry{
		ID:          id,
		ObjectType:  getString(m, "object_type"),
		ObjectID:    getInt64(m, "object_id"),
		AspectType:  getString(m, "aspect_type"),
		OwnerID:     getInt64(m, "owner_id"),
		EventTime:   getInt64(m, "event_time"),
		ReceivedAt:  orZero(getTime(m, FieldReceivedAt)),
		ProcessedAt: getTime(m, FieldProcessedAt),
		Error:       getString(m, FieldError),
		Attempts:    int(getInt64(m, FieldAttempts)),
	}
	if raw := getMap(m, "updates"); len(raw) > 0 {
		e.Updates = make(map[string]string, len(raw))
		for k := range raw {
			e.Updates[k] = getString(raw, k)
		}
	}
	return e
}
