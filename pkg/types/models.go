package types

import "time"

// ActivitySource identifies where an activity record came from.
type ActivitySource string

const (
	SourceManual ActivitySource = "manual"
	SourceStrava ActivitySource = "strava"
)

// Stats are the running totals kept on the user document.
type Stats struct {
	TotalKm       float64 `json:"totalKm"`
	TotalMinutes  float64 `json:"totalMinutes"`
	TotalSteps    int64   `json:"totalSteps"`
	CurrentStreak int     `json:"currentStreak"`
}

// User is the identity root. Stats are only mutated through the stats aggregator.
type User struct {
	ID               string              `json:"id"`
	Email            string              `json:"email,omitempty"`
	DisplayName      string              `json:"displayName,omitempty"`
	Stats            Stats               `json:"stats"`
	LastActivityDate *time.Time          `json:"lastActivityDate,omitempty"`
	Connection       *ProviderConnection `json:"-"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// ProviderConnection is the Strava link stored on a user.
// AccessToken and RefreshToken hold vault envelopes, never plaintext.
type ProviderConnection struct {
	AthleteID       int64      `json:"athleteId"`
	AthleteUsername *string    `json:"athleteUsername"`
	AccessToken     string     `json:"-"`
	RefreshToken    string     `json:"-"`
	TokenExpiresAt  time.Time  `json:"tokenExpiresAt"`
	Scopes          []string   `json:"scopes"`
	ConnectedAt     time.Time  `json:"connectedAt"`
	LastSyncAt      *time.Time `json:"lastSyncAt"`
}

// Activity is a single entry in a user's activity ledger.
// Duration is in seconds, Distance in kilometres.
type Activity struct {
	ID         string         `json:"id"`
	Source     ActivitySource `json:"source"`
	ExternalID *string        `json:"externalId"`
	Type       string         `json:"type"`
	Duration   int            `json:"duration"`
	Distance   float64        `json:"distance"`
	Location   *string        `json:"location"`
	Date       time.Time      `json:"date"`
	CreatedAt  time.Time      `json:"createdAt"`
	// Steps is the figure credited to the totals at insert time. Nil on
	// records written before it was stored.
	Steps *int64 `json:"steps,omitempty"`

	ElapsedTime   *int     `json:"elapsedTime,omitempty"`
	ElevationGain *float64 `json:"elevationGain,omitempty"`
	Name          *string  `json:"name,omitempty"`
	SportType     *string  `json:"sportType,omitempty"`
}

// ActivityPatch carries the descriptive fields a provider update may change.
// Nil fields are left untouched.
type ActivityPatch struct {
	Name      *string
	Type      *string
	SportType *string
}

// ActivityQuery controls activity listing.
type ActivityQuery struct {
	Limit     int
	Ascending bool
	Since     *time.Time
}

// StatDelta is a typed partial update of Stats. Nil fields are unchanged.
type StatDelta struct {
	Km      *float64
	Minutes *float64
	Steps   *int64
}

// Negate returns the delta that reverses d.
func (d StatDelta) Negate() StatDelta {
	var out StatDelta
	if d.Km != nil {
		v := -*d.Km
		out.Km = &v
	}
	if d.Minutes != nil {
		v := -*d.Minutes
		out.Minutes = &v
	}
	if d.Steps != nil {
		v := -*d.Steps
		out.Steps = &v
	}
	return out
}

// IsZero reports whether the delta changes nothing.
func (d StatDelta) IsZero() bool {
	return d.Km == nil && d.Minutes == nil && d.Steps == nil
}

// Apply adds the delta to s in place. Stores without a native increment use this
// inside their own lock or transaction.
func (d StatDelta) Apply(s *Stats) {
	if d.Km != nil {
		s.TotalKm += *d.Km
	}
	if d.Minutes != nil {
		s.TotalMinutes += *d.Minutes
	}
	if d.Steps != nil {
		s.TotalSteps += *d.Steps
	}
}

// StreakState is the part of the user document the streak state machine reads and writes.
type StreakState struct {
	CurrentStreak    int
	LastActivityDate *time.Time
}

// Webhook object and aspect types.
const (
	ObjectTypeActivity = "activity"
	ObjectTypeAthlete  = "athlete"

	AspectCreate = "create"
	AspectUpdate = "update"
	AspectDelete = "delete"
)

// WebhookQueueEntry is a durable inbox item. ProcessedAt == nil means unprocessed.
// Entries are never deleted; Error is an annotation on a processed entry.
type WebhookQueueEntry struct {
	ID          string            `json:"id"`
	ObjectType  string            `json:"objectType"`
	ObjectID    int64             `json:"objectId"`
	AspectType  string            `json:"aspectType"`
	OwnerID     int64             `json:"ownerId"`
	EventTime   int64             `json:"eventTime"`
	Updates     map[string]string `json:"updates,omitempty"`
	ReceivedAt  time.Time         `json:"receivedAt"`
	ProcessedAt *time.Time        `json:"processedAt"`
	Error       string            `json:"error,omitempty"`
	Attempts    int               `json:"attempts"`
}

// ConnectionStatus is what the client-facing connection indicator shows.
type ConnectionStatus struct {
	Connected       bool       `json:"connected"`
	AthleteID       int64      `json:"athleteId,omitempty"`
	AthleteUsername *string    `json:"athleteUsername,omitempty"`
	LastSyncAt      *time.Time `json:"lastSyncAt,omitempty"`
}

// StatusFromUser derives the connection status from a loaded user.
func StatusFromUser(u *User) ConnectionStatus {
	if u == nil || u.Connection == nil {
		return ConnectionStatus{}
	}
	return ConnectionStatus{
		Connected:       true,
		AthleteID:       u.Connection.AthleteID,
		AthleteUsername: u.Connection.AthleteUsername,
		LastSyncAt:      u.Connection.LastSyncAt,
	}
}
