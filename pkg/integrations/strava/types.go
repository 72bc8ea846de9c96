package strava

import (
	"encoding/json"
	"strings"
	"time"
)

// Athlete is the subset of the Strava athlete profile returned with a token grant.
type Athlete struct {
	ID        int64   `json:"id"`
	Username  *string `json:"username"`
	Firstname string  `json:"firstname"`
	Lastname  string  `json:"lastname"`
}

// Name is the athlete's display name ("first last").
func (a Athlete) Name() string {
	return strings.TrimSpace(a.Firstname + " " + a.Lastname)
}

// TokenBundle is the result of a code exchange or refresh grant.
// Athlete is only populated on the initial exchange.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
	Athlete      *Athlete
}

// ExpiresAtTime returns ExpiresAt as a time.Time.
func (b *TokenBundle) ExpiresAtTime() time.Time {
	return time.Unix(b.ExpiresAt, 0).UTC()
}

// Activity is the provider-native summary activity.
type Activity struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Type               string    `json:"type"`
	SportType          string    `json:"sport_type"`
	Distance           float64   `json:"distance"`    // meters
	MovingTime         int       `json:"moving_time"` // seconds
	ElapsedTime        int       `json:"elapsed_time"`
	TotalElevationGain float64   `json:"total_elevation_gain"` // meters
	StartDate          time.Time `json:"start_date"`
	LocationCity       *string   `json:"location_city"`

	// Raw is the undecoded provider payload, kept for archiving.
	Raw json.RawMessage `json:"-"`
}

// ListParams are the paging parameters for /athlete/activities.
type ListParams struct {
	After   int64 // epoch seconds, 0 = unbounded
	Page    int
	PerPage int
}

// WebhookEvent is the push subscription payload.
type WebhookEvent struct {
	ObjectType     string         `json:"object_type"`
	ObjectID       int64          `json:"object_id"`
	AspectType     string         `json:"aspect_type"`
	OwnerID        int64          `json:"owner_id"`
	SubscriptionID int64          `json:"subscription_id"`
	EventTime      int64          `json:"event_time"`
	Updates        map[string]any `json:"updates,omitempty"`
}
