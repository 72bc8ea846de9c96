package activity

import (
	"strconv"
	"time"

	"github.com/trailblazerplus/server/pkg/integrations/strava"
	"github.com/trailblazerplus/server/pkg/types"
)

// DocIDPrefix prefixes the deterministic id of provider-sourced activities.
const DocIDPrefix = "strava_"

// DocID is the storage id for a provider activity. One external id maps to one
// document, which is what makes a duplicate insert detectable at write time.
func DocID(externalID string) string {
	return DocIDPrefix + externalID
}

// ToInternal maps a Strava activity to the internal schema.
func ToInternal(a *strava.Activity, now time.Time) *types.Activity {
	externalID := strconv.FormatInt(a.ID, 10)

	providerType := a.Type
	if providerType == "" {
		providerType = a.SportType
	}

	out := &types.Activity{
		ID:         DocID(externalID),
		Source:     types.SourceStrava,
		ExternalID: &externalID,
		Type:       NormalizeType(providerType),
		Duration:   a.MovingTime,
		Distance:   a.Distance / 1000,
		Location:   a.LocationCity,
		Date:       a.StartDate.UTC(),
		CreatedAt:  now.UTC(),
	}
	if a.StartDate.IsZero() {
		out.Date = now.UTC()
	}
	steps := ComputeSteps(out.Type, out.Distance)
	out.Steps = &steps

	elapsed := a.ElapsedTime
	out.ElapsedTime = &elapsed
	elevation := a.TotalElevationGain
	out.ElevationGain = &elevation
	if a.Name != "" {
		name := a.Name
		out.Name = &name
	}
	if a.SportType != "" {
		sport := a.SportType
		out.SportType = &sport
	}
	return out
}

// PatchFrom returns the descriptive fields an update event may change.
// Quantitative fields are never patched.
func PatchFrom(a *strava.Activity) types.ActivityPatch {
	var p types.ActivityPatch
	if a.Name != "" {
		name := a.Name
		p.Name = &name
	}
	providerType := a.Type
	if providerType == "" {
		providerType = a.SportType
	}
	if providerType != "" {
		t := NormalizeType(providerType)
		p.Type = &t
	}
	if a.SportType != "" {
		sport := a.SportType
		p.SportType = &sport
	}
	return p
}

// RawArchiveObject is the object path under which the raw payload of an
// inserted activity is archived.
func RawArchiveObject(userID, activityID string) string {
	return "strava/raw/" + userID + "/" + activityID + ".json"
}
