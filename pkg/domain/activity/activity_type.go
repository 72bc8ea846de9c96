package activity

import "math"

// Internal activity categories. The set is closed.
const (
	TypeRun     = "run"
	TypeBike    = "bike"
	TypeHike    = "hike"
	TypeWalk    = "walk"
	TypeSwim    = "swim"
	TypeWorkout = "workout"
	TypePaddle  = "paddle"
	TypeSnow    = "snow"
	TypeOther   = "other"
)

// Categories lists every internal category.
var Categories = []string{TypeRun, TypeBike, TypeHike, TypeWalk, TypeSwim, TypeWorkout, TypePaddle, TypeSnow, TypeOther}

// stravaTypes maps Strava activity/sport type names to internal categories.
var stravaTypes = map[string]string{
	"Run":        TypeRun,
	"TrailRun":   TypeRun,
	"VirtualRun": TypeRun,

	"Ride":             TypeBike,
	"MountainBikeRide": TypeBike,
	"GravelRide":       TypeBike,
	"VirtualRide":      TypeBike,
	"EBikeRide":        TypeBike,

	"Hike": TypeHike,
	"Walk": TypeWalk,
	"Swim": TypeSwim,

	"Workout":        TypeWorkout,
	"WeightTraining": TypeWorkout,
	"Yoga":           TypeWorkout,

	"Kayaking":        TypePaddle,
	"Canoeing":        TypePaddle,
	"StandUpPaddling": TypePaddle,

	"NordicSki":      TypeSnow,
	"BackcountrySki": TypeSnow,
	"Snowshoe":       TypeSnow,
	"AlpineSki":      TypeSnow,
	"Snowboard":      TypeSnow,
}

// StepsPerKm is the stride constant used to estimate steps from distance.
// Changing it breaks delete-time reversal of stats for already stored activities.
const StepsPerKm = 1300

// NormalizeType maps a provider type to an internal category. Unknown inputs map to "other".
func NormalizeType(providerType string) string {
	if t, ok := stravaTypes[providerType]; ok {
		return t
	}
	return TypeOther
}

// IsCategory reports whether t is one of the internal categories.
func IsCategory(t string) bool {
	for _, c := range Categories {
		if c == t {
			return true
		}
	}
	return false
}

// ComputeSteps estimates steps for on-foot categories; everything else counts zero.
func ComputeSteps(category string, distanceKm float64) int64 {
	switch category {
	case TypeRun, TypeWalk, TypeHike:
		return int64(math.Round(distanceKm * StepsPerKm))
	default:
		return 0
	}
}
