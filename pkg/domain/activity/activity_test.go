package activity

import (
	"testing"
	"time"

	"github.com/trailblazerplus/server/pkg/integrations/strava"
	"github.com/trailblazerplus/server/pkg/types"
)

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Run", TypeRun},
		{"TrailRun", TypeRun},
		{"VirtualRun", TypeRun},
		{"Ride", TypeBike},
		{"EBikeRide", TypeBike},
		{"GravelRide", TypeBike},
		{"Hike", TypeHike},
		{"Walk", TypeWalk},
		{"Swim", TypeSwim},
		{"Yoga", TypeWorkout},
		{"WeightTraining", TypeWorkout},
		{"StandUpPaddling", TypePaddle},
		{"Snowboard", TypeSnow},
		{"NordicSki", TypeSnow},
		{"Golf", TypeOther},
		{"run", TypeOther},
		{"", TypeOther},
	}

	for _, tt := range tests {
		if got := NormalizeType(tt.input); got != tt.expected {
			t.Errorf("NormalizeType(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestNormalizeType_Total(t *testing.T) {
	inputs := []string{"Run", "Crossfit", "Rowing", "Surfing", "🏃", "  Ride  ", "RIDE"}
	for k := range stravaTypes {
		inputs = append(inputs, k)
	}
	for _, in := range inputs {
		if got := NormalizeType(in); !IsCategory(got) {
			t.Errorf("NormalizeType(%q) = %q, not a category", in, got)
		}
	}
}

func TestComputeSteps(t *testing.T) {
	tests := []struct {
		category string
		km       float64
		want     int64
	}{
		{TypeRun, 5.0, 6500},
		{TypeBike, 5.0, 0},
		{TypeWalk, 1.0, 1300},
		{TypeHike, 2.5, 3250},
		{TypeRun, 0.0004, 1},
		{TypeSwim, 1.5, 0},
		{TypeOther, 10, 0},
	}
	for _, tt := range tests {
		if got := ComputeSteps(tt.category, tt.km); got != tt.want {
			t.Errorf("ComputeSteps(%q, %v) = %d, want %d", tt.category, tt.km, got, tt.want)
		}
	}
}

func TestToInternal(t *testing.T) {
	city := "Bend"
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &strava.Activity{
		ID:                 9876543210,
		Name:               "Lunch Run",
		Type:               "Run",
		SportType:          "TrailRun",
		Distance:           10500,
		MovingTime:         3000,
		ElapsedTime:        3200,
		TotalElevationGain: 120.5,
		StartDate:          time.Date(2024, 2, 28, 18, 0, 0, 0, time.UTC),
		LocationCity:       &city,
	}

	got := ToInternal(src, now)

	if got.ID != "strava_9876543210" {
		t.Errorf("Expected doc id strava_9876543210, got %s", got.ID)
	}
	if got.Source != types.SourceStrava {
		t.Errorf("Expected source strava, got %s", got.Source)
	}
	if got.ExternalID == nil || *got.ExternalID != "9876543210" {
		t.Errorf("Expected external id 9876543210, got %v", got.ExternalID)
	}
	if got.Type != TypeRun {
		t.Errorf("Expected type run, got %s", got.Type)
	}
	if got.Distance != 10.5 {
		t.Errorf("Expected 10.5 km, got %v", got.Distance)
	}
	if got.Duration != 3000 {
		t.Errorf("Expected moving time 3000, got %d", got.Duration)
	}
	if got.Location == nil || *got.Location != "Bend" {
		t.Errorf("Expected location Bend, got %v", got.Location)
	}
	if !got.Date.Equal(src.StartDate) || !got.CreatedAt.Equal(now) {
		t.Errorf("Unexpected dates: %v / %v", got.Date, got.CreatedAt)
	}
	if got.Steps == nil || *got.Steps != 13650 {
		t.Errorf("Expected 13650 steps, got %v", got.Steps)
	}
	if got.ElapsedTime == nil || *got.ElapsedTime != 3200 {
		t.Errorf("Expected elapsed 3200, got %v", got.ElapsedTime)
	}
	if got.ElevationGain == nil || *got.ElevationGain != 120.5 {
		t.Errorf("Expected elevation 120.5, got %v", got.ElevationGain)
	}
	if got.Name == nil || *got.Name != "Lunch Run" {
		t.Errorf("Expected name, got %v", got.Name)
	}
	if got.SportType == nil || *got.SportType != "TrailRun" {
		t.Errorf("Expected sport type, got %v", got.SportType)
	}
}

func TestPatchFrom(t *testing.T) {
	p := PatchFrom(&strava.Activity{Name: "Renamed", Type: "Walk", SportType: "Walk", Distance: 99999})
	if p.Name == nil || *p.Name != "Renamed" {
		t.Errorf("Expected name patch, got %v", p.Name)
	}
	if p.Type == nil || *p.Type != TypeWalk {
		t.Errorf("Expected type walk, got %v", p.Type)
	}

	empty := PatchFrom(&strava.Activity{})
	if empty.Name != nil || empty.Type != nil || empty.SportType != nil {
		t.Errorf("Expected empty patch, got %+v", empty)
	}
}

func TestRawArchiveObject(t *testing.T) {
	if got := RawArchiveObject("u1", "strava_42"); got != "strava/raw/u1/strava_42.json" {
		t.Errorf("Unexpected object path %s", got)
	}
}
