package motion

import (
	"trip-tracker/internal/geo"
	"trip-tracker/internal/track"
)

// Profile holds the per road type speed constants, all in m/s and m/s².
// MaxSpeed is a hard ceiling and must be at least BaseSpeed+Jitter.
type Profile struct {
	BaseSpeed       float64
	Jitter          float64
	MaxSpeed        float64
	MaxAcceleration float64
}

func mph(v float64) float64 { return v * geo.MPHToMPS }

// DefaultProfiles returns the built-in road profiles.
func DefaultProfiles() map[track.RoadType]Profile {
	return map[track.RoadType]Profile{
		track.Highway:     {BaseSpeed: mph(65), Jitter: mph(5), MaxSpeed: mph(80), MaxAcceleration: 3.0},
		track.Arterial:    {BaseSpeed: mph(45), Jitter: mph(3), MaxSpeed: mph(55), MaxAcceleration: 2.5},
		track.Residential: {BaseSpeed: mph(25), Jitter: mph(3), MaxSpeed: mph(30), MaxAcceleration: 2.0},
		track.Local:       {BaseSpeed: mph(30), Jitter: mph(3), MaxSpeed: mph(35), MaxAcceleration: 2.0},
		track.Parking:     {BaseSpeed: mph(5), Jitter: mph(1), MaxSpeed: mph(8), MaxAcceleration: 1.0},
	}
}
