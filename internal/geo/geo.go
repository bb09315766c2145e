// Package geo holds the stateless geodesy helpers shared by the simulator,
// the speed aggregator and replay.
package geo

import (
	"math"

	"trip-tracker/internal/track"
)

// EarthRadiusMeters is the spherical-Earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

func toRad(d float64) float64 { return d * math.Pi / 180 }

// Distance returns the haversine great-circle distance in meters.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// Speed returns the average speed in m/s needed to travel from a to b.
// A zero or negative time delta yields 0.
func Speed(a, b track.PositionSample) float64 {
	dt := b.Timestamp.Sub(a.Timestamp).Seconds()
	if dt <= 0 {
		return 0
	}
	return Distance(a.Latitude, a.Longitude, b.Latitude, b.Longitude) / dt
}

// Bearing returns the initial forward azimuth from point 1 to point 2 in
// degrees, normalised to [0, 360).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	dLon := toRad(lon2 - lon1)
	y := math.Sin(dLon) * math.Cos(toRad(lat2))
	x := math.Cos(toRad(lat1))*math.Sin(toRad(lat2)) - math.Sin(toRad(lat1))*math.Cos(toRad(lat2))*math.Cos(dLon)
	brng := math.Atan2(y, x) * 180 / math.Pi
	if brng < 0 {
		brng += 360
	}
	if brng >= 360 {
		brng -= 360
	}
	return brng
}

// Destination returns the point reached travelling distance meters from
// (lat, lon) on the given bearing.
func Destination(lat, lon, distance, bearing float64) (float64, float64) {
	latRad := toRad(lat)
	brng := toRad(bearing)
	ang := distance / EarthRadiusMeters

	newLat := math.Asin(math.Sin(latRad)*math.Cos(ang) + math.Cos(latRad)*math.Sin(ang)*math.Cos(brng))
	newLon := toRad(lon) + math.Atan2(math.Sin(brng)*math.Sin(ang)*math.Cos(latRad), math.Cos(ang)-math.Sin(latRad)*math.Sin(newLat))

	outLon := newLon * 180 / math.Pi
	for outLon > 180 {
		outLon -= 360
	}
	for outLon < -180 {
		outLon += 360
	}
	return newLat * 180 / math.Pi, outLon
}

// CumDistances returns the running haversine length at each vertex.
func CumDistances(coords []track.Coordinate) []float64 {
	if len(coords) == 0 {
		return nil
	}
	cum := make([]float64, len(coords))
	for i := 1; i < len(coords); i++ {
		a, b := coords[i-1], coords[i]
		cum[i] = cum[i-1] + Distance(a.Lat, a.Lon, b.Lat, b.Lon)
	}
	return cum
}

// PathLength returns the haversine length of a polyline in meters.
func PathLength(coords []track.Coordinate) float64 {
	cum := CumDistances(coords)
	if len(cum) == 0 {
		return 0
	}
	return cum[len(cum)-1]
}

// Interpolate returns the point at the given fraction (0..1) of a
// polyline's length, interpolating linearly between the bounding vertices.
// A polyline with no length resolves to its first vertex.
func Interpolate(coords []track.Coordinate, fraction float64) track.Coordinate {
	n := len(coords)
	if n == 0 {
		return track.Coordinate{}
	}
	if n == 1 || fraction <= 0 {
		return coords[0]
	}
	if fraction >= 1 {
		return coords[n-1]
	}
	cum := CumDistances(coords)
	total := cum[n-1]
	if total == 0 {
		return coords[0]
	}
	target := fraction * total
	i := 1
	for i < n-1 && cum[i] < target {
		i++
	}
	d0, d1 := cum[i-1], cum[i]
	p0, p1 := coords[i-1], coords[i]
	if d1 == d0 {
		return p0
	}
	f := (target - d0) / (d1 - d0)
	return track.Coordinate{
		Lon: p0.Lon + (p1.Lon-p0.Lon)*f,
		Lat: p0.Lat + (p1.Lat-p0.Lat)*f,
	}
}

// Lerp interpolates between two coordinates, t in [0,1].
func Lerp(a, b track.Coordinate, t float64) track.Coordinate {
	return track.Coordinate{
		Lon: a.Lon + (b.Lon-a.Lon)*t,
		Lat: a.Lat + (b.Lat-a.Lat)*t,
	}
}
