// Package feed reads position fixes from a GPS receiver speaking NMEA-0183.
package feed

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"trip-tracker/internal/track"
)

const knotsToMPS = 0.514444

var (
	ErrChecksum    = errors.New("nmea: checksum mismatch")
	ErrMalformed   = errors.New("nmea: malformed sentence")
	ErrUnsupported = errors.New("nmea: unsupported sentence")
	ErrNoFix       = errors.New("nmea: no fix")
)

// RMC is the recommended minimum fix sentence.
type RMC struct {
	Time      time.Time
	Latitude  float64
	Longitude float64
	SpeedMPS  *float64
	Course    *float64
}

// GGA carries fix quality, HDOP and altitude.
type GGA struct {
	Latitude  float64
	Longitude float64
	Quality   int
	HDOP      *float64
	Altitude  *float64
}

// Sentence is the result of parsing one line; exactly one field is set.
type Sentence struct {
	RMC *RMC
	GGA *GGA
}

// Parse validates the checksum of one NMEA line and decodes RMC or GGA
// sentences from any talker.
func Parse(line string) (Sentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Sentence{}, ErrMalformed
	}
	body, sum, ok := strings.Cut(line[1:], "*")
	if !ok || len(sum) != 2 {
		return Sentence{}, ErrMalformed
	}
	want, err := strconv.ParseUint(sum, 16, 8)
	if err != nil {
		return Sentence{}, ErrMalformed
	}
	if checksum(body) != byte(want) {
		return Sentence{}, ErrChecksum
	}

	fields := strings.Split(body, ",")
	if len(fields[0]) < 3 {
		return Sentence{}, ErrMalformed
	}
	switch kind := fields[0][len(fields[0])-3:]; kind {
	case "RMC":
		rmc, err := parseRMC(fields)
		if err != nil {
			return Sentence{}, err
		}
		return Sentence{RMC: &rmc}, nil
	case "GGA":
		gga, err := parseGGA(fields)
		if err != nil {
			return Sentence{}, err
		}
		return Sentence{GGA: &gga}, nil
	default:
		return Sentence{}, fmt.Errorf("%w: %s", ErrUnsupported, kind)
	}
}

func checksum(body string) byte {
	var c byte
	for i := 0; i < len(body); i++ {
		c ^= body[i]
	}
	return c
}

// $GPRMC,hhmmss.ss,A,ddmm.mmmm,N,dddmm.mmmm,W,knots,course,ddmmyy,...
func parseRMC(f []string) (RMC, error) {
	if len(f) < 10 {
		return RMC{}, ErrMalformed
	}
	if f[2] != "A" {
		return RMC{}, ErrNoFix
	}
	ts, err := parseDateTime(f[9], f[1])
	if err != nil {
		return RMC{}, err
	}
	lat, err := parseCoord(f[3], f[4], 2)
	if err != nil {
		return RMC{}, err
	}
	lon, err := parseCoord(f[5], f[6], 3)
	if err != nil {
		return RMC{}, err
	}
	out := RMC{Time: ts, Latitude: lat, Longitude: lon}
	if v, ok := optFloat(f[7]); ok {
		out.SpeedMPS = track.Float(v * knotsToMPS)
	}
	if v, ok := optFloat(f[8]); ok {
		out.Course = track.Float(v)
	}
	return out, nil
}

// $GPGGA,hhmmss.ss,ddmm.mmmm,N,dddmm.mmmm,W,q,sats,hdop,alt,M,...
func parseGGA(f []string) (GGA, error) {
	if len(f) < 10 {
		return GGA{}, ErrMalformed
	}
	q, err := strconv.Atoi(f[6])
	if err != nil {
		return GGA{}, ErrMalformed
	}
	if q == 0 {
		return GGA{}, ErrNoFix
	}
	lat, err := parseCoord(f[2], f[3], 2)
	if err != nil {
		return GGA{}, err
	}
	lon, err := parseCoord(f[4], f[5], 3)
	if err != nil {
		return GGA{}, err
	}
	out := GGA{Latitude: lat, Longitude: lon, Quality: q}
	if v, ok := optFloat(f[8]); ok {
		out.HDOP = track.Float(v)
	}
	if v, ok := optFloat(f[9]); ok {
		out.Altitude = track.Float(v)
	}
	return out, nil
}

// parseCoord decodes (d)ddmm.mmmm with a hemisphere letter.
func parseCoord(v, hemi string, degDigits int) (float64, error) {
	if len(v) < degDigits+2 {
		return 0, ErrMalformed
	}
	deg, err := strconv.Atoi(v[:degDigits])
	if err != nil {
		return 0, ErrMalformed
	}
	minutes, err := strconv.ParseFloat(v[degDigits:], 64)
	if err != nil || minutes >= 60 {
		return 0, ErrMalformed
	}
	out := float64(deg) + minutes/60
	switch hemi {
	case "N", "E":
	case "S", "W":
		out = -out
	default:
		return 0, ErrMalformed
	}
	return out, nil
}

func parseDateTime(date, clock string) (time.Time, error) {
	if len(date) != 6 || len(clock) < 6 {
		return time.Time{}, ErrMalformed
	}
	t, err := time.Parse("020106150405", date+clock[:6])
	if err != nil {
		return time.Time{}, ErrMalformed
	}
	if len(clock) > 7 && clock[6] == '.' {
		frac, err := strconv.ParseFloat("0"+clock[6:], 64)
		if err != nil {
			return time.Time{}, ErrMalformed
		}
		t = t.Add(time.Duration(frac * float64(time.Second)).Round(time.Millisecond))
	}
	return t.UTC(), nil
}

func optFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
