// Package geo implements geo-velocity fraud detection.
//
// Two transactions from locations that are too far apart for the elapsed
// time indicate credential theft or SIM cloning. The detector is a pure
// function over two geotagged events: it computes great-circle distance,
// derives travel speed, and classifies the pair as normal, suspicious,
// or impossible travel.
package geo

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// earthRadiusKM is the mean Earth radius used by the haversine formula.
const earthRadiusKM = 6371.0

// Flag classifies a pair of geotagged events.
type Flag string

const (
	FlagNormal           Flag = "NORMAL"
	FlagSuspicious       Flag = "SUSPICIOUS"
	FlagImpossibleTravel Flag = "IMPOSSIBLE_TRAVEL"
)

// Event is a single geotagged observation.
type Event struct {
	Lat       float64
	Lon       float64
	Timestamp time.Time
}

// Result describes the velocity between two events.
type Result struct {
	DistanceKM float64 `json:"distanceKm"`
	TimeHours  float64 `json:"timeHours"`
	SpeedKMH   float64 `json:"speedKmh"` // +Inf when the events share a timestamp
	RiskScore  float64 `json:"riskScore"`
	Flag       Flag    `json:"flag"`
	Details    string  `json:"details"`
}

// Haversine returns the great-circle distance between two points in km.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dlat := radians(lat2 - lat1)
	dlon := radians(lon2 - lon1)

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKM * c
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Check classifies the travel between two consecutive events.
//
// Rules, in priority order:
//   - same timestamp and >0.1 km apart: impossible (risk 0.50)
//   - >800 km within 1 hour: impossible (risk 0.35)
//   - speed >900 km/h: impossible (risk 0.40)
//   - speed >300 km/h: suspicious (risk 0.20)
//   - otherwise: normal (risk 0)
func Check(prev, curr Event) Result {
	dist := Haversine(prev.Lat, prev.Lon, curr.Lat, curr.Lon)
	hours := curr.Timestamp.Sub(prev.Timestamp).Hours()

	speed := math.Inf(1)
	if hours > 0 {
		speed = dist / hours
	}

	r := Result{
		DistanceKM: round2(dist),
		TimeHours:  round4(hours),
		SpeedKMH:   round2(speed),
	}

	switch {
	case hours == 0 && dist > 0.1:
		r.RiskScore = 0.50
		r.Flag = FlagImpossibleTravel
		r.Details = fmt.Sprintf("simultaneous transactions %.1f km apart", dist)
	case dist > 800 && hours < 1.0:
		r.RiskScore = 0.35
		r.Flag = FlagImpossibleTravel
		r.Details = fmt.Sprintf("%.0f km in %.2f hours", dist, hours)
	case speed > 900:
		r.RiskScore = 0.40
		r.Flag = FlagImpossibleTravel
		r.Details = fmt.Sprintf("supersonic speed %.0f km/h", speed)
	case speed > 300:
		r.RiskScore = 0.20
		r.Flag = FlagSuspicious
		r.Details = fmt.Sprintf("high-speed travel %.0f km/h", speed)
	default:
		r.RiskScore = 0
		r.Flag = FlagNormal
		r.Details = fmt.Sprintf("normal travel %.1f km/h", speed)
	}

	return r
}

// cityCoords maps known city names (lowercase) to coordinates for the
// city-pair variant, used when rows carry city names instead of lat/lon.
var cityCoords = map[string][2]float64{
	"chennai":   {13.0827, 80.2707},
	"delhi":     {28.6139, 77.2090},
	"new delhi": {28.6139, 77.2090},
	"hyderabad": {17.3850, 78.4867},
	"bangalore": {12.9716, 77.5946},
	"bengaluru": {12.9716, 77.5946},
	"mumbai":    {19.0760, 72.8777},
	"pune":      {18.5204, 73.8567},
	"kolkata":   {22.5726, 88.3639},
	"ahmedabad": {23.0225, 72.5714},
	"jaipur":    {26.9124, 75.7873},
	"surat":     {21.1702, 72.8311},
}

// CityCoords looks up the coordinates for a city name. The lookup is
// case-insensitive and tolerates surrounding whitespace.
func CityCoords(city string) (lat, lon float64, ok bool) {
	c, ok := cityCoords[strings.ToLower(strings.TrimSpace(city))]
	if !ok {
		return 0, 0, false
	}
	return c[0], c[1], true
}

// CityPairEvent records one impossible-travel occurrence between two
// named cities.
type CityPairEvent struct {
	FromCity   string    `json:"fromCity"`
	ToCity     string    `json:"toCity"`
	TimeGapMin float64   `json:"timeGapMin"`
	DistanceKM float64   `json:"distanceKm"`
	At         time.Time `json:"at"`
}

// City-pair thresholds: farther than cityPairDistanceKM with a gap under
// cityPairGap is not physically travelable.
const (
	cityPairDistanceKM = 200.0
	cityPairGap        = 120 * time.Minute
)

// CheckCityPair evaluates consecutive observations in two different
// cities. It returns the impossible-travel event, or ok=false when the
// pair is plausible or either city is unknown (unknown cities are
// skipped rather than flagged).
func CheckCityPair(fromCity, toCity string, fromAt, toAt time.Time) (CityPairEvent, bool) {
	from := strings.ToLower(strings.TrimSpace(fromCity))
	to := strings.ToLower(strings.TrimSpace(toCity))
	if from == "" || to == "" || from == to {
		return CityPairEvent{}, false
	}

	lat1, lon1, ok := CityCoords(from)
	if !ok {
		return CityPairEvent{}, false
	}
	lat2, lon2, ok := CityCoords(to)
	if !ok {
		return CityPairEvent{}, false
	}

	dist := Haversine(lat1, lon1, lat2, lon2)
	gap := toAt.Sub(fromAt)
	if gap < 0 {
		gap = -gap
	}

	if dist > cityPairDistanceKM && gap < cityPairGap {
		return CityPairEvent{
			FromCity:   title(from),
			ToCity:     title(to),
			TimeGapMin: round1(gap.Minutes()),
			DistanceKM: round1(dist),
			At:         toAt,
		}, true
	}

	return CityPairEvent{}, false
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 {
	if math.IsInf(v, 0) {
		return v
	}
	return math.Round(v*100) / 100
}
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
