// Package scoring turns a guess into a distance and the distance into points.
//
// Everything here is pure: no state, no clocks, no randomness.
package scoring

import (
	"encoding/json"
	"math"
)

const (
	// EarthRadiusKm is the mean radius used for great-circle distances.
	EarthRadiusKm = 6371.0

	// Decay is the exponential falloff per kilometre applied to max points.
	Decay = 0.35
)

// LatLng is a point in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Distance returns the haversine distance in kilometres between a guess and a target.
func Distance(guessLat, guessLng, targetLat, targetLng float64) float64 {
	phi1 := guessLat * math.Pi / 180
	phi2 := targetLat * math.Pi / 180
	dPhi := (targetLat - guessLat) * math.Pi / 180
	dLambda := (targetLng - guessLng) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	if a > 1 {
		a = 1
	}

	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Points maps a distance to an integer score in [0, maxPoints].
// Non-finite distances score nothing.
func Points(distanceKm float64, maxPoints int) int {
	if math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) || maxPoints <= 0 {
		return 0
	}

	raw := float64(maxPoints) * math.Exp(-Decay*distanceKm)
	raw = math.Max(0, math.Min(raw, float64(maxPoints)))

	return int(math.Round(raw))
}

// Outcome is either a measured distance or a timeout. It replaces the
// "infinite distance" sentinel so comparisons and JSON stay well defined.
type Outcome struct {
	km       float64
	measured bool
}

// Measured wraps a finite distance. Non-finite or negative input is treated as a timeout.
func Measured(km float64) Outcome {
	if math.IsNaN(km) || math.IsInf(km, 0) || km < 0 {
		return Outcome{}
	}
	return Outcome{km: km, measured: true}
}

// TimedOut is the outcome recorded when no guess arrived.
func TimedOut() Outcome {
	return Outcome{}
}

// Km returns the distance and whether one was measured.
func (o Outcome) Km() (float64, bool) {
	return o.km, o.measured
}

func (o Outcome) IsTimedOut() bool {
	return !o.measured
}

// Points scores the outcome; timeouts always score 0.
func (o Outcome) Points(maxPoints int) int {
	if !o.measured {
		return 0
	}
	return Points(o.km, maxPoints)
}

// Compare orders outcomes by distance, with every timeout after every measurement.
func (o Outcome) Compare(other Outcome) int {
	switch {
	case o.measured && !other.measured:
		return -1
	case !o.measured && other.measured:
		return 1
	case !o.measured && !other.measured:
		return 0
	case o.km < other.km:
		return -1
	case o.km > other.km:
		return 1
	}
	return 0
}

// MarshalJSON encodes a measurement as a number and a timeout as null.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if !o.measured {
		return []byte("null"), nil
	}
	return json.Marshal(o.km)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = TimedOut()
		return nil
	}

	var km float64
	if err := json.Unmarshal(data, &km); err != nil {
		return err
	}
	*o = Measured(km)

	return nil
}

// Score measures a guess against a target and returns the outcome and its points.
func Score(guess, target LatLng, maxPoints int) (Outcome, int) {
	outcome := Measured(Distance(guess.Lat, guess.Lng, target.Lat, target.Lng))
	return outcome, outcome.Points(maxPoints)
}
