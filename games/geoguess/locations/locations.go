// Package locations picks the places a game is played in.
//
// A game draws one city per round from a shuffled pool of city areas and
// samples the target uniformly inside that city's bounding rectangle. When the
// pool runs dry before every round has a city, it is refilled and reshuffled,
// so cities can repeat within a game once the catalog is exhausted.
package locations

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/fedemaldo95/geo-asu/games/geoguess/scoring"
)

var (
	ErrNoCities    = errors.New("city catalog is empty")
	ErrInvalidCity = errors.New("invalid city area")
)

// City is a named bounding rectangle. Areas crossing the antimeridian are not supported.
type City struct {
	Name   string  `mapstructure:"name" json:"name"`
	MinLat float64 `mapstructure:"min_lat" json:"min_lat"`
	MaxLat float64 `mapstructure:"max_lat" json:"max_lat"`
	MinLng float64 `mapstructure:"min_lng" json:"min_lng"`
	MaxLng float64 `mapstructure:"max_lng" json:"max_lng"`
}

func (c City) validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: missing name", ErrInvalidCity)
	case c.MinLat < -90 || c.MaxLat > 90 || c.MinLat > c.MaxLat:
		return fmt.Errorf("%w: %s latitude range [%v, %v]", ErrInvalidCity, c.Name, c.MinLat, c.MaxLat)
	case c.MinLng < -180 || c.MaxLng > 180 || c.MinLng > c.MaxLng:
		return fmt.Errorf("%w: %s longitude range [%v, %v]", ErrInvalidCity, c.Name, c.MinLng, c.MaxLng)
	}
	return nil
}

// Contains reports whether p lies inside the city's rectangle.
func (c City) Contains(p scoring.LatLng) bool {
	return p.Lat >= c.MinLat && p.Lat <= c.MaxLat && p.Lng >= c.MinLng && p.Lng <= c.MaxLng
}

// Target is one generated round location.
type Target struct {
	City  string
	Point scoring.LatLng
}

// Generator builds round sequences. It is not safe for concurrent use.
type Generator struct {
	cities []City
	random io.Reader
}

// NewGenerator validates the catalog. A nil reader means crypto/rand.Reader.
func NewGenerator(cities []City, random io.Reader) (*Generator, error) {
	if len(cities) == 0 {
		return nil, ErrNoCities
	}
	for _, c := range cities {
		if err := c.validate(); err != nil {
			return nil, err
		}
	}
	if random == nil {
		random = rand.Reader
	}

	return &Generator{
		cities: append([]City(nil), cities...),
		random: random,
	}, nil
}

// Cities returns a copy of the catalog.
func (g *Generator) Cities() []City {
	return append([]City(nil), g.cities...)
}

// Generate returns one target per round.
func (g *Generator) Generate(rounds int) ([]Target, error) {
	targets := make([]Target, 0, rounds)

	var pool []City
	for len(targets) < rounds {
		if len(pool) == 0 {
			pool = append(pool[:0], g.cities...)
			if err := g.shuffle(pool); err != nil {
				return nil, err
			}
		}

		city := pool[len(pool)-1]
		pool = pool[:len(pool)-1]

		lat, err := g.between(city.MinLat, city.MaxLat)
		if err != nil {
			return nil, err
		}
		lng, err := g.between(city.MinLng, city.MaxLng)
		if err != nil {
			return nil, err
		}

		targets = append(targets, Target{
			City:  city.Name,
			Point: scoring.LatLng{Lat: lat, Lng: lng},
		})
	}

	return targets, nil
}

// shuffle is a Fisher-Yates shuffle with unbiased indices from g.random.
func (g *Generator) shuffle(cities []City) error {
	for i := len(cities) - 1; i > 0; i-- {
		n, err := rand.Int(g.random, big.NewInt(int64(i+1)))
		if err != nil {
			return fmt.Errorf("shuffling cities: %w", err)
		}
		j := int(n.Int64())
		cities[i], cities[j] = cities[j], cities[i]
	}
	return nil
}

// between samples uniformly from [lo, hi).
func (g *Generator) between(lo, hi float64) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(g.random, buf[:]); err != nil {
		return 0, fmt.Errorf("sampling coordinate: %w", err)
	}
	unit := float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53)

	return lo + unit*(hi-lo), nil
}
