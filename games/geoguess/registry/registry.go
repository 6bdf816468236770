// Package registry owns the table of live rooms.
//
// The registry is not locked. It belongs to the hub goroutine, as do the rooms
// it holds.
package registry

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fedemaldo95/geo-asu/games/geoguess/room"
)

const (
	// CodeAlphabet leaves out I, O, 0 and 1.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength   = 6

	maxCodeAttempts = 64
)

var ErrCodeSpaceExhausted = errors.New("could not find an unused room code")

// Config configures a Registry.
type Config struct {
	Settings room.Settings

	// Random defaults to crypto/rand.Reader.
	Random io.Reader
	Logger zerolog.Logger
}

// Registry maps room codes to rooms.
type Registry struct {
	rooms    map[string]*room.Room
	settings room.Settings
	random   io.Reader
	logger   zerolog.Logger
}

func New(cfg *Config) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("registry config is required")
	}
	if cfg.Settings.Rounds < 1 {
		return nil, fmt.Errorf("invalid rounds per game: %d", cfg.Settings.Rounds)
	}

	random := cfg.Random
	if random == nil {
		random = rand.Reader
	}

	return &Registry{
		rooms:    make(map[string]*room.Room),
		settings: cfg.Settings,
		random:   random,
		logger:   cfg.Logger,
	}, nil
}

// Create allocates a room under a code no live room is using.
func (r *Registry) Create(now time.Time) (*room.Room, error) {
	for range maxCodeAttempts {
		code, err := randomCode(r.random, CodeAlphabet)
		if err != nil {
			return nil, fmt.Errorf("generating room code: %w", err)
		}
		if _, exists := r.rooms[code]; exists {
			continue
		}

		rm := room.New(code, r.settings, now)
		r.rooms[code] = rm

		r.logger.Debug().Str("room", code).Int("rooms", len(r.rooms)).Msg("room created")

		return rm, nil
	}

	return nil, ErrCodeSpaceExhausted
}

// Get looks a room up by code, ignoring case and surrounding space.
func (r *Registry) Get(code string) (*room.Room, bool) {
	rm, ok := r.rooms[NormalizeCode(code)]
	return rm, ok
}

func (r *Registry) Delete(code string) {
	code = NormalizeCode(code)
	if _, ok := r.rooms[code]; !ok {
		return
	}
	delete(r.rooms, code)

	r.logger.Debug().Str("room", code).Int("rooms", len(r.rooms)).Msg("room deleted")
}

func (r *Registry) Len() int { return len(r.rooms) }

// SweepIdle evicts rooms created more than threshold ago, except those with a
// game in progress. It returns the evicted rooms so the caller can notify and
// unbind their players.
func (r *Registry) SweepIdle(now time.Time, threshold time.Duration) []*room.Room {
	cutoff := now.Add(-threshold)

	var evicted []*room.Room
	for code, rm := range r.rooms {
		if rm.State() == room.StatePlaying || !rm.CreatedAt.Before(cutoff) {
			continue
		}
		delete(r.rooms, code)
		evicted = append(evicted, rm)
	}

	if len(evicted) > 0 {
		r.logger.Info().Int("evicted", len(evicted)).Int("rooms", len(r.rooms)).Msg("idle rooms swept")
	}

	return evicted
}

// Stats counts live rooms and seated players.
type Stats struct {
	Rooms   int                `json:"rooms"`
	Players int                `json:"players"`
	ByState map[room.State]int `json:"byState"`
}

func (r *Registry) Stats() Stats {
	st := Stats{
		Rooms: len(r.rooms),
		ByState: map[room.State]int{
			room.StateWaiting:  0,
			room.StatePlaying:  0,
			room.StateFinished: 0,
		},
	}
	for _, rm := range r.rooms {
		st.Players += rm.Len()
		st.ByState[rm.State()]++
	}
	return st
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// randomCode draws CodeLength characters uniformly from alphabet, rejecting
// bytes that would bias the result toward the front of it.
func randomCode(random io.Reader, alphabet string) (string, error) {
	n := len(alphabet)
	limit := 256 - 256%n

	out := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength*2)
	for len(out) < CodeLength {
		if _, err := io.ReadFull(random, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%n])
			if len(out) == CodeLength {
				break
			}
		}
	}

	return string(out), nil
}
