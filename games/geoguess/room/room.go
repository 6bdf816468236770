// Package room holds the state machine for a single game.
//
// A Room is not safe for concurrent use. Every call is expected to come from
// the one goroutine that owns all rooms, which runs each event to completion
// before starting the next; that is what keeps "one guess per player per round"
// and "exactly one host" true without locks.
//
//	waiting --StartGame--> playing --AdvanceRound(last round)--> finished
//
// playing loops on AdvanceRound while rounds remain, and nothing ever returns
// to waiting.
package room

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fedemaldo95/geo-asu/games/geoguess/locations"
	"github.com/fedemaldo95/geo-asu/games/geoguess/scoring"
)

// State is the lifecycle phase of a room.
type State string

const (
	StateWaiting  State = "waiting"
	StatePlaying  State = "playing"
	StateFinished State = "finished"
)

// MaxNameLength caps display names, counted in runes.
const MaxNameLength = 24

// Settings are fixed for the lifetime of a room.
type Settings struct {
	Rounds     int
	MaxPoints  int
	MinPlayers int
}

// Player is a roster member. The room owns it.
type Player struct {
	ID       string
	Name     string
	Score    int
	JoinedAt time.Time
}

// ConfirmedLocation is the reference point a client resolved a panorama at.
type ConfirmedLocation struct {
	Lat    float64
	Lng    float64
	PanoID string
}

// Location is one round's place. Target is the generated point; Confirmed is
// filled in at most once after the round starts.
type Location struct {
	City      string
	Target    scoring.LatLng
	Confirmed *ConfirmedLocation
}

// Effective is the point guesses are scored against.
func (l Location) Effective() scoring.LatLng {
	if l.Confirmed != nil {
		return scoring.LatLng{Lat: l.Confirmed.Lat, Lng: l.Confirmed.Lng}
	}
	return l.Target
}

// GuessRecord is a player's single entry for a round. Guess is nil on timeout.
type GuessRecord struct {
	Guess       *scoring.LatLng
	Outcome     scoring.Outcome
	Points      int
	SubmittedAt time.Time
}

// LocationSource produces the round targets for a new game.
type LocationSource interface {
	Generate(rounds int) ([]locations.Target, error)
}

// Room is one game's roster, rounds and results.
type Room struct {
	Code      string
	CreatedAt time.Time

	settings  Settings
	state     State
	round     int
	players   []*Player
	hostID    string
	locations []Location
	guesses   map[int]map[string]GuessRecord
	settled   int
}

// New creates an empty room in the waiting state.
func New(code string, settings Settings, createdAt time.Time) *Room {
	return &Room{
		Code:      code,
		CreatedAt: createdAt,
		settings:  settings,
		state:     StateWaiting,
		guesses:   make(map[int]map[string]GuessRecord),
		settled:   -1,
	}
}

// NormalizeName trims a display name and caps its length.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		name = string([]rune(name)[:MaxNameLength])
	}
	return name, nil
}

func (r *Room) State() State { return r.state }

// Round is the 0-based index of the current round.
func (r *Room) Round() int { return r.round }

func (r *Room) TotalRounds() int { return r.settings.Rounds }

func (r *Room) Settings() Settings { return r.settings }

func (r *Room) HostID() string { return r.hostID }

func (r *Room) IsHost(id string) bool {
	return id != "" && id == r.hostID
}

func (r *Room) Len() int { return len(r.players) }

func (r *Room) Empty() bool { return len(r.players) == 0 }

// PlayerIDs returns roster ids in join order.
func (r *Room) PlayerIDs() []string {
	ids := make([]string, 0, len(r.players))
	for _, p := range r.players {
		ids = append(ids, p.ID)
	}
	return ids
}

// Player returns a copy of the roster member with the given id.
func (r *Room) Player(id string) (Player, bool) {
	if p := r.find(id); p != nil {
		return *p, true
	}
	return Player{}, false
}

func (r *Room) find(id string) *Player {
	for _, p := range r.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// CurrentLocation returns the location for the current round while a game is running.
func (r *Room) CurrentLocation() (Location, bool) {
	if r.state != StatePlaying || r.round >= len(r.locations) {
		return Location{}, false
	}
	return r.locations[r.round], true
}

// AddPlayer appends p to the roster. The first player becomes host.
func (r *Room) AddPlayer(p Player) error {
	if r.state != StateWaiting {
		return ErrGameAlreadyStarted
	}
	if r.find(p.ID) != nil {
		return ErrPlayerAlreadyInRoom
	}

	p.Score = 0
	r.players = append(r.players, &p)
	if r.hostID == "" {
		r.hostID = p.ID
	}

	return nil
}

// Removal describes what happened when a player left.
type Removal struct {
	Player      Player
	HostChanged bool
	NewHostID   string
	Empty       bool

	// Completion is set when the departure finished the current round.
	Completion *RoundSummary
}

// RemovePlayer drops a player in any state. A departing host hands over to the
// earliest remaining joiner.
func (r *Room) RemovePlayer(id string) (Removal, bool) {
	idx := -1
	for i, p := range r.players {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Removal{}, false
	}

	removed := *r.players[idx]
	r.players = append(r.players[:idx], r.players[idx+1:]...)

	out := Removal{Player: removed, Empty: len(r.players) == 0}

	if r.hostID == id {
		r.hostID = ""
		if len(r.players) > 0 {
			r.hostID = r.players[0].ID
			out.HostChanged = true
			out.NewHostID = r.hostID
		}
	}

	out.Completion = r.Settle()

	return out, true
}

// StartGame moves waiting to playing and generates every round's location.
func (r *Room) StartGame(requesterID string, source LocationSource) (Location, error) {
	if r.state != StateWaiting {
		return Location{}, ErrGameAlreadyStarted
	}
	if !r.IsHost(requesterID) {
		return Location{}, ErrNotHost
	}
	if len(r.players) < r.settings.MinPlayers {
		return Location{}, ErrInsufficientPlayers
	}

	targets, err := source.Generate(r.settings.Rounds)
	if err != nil {
		return Location{}, fmt.Errorf("generating locations: %w", err)
	}
	if len(targets) < r.settings.Rounds || len(targets) == 0 {
		return Location{}, fmt.Errorf("generating locations: got %d for %d rounds", len(targets), r.settings.Rounds)
	}

	r.locations = make([]Location, 0, len(targets))
	for _, t := range targets {
		r.locations = append(r.locations, Location{City: t.City, Target: t.Point})
	}

	for _, p := range r.players {
		p.Score = 0
	}
	r.guesses = make(map[int]map[string]GuessRecord)
	r.round = 0
	r.settled = -1
	r.state = StatePlaying

	return r.locations[0], nil
}

// ConfirmLocation records the resolved reference point for a round. Only the
// first confirmation for a round takes effect.
func (r *Room) ConfirmLocation(round int, lat, lng float64, panoID string) bool {
	if r.state != StatePlaying || round < 0 || round >= len(r.locations) {
		return false
	}
	if r.locations[round].Confirmed != nil {
		return false
	}

	r.locations[round].Confirmed = &ConfirmedLocation{Lat: lat, Lng: lng, PanoID: panoID}

	return true
}

// GuessResult is what a submission produced for the submitting player.
type GuessResult struct {
	PlayerID   string
	PlayerName string
	Round      int
	Outcome    scoring.Outcome
	Points     int
	TotalScore int
	TimedOut   bool
}

// SubmitGuess scores a guess against the current round's effective location.
func (r *Room) SubmitGuess(playerID string, lat, lng float64, now time.Time) (GuessResult, error) {
	guess := scoring.LatLng{Lat: lat, Lng: lng}
	return r.record(playerID, &guess, now)
}

// SubmitTimeout records a zero-point timeout. It never overwrites a real guess.
func (r *Room) SubmitTimeout(playerID string, now time.Time) (GuessResult, error) {
	return r.record(playerID, nil, now)
}

func (r *Room) record(playerID string, guess *scoring.LatLng, now time.Time) (GuessResult, error) {
	if r.state != StatePlaying {
		return GuessResult{}, ErrNotPlaying
	}
	p := r.find(playerID)
	if p == nil {
		return GuessResult{}, ErrPlayerNotFound
	}

	round := r.guesses[r.round]
	if round == nil {
		round = make(map[string]GuessRecord)
		r.guesses[r.round] = round
	}
	if _, ok := round[playerID]; ok {
		return GuessResult{}, ErrDuplicateSubmission
	}

	rec := GuessRecord{Outcome: scoring.TimedOut(), SubmittedAt: now}
	if guess != nil {
		g := *guess
		rec.Guess = &g
		rec.Outcome, rec.Points = scoring.Score(g, r.locations[r.round].Effective(), r.settings.MaxPoints)
	}

	round[playerID] = rec
	p.Score += rec.Points

	return GuessResult{
		PlayerID:   p.ID,
		PlayerName: p.Name,
		Round:      r.round,
		Outcome:    rec.Outcome,
		Points:     rec.Points,
		TotalScore: p.Score,
		TimedOut:   guess == nil,
	}, nil
}

// Record returns a player's entry for a round.
func (r *Room) Record(round int, playerID string) (GuessRecord, bool) {
	rec, ok := r.guesses[round][playerID]
	return rec, ok
}

// Pending returns roster ids with no entry for the current round.
func (r *Room) Pending() []string {
	var ids []string
	for _, p := range r.players {
		if _, ok := r.guesses[r.round][p.ID]; !ok {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// RoundComplete reports whether every roster member has an entry for the current round.
func (r *Room) RoundComplete() bool {
	if r.state != StatePlaying || len(r.players) == 0 {
		return false
	}
	return len(r.Pending()) == 0
}

// RoundSummary is emitted once per round when the last entry lands.
type RoundSummary struct {
	Round   int
	Results []RoundResult
	Actual  Location
}

// Settle is the single completion transition. Call it after anything that can
// change the current round's entry count; it returns a summary the first time
// the round is complete and nil on every other call.
func (r *Room) Settle() *RoundSummary {
	if r.settled >= r.round || !r.RoundComplete() {
		return nil
	}
	r.settled = r.round

	return &RoundSummary{
		Round:   r.round,
		Results: r.RoundResults(),
		Actual:  r.locations[r.round],
	}
}

// Advance is the result of moving past the current round.
type Advance struct {
	Finished bool
	Round    int
	Location Location
	Final    []FinalResult
}

// AdvanceRound moves to the next round, or finishes the game after the last one.
func (r *Room) AdvanceRound(requesterID string) (Advance, error) {
	if r.state != StatePlaying {
		return Advance{}, ErrNotPlaying
	}
	if !r.IsHost(requesterID) {
		return Advance{}, ErrNotHost
	}

	r.round++
	if r.round >= r.settings.Rounds {
		r.round = r.settings.Rounds
		r.state = StateFinished
		return Advance{Finished: true, Round: r.round, Final: r.FinalResults()}, nil
	}

	return Advance{Round: r.round, Location: r.locations[r.round]}, nil
}

// PlayerView is a roster entry as shown to clients.
type PlayerView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
	IsHost bool   `json:"isHost"`
}

// Snapshot is the client-facing view of a room.
type Snapshot struct {
	Code         string       `json:"code"`
	State        State        `json:"state"`
	Players      []PlayerView `json:"players"`
	CurrentRound int          `json:"currentRound"`
	TotalRounds  int          `json:"totalRounds"`
	HostID       string       `json:"hostId"`
}

func (r *Room) Snapshot() Snapshot {
	players := make([]PlayerView, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, PlayerView{
			ID:     p.ID,
			Name:   p.Name,
			Score:  p.Score,
			IsHost: p.ID == r.hostID,
		})
	}

	return Snapshot{
		Code:         r.Code,
		State:        r.state,
		Players:      players,
		CurrentRound: r.round,
		TotalRounds:  r.settings.Rounds,
		HostID:       r.hostID,
	}
}
