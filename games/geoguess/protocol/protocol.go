// Package protocol defines the JSON frames exchanged with game clients.
//
// Every frame is a single object whose "type" field names its kind.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/fedemaldo95/geo-asu/games/geoguess/room"
	"github.com/fedemaldo95/geo-asu/games/geoguess/scoring"
)

// Kind is the value of a frame's "type" field.
type Kind string

// Client to server.
const (
	KindCreateRoom       Kind = "createRoom"
	KindJoinRoom         Kind = "joinRoom"
	KindStartGame        Kind = "startGame"
	KindLocationFound    Kind = "locationFound"
	KindSubmitGuess      Kind = "submitGuess"
	KindTimeOut          Kind = "timeOut"
	KindRequestNextRound Kind = "requestNextRound"
	KindLeaveRoom        Kind = "leaveRoom"
)

// Server to client.
const (
	KindConnected         Kind = "connected"
	KindRoomCreated       Kind = "roomCreated"
	KindRoomJoined        Kind = "roomJoined"
	KindPlayerJoined      Kind = "playerJoined"
	KindError             Kind = "error"
	KindGameStarted       Kind = "gameStarted"
	KindLocationConfirmed Kind = "locationConfirmed"
	KindGuessResult       Kind = "guessResult"
	KindPlayerGuessed     Kind = "playerGuessed"
	KindRoundComplete     Kind = "roundComplete"
	KindNextRound         Kind = "nextRound"
	KindGameFinished      Kind = "gameFinished"
	KindPlayerLeft        Kind = "playerLeft"
	KindHostChanged       Kind = "hostChanged"
	KindRoomLeft          Kind = "roomLeft"
	KindRoomClosed        Kind = "roomClosed"
)

var ErrMalformedMessage = errors.New("malformed message")

// Inbound is the union of every client frame. Fields a kind does not use stay zero.
type Inbound struct {
	Type       Kind     `json:"type"`
	PlayerName string   `json:"playerName,omitempty"`
	RoomCode   string   `json:"roomCode,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
	PanoID     string   `json:"panoId,omitempty"`
}

// Point returns the frame's coordinate. Decode guarantees it is present for
// the kinds that need one.
func (in Inbound) Point() scoring.LatLng {
	var p scoring.LatLng
	if in.Lat != nil {
		p.Lat = *in.Lat
	}
	if in.Lng != nil {
		p.Lng = *in.Lng
	}
	return p
}

// Decode parses a client frame. Unknown kinds decode without error so the
// dispatcher can ignore them; frames that do not parse, or that lack a field
// their kind requires, wrap ErrMalformedMessage.
func Decode(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if in.Type == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	switch in.Type {
	case KindSubmitGuess, KindLocationFound:
		if in.Lat == nil || in.Lng == nil {
			return Inbound{}, fmt.Errorf("%w: %s without coordinates", ErrMalformedMessage, in.Type)
		}
		if !validLatLng(*in.Lat, *in.Lng) {
			return Inbound{}, fmt.Errorf("%w: %s coordinates out of range", ErrMalformedMessage, in.Type)
		}
	case KindJoinRoom:
		if in.RoomCode == "" {
			return Inbound{}, fmt.Errorf("%w: joinRoom without roomCode", ErrMalformedMessage)
		}
	}

	return in, nil
}

func validLatLng(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// Encode marshals an outbound frame.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Location is a round's place as shown to one recipient. The search point is
// set only for the player expected to resolve the panorama.
type Location struct {
	City   string   `json:"city"`
	Lat    *float64 `json:"lat,omitempty"`
	Lng    *float64 `json:"lng,omitempty"`
	PanoID string   `json:"panoId,omitempty"`
}

// NewLocation builds the round payload. withSearchPoint exposes the generated
// target; everybody else only learns the city and, once known, the panorama.
func NewLocation(loc room.Location, withSearchPoint bool) Location {
	out := Location{City: loc.City}
	if loc.Confirmed != nil {
		out.PanoID = loc.Confirmed.PanoID
	}
	if withSearchPoint {
		lat, lng := loc.Target.Lat, loc.Target.Lng
		out.Lat, out.Lng = &lat, &lng
	}
	return out
}

// ActualLocation is the point a round was scored against, revealed once the round is over.
type ActualLocation struct {
	City   string  `json:"city"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	PanoID string  `json:"panoId,omitempty"`
}

func NewActualLocation(loc room.Location) ActualLocation {
	p := loc.Effective()
	out := ActualLocation{City: loc.City, Lat: p.Lat, Lng: p.Lng}
	if loc.Confirmed != nil {
		out.PanoID = loc.Confirmed.PanoID
	}
	return out
}

type Connected struct {
	Type     Kind   `json:"type"`
	PlayerID string `json:"playerId"`
}

// RoomMessage carries a room snapshot: roomCreated, roomJoined and playerJoined.
type RoomMessage struct {
	Type Kind          `json:"type"`
	Room room.Snapshot `json:"room"`
}

type Error struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

type GameStarted struct {
	Type        Kind          `json:"type"`
	Room        room.Snapshot `json:"room"`
	Round       int           `json:"round"`
	TotalRounds int           `json:"totalRounds"`
	TimeLimit   int           `json:"timeLimit"`
	Location    Location      `json:"location"`
}

type LocationConfirmed struct {
	Type   Kind     `json:"type"`
	PanoID string   `json:"panoId"`
	Lat    *float64 `json:"lat,omitempty"`
	Lng    *float64 `json:"lng,omitempty"`
}

type GuessResult struct {
	Type       Kind            `json:"type"`
	Distance   scoring.Outcome `json:"distance"`
	Points     int             `json:"points"`
	TotalScore int             `json:"totalScore"`
	TimedOut   bool            `json:"timedOut,omitempty"`
}

type PlayerGuessed struct {
	Type       Kind   `json:"type"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	TimedOut   bool   `json:"timedOut,omitempty"`
}

type RoundComplete struct {
	Type           Kind               `json:"type"`
	Round          int                `json:"round"`
	Results        []room.RoundResult `json:"results"`
	ActualLocation ActualLocation     `json:"actualLocation"`
}

type NextRound struct {
	Type        Kind     `json:"type"`
	Round       int      `json:"round"`
	TotalRounds int      `json:"totalRounds"`
	TimeLimit   int      `json:"timeLimit"`
	Location    Location `json:"location"`
}

type GameFinished struct {
	Type    Kind               `json:"type"`
	Results []room.FinalResult `json:"results"`
}

type PlayerLeft struct {
	Type       Kind          `json:"type"`
	PlayerID   string        `json:"playerId"`
	PlayerName string        `json:"playerName"`
	Room       room.Snapshot `json:"room"`
}

// HostChanged goes to the whole room. The new host's copy carries the search
// point when it takes over a round nobody has resolved yet.
type HostChanged struct {
	Type     Kind      `json:"type"`
	HostID   string    `json:"hostId"`
	Location *Location `json:"location,omitempty"`
}

// RoomNotice tells a player they are no longer seated: roomLeft after an
// explicit leave, roomClosed when the room was swept.
type RoomNotice struct {
	Type     Kind   `json:"type"`
	RoomCode string `json:"roomCode"`
}
