package room

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/fedemaldo95/geo-asu/games/geoguess/scoring"
)

// RoundResult is one roster member's line in a round's ranking.
type RoundResult struct {
	PlayerID    string          `json:"playerId"`
	PlayerName  string          `json:"playerName"`
	Guess       *scoring.LatLng `json:"guess,omitempty"`
	Distance    scoring.Outcome `json:"distance"`
	Points      int             `json:"points"`
	TotalScore  int             `json:"totalScore"`
	TimedOut    bool            `json:"timedOut"`
	Rank        int             `json:"rank"`
	SubmittedAt *time.Time      `json:"submittedAt,omitempty"`
}

// RoundResults ranks the current roster for the current round: points desc,
// distance asc, submission time asc. A missing entry counts as a timeout
// submitted at +infinity.
func (r *Room) RoundResults() []RoundResult {
	results := make([]RoundResult, 0, len(r.players))
	for _, p := range r.players {
		res := RoundResult{
			PlayerID:   p.ID,
			PlayerName: p.Name,
			Distance:   scoring.TimedOut(),
			TotalScore: p.Score,
			TimedOut:   true,
		}
		if rec, ok := r.guesses[r.round][p.ID]; ok {
			at := rec.SubmittedAt
			res.Guess = rec.Guess
			res.Distance = rec.Outcome
			res.Points = rec.Points
			res.TimedOut = rec.Guess == nil
			res.SubmittedAt = &at
		}
		results = append(results, res)
	}

	slices.SortStableFunc(results, func(a, b RoundResult) int {
		if c := cmp.Compare(b.Points, a.Points); c != 0 {
			return c
		}
		if c := a.Distance.Compare(b.Distance); c != 0 {
			return c
		}
		return compareSubmitted(a.SubmittedAt, b.SubmittedAt)
	})

	for i := range results {
		results[i].Rank = i + 1
	}

	return results
}

// FinalResult is one player's line in the end-of-game ranking.
type FinalResult struct {
	PlayerID        string     `json:"playerId"`
	PlayerName      string     `json:"playerName"`
	Score           int        `json:"score"`
	TotalDistance   float64    `json:"totalDistance"`
	EarliestGuessAt *time.Time `json:"earliestGuessAt,omitempty"`
	Rank            int        `json:"rank"`
}

// FinalResults ranks the roster: score desc, total distance asc, earliest
// submission asc, name asc. Only measured distances add to the total; a timeout
// already cost its points and adds nothing.
func (r *Room) FinalResults() []FinalResult {
	results := make([]FinalResult, 0, len(r.players))
	for _, p := range r.players {
		res := FinalResult{
			PlayerID:   p.ID,
			PlayerName: p.Name,
			Score:      p.Score,
		}
		// Rounds in order: float sums must not depend on map iteration.
		for i := range r.locations {
			rec, ok := r.guesses[i][p.ID]
			if !ok {
				continue
			}
			if km, measured := rec.Outcome.Km(); measured {
				res.TotalDistance += km
			}
			if res.EarliestGuessAt == nil || rec.SubmittedAt.Before(*res.EarliestGuessAt) {
				at := rec.SubmittedAt
				res.EarliestGuessAt = &at
			}
		}
		results = append(results, res)
	}

	slices.SortStableFunc(results, func(a, b FinalResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.TotalDistance, b.TotalDistance); c != 0 {
			return c
		}
		if c := compareSubmitted(a.EarliestGuessAt, b.EarliestGuessAt); c != 0 {
			return c
		}
		return strings.Compare(a.PlayerName, b.PlayerName)
	})

	for i := range results {
		results[i].Rank = i + 1
	}

	return results
}

// compareSubmitted orders timestamps ascending with nil as +infinity.
func compareSubmitted(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}
