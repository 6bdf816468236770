package room

// Error is a room-level validation failure. The message is safe to show to the requester.
type Error string

// Error implements the error interface
func (e Error) Error() string {
	return string(e)
}

const (
	ErrRoomNotFound        Error = "room not found"
	ErrGameAlreadyStarted  Error = "game already started"
	ErrNotHost             Error = "only the host can do that"
	ErrInsufficientPlayers Error = "not enough players to start"
	ErrDuplicateSubmission Error = "already submitted for this round"
	ErrNotPlaying          Error = "no game in progress"
	ErrPlayerNotFound      Error = "player not in room"
	ErrPlayerAlreadyInRoom Error = "player already in room"
	ErrNameRequired        Error = "a player name is required"
)
