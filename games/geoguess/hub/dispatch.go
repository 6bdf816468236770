package hub

import (
	"errors"

	"github.com/fedemaldo95/geo-asu/games/geoguess/protocol"
	"github.com/fedemaldo95/geo-asu/games/geoguess/room"
	"github.com/fedemaldo95/geo-asu/games/geoguess/session"
)

type handlerFunc func(h *Hub, playerID string, in protocol.Inbound)

func routes() map[protocol.Kind]handlerFunc {
	return map[protocol.Kind]handlerFunc{
		protocol.KindCreateRoom:       (*Hub).createRoom,
		protocol.KindJoinRoom:         (*Hub).joinRoom,
		protocol.KindStartGame:        (*Hub).startGame,
		protocol.KindLocationFound:    (*Hub).locationFound,
		protocol.KindSubmitGuess:      (*Hub).submitGuess,
		protocol.KindTimeOut:          (*Hub).timeOut,
		protocol.KindRequestNextRound: (*Hub).requestNextRound,
		protocol.KindLeaveRoom:        (*Hub).leaveRoom,
	}
}

func (h *Hub) dispatch(c *session.Client, data []byte) {
	if b, ok := h.sessions.Lookup(c.ID); !ok || b.Client != c {
		return
	}

	in, err := protocol.Decode(data)
	if err != nil {
		h.logger.Debug().Err(err).Str("player", c.ID).Msg("dropping frame")
		return
	}

	handler, ok := h.handlers[in.Type]
	if !ok {
		h.logger.Debug().Str("player", c.ID).Str("kind", string(in.Type)).Msg("ignoring unknown kind")
		return
	}

	handler(h, c.ID, in)
}

func (h *Hub) createRoom(playerID string, in protocol.Inbound) {
	name, err := room.NormalizeName(in.PlayerName)
	if err != nil {
		h.sendError(playerID, err)
		return
	}

	if b, _ := h.sessions.Lookup(playerID); b.Seated() {
		h.leave(playerID, b.RoomCode, true)
	}

	now := h.clock.Now()
	rm, err := h.registry.Create(now)
	if err != nil {
		h.sendError(playerID, err)
		return
	}
	if err := rm.AddPlayer(room.Player{ID: playerID, Name: name, JoinedAt: now}); err != nil {
		h.registry.Delete(rm.Code)
		h.sendError(playerID, err)
		return
	}

	h.sessions.Bind(playerID, name, rm.Code)
	h.send(playerID, protocol.RoomMessage{Type: protocol.KindRoomCreated, Room: rm.Snapshot()})

	h.logger.Info().Str("room", rm.Code).Str("player", playerID).Msg("room created")
}

func (h *Hub) joinRoom(playerID string, in protocol.Inbound) {
	name, err := room.NormalizeName(in.PlayerName)
	if err != nil {
		h.sendError(playerID, err)
		return
	}

	rm, ok := h.registry.Get(in.RoomCode)
	if !ok {
		h.sendError(playerID, room.ErrRoomNotFound)
		return
	}
	if rm.State() != room.StateWaiting {
		h.sendError(playerID, room.ErrGameAlreadyStarted)
		return
	}

	b, _ := h.sessions.Lookup(playerID)
	if b.RoomCode == rm.Code {
		h.sendError(playerID, room.ErrPlayerAlreadyInRoom)
		return
	}
	if b.Seated() {
		h.leave(playerID, b.RoomCode, true)
	}

	if err := rm.AddPlayer(room.Player{ID: playerID, Name: name, JoinedAt: h.clock.Now()}); err != nil {
		h.sendError(playerID, err)
		return
	}
	h.sessions.Bind(playerID, name, rm.Code)

	snap := rm.Snapshot()
	h.send(playerID, protocol.RoomMessage{Type: protocol.KindRoomJoined, Room: snap})
	h.broadcast(rm, protocol.RoomMessage{Type: protocol.KindPlayerJoined, Room: snap}, playerID)

	h.logger.Info().Str("room", rm.Code).Str("player", playerID).Int("players", rm.Len()).Msg("player joined")
}

func (h *Hub) startGame(playerID string, _ protocol.Inbound) {
	rm, ok := h.seatedRoom(playerID)
	if !ok {
		return
	}

	loc, err := rm.StartGame(playerID, h.locations)
	if err != nil {
		h.sendError(playerID, err)
		return
	}

	snap := rm.Snapshot()
	for _, id := range rm.PlayerIDs() {
		h.send(id, protocol.GameStarted{
			Type:        protocol.KindGameStarted,
			Room:        snap,
			Round:       rm.Round(),
			TotalRounds: rm.TotalRounds(),
			TimeLimit:   h.timeLimitSeconds(),
			Location:    protocol.NewLocation(loc, rm.IsHost(id)),
		})
	}
	h.scheduleRound(rm)

	h.logger.Info().Str("room", rm.Code).Int("players", rm.Len()).Int("rounds", rm.TotalRounds()).Msg("game started")
}

// locationFound records the panorama the host resolved for the current round.
// Reports from anyone else, and repeats, are ignored.
func (h *Hub) locationFound(playerID string, in protocol.Inbound) {
	rm, ok := h.seatedRoom(playerID)
	if !ok || !rm.IsHost(playerID) {
		return
	}

	p := in.Point()
	if !rm.ConfirmLocation(rm.Round(), p.Lat, p.Lng, in.PanoID) {
		return
	}

	for _, id := range rm.PlayerIDs() {
		msg := protocol.LocationConfirmed{Type: protocol.KindLocationConfirmed, PanoID: in.PanoID}
		if id == playerID {
			msg.Lat, msg.Lng = &p.Lat, &p.Lng
		}
		h.send(id, msg)
	}

	h.logger.Debug().Str("room", rm.Code).Int("round", rm.Round()).Str("pano", in.PanoID).Msg("location confirmed")
}

func (h *Hub) submitGuess(playerID string, in protocol.Inbound) {
	rm, ok := h.seatedRoom(playerID)
	if !ok {
		return
	}

	p := in.Point()
	res, err := rm.SubmitGuess(playerID, p.Lat, p.Lng, h.clock.Now())
	if err != nil {
		h.logger.Debug().Err(err).Str("room", rm.Code).Str("player", playerID).Msg("guess ignored")
		return
	}

	h.announceGuess(rm, res)
	h.settle(rm)
}

func (h *Hub) timeOut(playerID string, _ protocol.Inbound) {
	rm, ok := h.seatedRoom(playerID)
	if !ok {
		return
	}

	res, err := rm.SubmitTimeout(playerID, h.clock.Now())
	if err != nil {
		h.logger.Debug().Err(err).Str("room", rm.Code).Str("player", playerID).Msg("timeout ignored")
		return
	}

	h.announceGuess(rm, res)
	h.settle(rm)
}

func (h *Hub) requestNextRound(playerID string, _ protocol.Inbound) {
	rm, ok := h.seatedRoom(playerID)
	if !ok {
		return
	}

	adv, err := rm.AdvanceRound(playerID)
	if err != nil {
		h.sendError(playerID, err)
		return
	}
	h.stopTimer(rm.Code)

	if adv.Finished {
		h.broadcast(rm, protocol.GameFinished{Type: protocol.KindGameFinished, Results: adv.Final}, "")
		h.logger.Info().Str("room", rm.Code).Msg("game finished")
		return
	}

	for _, id := range rm.PlayerIDs() {
		h.send(id, protocol.NextRound{
			Type:        protocol.KindNextRound,
			Round:       adv.Round,
			TotalRounds: rm.TotalRounds(),
			TimeLimit:   h.timeLimitSeconds(),
			Location:    protocol.NewLocation(adv.Location, rm.IsHost(id)),
		})
	}
	h.scheduleRound(rm)

	h.logger.Debug().Str("room", rm.Code).Int("round", adv.Round).Msg("next round")
}

func (h *Hub) leaveRoom(playerID string, _ protocol.Inbound) {
	b, ok := h.sessions.Lookup(playerID)
	if !ok || !b.Seated() {
		return
	}
	h.leave(playerID, b.RoomCode, true)
}

// leave takes a player out of a room and tells whoever is left. An emptied room
// is deleted without notice since nobody remains to receive one.
func (h *Hub) leave(playerID, code string, notify bool) {
	h.sessions.Unbind(playerID)

	rm, ok := h.registry.Get(code)
	if !ok {
		return
	}
	removal, ok := rm.RemovePlayer(playerID)
	if !ok {
		return
	}

	if notify {
		h.send(playerID, protocol.RoomNotice{Type: protocol.KindRoomLeft, RoomCode: rm.Code})
	}

	if removal.Empty {
		h.stopTimer(rm.Code)
		h.registry.Delete(rm.Code)
		h.logger.Info().Str("room", rm.Code).Msg("room emptied")
		return
	}

	h.broadcast(rm, protocol.PlayerLeft{
		Type:       protocol.KindPlayerLeft,
		PlayerID:   removal.Player.ID,
		PlayerName: removal.Player.Name,
		Room:       rm.Snapshot(),
	}, "")

	if removal.HostChanged {
		h.announceHost(rm, removal.NewHostID)
	}

	if removal.Completion != nil {
		h.completeRound(rm, removal.Completion)
	}

	h.logger.Info().Str("room", rm.Code).Str("player", playerID).Int("players", rm.Len()).Msg("player left")
}

func (h *Hub) announceHost(rm *room.Room, hostID string) {
	var handover *protocol.Location
	if loc, ok := rm.CurrentLocation(); ok && loc.Confirmed == nil {
		l := protocol.NewLocation(loc, true)
		handover = &l
	}

	for _, id := range rm.PlayerIDs() {
		msg := protocol.HostChanged{Type: protocol.KindHostChanged, HostID: hostID}
		if id == hostID {
			msg.Location = handover
		}
		h.send(id, msg)
	}
}

func (h *Hub) announceGuess(rm *room.Room, res room.GuessResult) {
	h.send(res.PlayerID, protocol.GuessResult{
		Type:       protocol.KindGuessResult,
		Distance:   res.Outcome,
		Points:     res.Points,
		TotalScore: res.TotalScore,
		TimedOut:   res.TimedOut,
	})
	h.broadcast(rm, protocol.PlayerGuessed{
		Type:       protocol.KindPlayerGuessed,
		PlayerID:   res.PlayerID,
		PlayerName: res.PlayerName,
		TimedOut:   res.TimedOut,
	}, res.PlayerID)
}

// settle runs the room's completion transition after anything that added an entry.
func (h *Hub) settle(rm *room.Room) {
	if summary := rm.Settle(); summary != nil {
		h.completeRound(rm, summary)
	}
}

func (h *Hub) completeRound(rm *room.Room, summary *room.RoundSummary) {
	h.stopTimer(rm.Code)
	h.broadcast(rm, protocol.RoundComplete{
		Type:           protocol.KindRoundComplete,
		Round:          summary.Round,
		Results:        summary.Results,
		ActualLocation: protocol.NewActualLocation(summary.Actual),
	}, "")

	h.logger.Debug().Str("room", rm.Code).Int("round", summary.Round).Msg("round complete")
}

// seatedRoom resolves the room a player is sitting in. Players outside a room
// get ErrPlayerNotFound.
func (h *Hub) seatedRoom(playerID string) (*room.Room, bool) {
	b, ok := h.sessions.Lookup(playerID)
	if !ok || !b.Seated() {
		h.sendError(playerID, room.ErrPlayerNotFound)
		return nil, false
	}
	rm, ok := h.registry.Get(b.RoomCode)
	if !ok {
		h.sessions.Unbind(playerID)
		h.sendError(playerID, room.ErrRoomNotFound)
		return nil, false
	}
	return rm, true
}

func (h *Hub) timeLimitSeconds() int {
	return int(h.timeLimit.Seconds())
}

func (h *Hub) send(playerID string, msg any) {
	data, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("player", playerID).Msg("encoding frame")
		return
	}
	h.sessions.SendTo(playerID, data)
}

func (h *Hub) broadcast(rm *room.Room, msg any, exclude string) {
	data, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("room", rm.Code).Msg("encoding frame")
		return
	}
	h.sessions.Broadcast(rm.PlayerIDs(), data, exclude)
}

// sendError reports a failure to the requester only. Room errors are shown
// as-is; anything else is logged and replaced by a generic message.
func (h *Hub) sendError(playerID string, err error) {
	msg := "something went wrong"
	var roomErr room.Error
	if errors.As(err, &roomErr) {
		msg = roomErr.Error()
	} else {
		h.logger.Error().Err(err).Str("player", playerID).Msg("request failed")
	}
	h.send(playerID, protocol.Error{Type: protocol.KindError, Message: msg})
}
