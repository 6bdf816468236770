package hub_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	clockMocks "github.com/fedemaldo95/geo-asu/games/geoguess/clock/mocks"
	"github.com/fedemaldo95/geo-asu/games/geoguess/hub"
	identMocks "github.com/fedemaldo95/geo-asu/games/geoguess/ident/mocks"
	"github.com/fedemaldo95/geo-asu/games/geoguess/locations"
	"github.com/fedemaldo95/geo-asu/games/geoguess/registry"
	"github.com/fedemaldo95/geo-asu/games/geoguess/room"
	"github.com/fedemaldo95/geo-asu/games/geoguess/scoring"
	"github.com/fedemaldo95/geo-asu/games/geoguess/session"
)

const frameTimeout = 2 * time.Second

// pipeConn is an in-memory websocket: the test writes client frames into
// incoming and reads server frames from outgoing.
type pipeConn struct {
	incoming chan []byte
	outgoing chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		incoming: make(chan []byte, 16),
		outgoing: make(chan []byte, 128),
		closed:   make(chan struct{}),
	}
}

func (p *pipeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-p.incoming:
		return websocket.TextMessage, data, nil
	case <-p.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseGoingAway}
	}
}

func (p *pipeConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	select {
	case <-p.closed:
		return errors.New("use of closed connection")
	default:
	}
	select {
	case p.outgoing <- data:
		return nil
	case <-p.closed:
		return errors.New("use of closed connection")
	}
}

func (p *pipeConn) SetReadLimit(int64) {}

func (p *pipeConn) SetReadDeadline(time.Time) error { return nil }

func (p *pipeConn) SetWriteDeadline(time.Time) error { return nil }

func (p *pipeConn) SetPongHandler(func(string) error) {}

func (p *pipeConn) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type fixedSource struct{ targets []locations.Target }

func (f fixedSource) Generate(rounds int) ([]locations.Target, error) {
	out := make([]locations.Target, rounds)
	for i := range out {
		out[i] = f.targets[i%len(f.targets)]
	}
	return out, nil
}

type harness struct {
	t     *testing.T
	hub   *hub.Hub
	clock *fakeClock
	stop  context.CancelFunc
	done  chan struct{}
}

func newHarness(t *testing.T, configure func(*hub.Config)) *harness {
	t.Helper()

	ctrl := gomock.NewController(t)
	fc := &fakeClock{now: time.Date(2025, 4, 19, 12, 0, 0, 0, time.UTC)}

	mockClock := clockMocks.NewMockClock(ctrl)
	mockClock.EXPECT().Now().DoAndReturn(fc.Now).AnyTimes()

	var mu sync.Mutex
	next := 0
	mockIDs := identMocks.NewMockGenerator(ctrl)
	mockIDs.EXPECT().NewID().DoAndReturn(func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("p%d", next)
	}).AnyTimes()

	reg, err := registry.New(&registry.Config{
		Settings: room.Settings{Rounds: 2, MaxPoints: 5000, MinPlayers: 2},
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	cfg := &hub.Config{
		Registry: reg,
		Sessions: session.NewManager(zerolog.Nop()),
		Locations: fixedSource{targets: []locations.Target{
			{City: "Null Island", Point: scoring.LatLng{Lat: 0, Lng: 0}},
			{City: "Asunción", Point: scoring.LatLng{Lat: -25.2637, Lng: -57.5759}},
		}},
		Clock:     mockClock,
		IDs:       mockIDs,
		Logger:    zerolog.Nop(),
		TimeLimit: 60 * time.Second,
	}
	if configure != nil {
		configure(cfg)
	}

	h, err := hub.New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()

	hs := &harness{t: t, hub: h, clock: fc, stop: cancel, done: done}
	t.Cleanup(hs.shutdown)
	return hs
}

func (hs *harness) shutdown() {
	hs.stop()
	<-hs.done
}

type player struct {
	t    *testing.T
	id   string
	conn *pipeConn
}

func (hs *harness) connect() *player {
	hs.t.Helper()

	conn := newPipeConn()
	c := hs.hub.Attach(conn)
	require.NotNil(hs.t, c)
	go c.WritePump()
	go c.ReadPump(hs.hub)

	p := &player{t: hs.t, conn: conn}
	msg := p.expect("connected")
	p.id = msg["playerId"].(string)
	require.Equal(hs.t, c.ID, p.id)
	return p
}

func (p *player) sendRaw(data string) {
	p.conn.incoming <- []byte(data)
}

func (p *player) send(v map[string]any) {
	p.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(p.t, err)
	p.conn.incoming <- data
}

func (p *player) disconnect() {
	_ = p.conn.Close()
}

func (p *player) next() map[string]any {
	p.t.Helper()
	select {
	case data := <-p.conn.outgoing:
		var msg map[string]any
		require.NoError(p.t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(frameTimeout):
		p.t.Fatalf("no frame for %s", p.id)
		return nil
	}
}

// expect asserts that the next frame has the given type.
func (p *player) expect(kind string) map[string]any {
	p.t.Helper()
	msg := p.next()
	require.Equal(p.t, kind, msg["type"], "frame for %s: %v", p.id, msg)
	return msg
}

func (p *player) expectError(message string) {
	p.t.Helper()
	msg := p.expect("error")
	assert.Equal(p.t, message, msg["message"])
}

func (p *player) createRoom(name string) string {
	p.t.Helper()
	p.send(map[string]any{"type": "createRoom", "playerName": name})
	msg := p.expect("roomCreated")
	return msg["room"].(map[string]any)["code"].(string)
}

func (p *player) joinRoom(code, name string) map[string]any {
	p.t.Helper()
	p.send(map[string]any{"type": "joinRoom", "roomCode": code, "playerName": name})
	return p.expect("roomJoined")
}

func hostOf(msg map[string]any) string {
	return msg["room"].(map[string]any)["hostId"].(string)
}

func TestNew_Validation(t *testing.T) {
	_, err := hub.New(nil)
	assert.Error(t, err)

	_, err = hub.New(&hub.Config{})
	assert.Error(t, err)

	reg, err := registry.New(&registry.Config{Settings: room.Settings{Rounds: 1}})
	require.NoError(t, err)
	_, err = hub.New(&hub.Config{
		Registry:   reg,
		Sessions:   session.NewManager(zerolog.Nop()),
		Locations:  fixedSource{},
		RoundTimer: true,
	})
	assert.Error(t, err, "a round timer needs a time limit")
}

func TestHub_FullGame(t *testing.T) {
	hs := newHarness(t, nil)
	ana := hs.connect()
	bruno := hs.connect()

	code := ana.createRoom("  Ana  ")
	joined := bruno.joinRoom(" "+code+" ", "Bruno")
	assert.Equal(t, ana.id, hostOf(joined))
	ana.expect("playerJoined")

	bruno.send(map[string]any{"type": "startGame"})
	bruno.expectError(room.ErrNotHost.Error())

	ana.send(map[string]any{"type": "startGame"})
	started := ana.expect("gameStarted")
	assert.EqualValues(t, 0, started["round"])
	assert.EqualValues(t, 2, started["totalRounds"])
	assert.EqualValues(t, 60, started["timeLimit"])
	hostLoc := started["location"].(map[string]any)
	assert.Equal(t, "Null Island", hostLoc["city"])
	assert.Contains(t, hostLoc, "lat", "the host receives the search point")

	started = bruno.expect("gameStarted")
	guestLoc := started["location"].(map[string]any)
	assert.Equal(t, "Null Island", guestLoc["city"])
	assert.NotContains(t, guestLoc, "lat", "guests never see the target before the round ends")
	assert.NotContains(t, guestLoc, "lng")

	ana.send(map[string]any{"type": "locationFound", "lat": 0, "lng": 0, "panoId": "pano-1"})
	confirmed := ana.expect("locationConfirmed")
	assert.Equal(t, "pano-1", confirmed["panoId"])
	assert.Contains(t, confirmed, "lat")
	confirmed = bruno.expect("locationConfirmed")
	assert.Equal(t, "pano-1", confirmed["panoId"])
	assert.NotContains(t, confirmed, "lat")

	ana.send(map[string]any{"type": "submitGuess", "lat": 0, "lng": 0})
	result := ana.expect("guessResult")
	assert.EqualValues(t, 5000, result["points"])
	assert.EqualValues(t, 0, result["distance"])
	assert.EqualValues(t, 5000, result["totalScore"])
	guessed := bruno.expect("playerGuessed")
	assert.Equal(t, ana.id, guessed["playerId"])
	assert.NotContains(t, guessed, "points", "other players never see the value")

	// A replayed guess is swallowed: Ana's next frame comes from Bruno's timeout.
	ana.send(map[string]any{"type": "submitGuess", "lat": 10, "lng": 10})

	hs.clock.Advance(time.Second)
	bruno.send(map[string]any{"type": "timeOut"})
	result = bruno.expect("guessResult")
	assert.Equal(t, true, result["timedOut"])
	assert.Nil(t, result["distance"])
	assert.EqualValues(t, 0, result["points"])

	guessed = ana.expect("playerGuessed")
	assert.Equal(t, bruno.id, guessed["playerId"])
	assert.Equal(t, true, guessed["timedOut"])

	for _, p := range []*player{ana, bruno} {
		complete := p.expect("roundComplete")
		assert.EqualValues(t, 0, complete["round"])
		results := complete["results"].([]any)
		require.Len(t, results, 2)
		first := results[0].(map[string]any)
		second := results[1].(map[string]any)
		assert.Equal(t, ana.id, first["playerId"])
		assert.EqualValues(t, 1, first["rank"])
		assert.EqualValues(t, 5000, first["totalScore"])
		assert.Equal(t, bruno.id, second["playerId"])
		assert.EqualValues(t, 2, second["rank"])
		actual := complete["actualLocation"].(map[string]any)
		assert.Equal(t, "Null Island", actual["city"])
		assert.Equal(t, "pano-1", actual["panoId"])
	}

	bruno.send(map[string]any{"type": "requestNextRound"})
	bruno.expectError(room.ErrNotHost.Error())

	ana.send(map[string]any{"type": "requestNextRound"})
	next := ana.expect("nextRound")
	assert.EqualValues(t, 1, next["round"])
	assert.Contains(t, next["location"], "lat")
	next = bruno.expect("nextRound")
	assert.Equal(t, "Asunción", next["location"].(map[string]any)["city"])
	assert.NotContains(t, next["location"], "lat")

	bruno.send(map[string]any{"type": "submitGuess", "lat": -25.2637, "lng": -57.5759})
	bruno.expect("guessResult")
	ana.expect("playerGuessed")

	ana.send(map[string]any{"type": "requestNextRound"})
	for _, p := range []*player{ana, bruno} {
		finished := p.expect("gameFinished")
		results := finished["results"].([]any)
		require.Len(t, results, 2)
		// Equal scores and equal total distance: Ana submitted first.
		assert.Equal(t, ana.id, results[0].(map[string]any)["playerId"])
		assert.EqualValues(t, 1, results[0].(map[string]any)["rank"])
	}

	st, err := hs.hub.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.ByState[room.StateFinished])
	assert.Equal(t, 2, st.Connections)
}

func TestHub_HostDisconnectWhileWaiting(t *testing.T) {
	hs := newHarness(t, nil)
	ana := hs.connect()
	bruno := hs.connect()
	carla := hs.connect()

	code := ana.createRoom("Ana")
	bruno.joinRoom(code, "Bruno")
	ana.expect("playerJoined")
	carla.joinRoom(code, "Carla")
	ana.expect("playerJoined")
	bruno.expect("playerJoined")

	ana.disconnect()

	for _, p := range []*player{bruno, carla} {
		left := p.expect("playerLeft")
		assert.Equal(t, ana.id, left["playerId"])
		assert.Equal(t, "Ana", left["playerName"])
		assert.Equal(t, bruno.id, hostOf(left))
		assert.Len(t, left["room"].(map[string]any)["players"], 2)

		changed := p.expect("hostChanged")
		assert.Equal(t, bruno.id, changed["hostId"])
		assert.NotContains(t, changed, "location")
	}

	bruno.send(map[string]any{"type": "startGame"})
	bruno.expect("gameStarted")
	carla.expect("gameStarted")
}

func TestHub_DisconnectCompletesRound(t *testing.T) {
	hs := newHarness(t, nil)
	ana := hs.connect()
	bruno := hs.connect()
	carla := hs.connect()

	code := ana.createRoom("Ana")
	bruno.joinRoom(code, "Bruno")
	ana.expect("playerJoined")
	carla.joinRoom(code, "Carla")
	ana.expect("playerJoined")
	bruno.expect("playerJoined")

	ana.send(map[string]any{"type": "startGame"})
	for _, p := range []*player{ana, bruno, carla} {
		p.expect("gameStarted")
	}

	ana.send(map[string]any{"type": "submitGuess", "lat": 1, "lng": 1})
	ana.expect("guessResult")
	bruno.expect("playerGuessed")
	carla.expect("playerGuessed")

	bruno.send(map[string]any{"type": "submitGuess", "lat": 2, "lng": 2})
	bruno.expect("guessResult")
	ana.expect("playerGuessed")
	carla.expect("playerGuessed")

	carla.disconnect()

	for _, p := range []*player{ana, bruno} {
		p.expect("playerLeft")
		complete := p.expect("roundComplete")
		assert.Len(t, complete["results"], 2)
	}
}

func TestHub_HostLeavesMidRoundHandsOverSearchPoint(t *testing.T) {
	hs := newHarness(t, nil)
	ana := hs.connect()
	bruno := hs.connect()

	code := ana.createRoom("Ana")
	bruno.joinRoom(code, "Bruno")
	ana.expect("playerJoined")

	ana.send(map[string]any{"type": "startGame"})
	ana.expect("gameStarted")
	bruno.expect("gameStarted")

	ana.send(map[string]any{"type": "leaveRoom"})
	notice := ana.expect("roomLeft")
	assert.Equal(t, code, notice["roomCode"])

	bruno.expect("playerLeft")
	changed := bruno.expect("hostChanged")
	assert.Equal(t, bruno.id, changed["hostId"])
	loc := changed["location"].(map[string]any)
	assert.Equal(t, "Null Island", loc["city"])
	assert.Contains(t, loc, "lat")

	// Ana is no longer seated.
	ana.send(map[string]any{"type": "submitGuess", "lat": 0, "lng": 0})
	ana.expectError(room.ErrPlayerNotFound.Error())
}

func TestHub_LastPlayerLeavingDeletesRoom(t *testing.T) {
	hs := newHarness(t, nil)
	ana := hs.connect()
	bruno := hs.connect()

	code := ana.createRoom("Ana")
	ana.disconnect()

	require.Eventually(t, func() bool {
		st, err := hs.hub.Stats(context.Background())
		return err == nil && st.Rooms == 0
	}, frameTimeout, 10*time.Millisecond)

	bruno.send(map[string]any{"type": "joinRoom", "roomCode": code, "playerName": "Bruno"})
	bruno.expectError(room.ErrRoomNotFound.Error())
}

func TestHub_SwitchingRoomsLeavesThePreviousOne(t *testing.T) {
	hs := newHarness(t, nil)
	ana := hs.connect()
	bruno := hs.connect()

	first := ana.createRoom("Ana")
	second := bruno.createRoom("Bruno")

	ana.send(map[string]any{"type": "joinRoom", "roomCode": second, "playerName": "Ana"})
	notice := ana.expect("roomLeft")
	assert.Equal(t, first, notice["roomCode"])
	ana.expect("roomJoined")
	bruno.expect("playerJoined")

	ana.send(map[string]any{"type": "joinRoom", "roomCode": second, "playerName": "Ana"})
	ana.expectError(room.ErrPlayerAlreadyInRoom.Error())

	st, err := hs.hub.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Rooms, "the room Ana left behind was empty and is gone")
	assert.Equal(t, 2, st.Players)
}

func TestHub_RequestErrors(t *testing.T) {
	hs := newHarness(t, nil)
	ana := hs.connect()
	bruno := hs.connect()
	carla := hs.connect()

	ana.send(map[string]any{"type": "createRoom", "playerName": "   "})
	ana.expectError(room.ErrNameRequired.Error())

	ana.send(map[string]any{"type": "startGame"})
	ana.expectError(room.ErrPlayerNotFound.Error())

	bruno.send(map[string]any{"type": "joinRoom", "roomCode": "ZZZZZZ", "playerName": "Bruno"})
	bruno.expectError(room.ErrRoomNotFound.Error())

	code := ana.createRoom("Ana")

	ana.send(map[string]any{"type": "startGame"})
	ana.expectError(room.ErrInsufficientPlayers.Error())

	bruno.joinRoom(code, "Bruno")
	ana.expect("playerJoined")
	ana.send(map[string]any{"type": "startGame"})
	ana.expect("gameStarted")
	bruno.expect("gameStarted")

	carla.send(map[string]any{"type": "joinRoom", "roomCode": code, "playerName": "Carla"})
	carla.expectError(room.ErrGameAlreadyStarted.Error())
}

func TestHub_DropsMalformedAndUnknownFrames(t *testing.T) {
	hs := newHarness(t, nil)
	ana := hs.connect()

	ana.sendRaw(`{"type":`)
	ana.sendRaw(`{"playerName":"no type"}`)
	ana.sendRaw(`{"type":"dance"}`)
	ana.sendRaw(`{"type":"submitGuess","lat":"north"}`)

	// Nothing answered the noise: the next frame is the reply to a valid request.
	ana.createRoom("Ana")
}

func TestHub_RoundTimerRecordsTimeouts(t *testing.T) {
	hs := newHarness(t, func(cfg *hub.Config) {
		cfg.RoundTimer = true
		cfg.TimeLimit = 300 * time.Millisecond
	})
	ana := hs.connect()
	bruno := hs.connect()

	code := ana.createRoom("Ana")
	bruno.joinRoom(code, "Bruno")
	ana.expect("playerJoined")

	ana.send(map[string]any{"type": "startGame"})
	ana.expect("gameStarted")
	bruno.expect("gameStarted")

	ana.send(map[string]any{"type": "submitGuess", "lat": 0, "lng": 0})
	ana.expect("guessResult")
	bruno.expect("playerGuessed")

	result := bruno.expect("guessResult")
	assert.Equal(t, true, result["timedOut"])
	ana.expect("playerGuessed")

	ana.expect("roundComplete")
	bruno.expect("roundComplete")
}

func TestHub_SweepEvictsIdleRooms(t *testing.T) {
	hs := newHarness(t, func(cfg *hub.Config) {
		cfg.IdleTimeout = 30 * time.Minute
		cfg.SweepPeriod = 10 * time.Millisecond
	})
	ana := hs.connect()

	code := ana.createRoom("Ana")
	hs.clock.Advance(31 * time.Minute)

	notice := ana.expect("roomClosed")
	assert.Equal(t, code, notice["roomCode"])

	st, err := hs.hub.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Rooms)
	assert.Equal(t, 1, st.Connections)

	// Ana can start over once the room is gone.
	ana.createRoom("Ana")
}

func TestHub_ShutdownClosesConnections(t *testing.T) {
	hs := newHarness(t, nil)
	ana := hs.connect()
	ana.createRoom("Ana")

	hs.shutdown()

	select {
	case <-ana.conn.closed:
	case <-time.After(frameTimeout):
		t.Fatal("connection was not closed on shutdown")
	}

	assert.Nil(t, hs.hub.Attach(newPipeConn()))

	_, err := hs.hub.Stats(context.Background())
	assert.ErrorIs(t, err, hub.ErrStopped)
}

func TestHub_ShutdownReleasesQueuedConnections(t *testing.T) {
	// Run may see the cancelled context before the queued connect; the
	// connection must be closed either way.
	for i := 0; i < 20; i++ {
		reg, err := registry.New(&registry.Config{
			Settings: room.Settings{Rounds: 1, MaxPoints: 5000, MinPlayers: 1},
			Logger:   zerolog.Nop(),
		})
		require.NoError(t, err)

		h, err := hub.New(&hub.Config{
			Registry:  reg,
			Sessions:  session.NewManager(zerolog.Nop()),
			Locations: fixedSource{targets: []locations.Target{{City: "Null Island"}}},
			Logger:    zerolog.Nop(),
		})
		require.NoError(t, err)

		conn := newPipeConn()
		c := h.Attach(conn)
		require.NotNil(t, c)

		pumped := make(chan struct{})
		go func() {
			c.WritePump()
			close(pumped)
		}()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, h.Run(ctx))

		select {
		case <-pumped:
		case <-time.After(frameTimeout):
			t.Fatalf("attempt %d: write pump still running after shutdown", i)
		}
		select {
		case <-conn.closed:
		default:
			t.Fatalf("attempt %d: connection left open", i)
		}
		assert.Nil(t, h.Attach(newPipeConn()))
	}
}

func TestHub_ReusedIDUnseatsPreviousConnection(t *testing.T) {
	hs := newHarness(t, func(cfg *hub.Config) {
		ids := identMocks.NewMockGenerator(gomock.NewController(t))
		gomock.InOrder(
			ids.EXPECT().NewID().Return("p1"),
			ids.EXPECT().NewID().Return("p2"),
			ids.EXPECT().NewID().Return("p1"),
		)
		cfg.IDs = ids
	})

	ana := hs.connect()
	bruno := hs.connect()

	code := ana.createRoom("Ana")
	bruno.joinRoom(code, "Bruno")
	ana.expect("playerJoined")

	again := hs.connect()
	require.Equal(t, ana.id, again.id)

	select {
	case <-ana.conn.closed:
	case <-time.After(frameTimeout):
		t.Fatal("the replaced connection was not closed")
	}

	left := bruno.expect("playerLeft")
	assert.Equal(t, ana.id, left["playerId"])
	assert.Len(t, left["room"].(map[string]any)["players"], 1)
	assert.Equal(t, bruno.id, bruno.expect("hostChanged")["hostId"])

	// The new connection starts unseated.
	again.send(map[string]any{"type": "startGame"})
	again.expectError(room.ErrPlayerNotFound.Error())
}
