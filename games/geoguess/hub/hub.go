// Package hub runs every game on one goroutine.
//
// Connections, inbound frames, disconnects, sweep ticks and round timer
// expiries all arrive as events on a single inbox and are handled to
// completion one at a time. Rooms, the registry and the session index are
// only ever touched from Run, which is why none of them carry a lock.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fedemaldo95/geo-asu/games/geoguess/clock"
	"github.com/fedemaldo95/geo-asu/games/geoguess/ident"
	"github.com/fedemaldo95/geo-asu/games/geoguess/protocol"
	"github.com/fedemaldo95/geo-asu/games/geoguess/registry"
	"github.com/fedemaldo95/geo-asu/games/geoguess/room"
	"github.com/fedemaldo95/geo-asu/games/geoguess/session"
)

var ErrStopped = errors.New("hub stopped")

const defaultInboxSize = 256

// Config wires a Hub. Registry, Sessions and Locations are required.
type Config struct {
	Registry  *registry.Registry
	Sessions  *session.Manager
	Locations room.LocationSource
	Clock     clock.Clock
	IDs       ident.Generator
	Logger    zerolog.Logger

	// TimeLimit is advertised to clients. With RoundTimer set the hub also
	// enforces it, recording timeouts TimerGrace after it runs out.
	TimeLimit  time.Duration
	RoundTimer bool
	TimerGrace time.Duration

	IdleTimeout time.Duration
	SweepPeriod time.Duration

	InboxSize int
}

type Hub struct {
	registry  *registry.Registry
	sessions  *session.Manager
	locations room.LocationSource
	clock     clock.Clock
	ids       ident.Generator
	logger    zerolog.Logger

	timeLimit   time.Duration
	roundTimer  bool
	timerGrace  time.Duration
	idleTimeout time.Duration
	sweepPeriod time.Duration

	inbox    chan event
	done     chan struct{}
	mu       sync.RWMutex
	stopped  bool
	handlers map[protocol.Kind]handlerFunc
	timers   map[string]*time.Timer
}

func New(cfg *Config) (*Hub, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("hub config is required")
	case cfg.Registry == nil:
		return nil, errors.New("hub requires a room registry")
	case cfg.Sessions == nil:
		return nil, errors.New("hub requires a session manager")
	case cfg.Locations == nil:
		return nil, errors.New("hub requires a location source")
	case cfg.RoundTimer && cfg.TimeLimit <= 0:
		return nil, errors.New("round timer requires a positive time limit")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = &clock.DefaultClock{}
	}
	ids := cfg.IDs
	if ids == nil {
		ids = ident.New()
	}
	size := cfg.InboxSize
	if size <= 0 {
		size = defaultInboxSize
	}

	return &Hub{
		registry:    cfg.Registry,
		sessions:    cfg.Sessions,
		locations:   cfg.Locations,
		clock:       clk,
		ids:         ids,
		logger:      cfg.Logger,
		timeLimit:   cfg.TimeLimit,
		roundTimer:  cfg.RoundTimer,
		timerGrace:  cfg.TimerGrace,
		idleTimeout: cfg.IdleTimeout,
		sweepPeriod: cfg.SweepPeriod,
		inbox:       make(chan event, size),
		done:        make(chan struct{}),
		handlers:    routes(),
		timers:      make(map[string]*time.Timer),
	}, nil
}

type event interface{}

type connectEvent struct{ client *session.Client }

type messageEvent struct {
	client *session.Client
	data   []byte
}

type disconnectEvent struct{ client *session.Client }

type timerEvent struct {
	room  *room.Room
	round int
}

type statsEvent struct{ reply chan Stats }

// Stats is a point-in-time view of the hub for the stats endpoint.
type Stats struct {
	registry.Stats
	Connections int `json:"connections"`
}

// Run processes events until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	var sweep <-chan time.Time
	if h.sweepPeriod > 0 && h.idleTimeout > 0 {
		ticker := time.NewTicker(h.sweepPeriod)
		defer ticker.Stop()
		sweep = ticker.C
	}

	defer h.shutdown()

	h.logger.Debug().Dur("sweep_period", h.sweepPeriod).Bool("round_timer", h.roundTimer).Msg("hub running")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweep:
			h.sweepIdle()
		case ev := <-h.inbox:
			h.handle(ev)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)

	// Wait out enqueues already in flight; later ones see stopped.
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	for code, t := range h.timers {
		t.Stop()
		delete(h.timers, code)
	}
	h.drain()
	h.sessions.CloseAll()
	h.logger.Debug().Msg("hub stopped")
}

// drain discards queued events. Connections attached but never registered
// are registered so CloseAll releases their pumps.
func (h *Hub) drain() {
	for {
		select {
		case ev := <-h.inbox:
			if ev, ok := ev.(connectEvent); ok {
				h.sessions.Register(ev.client)
			}
		default:
			return
		}
	}
}

func (h *Hub) handle(ev event) {
	switch ev := ev.(type) {
	case connectEvent:
		h.connect(ev.client)
	case messageEvent:
		h.dispatch(ev.client, ev.data)
	case disconnectEvent:
		h.disconnect(ev.client)
	case timerEvent:
		h.expireRound(ev.room, ev.round)
	case statsEvent:
		ev.reply <- Stats{Stats: h.registry.Stats(), Connections: h.sessions.Len()}
	}
}

func (h *Hub) enqueue(ev event) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.stopped {
		return false
	}

	select {
	case h.inbox <- ev:
		return true
	case <-h.done:
		return false
	}
}

// Attach assigns a player id to a new connection and announces it to the hub.
// It returns nil once the hub has stopped.
func (h *Hub) Attach(conn session.Conn) *session.Client {
	c := session.NewClient(h.ids.NewID(), conn, h.logger)
	if !h.enqueue(connectEvent{client: c}) {
		return nil
	}
	return c
}

// Deliver implements session.Sink.
func (h *Hub) Deliver(c *session.Client, data []byte) {
	h.enqueue(messageEvent{client: c, data: data})
}

// Disconnect implements session.Sink.
func (h *Hub) Disconnect(c *session.Client) {
	h.enqueue(disconnectEvent{client: c})
}

// Stats asks the hub goroutine for current counts.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if !h.enqueue(statsEvent{reply: reply}) {
		return Stats{}, ErrStopped
	}

	select {
	case st := <-reply:
		return st, nil
	case <-h.done:
		return Stats{}, ErrStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (h *Hub) connect(c *session.Client) {
	if old, replaced := h.sessions.Register(c); replaced {
		h.logger.Warn().Str("player", c.ID).Msg("player id reused, dropping previous connection")
		if old.Seated() {
			h.leave(c.ID, old.RoomCode, false)
		}
	}
	h.send(c.ID, protocol.Connected{Type: protocol.KindConnected, PlayerID: c.ID})

	h.logger.Debug().Str("player", c.ID).Int("connections", h.sessions.Len()).Msg("player connected")
}

func (h *Hub) disconnect(c *session.Client) {
	b, ok := h.sessions.Lookup(c.ID)
	if !ok || b.Client != c {
		return
	}
	h.sessions.Unregister(c.ID)

	if b.Seated() {
		h.leave(c.ID, b.RoomCode, false)
	}

	h.logger.Debug().Str("player", c.ID).Int("connections", h.sessions.Len()).Msg("player disconnected")
}

func (h *Hub) sweepIdle() {
	for _, rm := range h.registry.SweepIdle(h.clock.Now(), h.idleTimeout) {
		h.stopTimer(rm.Code)
		for _, id := range rm.PlayerIDs() {
			h.sessions.Unbind(id)
			h.send(id, protocol.RoomNotice{Type: protocol.KindRoomClosed, RoomCode: rm.Code})
		}
		h.logger.Info().Str("room", rm.Code).Str("state", string(rm.State())).Msg("idle room evicted")
	}
}

// scheduleRound arms the server timer for the room's current round.
func (h *Hub) scheduleRound(rm *room.Room) {
	if !h.roundTimer {
		return
	}
	h.stopTimer(rm.Code)

	round := rm.Round()
	h.timers[rm.Code] = time.AfterFunc(h.timeLimit+h.timerGrace, func() {
		h.enqueue(timerEvent{room: rm, round: round})
	})
}

func (h *Hub) stopTimer(code string) {
	if t, ok := h.timers[code]; ok {
		t.Stop()
		delete(h.timers, code)
	}
}

// expireRound records a timeout for everyone still pending. Expiries for a
// room that has moved on, or been replaced under the same code, are ignored.
func (h *Hub) expireRound(rm *room.Room, round int) {
	current, ok := h.registry.Get(rm.Code)
	if !ok || current != rm || rm.State() != room.StatePlaying || rm.Round() != round {
		return
	}
	delete(h.timers, rm.Code)

	now := h.clock.Now()
	for _, id := range rm.Pending() {
		res, err := rm.SubmitTimeout(id, now)
		if err != nil {
			continue
		}
		h.announceGuess(rm, res)
	}

	h.logger.Debug().Str("room", rm.Code).Int("round", round).Msg("round timer expired")

	h.settle(rm)
}
