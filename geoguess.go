package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"github.com/fedemaldo95/geo-asu/games/geoguess/hub"
	"github.com/fedemaldo95/geo-asu/games/geoguess/locations"
	"github.com/fedemaldo95/geo-asu/games/geoguess/registry"
	"github.com/fedemaldo95/geo-asu/games/geoguess/session"
)

// timerGrace is how long past the advertised time limit the server waits
// before it times players out itself.
const timerGrace = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWS(game *hub.Hub, logger zerolog.Logger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}

		client := game.Attach(conn)
		if client == nil {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			_ = conn.Close()
			return
		}

		go client.WritePump()
		client.ReadPump(game)
	}
}

func validRoomCode(code string) bool {
	return len(code) == registry.CodeLength && strings.Trim(code, registry.CodeAlphabet) == ""
}

// serveRoomQR renders a PNG QR code pointing at the room's join page.
func serveRoomQR(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := registry.NormalizeCode(ps.ByName("code"))
		if !validRoomCode(code) {
			http.Error(w, "invalid room code", http.StatusBadRequest)
			return
		}

		scheme := cfg.scheme()
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + cfg.prefix + "/room/" + code

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

func serveStats(cfg *Config, game *hub.Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		stats, err := game.Stats(r.Context())
		if err != nil {
			http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		_ = json.NewEncoder(w).Encode(stats)
	}
}

// registerGeoGame sets up routes so that:
//   - $prefix/room/:code     → HTML client, joining :code
//   - $prefix/room/:code/qr  → PNG QR code for that room's URL
//   - $prefix/ws             → websocket shared by every room
//   - $prefix/stats          → room and connection counts
func registerGeoGame(cfg *Config, logger zerolog.Logger, mux *httprouter.Router) (*hub.Hub, error) {
	cities, err := loadCities(cfg.cities)
	if err != nil {
		return nil, err
	}

	places, err := locations.NewGenerator(cities, nil)
	if err != nil {
		return nil, err
	}

	rooms, err := registry.New(&registry.Config{
		Settings: cfg.settings(),
		Logger:   logger.With().Str("component", "registry").Logger(),
	})
	if err != nil {
		return nil, err
	}

	game, err := hub.New(&hub.Config{
		Registry:    rooms,
		Sessions:    session.NewManager(logger.With().Str("component", "session").Logger()),
		Locations:   places,
		Logger:      logger.With().Str("component", "hub").Logger(),
		TimeLimit:   cfg.timeLimit,
		RoundTimer:  cfg.roundTimer,
		TimerGrace:  timerGrace,
		IdleTimeout: cfg.idleTimeout,
		SweepPeriod: cfg.sweepPeriod,
	})
	if err != nil {
		return nil, err
	}

	logger.Debug().Int("cities", len(cities)).Int("rounds", cfg.rounds).Msg("GAMES: geo game registered")

	mux.GET(cfg.prefix+"/room/:code", serveHomePage(cfg, logger))
	mux.GET(cfg.prefix+"/room/:code/qr", serveRoomQR(cfg))
	mux.GET(cfg.prefix+"/ws", serveWS(game, logger))
	mux.GET(cfg.prefix+"/stats", serveStats(cfg, game))

	return game, nil
}
