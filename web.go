package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fedemaldo95/geo-asu/games/geoguess/hub"
)

const (
	logDate string        = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second
)

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data:")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

// accessLog logs every request at debug level, so only --verbose shows them.
func accessLog(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Debug().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Str("size", humanReadableSize(int64(ww.BytesWritten()))).
					Str("remote", r.RemoteAddr).
					Str("request_id", middleware.GetReqID(r.Context())).
					Dur("duration", time.Since(start).Round(time.Microsecond)).
					Msg("SERVE")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func serveVersion(cfg *Config, logger zerolog.Logger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		if _, err := w.Write([]byte("geo-asu v" + releaseVersion + "\n")); err != nil {
			logger.Debug().Err(err).Msg("writing version page")
		}
	}
}

// newHandler builds the full route table and the game hub behind it. The hub
// is returned unstarted.
func newHandler(cfg *Config, logger zerolog.Logger) (http.Handler, *hub.Hub, error) {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		logger.Error().Interface("panic", i).Str("path", r.URL.Path).Msg("handler panicked")

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		io.WriteString(w, newPage("Server Error", "An error has occurred. Please try again."))
	}

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	mux.GET(cfg.prefix+"/", serveHomePage(cfg, logger))

	mux.GET(cfg.prefix+"/assets/*asset", serveAssets(cfg, logger))

	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg, logger))

	mux.GET(cfg.prefix+"/robots.txt", serveRobots(cfg, logger))

	mux.GET(cfg.prefix+"/version", serveVersion(cfg, logger))

	if cfg.profile {
		registerProfileHandlers(cfg, mux)
	}

	game, err := registerGeoGame(cfg, logger, mux)
	if err != nil {
		return nil, nil, err
	}

	handler := chi.Chain(
		middleware.RequestID,
		middleware.RealIP,
		accessLog(logger),
		middleware.Recoverer,
	).Handler(mux)

	return handler, game, nil
}

func ServePage(ctx context.Context, cfg *Config) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	logger := newLogger(cfg, nil)

	logger.Info().Str("version", releaseVersion).Msg("START: geo-asu")

	handler, game, err := newHandler(cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           handler,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return game.Run(gctx)
	})

	g.Go(func() error {
		logger.Info().Msgf("SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)

		var err error
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		logger.Info().Msg("shutting down")

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
