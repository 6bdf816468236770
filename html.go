/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"embed"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

//go:embed assets/*
var assets embed.FS

// serveHomePage serves the client for both / and /room/:code; the page reads
// the room code from its own path.
func serveHomePage(cfg *Config, logger zerolog.Logger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := assets.ReadFile("assets/index.html")
		if err != nil {
			http.Error(w, "client unavailable", http.StatusInternalServerError)
			return
		}

		page := strings.ReplaceAll(string(data), "{{prefix}}", cfg.prefix)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		securityHeaders(cfg, w)

		if _, err := io.WriteString(w, page); err != nil {
			logger.Debug().Err(err).Msg("writing home page")
		}
	}
}

func serveHealthCheck(cfg *Config, logger zerolog.Logger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		if _, err := w.Write([]byte("Ok\n")); err != nil {
			logger.Debug().Err(err).Msg("writing health check")
		}
	}
}

func serveAssets(cfg *Config, logger zerolog.Logger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		fname := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, cfg.prefix), "/")

		data, err := assets.ReadFile(fname)
		if err != nil {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		switch strings.ToLower(filepath.Ext(fname)) {
		case ".css":
			w.Header().Set("Content-Type", "text/css; charset=utf-8")
		case ".js":
			w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		case ".html":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		case ".svg":
			w.Header().Set("Content-Type", "image/svg+xml")
		}

		if _, err := w.Write(data); err != nil {
			logger.Debug().Err(err).Str("asset", fname).Msg("writing asset")
		}
	}
}

func serveRobots(cfg *Config, logger zerolog.Logger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		data := `User-agent: Amazonbot
Disallow: /

User-agent: Applebot-Extended
Disallow: /

User-agent: Bytespider
Disallow: /

User-agent: CCBot
Disallow: /

User-agent: ClaudeBot
Disallow: /

User-agent: Google-Extended
Disallow: /

User-agent: GPTBot
Disallow: /

User-agent: meta-externalagent
Disallow: /`

		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		if _, err := w.Write([]byte(data)); err != nil {
			logger.Debug().Err(err).Msg("writing robots.txt")
		}
	}
}
