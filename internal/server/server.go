// Package server wires §6's HTTP surface onto the registry, resolver,
// exporter, and font/sprite registries: one route per table row, using
// the teacher's plain net/http.ServeMux plus manual path parsing rather
// than a router library, since several routes mix a wildcard segment
// with a literal suffix that Go 1.22+ ServeMux patterns cannot express
// (":id.json", ":y.:format").
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/tileproxy/tileproxy/internal/concurrency"
	"github.com/tileproxy/tileproxy/internal/export"
	"github.com/tileproxy/tileproxy/internal/fonts"
	"github.com/tileproxy/tileproxy/internal/registry"
	"github.com/tileproxy/tileproxy/internal/resolver"
	"github.com/tileproxy/tileproxy/internal/sprites"
)

// Config groups a Server's collaborators.
type Config struct {
	Registry     *registry.Registry
	Resolver     *resolver.Resolver
	Exporter     *export.Exporter
	Fonts        *fonts.Registry
	Sprites      *sprites.Registry
	Logger       *slog.Logger
	CacheControl string
}

// Server implements the §6 HTTP surface over one built Registry.
type Server struct {
	reg          *registry.Registry
	res          *resolver.Resolver
	exporter     *export.Exporter
	fonts        *fonts.Registry
	sprites      *sprites.Registry
	logger       *slog.Logger
	cacheControl string

	mu           sync.Mutex
	exportTokens map[string]*concurrency.CancelToken
}

// New builds a Server from cfg.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cacheControl := cfg.CacheControl
	if cacheControl == "" {
		cacheControl = "no-store"
	}
	return &Server{
		reg:          cfg.Registry,
		res:          cfg.Resolver,
		exporter:     cfg.Exporter,
		fonts:        cfg.Fonts,
		sprites:      cfg.Sprites,
		logger:       logger,
		cacheControl: cacheControl,
		exportTokens: make(map[string]*concurrency.CancelToken),
	}
}

// Mux builds the routed handler.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/datas/", withCORS(http.HandlerFunc(s.handleDatas)))
	mux.Handle("/fonts/", withCORS(http.HandlerFunc(s.handleFonts)))
	mux.Handle("/sprites/", withCORS(http.HandlerFunc(s.handleSprites)))
	mux.Handle("/styles/", withCORS(http.HandlerFunc(s.handleStyles)))
	mux.Handle("/geojsons/", withCORS(http.HandlerFunc(s.handleGeoJSON)))
	return mux
}

func (s *Server) handleDatas(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/datas/")
	route, ok := parseDatasPath(rest)
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch route.kind {
	case routeTile:
		s.handleTile(w, r, route)
	case routeTileJSON:
		s.handleTileJSON(w, r, route.id)
	case routeMD5:
		s.handleMD5(w, r, route.id)
	case routeDownload:
		s.handleDownload(w, r, route.id)
	case routeExtraInfo:
		s.handleExtraInfo(w, r, route.id)
	case routeExport:
		s.handleExport(w, r, route.id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hostBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}
