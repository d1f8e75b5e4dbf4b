// Package server exposes the mirrored data over HTTP. It is read-only:
// every request re-reads the manifest and series files written by the
// sync pipeline, so a server can run alongside periodic sync runs without
// coordination.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/johnayoung/go-kline-mirror/internal/config"
	"github.com/johnayoung/go-kline-mirror/internal/models"
	"github.com/johnayoung/go-kline-mirror/internal/storage"
)

const (
	defaultSymbol    = "BTCUSDT"
	defaultTimeframe = "15m"
	defaultLimit     = 100
)

// Server serves the read-side API.
type Server struct {
	router    *http.ServeMux
	server    *http.Server
	manifests *storage.ManifestStore
	series    *storage.SeriesStore
	logger    *slog.Logger
}

// NewServer wires the routes and the underlying http.Server.
func NewServer(cfg config.ServerConfig, manifests *storage.ManifestStore, series *storage.SeriesStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:    http.NewServeMux(),
		manifests: manifests,
		series:    series,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeoutDuration(),
		WriteTimeout: cfg.WriteTimeoutDuration(),
	}
	return s
}

func (s *Server) routes() {
	// Envelope endpoint, mirrors the manifest entry shape
	s.router.HandleFunc("GET /api/data", s.handleData)

	// Raw series rows
	s.router.HandleFunc("GET /api/ohlcv/{symbol}/{timeframe}", s.handleOHLCV)

	// Health
	s.router.HandleFunc("GET /healthz", s.handleHealth)
}

// Start runs the server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// dataEnvelope is the /api/data response shape.
type dataEnvelope struct {
	Datatype   string                  `json:"datatype"`
	Markettype string                  `json:"markettype"`
	Marketdata map[string]*symbolSlice `json:"marketdata"`
}

type symbolSlice struct {
	Symbol     string          `json:"symbol"`
	Pair       string          `json:"pair"`
	Fullname   string          `json:"fullname"`
	Icon       string          `json:"icon"`
	SymbolDesc json.RawMessage `json:"symbolDesc,omitempty"`
	Data       [][]any         `json:"data"`
}

// handleData returns the manifest entry for one symbol together with a
// tail of its series, rows condensed to [ts_sec, o, h, l, c, v]. A
// symbol absent from the manifest still gets a synthesized descriptor;
// a missing or unreadable series file yields an error envelope.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	if symbol == "" {
		symbol = defaultSymbol
	}
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = defaultTimeframe
	}
	limit := parseLimit(r.URL.Query().Get("limit"))

	manifest, err := s.manifests.Load(models.ExchangeBinance)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load manifest")
		return
	}

	rows, err := s.series.ReadTail(models.SeriesFilename(symbol, timeframe), limit)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("no data for %s %s", symbol, timeframe))
			return
		}
		s.logger.Error("failed to read series", "symbol", symbol, "timeframe", timeframe, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read series")
		return
	}

	slice := &symbolSlice{Data: make([][]any, 0, len(rows))}
	entry := manifest.Entry(models.ExchangeBinance, symbol)
	if entry != nil {
		slice.Symbol = entry.Symbol
		slice.Pair = entry.Pair
		slice.Fullname = entry.Fullname
		slice.Icon = entry.Icon
		slice.SymbolDesc = entry.SymbolDesc
	} else {
		base, quote := models.SplitSymbolPair(symbol)
		slice.Symbol = base
		slice.Pair = quote
		slice.Fullname = symbol
		slice.Icon = models.IconURL(base)
	}

	for i := range rows {
		k := &rows[i]
		slice.Data = append(slice.Data, []any{
			k.OpenTime.Unix(), k.Open, k.High, k.Low, k.Close, k.Volume,
		})
	}

	section := manifest.Section(models.ExchangeBinance)
	envelope := dataEnvelope{
		Datatype:   section.Datatype,
		Markettype: section.Markettype,
		Marketdata: map[string]*symbolSlice{
			models.SymbolKey(symbol): slice,
		},
	}
	s.writeJSON(w, http.StatusOK, envelope)
}

// handleOHLCV returns the raw tail rows for one instrument/timeframe.
func (s *Server) handleOHLCV(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	timeframe := r.PathValue("timeframe")
	limit := parseLimit(r.URL.Query().Get("limit"))

	rows, err := s.series.ReadTail(models.SeriesFilename(symbol, timeframe), limit)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("no data for %s %s", symbol, timeframe))
			return
		}
		s.logger.Error("failed to read series", "symbol", symbol, "timeframe", timeframe, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read series")
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultLimit
	}
	return limit
}
