package devserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"google.golang.org/grpc"

	"danso/internal/live"
)

const (
	chartCandles  = 120
	moversPerSide = 5
)

// Server serves the signal server contract over HTTP, websocket and gRPC.
type Server struct {
	board   *Board
	pushHub *Hub
	push    *PushBackend
	log     *slog.Logger

	failing atomic.Bool
}

// New creates a server over board.
func New(board *Board, log *slog.Logger) *Server {
	hub := NewHub(log.With("component", "push-hub"))
	return &Server{
		board:   board,
		pushHub: hub,
		push:    NewPushBackend(hub, log.With("component", "push-backend")),
		log:     log,
	}
}

// Board returns the scanner state the server publishes.
func (s *Server) Board() *Board { return s.board }

// Push returns the notification backend.
func (s *Server) Push() *PushBackend { return s.push }

// SetFailing makes the data endpoints answer 500 while on.
func (s *Server) SetFailing(on bool) { s.failing.Store(on) }

// Fire records a fired signal and alerts subscribers.
func (s *Server) Fire(e LogEntry) int {
	s.board.AppendLog(e)
	return s.push.Alert(e)
}

// RegisterGRPC registers the snapshot stream on gs.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	live.NewServer(s.board, s.log.With("component", "grpc-push")).RegisterGRPC(gs)
}

// Handler returns the HTTP handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(s.log))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware)

	router.Get("/api/sts/status", s.handleStatus)
	router.Get("/api/dashboard", s.handleDashboard)
	router.Get("/api/chart_data/{ticker}", s.handleChart)
	router.Get("/api/quote/{ticker}", s.handleQuote)
	router.Get("/api/details/{ticker}", s.handleDetails)
	router.Get("/api/market_overview", s.handleMarketOverview)
	router.Post("/push/token", s.handleToken)
	router.Post("/subscribe", s.handleSubscribe)
	router.Post("/api/set_alert_threshold", s.handleThreshold)
	router.Get("/ws/snapshots", s.handleSnapshotSocket)
	router.Get("/ws/push", s.handlePushSocket)
	return router
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.failing.Load() {
		writeError(w, http.StatusInternalServerError, "scanner unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(s.board.Payload())
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.failing.Load() {
		writeError(w, http.StatusInternalServerError, "scanner unavailable")
		return
	}
	writeJSON(w, s.board.LegacyPayload())
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	if s.failing.Load() {
		writeError(w, http.StatusInternalServerError, "chart data unavailable")
		return
	}
	ticker := strings.ToUpper(chi.URLParam(r, "ticker"))
	results := []Candle{}
	if hasTicker(s.board.Targets(), ticker) {
		results = s.board.Candles(ticker, chartCandles)
	} else {
		s.board.countChart(ticker)
	}
	writeJSON(w, map[string]any{"status": "OK", "results": results})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if s.failing.Load() {
		writeError(w, http.StatusInternalServerError, "quote unavailable")
		return
	}
	q, ok := s.board.Quote(chi.URLParam(r, "ticker"))
	if !ok {
		writeError(w, http.StatusNotFound, "Ticker not found")
		return
	}
	writeJSON(w, q)
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	if s.failing.Load() {
		writeError(w, http.StatusInternalServerError, "details unavailable")
		return
	}
	d, ok := s.board.Details(chi.URLParam(r, "ticker"))
	if !ok {
		writeError(w, http.StatusNotFound, "Ticker details not found")
		return
	}
	writeJSON(w, map[string]any{"status": "OK", "results": d})
}

func (s *Server) handleMarketOverview(w http.ResponseWriter, r *http.Request) {
	if s.failing.Load() {
		writeError(w, http.StatusInternalServerError, "market data unavailable")
		return
	}
	gainers, losers := s.board.MarketOverview(moversPerSide)
	writeJSON(w, map[string]any{"status": "OK", "gainers": gainers, "losers": losers})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Registration string `json:"registration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, err := s.push.ExchangeToken(req.Registration)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]string{"token": token})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if err := s.push.Subscribe(req.Token); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "subscribed"})
}

func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token     string `json:"token"`
		Threshold *int   `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" || req.Threshold == nil {
		writeError(w, http.StatusBadRequest, "Token and threshold are required")
		return
	}
	err := s.push.SetThreshold(req.Token, *req.Threshold)
	switch {
	case errors.Is(err, ErrThresholdRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeJSON(w, map[string]any{"status": "ok", "threshold": *req.Threshold})
	}
}

func (s *Server) handlePushSocket(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("registration")
	if id == "" {
		writeError(w, http.StatusBadRequest, "registration is required")
		return
	}
	s.pushHub.Serve(w, r, id, []byte(`{"type":"ready"}`))
}

// handleSnapshotSocket sends the current document, then every published
// one, until the peer goes away.
func (s *Server) handleSnapshotSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	subID, ch := s.board.Subscribe(16)
	defer s.board.Unsubscribe(subID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readDeadline))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteMessage(websocket.TextMessage, s.board.Payload()); err != nil {
		return
	}
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case raw, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func hasTicker(targets []Target, ticker string) bool {
	for _, t := range targets {
		if t.Ticker == ticker {
			return true
		}
	}
	return false
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
