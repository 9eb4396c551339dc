// Package httpapi exposes internal/api.Service as plain JSON over HTTP
// using stdlib net/http and ServeMux, no framework.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"gridcore/internal/api"
	"gridcore/internal/corelog"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Server wraps api.Service with an HTTP mux and a Prometheus /metrics
// endpoint.
type Server struct {
	svc    *api.Service
	logger corelog.Logger
	srv    *http.Server
}

func New(addr string, svc *api.Service, logger corelog.Logger) *Server {
	s := &Server{svc: svc, logger: logger.WithField("component", "httpapi")}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/users/register", s.handleRegisterUser)
	mux.HandleFunc("/v1/bots/range", s.handleCreateRangeBot)
	mux.HandleFunc("/v1/bots/flat", s.handleCreateFlatBot)
	mux.HandleFunc("/v1/bots/pause", s.handlePause)
	mux.HandleFunc("/v1/bots/resume", s.handleResume)
	mux.HandleFunc("/v1/bots/stop", s.handleStop)
	mux.HandleFunc("/v1/bots/delete", s.handleDelete)
	mux.HandleFunc("/v1/bots/list", s.handleListBots)
	mux.HandleFunc("/v1/bots/details", s.handleBotDetails)
	mux.HandleFunc("/v1/balance", s.handleBalance)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start launches the HTTP server in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting http api server", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http api server failed", "error", err.Error())
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().Format(time.RFC3339)})
}

type registerUserRequest struct {
	ChatID    int64  `json:"chat_id"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := s.svc.RegisterUser(r.Context(), req.ChatID, req.APIKey, req.APISecret)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"user_id": user.ID})
}

type createRangeBotRequest struct {
	UserID     int64           `json:"user_id"`
	Symbol     string          `json:"symbol"`
	Lower      decimal.Decimal `json:"lower"`
	Upper      decimal.Decimal `json:"upper"`
	Levels     int             `json:"levels"`
	Investment decimal.Decimal `json:"investment"`
}

func (s *Server) handleCreateRangeBot(w http.ResponseWriter, r *http.Request) {
	var req createRangeBotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	bot, err := s.svc.CreateRangeBot(r.Context(), req.UserID, req.Symbol, req.Lower, req.Upper, req.Levels, req.Investment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

type createFlatBotRequest struct {
	UserID    int64           `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Starting  decimal.Decimal `json:"starting"`
	Spread    decimal.Decimal `json:"spread"`
	Increment decimal.Decimal `json:"increment"`
	BuyCount  int             `json:"buy_count"`
	SellCount int             `json:"sell_count"`
	OrderSize decimal.Decimal `json:"order_size"`
}

func (s *Server) handleCreateFlatBot(w http.ResponseWriter, r *http.Request) {
	var req createFlatBotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	bot, err := s.svc.CreateFlatBot(r.Context(), req.UserID, req.Symbol, req.Starting, req.Spread, req.Increment, req.BuyCount, req.SellCount, req.OrderSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

type botIDRequest struct {
	BotID   int64 `json:"bot_id"`
	SellAll bool  `json:"sell_all"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req botIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.svc.Pause(r.Context(), req.BotID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req botIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.svc.Resume(r.Context(), req.BotID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req botIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.svc.Stop(r.Context(), req.BotID, req.SellAll); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req botIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.svc.Delete(r.Context(), req.BotID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bots, err := s.svc.ListBots(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, bots)
}

func (s *Server) handleBotDetails(w http.ResponseWriter, r *http.Request) {
	botID, err := strconv.ParseInt(r.URL.Query().Get("bot_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	detail, err := s.svc.BotDetails(r.Context(), botID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	balances, err := s.svc.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
