// Package api exposes the custody state surface over HTTP: read-only
// inspection endpoints plus the owner heartbeat. Asset registration,
// proposals and release stay programmatic; the daemon is an inspection
// and proof-of-life surface, not a signing tool.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/heirloom-labs/heirloom/pkg/contracts"
	"github.com/heirloom-labs/heirloom/pkg/vault"
)

// Server serves one inheritance vault instance, optionally alongside a
// guardian wallet sharing the same deployment.
type Server struct {
	vault  *vault.InheritanceVault
	wallet *vault.GuardedWallet
	logger *slog.Logger
}

// NewServer wraps the vault with HTTP handlers.
func NewServer(v *vault.InheritanceVault, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{vault: v, logger: logger}
}

// WithWallet attaches a guardian wallet, enabling the principal and
// proposal inspection endpoints.
func (s *Server) WithWallet(w *vault.GuardedWallet) *Server {
	s.wallet = w
	return s
}

// Routes returns the full handler with rate limiting applied.
func (s *Server) Routes(limiter *RateLimiter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/assets", s.handleAssets)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/principals", s.handlePrincipals)
	mux.HandleFunc("GET /v1/proposals", s.handleProposals)
	mux.HandleFunc("POST /v1/heartbeat", s.handleHeartbeat)

	if limiter == nil {
		return mux
	}
	return limiter.Middleware(mux)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.vault.Status())
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"assets": s.vault.Assets()})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	chain := s.vault.Events()
	ok, detail := chain.Verify()
	writeJSON(w, http.StatusOK, map[string]any{
		"verified": ok,
		"detail":   detail,
		"head":     chain.Head(),
		"events":   chain.Entries(),
	})
}

func (s *Server) handlePrincipals(w http.ResponseWriter, r *http.Request) {
	if s.wallet == nil {
		writeError(w, http.StatusNotFound, "no guardian wallet configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"principals": s.wallet.Guardians(),
		"quorum":     s.wallet.Quorum(),
	})
}

func (s *Server) handleProposals(w http.ResponseWriter, r *http.Request) {
	if s.wallet == nil {
		writeError(w, http.StatusNotFound, "no guardian wallet configured")
		return
	}
	quorum := s.wallet.Quorum()
	proposals := s.wallet.Proposals()
	out := make([]map[string]any, 0, len(proposals))
	for i := range proposals {
		p := &proposals[i]
		out = append(out, map[string]any{
			"proposal": p,
			"state":    p.State(quorum),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": out})
}

type heartbeatRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !common.IsHexAddress(req.Caller) {
		writeError(w, http.StatusBadRequest, "caller must be a hex address")
		return
	}

	if err := s.vault.Heartbeat(common.HexToAddress(req.Caller)); err != nil {
		s.logger.Warn("heartbeat rejected", "caller", req.Caller, "err", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.logger.Info("proof of life recorded", "caller", req.Caller)
	writeJSON(w, http.StatusOK, s.vault.Status())
}

// statusFor maps the failure taxonomy onto HTTP status codes so callers can
// tell retryable failures apart.
func statusFor(err error) int {
	switch {
	case errors.Is(err, contracts.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, contracts.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, contracts.ErrInvalidState),
		errors.Is(err, contracts.ErrInvalidQuorum),
		errors.Is(err, contracts.ErrAlreadyRegistered),
		errors.Is(err, contracts.ErrNotOwned):
		return http.StatusConflict
	case errors.Is(err, contracts.ErrExternalCall):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
