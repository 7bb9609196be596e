package vaultd

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stakevault/integrations/exports"
	"stakevault/native/vault"
	"stakevault/services/vaultd/journal"
)

// AttemptLister reads recorded settlement attempts.
type AttemptLister interface {
	List(ctx context.Context, since time.Time) ([]journal.Record, error)
}

// AdminServer exposes HTTP endpoints for operator controls.
type AdminServer struct {
	vault   *vault.Vault
	journal AttemptLister
	token   string
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewAdminServer constructs a server wrapping the provided vault. metrics,
// when non-nil, is served unauthenticated on /metrics.
func NewAdminServer(v *vault.Vault, lister AttemptLister, token string, metrics http.Handler, logger *slog.Logger) *AdminServer {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	server := &AdminServer{vault: v, journal: lister, token: strings.TrimSpace(token), logger: logger, mux: mux}
	mux.Handle("/pause", server.authenticated(server.handlePause))
	mux.Handle("/resume", server.authenticated(server.handleResume))
	mux.Handle("/checkpoint", server.authenticated(server.handleCheckpoint))
	mux.Handle("/status", server.authenticated(server.handleStatus))
	mux.Handle("/snapshot", server.authenticated(server.handleSnapshot))
	mux.Handle("/journal/export", server.authenticated(server.handleExport))
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return server
}

// ServeHTTP implements http.Handler.
func (s *AdminServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *AdminServer) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := parseBearerToken(r.Header.Get("Authorization"))
		if s.token == "" || token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next(w, r)
	})
}

func (s *AdminServer) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.vault.Pause()
	s.logger.Info("vault paused by operator")
	w.WriteHeader(http.StatusNoContent)
}

func (s *AdminServer) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.vault.Resume()
	s.logger.Info("vault resumed by operator")
	w.WriteHeader(http.StatusNoContent)
}

func (s *AdminServer) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.vault.Checkpoint(); err != nil {
		s.logger.Error("manual checkpoint failed", slog.Any("error", err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	Paused                bool              `json:"paused"`
	Stakers               int               `json:"stakers"`
	Users                 int               `json:"users"`
	ActiveLeases          int               `json:"activeLeases"`
	TotalShares           string            `json:"totalShares"`
	TotalRewardsDeposited string            `json:"totalRewardsDeposited"`
	UndistributedRewards  string            `json:"undistributedRewards"`
	Outstanding           map[string]string `json:"outstanding"`
	Invariants            string            `json:"invariants"`
}

func (s *AdminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := s.vault.Status()
	resp := statusResponse{
		Paused:                status.Paused,
		Stakers:               status.Stakers,
		Users:                 status.Users,
		ActiveLeases:          status.ActiveLeases,
		TotalShares:           status.TotalShares.String(),
		TotalRewardsDeposited: status.TotalRewardsDeposited.String(),
		UndistributedRewards:  status.UndistributedRewards.String(),
		Outstanding:           make(map[string]string, len(status.Outstanding)),
		Invariants:            "ok",
	}
	for bucket, amount := range status.Outstanding {
		resp.Outstanding[bucket.String()] = amount.String()
	}
	if err := s.vault.CheckInvariants(); err != nil {
		resp.Invariants = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *AdminServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := s.vault.Snapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *AdminServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.journal == nil {
		http.Error(w, "settlement journal not configured", http.StatusNotFound)
		return
	}
	format, err := exports.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var since time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
	}
	records, err := s.journal.List(r.Context(), since)
	if err != nil {
		s.logger.Error("journal export failed", slog.Any("error", err))
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	data, checksum, err := exports.Render(format, records)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("X-Export-Checksum", checksum)
	w.Header().Set("X-Export-Count", strconv.Itoa(len(records)))
	_, _ = w.Write(data)
}

func parseBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
