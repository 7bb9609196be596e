package vaultd

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"

	"stakevault/crypto"
	"stakevault/gateway/middleware"
	nativecommon "stakevault/native/common"
	"stakevault/native/vault"
	"stakevault/native/vault/ledger"
)

const (
	rateGroup       = "vault"
	maxRequestBytes = 16 << 10
)

// ServerConfig captures the dependencies of the public API.
type ServerConfig struct {
	Vault         *vault.Vault
	Auth          *middleware.Authenticator
	Limiter       *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

// Server exposes the vault operations over HTTP.
type Server struct {
	vault  *vault.Vault
	logger *slog.Logger
	router http.Handler
}

// NewServer wires routes and middleware.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{vault: cfg.Vault, logger: logger}
	s.router = s.buildRouter(cfg)
	return s
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter(cfg ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", s.handleHealth)

	r.Group(func(api chi.Router) {
		if cfg.Auth != nil {
			api.Use(cfg.Auth.Middleware)
		}
		if cfg.Limiter != nil {
			api.Use(cfg.Limiter.Middleware(rateGroup))
		}
		route := func(name string) func(http.Handler) http.Handler {
			if cfg.Observability == nil {
				return func(next http.Handler) http.Handler { return next }
			}
			return cfg.Observability.Middleware(name)
		}

		api.With(route("stake")).Post("/v1/stake", s.handleStake)
		api.With(route("withdraw")).Post("/v1/withdraw", s.handleWithdraw)
		api.With(route("claim")).Post("/v1/claim", s.handleClaim)
		api.With(route("settle")).Post("/v1/settle", s.handleSettle)
		api.With(route("deposit_rewards")).Post("/v1/rewards/deposit", s.handleDeposit)

		api.With(route("supply")).Get("/v1/supply", s.handleSupply)
		api.With(route("total_rewards")).Get("/v1/rewards/total", s.handleTotalRewards)
		api.With(route("metadata")).Get("/v1/metadata", s.handleMetadata)
		api.With(route("account")).Get("/v1/accounts/{address}", s.handleAccount)
		api.With(route("pending_rewards")).Get("/v1/accounts/{address}/pending-rewards", s.handlePendingRewards)
		api.With(route("balance")).Get("/v1/balance/{address}", s.handleBalance)
	})
	return r
}

// OptionalPaths lists the query routes anonymous callers may use.
func OptionalPaths() []string {
	return []string{"/v1/supply", "/v1/rewards/total", "/v1/metadata", "/v1/accounts/", "/v1/balance/"}
}

type amountRequest struct {
	Amount     string `json:"amount"`
	Subaccount string `json:"subaccount,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type accountView struct {
	Address        string            `json:"address"`
	Exists         bool              `json:"exists"`
	Balance        string            `json:"balance"`
	PendingRewards string            `json:"pendingRewards"`
	UnlockAt       *time.Time        `json:"unlockAt,omitempty"`
	UnlockIn       string            `json:"unlockIn"`
	Pending        map[string]string `json:"pending"`
	Inflight       map[string]string `json:"inflight,omitempty"`
	SettleNonce    uint64            `json:"settleNonce"`
}

type operationResponse struct {
	Operation string      `json:"operation"`
	Account   accountView `json:"account"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "paused": s.vault.Paused()})
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	amount, sub, ok := decodeAmountRequest(w, r)
	if !ok {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	s.respond(w, r, "stake", caller, s.vault.Stake(r.Context(), caller, amount, sub))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	amount, _, ok := decodeAmountRequest(w, r)
	if !ok {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	s.respond(w, r, "withdraw", caller, s.vault.Withdraw(r.Context(), caller, amount))
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	s.respond(w, r, "claim", caller, s.vault.ClaimRewards(r.Context(), caller))
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	s.respond(w, r, "settle", caller, s.vault.Settle(r.Context(), caller))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	amount, sub, ok := decodeAmountRequest(w, r)
	if !ok {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	s.respond(w, r, "deposit_rewards", caller, s.vault.DepositRewards(r.Context(), caller, amount, sub))
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, op string, caller crypto.Address, err error) {
	if err != nil {
		status, code := classify(err)
		if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
			s.logger.ErrorContext(r.Context(), "vault request failed",
				slog.String("op", op),
				slog.String("request_id", chimw.GetReqID(r.Context())),
				slog.Any("error", err))
		}
		writeJSON(w, status, errorResponse{Error: code, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, operationResponse{Operation: op, Account: s.accountView(caller)})
}

func (s *Server) handleSupply(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"totalSupply": s.vault.TotalSupply().String()})
}

func (s *Server) handleTotalRewards(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"totalRewards": s.vault.TotalRewards().String()})
}

func (s *Server) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.vault.Metadata())
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := addressParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.accountView(user))
}

func (s *Server) handlePendingRewards(w http.ResponseWriter, r *http.Request) {
	user, ok := addressParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address":        user.String(),
		"pendingRewards": s.vault.PendingRewards(user).String(),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := addressParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": user.String(),
		"balance": s.vault.BalanceOf(user).String(),
	})
}

func (s *Server) accountView(user crypto.Address) accountView {
	view := accountView{
		Address:        user.String(),
		Balance:        "0",
		PendingRewards: s.vault.PendingRewards(user).String(),
		UnlockIn:       s.vault.TimeUntilUnlock(user).String(),
		Pending:        map[string]string{"fee": "0", "reward": "0", "stake": "0"},
	}
	account, ok := s.vault.Account(user)
	if !ok {
		return view
	}
	view.Exists = true
	view.Balance = account.Amount.String()
	if account.UnlockAt > 0 {
		at := time.Unix(0, int64(account.UnlockAt)).UTC()
		view.UnlockAt = &at
	}
	view.Pending["fee"] = account.PendingFeeClaim.String()
	view.Pending["reward"] = account.PendingRewardClaim.String()
	view.Pending["stake"] = account.PendingStakeClaim.String()
	inflight := map[string]*big.Int{
		"fee":    account.InflightFee,
		"reward": account.InflightReward,
		"stake":  account.InflightStake,
	}
	for name, amount := range inflight {
		if amount != nil && amount.Sign() > 0 {
			if view.Inflight == nil {
				view.Inflight = make(map[string]string)
			}
			view.Inflight[name] = amount.String()
		}
	}
	view.SettleNonce = account.SettleNonce
	return view
}

func decodeAmountRequest(w http.ResponseWriter, r *http.Request) (*big.Int, *ledger.Subaccount, bool) {
	var req amountRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: "request body must be JSON"})
		return nil, nil, false
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_amount", Message: err.Error()})
		return nil, nil, false
	}
	sub, err := parseSubaccount(req.Subaccount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_subaccount", Message: err.Error()})
		return nil, nil, false
	}
	return amount, sub, true
}

// parseAmount accepts a base-10 token amount that fits in 256 bits. Zero is
// passed through so the vault reports it.
func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("amount is required")
	}
	if strings.HasPrefix(raw, "+") {
		return nil, fmt.Errorf("amount %q must be a plain decimal", raw)
	}
	value, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", raw, err)
	}
	return value.ToBig(), nil
}

func parseSubaccount(raw string) (*ledger.Subaccount, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, nil
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("subaccount must be hex: %w", err)
	}
	if len(decoded) != len(ledger.Subaccount{}) {
		return nil, fmt.Errorf("subaccount must be %d bytes", len(ledger.Subaccount{}))
	}
	var sub ledger.Subaccount
	copy(sub[:], decoded)
	return &sub, nil
}

func addressParam(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	user, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_address", Message: err.Error()})
		return crypto.Address{}, false
	}
	return user, true
}

// classify maps a vault error to an HTTP status and stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, vault.ErrAnonymousCaller):
		return http.StatusUnauthorized, "anonymous"
	case errors.Is(err, vault.ErrTooManyConcurrentRequests):
		return http.StatusConflict, "too_many_concurrent_requests"
	case errors.Is(err, vault.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, "paused"
	case errors.Is(err, vault.ErrTransferFailed):
		return http.StatusBadGateway, "transfer_failed"
	case errors.Is(err, vault.ErrZeroAmount):
		return http.StatusUnprocessableEntity, "zero_amount"
	case errors.Is(err, vault.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, vault.ErrNoShares):
		return http.StatusUnprocessableEntity, "no_shares"
	case errors.Is(err, vault.ErrNothingToClaim):
		return http.StatusUnprocessableEntity, "nothing_to_claim"
	case errors.Is(err, vault.ErrInvalidParams):
		return http.StatusBadRequest, "invalid_params"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
