package ledger

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"stakevault/crypto"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20

	MethodTransfer     = "ledger_transfer"
	MethodTransferFrom = "ledger_transferFrom"
)

const (
	codeParseError          = -32700
	codeInvalidRequest      = -32600
	codeMethodNotFound      = -32601
	codeInvalidParams       = -32602
	codeUnauthorized        = -32001
	codeServerError         = -32000
	codeInsufficientFunds   = -32040
	codeInsufficientAllowed = -32041
	codeDuplicate           = -32042
	codeRejected            = -32043
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      uint64          `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Receipt uint64 `json:"receipt,omitempty"`
}

type accountJSON struct {
	Owner      string `json:"owner"`
	Subaccount string `json:"subaccount,omitempty"`
}

type transferParams struct {
	Spender string      `json:"spender,omitempty"`
	From    accountJSON `json:"from"`
	To      accountJSON `json:"to"`
	Amount  string      `json:"amount"`
	Memo    string      `json:"memo,omitempty"`
}

type transferResult struct {
	Receipt uint64 `json:"receipt"`
}

func encodeAccount(a Account) accountJSON {
	out := accountJSON{Owner: a.Owner.String()}
	if a.Subaccount != nil && *a.Subaccount != (Subaccount{}) {
		out.Subaccount = hex.EncodeToString(a.Subaccount[:])
	}
	return out
}

func decodeAccount(raw accountJSON) (Account, error) {
	owner, err := crypto.ParseAddress(raw.Owner)
	if err != nil {
		return Account{}, err
	}
	account := Account{Owner: owner}
	if raw.Subaccount != "" {
		decoded, err := hex.DecodeString(raw.Subaccount)
		if err != nil || len(decoded) != len(Subaccount{}) {
			return Account{}, fmt.Errorf("invalid subaccount %q", raw.Subaccount)
		}
		var sub Subaccount
		copy(sub[:], decoded)
		account.Subaccount = &sub
	}
	return account, nil
}

// HTTPLedger talks to a remote token ledger over JSON-RPC.
type HTTPLedger struct {
	endpoint string
	token    string
	client   *http.Client
	ids      atomic.Uint64
}

// HTTPOption customises an HTTPLedger.
type HTTPOption func(*HTTPLedger)

// WithHTTPClient overrides the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(l *HTTPLedger) { l.client = c }
}

// WithBearerToken authenticates every request.
func WithBearerToken(token string) HTTPOption {
	return func(l *HTTPLedger) { l.token = strings.TrimSpace(token) }
}

// NewHTTPLedger constructs a client for the ledger at endpoint.
func NewHTTPLedger(endpoint string, opts ...HTTPOption) *HTTPLedger {
	l := &HTTPLedger{
		endpoint: strings.TrimSpace(endpoint),
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Transfer implements TokenLedger.
func (l *HTTPLedger) Transfer(ctx context.Context, args TransferArgs) (ReceiptID, error) {
	params := transferParams{
		From:   encodeAccount(args.From),
		To:     encodeAccount(args.To),
		Amount: amountString(args.Amount),
		Memo:   hex.EncodeToString(args.Memo),
	}
	return l.call(ctx, MethodTransfer, params)
}

// TransferFrom implements TokenLedger.
func (l *HTTPLedger) TransferFrom(ctx context.Context, args TransferFromArgs) (ReceiptID, error) {
	params := transferParams{
		Spender: args.Spender.String(),
		From:    encodeAccount(args.From),
		To:      encodeAccount(args.To),
		Amount:  amountString(args.Amount),
		Memo:    hex.EncodeToString(args.Memo),
	}
	return l.call(ctx, MethodTransferFrom, params)
}

func (l *HTTPLedger) call(ctx context.Context, method string, params transferParams) (ReceiptID, error) {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("ledger: encode params: %w", err)
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: jsonRPCVersion, Method: method, Params: rawParams, ID: l.ids.Add(1)})
	if err != nil {
		return 0, fmt.Errorf("ledger: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBytes))
	if err != nil {
		return 0, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	var decoded rpcResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return 0, fmt.Errorf("%w: status %d: invalid response", ErrUnavailable, resp.StatusCode)
	}
	if decoded.Error != nil {
		return 0, errorFromRPC(decoded.Error)
	}
	var result transferResult
	if err := json.Unmarshal(decoded.Result, &result); err != nil {
		return 0, fmt.Errorf("%w: decode result: %v", ErrUnavailable, err)
	}
	return ReceiptID(result.Receipt), nil
}

func errorFromRPC(e *rpcError) error {
	switch e.Code {
	case codeInsufficientFunds:
		return ErrInsufficientFunds
	case codeInsufficientAllowed:
		return ErrInsufficientAllowance
	case codeDuplicate:
		return &DuplicateError{Receipt: ReceiptID(e.Receipt)}
	case codeRejected, codeUnauthorized, codeInvalidParams:
		return fmt.Errorf("%w: %s", ErrRejected, e.Message)
	default:
		return fmt.Errorf("%w: %d %s", ErrUnavailable, e.Code, e.Message)
	}
}

func errorToRPC(err error) *rpcError {
	if dup, ok := AsDuplicate(err); ok {
		return &rpcError{Code: codeDuplicate, Message: err.Error(), Receipt: uint64(dup.Receipt)}
	}
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return &rpcError{Code: codeInsufficientFunds, Message: err.Error()}
	case errors.Is(err, ErrInsufficientAllowance):
		return &rpcError{Code: codeInsufficientAllowed, Message: err.Error()}
	case errors.Is(err, ErrRejected), errors.Is(err, ErrInvalidAmount):
		return &rpcError{Code: codeRejected, Message: err.Error()}
	default:
		return &rpcError{Code: codeServerError, Message: err.Error()}
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Handler serves a TokenLedger over the JSON-RPC protocol HTTPLedger speaks.
type Handler struct {
	ledger TokenLedger
	token  string
}

// NewHandler wraps l. When token is non-empty every request must present it
// as a bearer token.
func NewHandler(l TokenLedger, token string) *Handler {
	return &Handler{ledger: l, token: strings.TrimSpace(token)}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.token != "" {
		presented := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) != 1 {
			writeRPC(w, http.StatusUnauthorized, rpcResponse{JSONRPC: jsonRPCVersion, Error: &rpcError{Code: codeUnauthorized, Message: "unauthorized"}})
			return
		}
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeRPC(w, http.StatusBadRequest, rpcResponse{JSONRPC: jsonRPCVersion, Error: &rpcError{Code: codeInvalidRequest, Message: "unreadable body"}})
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPC(w, http.StatusBadRequest, rpcResponse{JSONRPC: jsonRPCVersion, Error: &rpcError{Code: codeParseError, Message: "invalid JSON payload"}})
		return
	}
	resp := rpcResponse{JSONRPC: jsonRPCVersion, ID: req.ID}
	var params transferParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		resp.Error = &rpcError{Code: codeInvalidParams, Message: "invalid params"}
		writeRPC(w, http.StatusOK, resp)
		return
	}
	from, errFrom := decodeAccount(params.From)
	to, errTo := decodeAccount(params.To)
	amount, okAmount := new(big.Int).SetString(params.Amount, 10)
	memo, errMemo := hex.DecodeString(params.Memo)
	if errFrom != nil || errTo != nil || !okAmount || errMemo != nil {
		resp.Error = &rpcError{Code: codeInvalidParams, Message: "invalid params"}
		writeRPC(w, http.StatusOK, resp)
		return
	}

	var receipt ReceiptID
	switch req.Method {
	case MethodTransfer:
		receipt, err = h.ledger.Transfer(r.Context(), TransferArgs{From: from, To: to, Amount: amount, Memo: memo})
	case MethodTransferFrom:
		spender, parseErr := crypto.ParseAddress(params.Spender)
		if parseErr != nil {
			resp.Error = &rpcError{Code: codeInvalidParams, Message: "invalid spender"}
			writeRPC(w, http.StatusOK, resp)
			return
		}
		receipt, err = h.ledger.TransferFrom(r.Context(), TransferFromArgs{Spender: spender, From: from, To: to, Amount: amount, Memo: memo})
	default:
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: "method not found"}
		writeRPC(w, http.StatusOK, resp)
		return
	}
	if err != nil {
		resp.Error = errorToRPC(err)
		writeRPC(w, http.StatusOK, resp)
		return
	}
	resp.Result, _ = json.Marshal(transferResult{Receipt: uint64(receipt)})
	writeRPC(w, http.StatusOK, resp)
}

func writeRPC(w http.ResponseWriter, status int, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
