package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"stakevault/crypto"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"mutations": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("mutations")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/stake", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesGroups(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"mutations": {RatePerSecond: 1, Burst: 1},
		"queries":   {RatePerSecond: 1, Burst: 1},
	}, nil)
	mutations := limiter.Middleware("mutations")(okHandler())
	queries := limiter.Middleware("queries")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/withdraw", nil)
	req.Header.Set("X-API-Key", "tenant-A")
	res := httptest.NewRecorder()
	mutations.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected mutation to succeed, got %d", res.Code)
	}

	queryReq := httptest.NewRequest(http.MethodGet, "/v1/supply", nil)
	queryReq.Header.Set("X-API-Key", "tenant-A")
	queryRes := httptest.NewRecorder()
	queries.ServeHTTP(queryRes, queryReq)
	if queryRes.Code != http.StatusOK {
		t.Fatalf("expected first query to succeed, got %d", queryRes.Code)
	}

	queryRes = httptest.NewRecorder()
	queries.ServeHTTP(queryRes, queryReq)
	if queryRes.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second query to hit limit, got %d", queryRes.Code)
	}
}

func TestRateLimiterAppliesRouteTokens(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"mutations": {
			RatePerSecond: 5,
			Burst:         5,
			DefaultTokens: 1,
			Tokens: map[string]int{
				"POST /v1/rewards/deposit": 3,
			},
		},
	}, nil)
	handler := limiter.Middleware("mutations")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/rewards/deposit", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first deposit to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second deposit to exhaust the burst, got %d", res.Code)
	}

	// Claims only cost the default single token.
	claimReq := httptest.NewRequest(http.MethodPost, "/v1/claim", nil)
	claimRes := httptest.NewRecorder()
	handler.ServeHTTP(claimRes, claimReq)
	if claimRes.Code != http.StatusOK {
		t.Fatalf("expected claim to succeed with default token cost, got %d", claimRes.Code)
	}
}

func TestRateLimiterKeysOnCaller(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"mutations": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("mutations")(okHandler())

	callerA := crypto.MustAddress(append(make([]byte, 19), 0x0a))
	callerB := crypto.MustAddress(append(make([]byte, 19), 0x0b))
	for _, caller := range []crypto.Address{callerA, callerB} {
		req := httptest.NewRequest(http.MethodPost, "/v1/claim", nil)
		req = req.WithContext(WithCaller(req.Context(), caller))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("caller %s should have its own bucket, got %d", caller, res.Code)
		}
	}
}
