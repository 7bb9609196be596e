package vaultd

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"stakevault/native/vault"
	"stakevault/services/vaultd/journal"
	"stakevault/storage"
)

const adminToken = "admin-token"

func adminRequest(t *testing.T, h http.Handler, method, path string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if auth {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdminRequiresBearer(t *testing.T) {
	f := newAPIFixture(t)
	admin := NewAdminServer(f.vault, nil, adminToken, nil, quietLogger())
	for _, path := range []string{"/pause", "/resume", "/checkpoint", "/status", "/snapshot", "/journal/export"} {
		if rec := adminRequest(t, admin, http.MethodGet, path, false); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token: got %d", path, rec.Code)
		}
	}
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	admin.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token accepted: %d", rec.Code)
	}
}

func TestAdminPauseResumeAndStatus(t *testing.T) {
	f := newAPIFixture(t)
	admin := NewAdminServer(f.vault, nil, adminToken, nil, quietLogger())

	if rec := adminRequest(t, admin, http.MethodGet, "/pause", true); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /pause: got %d", rec.Code)
	}
	if rec := adminRequest(t, admin, http.MethodPost, "/pause", true); rec.Code != http.StatusNoContent {
		t.Fatalf("pause: got %d", rec.Code)
	}
	if !f.vault.Paused() {
		t.Fatalf("vault should be paused")
	}

	rec := adminRequest(t, admin, http.MethodGet, "/status", true)
	var status statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Paused || status.Invariants != "ok" || status.TotalShares != "0" {
		t.Fatalf("unexpected status: %+v", status)
	}

	if rec := adminRequest(t, admin, http.MethodPost, "/resume", true); rec.Code != http.StatusNoContent {
		t.Fatalf("resume: got %d", rec.Code)
	}
	if f.vault.Paused() {
		t.Fatalf("vault should be running")
	}
}

func TestAdminSnapshotAndCheckpoint(t *testing.T) {
	db := storage.NewMemDB()
	store := vault.NewSnapshotStore(db)
	f := newAPIFixture(t, vault.WithStore(store))
	f.fund(testAlice, 50, 0)
	if err := f.vault.Stake(context.Background(), testAlice, big.NewInt(50), nil); err != nil {
		t.Fatalf("stake: %v", err)
	}
	admin := NewAdminServer(f.vault, nil, adminToken, nil, quietLogger())

	rec := adminRequest(t, admin, http.MethodGet, "/snapshot", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot: got %d", rec.Code)
	}
	state, err := vault.DecodeSnapshot(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if state.TotalSupply().Int64() != 50 {
		t.Fatalf("snapshot total supply: %s", state.TotalSupply())
	}

	if err := db.Delete([]byte("vault/snapshot")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec := adminRequest(t, admin, http.MethodPost, "/checkpoint", true); rec.Code != http.StatusNoContent {
		t.Fatalf("checkpoint: got %d", rec.Code)
	}
	if _, err := store.Load(); err != nil {
		t.Fatalf("checkpoint not persisted: %v", err)
	}
}

func TestAdminJournalExport(t *testing.T) {
	j, err := journal.Open(journal.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	defer j.Close()

	f := newAPIFixture(t, vault.WithJournal(j))
	f.fund(testAlice, 80, 0)
	ctx := context.Background()
	if err := f.vault.Stake(ctx, testAlice, big.NewInt(80), nil); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := f.vault.Withdraw(ctx, testAlice, big.NewInt(80)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	admin := NewAdminServer(f.vault, j, adminToken, nil, quietLogger())

	rec := adminRequest(t, admin, http.MethodGet, "/journal/export?format=csv", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: got %d (%s)", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Export-Count") != "2" {
		t.Fatalf("expected fee and stake attempts, got %s", rec.Header().Get("X-Export-Count"))
	}
	if rec.Header().Get("X-Export-Checksum") == "" || rec.Header().Get("Content-Type") != "text/csv" {
		t.Fatalf("missing export headers: %v", rec.Header())
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 3 || !strings.Contains(lines[1], ",fee,") || !strings.Contains(lines[2], ",stake,") {
		t.Fatalf("unexpected export:\n%s", rec.Body.String())
	}

	if rec := adminRequest(t, admin, http.MethodGet, "/journal/export?format=xml", true); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad format: got %d", rec.Code)
	}
	if rec := adminRequest(t, admin, http.MethodGet, "/journal/export?since=yesterday", true); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since: got %d", rec.Code)
	}
}

func TestAdminExportWithoutJournal(t *testing.T) {
	f := newAPIFixture(t)
	admin := NewAdminServer(f.vault, nil, adminToken, nil, quietLogger())
	if rec := adminRequest(t, admin, http.MethodGet, "/journal/export", true); rec.Code != http.StatusNotFound {
		t.Fatalf("export without journal: got %d", rec.Code)
	}
}
