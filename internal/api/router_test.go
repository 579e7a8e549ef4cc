package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sheikh-saqib/allowance-ledger/internal/api/handlers"
	"github.com/sheikh-saqib/allowance-ledger/internal/auth"
	"github.com/sheikh-saqib/allowance-ledger/internal/engine"
	"github.com/sheikh-saqib/allowance-ledger/internal/ledger"
	"github.com/sheikh-saqib/allowance-ledger/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestServer(t *testing.T, rl RateLimit) *testServer {
	t.Helper()

	store := memory.NewMemoryStore()
	l := ledger.NewLedger(store)
	eng := engine.New(store, l)

	tokens, err := auth.NewTokenIssuer("router-test-secret-123", time.Hour)
	require.NoError(t, err)
	authSvc, err := auth.NewService(store, tokens, auth.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)

	h := handlers.New(authSvc, eng, l, store)
	srv := httptest.NewServer(NewRouter(h, tokens, rl, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv}
}

// do sends a JSON request and decodes the JSON response into a map.
func (s *testServer) do(method, path, token string, body any) (int, map[string]any) {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.srv.Client().Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (s *testServer) register(name, email string) {
	s.t.Helper()
	status, body := s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": name, "email": email, "password": "password123",
	})
	require.Equal(s.t, http.StatusCreated, status, body)
}

func (s *testServer) login(email string) (string, string) {
	s.t.Helper()
	status, body := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": "password123",
	})
	require.Equal(s.t, http.StatusOK, status, body)
	account := body["account"].(map[string]any)
	return body["token"].(string), account["id"].(string)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, RateLimit{})
	status, body := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestAllowanceFlow(t *testing.T) {
	s := newTestServer(t, RateLimit{})

	s.register("Parent", "parent@example.com")
	parentToken, _ := s.login("parent@example.com")

	status, body := s.do(http.MethodPost, "/api/children", parentToken, map[string]string{
		"name": "Kid", "email": "kid@example.com", "password": "password123", "spending_limit": "20.00",
	})
	require.Equal(t, http.StatusCreated, status, body)
	childID := body["id"].(string)
	childToken, _ := s.login("kid@example.com")

	status, body = s.do(http.MethodGet, "/api/children", parentToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])

	status, body = s.do(http.MethodPost, "/api/children/"+childID+"/fund", parentToken, map[string]string{"amount": "50.00"})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "50", body["account"].(map[string]any)["balance"])

	status, body = s.do(http.MethodPost, "/api/children/"+childID+"/purchases", childToken, map[string]string{
		"amount": "15.00", "description": "book",
	})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "35", body["account"].(map[string]any)["balance"])

	status, body = s.do(http.MethodPost, "/api/children/"+childID+"/purchases", childToken, map[string]string{
		"amount": "25.00", "description": "game",
	})
	require.Equal(t, http.StatusUnprocessableEntity, status, body)
	assert.Equal(t, "amount exceeds spending limit", body["error"])
	assert.NotEmpty(t, body["declined_entry_id"])

	status, body = s.do(http.MethodGet, "/api/children/"+childID+"/transactions?limit=2", childToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["entries"], 2)
	require.NotEmpty(t, body["next_cursor"])

	status, body = s.do(http.MethodGet, "/api/children/"+childID+"/transactions?cursor="+body["next_cursor"].(string), parentToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "declined", entries[0].(map[string]any)["status"])

	status, body = s.do(http.MethodGet, "/api/children/"+childID+"/reconcile", parentToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["consistent"])
	assert.Equal(t, "35", body["ledger_balance"])

	status, _ = s.do(http.MethodDelete, "/api/children/"+childID, parentToken, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = s.do(http.MethodPost, "/api/children/"+childID+"/purchases", childToken, map[string]string{"amount": "1.00"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "account is inactive", body["error"])
}

func TestAccessControl(t *testing.T) {
	s := newTestServer(t, RateLimit{})

	s.register("Owner", "owner@example.com")
	s.register("Stranger", "stranger@example.com")
	ownerToken, ownerID := s.login("owner@example.com")
	strangerToken, _ := s.login("stranger@example.com")

	_, body := s.do(http.MethodPost, "/api/children", ownerToken, map[string]string{
		"name": "Kid", "email": "kid@example.com", "password": "password123", "spending_limit": "10",
	})
	childID := body["id"].(string)
	childToken, _ := s.login("kid@example.com")

	status, _ := s.do(http.MethodGet, "/api/children/"+childID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(http.MethodGet, "/api/children/"+childID, strangerToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(http.MethodPost, "/api/children/"+childID+"/fund", strangerToken, map[string]string{"amount": "5"})
	assert.Equal(t, http.StatusForbidden, status)

	// children cannot fund themselves or list siblings
	status, _ = s.do(http.MethodPost, "/api/children/"+childID+"/fund", childToken, map[string]string{"amount": "5"})
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = s.do(http.MethodGet, "/api/children", childToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	// parents cannot purchase on behalf of a child
	status, _ = s.do(http.MethodPost, "/api/children/"+childID+"/purchases", ownerToken, map[string]string{"amount": "1"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(http.MethodGet, "/api/children/"+ownerID, ownerToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(http.MethodGet, "/api/children/missing", ownerToken, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = s.do(http.MethodGet, "/api/users/profile", childToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, childID, body["id"])
	assert.NotContains(t, body, "PasswordHash")
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t, RateLimit{})

	s.register("Parent", "parent@example.com")
	token, _ := s.login("parent@example.com")
	_, body := s.do(http.MethodPost, "/api/children", token, map[string]string{
		"name": "Kid", "email": "kid@example.com", "password": "password123", "spending_limit": "10",
	})
	childID := body["id"].(string)

	status, _ := s.do(http.MethodPost, "/api/children/"+childID+"/fund", token, map[string]string{"amount": "0"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = s.do(http.MethodPost, "/api/children/"+childID+"/fund", token, map[string]string{"amount": "1.001"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = s.do(http.MethodPut, "/api/children/"+childID+"/spending-limit", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = s.do(http.MethodPut, "/api/children/"+childID+"/spending-limit", token, map[string]string{"spending_limit": "12.50"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "12.5", body["spending_limit"])

	status, _ = s.do(http.MethodGet, "/api/children/"+childID+"/transactions?cursor=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Dup", "email": "parent@example.com", "password": "password123",
	})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "parent@example.com", "password": "nope-nope",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRateLimitedLogin(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := newTestServer(t, RateLimit{Client: rdb, Limit: 2, Window: time.Minute})

	creds := map[string]string{"email": "x@example.com", "password": "whatever1"}
	for range 2 {
		status, _ := s.do(http.MethodPost, "/api/auth/login", "", creds)
		assert.Equal(t, http.StatusUnauthorized, status)
	}
	status, _ := s.do(http.MethodPost, "/api/auth/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, status)

	status, _ = s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestUpdateProfiles(t *testing.T) {
	s := newTestServer(t, RateLimit{})

	s.register("Owner", "owner@example.com")
	s.register("Stranger", "stranger@example.com")
	ownerToken, _ := s.login("owner@example.com")
	strangerToken, _ := s.login("stranger@example.com")

	status, body := s.do(http.MethodPut, "/api/users/profile", ownerToken, map[string]string{
		"name": "Owner Renamed", "email": "Owner.New@example.com",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Owner Renamed", body["name"])
	assert.Equal(t, "owner.new@example.com", body["email"])

	status, _ = s.do(http.MethodPut, "/api/users/profile", strangerToken, map[string]string{"email": "owner.new@example.com"})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = s.do(http.MethodPut, "/api/users/profile", "", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusUnauthorized, status)

	_, body = s.do(http.MethodPost, "/api/children", ownerToken, map[string]string{
		"name": "Kid", "email": "kid@example.com", "password": "password123", "spending_limit": "10",
	})
	childID := body["id"].(string)
	childToken, _ := s.login("kid@example.com")

	status, body = s.do(http.MethodPut, "/api/children/"+childID, ownerToken, map[string]string{
		"name": "Kiddo", "spending_limit": "15", "balance": "1000000",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Kiddo", body["name"])
	assert.Equal(t, "kid@example.com", body["email"])
	assert.Equal(t, "15", body["spending_limit"])
	assert.Equal(t, "0", body["balance"], "balance only moves through the ledger")

	status, _ = s.do(http.MethodPut, "/api/children/"+childID, ownerToken, map[string]string{"name": "Bad", "spending_limit": "-1"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	_, body = s.do(http.MethodGet, "/api/children/"+childID, ownerToken, nil)
	assert.Equal(t, "Kiddo", body["name"])

	status, _ = s.do(http.MethodPut, "/api/children/"+childID, strangerToken, map[string]string{"name": "Hijack"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(http.MethodPut, "/api/children/"+childID, childToken, map[string]string{"name": "Self"})
	assert.Equal(t, http.StatusForbidden, status)

	// a child can still edit its own profile
	status, body = s.do(http.MethodPut, "/api/users/profile", childToken, map[string]string{"name": "Kid Again"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Kid Again", body["name"])
}
