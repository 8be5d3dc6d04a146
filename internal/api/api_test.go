package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ilisteam/ilis/internal/clock"
	"github.com/ilisteam/ilis/internal/db"
	"github.com/ilisteam/ilis/internal/lending"
	"github.com/ilisteam/ilis/internal/model"
	"github.com/ilisteam/ilis/internal/store"
)

const testJWTSecret = "test-secret"

type testEnv struct {
	db     *sql.DB
	server *httptest.Server
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	database := db.NewTestDB(t)

	svc := &lending.Service{DB: database, Clock: clock.System{Offset: clock.DefaultOffset}}
	router := NewRouter(database, testJWTSecret, svc, nil)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	// Create admin user.
	ctx := context.Background()
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	store.CreateUser(ctx, database, "admin", string(hash), model.RoleAdmin, "", "", "", "")

	return &testEnv{db: database, server: server}
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(e.server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login as %s failed: %d", username, resp.StatusCode)
	}

	var loginResp map[string]string
	json.NewDecoder(resp.Body).Decode(&loginResp)
	token := loginResp["token"]
	if token == "" {
		t.Fatal("empty token from login")
	}
	return token
}

// createUser creates a user through the API with the admin token.
func (e *testEnv) createUser(t *testing.T, adminToken, username string) {
	t.Helper()
	resp := e.do(t, "POST", "/api/users", adminToken, map[string]string{
		"username": username,
		"password": "password",
		"email":    username + "@example.com",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("creating user %s: %d", username, resp.StatusCode)
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var bodyReader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestLoginEndpoint(t *testing.T) {
	e := setupTestServer(t)

	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	resp, _ := http.Post(e.server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	e.login(t, "admin", "password")
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	e := setupTestServer(t)

	resp, _ := http.Get(e.server.URL + "/api/items")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLogoutRevokesToken(t *testing.T) {
	e := setupTestServer(t)
	token := e.login(t, "admin", "password")

	resp := e.do(t, "POST", "/api/auth/logout", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout failed: %d", resp.StatusCode)
	}

	resp = e.do(t, "GET", "/api/users", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestLendingFlow(t *testing.T) {
	e := setupTestServer(t)
	adminToken := e.login(t, "admin", "password")

	e.createUser(t, adminToken, "owner")
	e.createUser(t, adminToken, "renter")
	ownerToken := e.login(t, "owner", "password")
	renterToken := e.login(t, "renter", "password")

	// The owner sets up a storage with an item.
	resp := e.do(t, "POST", "/api/storages", ownerToken, map[string]any{
		"name": "Garage", "latitude": 59.93, "longitude": 30.33, "address": "Nevsky 1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("creating storage: %d", resp.StatusCode)
	}
	storage := decodeBody[model.Storage](t, resp)

	resp = e.do(t, "POST", "/api/items", ownerToken, map[string]any{
		"storage_id": storage.ID, "name_ru": "Дрель", "name_en": "Drill", "count": 3,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("creating item: %d", resp.StatusCode)
	}
	item := decodeBody[model.Item](t, resp)

	// The renter applies for two units over two days.
	start := time.Now().UTC().Add(clock.DefaultOffset).Add(time.Hour).Truncate(time.Second)
	resp = e.do(t, "POST", "/api/requests", renterToken, map[string]any{
		"item_id":        item.ID,
		"count":          2,
		"rent_starts_at": start,
		"rent_ends_at":   start.Add(48 * time.Hour),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("creating request: %d", resp.StatusCode)
	}
	request := decodeBody[model.Request](t, resp)
	if request.Status != model.StatusApplied {
		t.Errorf("expected status APPLIED, got %q", request.Status)
	}

	statusPath := fmt.Sprintf("/api/requests/%d/status", request.ID)

	// The renter cannot approve their own request.
	resp = e.do(t, "PUT", statusPath, renterToken, map[string]string{"status": "BOOKED"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 when the renter books, got %d", resp.StatusCode)
	}

	// The owner cannot cancel on the renter's behalf.
	resp = e.do(t, "PUT", statusPath, ownerToken, map[string]string{"status": "CANCELED"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 when the owner cancels, got %d", resp.StatusCode)
	}

	// The owner books and lends the item.
	for _, status := range []string{"BOOKED", "LENT"} {
		resp = e.do(t, "PUT", statusPath, ownerToken, map[string]string{"status": status})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("transition to %s: %d", status, resp.StatusCode)
		}
		request = decodeBody[model.Request](t, resp)
		if string(request.Status) != status {
			t.Errorf("expected status %s, got %q", status, request.Status)
		}
	}

	// While lent, only one unit remains bookable.
	resp = e.do(t, "GET", fmt.Sprintf("/api/items/%d", item.ID), renterToken, nil)
	got := decodeBody[model.Item](t, resp)
	if got.RemainingCount == nil || *got.RemainingCount != 1 {
		t.Errorf("expected remaining count 1, got %v", got.RemainingCount)
	}

	// The renter sees the owner's contact details while the rental is active.
	resp = e.do(t, "GET", "/api/requests/me", renterToken, nil)
	mine := decodeBody[[]ownRequestResponse](t, resp)
	if len(mine) != 1 {
		t.Fatalf("expected 1 own request, got %d", len(mine))
	}
	if mine[0].Owner == nil || mine[0].Owner.Email != "owner@example.com" {
		t.Errorf("expected owner contact to be exposed while lent, got %+v", mine[0].Owner)
	}

	// A lent request cannot be deleted.
	resp = e.do(t, "DELETE", fmt.Sprintf("/api/requests/%d", request.ID), renterToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 deleting a lent request, got %d", resp.StatusCode)
	}

	// The owner completes the rental.
	resp = e.do(t, "PUT", statusPath, ownerToken, map[string]string{"status": "COMPLETED"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("completing rental: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = e.do(t, "DELETE", fmt.Sprintf("/api/requests/%d", request.ID), renterToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204 deleting a completed request, got %d", resp.StatusCode)
	}
}

func TestRequestValidationErrors(t *testing.T) {
	e := setupTestServer(t)
	adminToken := e.login(t, "admin", "password")

	e.createUser(t, adminToken, "owner")
	ownerToken := e.login(t, "owner", "password")

	resp := e.do(t, "POST", "/api/storages", ownerToken, map[string]any{
		"name": "Garage", "address": "Nevsky 1",
	})
	storage := decodeBody[model.Storage](t, resp)
	resp = e.do(t, "POST", "/api/items", ownerToken, map[string]any{
		"storage_id": storage.ID, "name_ru": "Дрель", "name_en": "Drill", "count": 1,
	})
	item := decodeBody[model.Item](t, resp)

	start := time.Now().UTC().Add(clock.DefaultOffset).Add(time.Hour).Truncate(time.Second)

	// Renting one's own item is forbidden.
	resp = e.do(t, "POST", "/api/requests", ownerToken, map[string]any{
		"item_id": item.ID, "count": 1,
		"rent_starts_at": start, "rent_ends_at": start.Add(24 * time.Hour),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for own item, got %d", resp.StatusCode)
	}

	e.createUser(t, adminToken, "renter")
	renterToken := e.login(t, "renter", "password")

	// Below the minimum duration.
	resp = e.do(t, "POST", "/api/requests", renterToken, map[string]any{
		"item_id": item.ID, "count": 1,
		"rent_starts_at": start, "rent_ends_at": start.Add(30 * time.Minute),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for a short rental, got %d", resp.StatusCode)
	}

	// Unknown item.
	resp = e.do(t, "POST", "/api/requests", renterToken, map[string]any{
		"item_id": 999, "count": 1,
		"rent_starts_at": start, "rent_ends_at": start.Add(24 * time.Hour),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown item, got %d", resp.StatusCode)
	}
}

func TestRequestsListIsAdminOnly(t *testing.T) {
	e := setupTestServer(t)
	adminToken := e.login(t, "admin", "password")
	e.createUser(t, adminToken, "someone")
	token := e.login(t, "someone", "password")

	resp := e.do(t, "GET", "/api/requests", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin, got %d", resp.StatusCode)
	}

	resp = e.do(t, "GET", "/api/requests", adminToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for admin, got %d", resp.StatusCode)
	}
}

func TestUserCannotDeleteOwnAccount(t *testing.T) {
	e := setupTestServer(t)
	adminToken := e.login(t, "admin", "password")

	resp := e.do(t, "GET", "/api/users/me", adminToken, nil)
	me := decodeBody[model.User](t, resp)

	resp = e.do(t, "DELETE", fmt.Sprintf("/api/users/%d", me.ID), adminToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 deleting own account, got %d", resp.StatusCode)
	}
}
