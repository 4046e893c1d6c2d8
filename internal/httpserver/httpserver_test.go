package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"callbridge-backend/internal/callreq"
	"callbridge-backend/internal/feed"
	"callbridge-backend/internal/notify"
	"callbridge-backend/internal/storage"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	store, err := storage.Open(context.Background(), "sqlite::memory:", logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	hub := feed.NewHub(logger)
	notifier := notify.New(logger, store, true)
	coordinator := callreq.NewCoordinator(logger, store, hub, notifier, 30)

	handler := NewHandler(logger, store, coordinator, nil)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, server *httptest.Server, method, path, token string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}

	req, err := http.NewRequest(method, server.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func registerUser(t *testing.T, server *httptest.Server, username string) (userID, token string) {
	t.Helper()
	var resp authResponse
	status := doJSON(t, server, http.MethodPost, "/v1/auth/register", "", registerRequest{
		Username:    username,
		Password:    "Passw0rd1",
		DisplayName: username,
	}, &resp)
	if status != http.StatusOK {
		t.Fatalf("register %s: status %d", username, status)
	}
	return resp.User.ID, resp.Token
}

func TestHealthEndpoints(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz: expected 200, got %d", resp.StatusCode)
	}
}

func TestAuthFlow(t *testing.T) {
	server := newTestServer(t)

	_, token := registerUser(t, server, "alice")

	var me meResponse
	if status := doJSON(t, server, http.MethodGet, "/v1/auth/me", token, nil, &me); status != http.StatusOK {
		t.Fatalf("me: status %d", status)
	}
	if me.User.Username != "alice" {
		t.Errorf("Expected username alice, got %s", me.User.Username)
	}
	if !me.User.AllowNotifyInserts {
		t.Error("Expected notify inserts allowed by default")
	}

	var errResp apiErrorEnvelope
	status := doJSON(t, server, http.MethodPost, "/v1/auth/register", "", registerRequest{
		Username: "alice", Password: "Passw0rd1", DisplayName: "alice",
	}, &errResp)
	if status != http.StatusConflict || errResp.Error.Code != string(ErrCodeUsernameExists) {
		t.Errorf("Duplicate register: status %d code %s", status, errResp.Error.Code)
	}

	if status := doJSON(t, server, http.MethodGet, "/v1/auth/me", "", nil, &errResp); status != http.StatusUnauthorized {
		t.Errorf("me without token: expected 401, got %d", status)
	}

	var login authResponse
	if status := doJSON(t, server, http.MethodPost, "/v1/auth/login", "", loginRequest{Username: "alice", Password: "Passw0rd1"}, &login); status != http.StatusOK {
		t.Errorf("login: status %d", status)
	}
	if status := doJSON(t, server, http.MethodPost, "/v1/auth/login", "", loginRequest{Username: "alice", Password: "wrong"}, &errResp); status != http.StatusUnauthorized {
		t.Errorf("bad login: expected 401, got %d", status)
	}
}

func TestCallRequestLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t)

	_, aliceToken := registerUser(t, server, "alice")
	bobID, bobToken := registerUser(t, server, "bobby")

	var created callRequestResponse
	status := doJSON(t, server, http.MethodPost, "/v1/call-requests", aliceToken, createCallRequestRequest{
		RecipientID: bobID,
		CallType:    "video",
		Metadata:    map[string]string{"roomHint": "office"},
	}, &created)
	if status != http.StatusOK {
		t.Fatalf("create: status %d", status)
	}
	if created.CallRequest.Status != "pending" {
		t.Errorf("Expected pending, got %s", created.CallRequest.Status)
	}
	if created.RemainingMs <= 0 {
		t.Errorf("Expected positive remainingMs, got %d", created.RemainingMs)
	}
	reqID := created.CallRequest.ID

	var pending listCallRequestsResponse
	if status := doJSON(t, server, http.MethodGet, "/v1/call-requests/pending", bobToken, nil, &pending); status != http.StatusOK {
		t.Fatalf("pending: status %d", status)
	}
	if len(pending.CallRequests) != 1 || pending.CallRequests[0].ID != reqID {
		t.Fatalf("Expected 1 pending request for bob, got %d", len(pending.CallRequests))
	}
	if pending.CallRequests[0].Metadata["roomHint"] != "office" {
		t.Error("Metadata did not survive the round trip")
	}

	// The requester is not allowed to accept.
	var errResp apiErrorEnvelope
	status = doJSON(t, server, http.MethodPost, "/v1/call-requests/"+reqID+"/accept", aliceToken, nil, &errResp)
	if status != http.StatusForbidden || errResp.Error.Code != string(ErrCodeCallRequestAccessDenied) {
		t.Errorf("Requester accept: status %d code %s", status, errResp.Error.Code)
	}

	var accepted callRequestResponse
	if status := doJSON(t, server, http.MethodPost, "/v1/call-requests/"+reqID+"/accept", bobToken, nil, &accepted); status != http.StatusOK {
		t.Fatalf("accept: status %d", status)
	}
	if accepted.CallRequest.Status != "accepted" {
		t.Errorf("Expected accepted, got %s", accepted.CallRequest.Status)
	}

	// Late cancel after the accept reports the conflict.
	status = doJSON(t, server, http.MethodPost, "/v1/call-requests/"+reqID+"/cancel", aliceToken, nil, &errResp)
	if status != http.StatusConflict || errResp.Error.Code != string(ErrCodeCallRequestAlreadyResolved) {
		t.Errorf("Late cancel: status %d code %s", status, errResp.Error.Code)
	}

	var fetched callRequestResponse
	if status := doJSON(t, server, http.MethodGet, "/v1/call-requests/"+reqID, aliceToken, nil, &fetched); status != http.StatusOK {
		t.Fatalf("get: status %d", status)
	}
	if fetched.CallRequest.Status != "accepted" {
		t.Errorf("Expected accepted on read-back, got %s", fetched.CallRequest.Status)
	}

	status = doJSON(t, server, http.MethodGet, "/v1/call-requests/missing", aliceToken, nil, &errResp)
	if status != http.StatusNotFound || errResp.Error.Code != string(ErrCodeCallRequestNotFound) {
		t.Errorf("Missing request: status %d code %s", status, errResp.Error.Code)
	}
}

func TestCallRequestValidationOverHTTP(t *testing.T) {
	server := newTestServer(t)

	aliceID, aliceToken := registerUser(t, server, "alice")

	var errResp apiErrorEnvelope
	status := doJSON(t, server, http.MethodPost, "/v1/call-requests", aliceToken, createCallRequestRequest{
		RecipientID: aliceID,
		CallType:    "video",
	}, &errResp)
	if status != http.StatusBadRequest {
		t.Errorf("Self call: expected 400, got %d", status)
	}

	status = doJSON(t, server, http.MethodPost, "/v1/call-requests", aliceToken, createCallRequestRequest{
		RecipientID: "someone",
		CallType:    "fax",
	}, &errResp)
	if status != http.StatusBadRequest {
		t.Errorf("Bad call type: expected 400, got %d", status)
	}

	status = doJSON(t, server, http.MethodPost, "/v1/call-requests", aliceToken, createCallRequestRequest{
		RecipientID: "no-such-user",
		CallType:    "video",
	}, &errResp)
	if status != http.StatusBadRequest {
		t.Errorf("Unknown recipient: expected 400, got %d", status)
	}

	status = doJSON(t, server, http.MethodPost, "/v1/call-requests", "", createCallRequestRequest{
		RecipientID: "someone",
		CallType:    "video",
	}, &errResp)
	if status != http.StatusUnauthorized {
		t.Errorf("No token: expected 401, got %d", status)
	}
}

func TestNotificationsAndPrefsOverHTTP(t *testing.T) {
	server := newTestServer(t)

	_, aliceToken := registerUser(t, server, "alice")
	bobID, bobToken := registerUser(t, server, "bobby")

	allow := false
	var me meResponse
	status := doJSON(t, server, http.MethodPut, "/v1/users/me/notify-prefs", bobToken, notifyPrefsRequest{AllowNotifyInserts: &allow}, &me)
	if status != http.StatusOK {
		t.Fatalf("notify-prefs: status %d", status)
	}
	if me.User.AllowNotifyInserts {
		t.Error("Expected notify inserts disabled")
	}

	var created callRequestResponse
	if status := doJSON(t, server, http.MethodPost, "/v1/call-requests", aliceToken, createCallRequestRequest{
		RecipientID: bobID,
		CallType:    "audio",
	}, &created); status != http.StatusOK {
		t.Fatalf("create: status %d", status)
	}

	// Delivery is asynchronous but the privileged tier bypasses the ACL,
	// so bob's list eventually holds the alert.
	var listed listNotificationsResponse
	for i := 0; i < 50; i++ {
		if status := doJSON(t, server, http.MethodGet, "/v1/notifications", bobToken, nil, &listed); status != http.StatusOK {
			t.Fatalf("notifications: status %d", status)
		}
		if len(listed.Notifications) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(listed.Notifications) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(listed.Notifications))
	}
	if listed.Notifications[0].Title != "Incoming audio call" {
		t.Errorf("Unexpected title %q", listed.Notifications[0].Title)
	}

	var search searchUsersResponse
	if status := doJSON(t, server, http.MethodGet, "/v1/users?query=bob", aliceToken, nil, &search); status != http.StatusOK {
		t.Fatalf("search: status %d", status)
	}
	if len(search.Users) != 1 || search.Users[0].ID != bobID {
		t.Errorf("Expected bob in search results, got %+v", search.Users)
	}
}
