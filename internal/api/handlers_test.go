package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/finportal/portal-service/internal/app"
	"github.com/finportal/portal-service/internal/config"
	"github.com/finportal/portal-service/internal/otp"
	"github.com/finportal/portal-service/internal/session"
	"github.com/finportal/portal-service/internal/store/storetest"
)

// capturingNotifier records issued codes and links for the HTTP round trips.
type capturingNotifier struct {
	operationCodes []string
	loginCodes     []string
	links          []string
}

func (n *capturingNotifier) SendOperationCode(ctx context.Context, email, code, title, detail string) {
	n.operationCodes = append(n.operationCodes, code)
}

func (n *capturingNotifier) SendLoginCode(ctx context.Context, email, code string) {
	n.loginCodes = append(n.loginCodes, code)
}

func (n *capturingNotifier) SendVerificationLink(ctx context.Context, email, link string) {
	n.links = append(n.links, link)
}

func newTestServer(t *testing.T) (*httptest.Server, *capturingNotifier) {
	t.Helper()
	repo := storetest.NewMemoryRepository()
	n := &capturingNotifier{}
	service := app.NewService(repo, otp.NewStore(repo), session.NewMemoryStore(), n, app.Options{
		OtpMaxAge:          5 * time.Minute,
		EmailTokenSecret:   []byte("test-secret"),
		EmailTokenTTL:      time.Hour,
		VerifyEmailBaseURL: "http://localhost:8080/auth/verify-email",
	})
	cfg := &config.Config{CORSAllowedOrigins: "*"}
	srv := httptest.NewServer(NewRouter(cfg, service))
	t.Cleanup(srv.Close)
	return srv, n
}

func doJSON(t *testing.T, method, url, token string, payload interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var body *bytes.Buffer = bytes.NewBuffer(nil)
	if payload != nil {
		if err := json.NewEncoder(body).Encode(payload); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func registerAndAuthenticate(t *testing.T, srv *httptest.Server, n *capturingNotifier, email string) string {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/auth/register", "", map[string]string{
		"email": email, "password": "hunter2hunter2",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}

	link := n.links[len(n.links)-1]
	verifyToken := strings.SplitN(link, "token=", 2)[1]
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/auth/verify-email?token="+verifyToken, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify-email: expected 200, got %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/auth/login", "", map[string]string{
		"email": email, "password": "hunter2hunter2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	sessionToken, _ := body["session_token"].(string)
	if sessionToken == "" {
		t.Fatal("login response carries no session token")
	}

	code := n.loginCodes[len(n.loginCodes)-1]
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/auth/mfa/verify", sessionToken, map[string]string{"code": code})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mfa verify: expected 200, got %d", resp.StatusCode)
	}
	return sessionToken
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestProtectedRoutesRequireAuthentication(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/accounts"},
		{http.MethodPost, "/accounts"},
		{http.MethodPost, "/transfers/internal"},
		{http.MethodPost, "/transfers/external"},
		{http.MethodGet, "/operations/pending"},
		{http.MethodPost, "/operations/confirm"},
	} {
		resp, _ := doJSON(t, route.method, srv.URL+route.path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401 without token, got %d", route.method, route.path, resp.StatusCode)
		}
	}
}

func TestRegisterRejectsDuplicatesAndWeakPasswords(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/auth/register", "", map[string]string{
		"email": "ana@example.com", "password": "short",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for weak password, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/auth/register", "", map[string]string{
		"email": "ana@example.com", "password": "hunter2hunter2",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/auth/register", "", map[string]string{
		"email": "ana@example.com", "password": "hunter2hunter2",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", resp.StatusCode)
	}
}

func TestLoginPendingSessionCannotUseBankingRoutes(t *testing.T) {
	srv, n := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/auth/register", "", map[string]string{
		"email": "ana@example.com", "password": "hunter2hunter2",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}
	link := n.links[len(n.links)-1]
	verifyToken := strings.SplitN(link, "token=", 2)[1]
	if resp, _ := doJSON(t, http.MethodGet, srv.URL+"/auth/verify-email?token="+verifyToken, "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("verify-email failed with %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/auth/login", "", map[string]string{
		"email": "ana@example.com", "password": "hunter2hunter2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	token, _ := body["session_token"].(string)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/accounts", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before MFA, got %d", resp.StatusCode)
	}
}

func TestOperationConfirmationOverHTTP(t *testing.T) {
	srv, n := newTestServer(t)
	token := registerAndAuthenticate(t, srv, n, "ana@example.com")

	// Staging returns 202 and does not create the account yet.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/accounts", token, map[string]string{
		"bank_type": "NEQUI", "alias": "Vacation Fund", "initial_balance": "100.00",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("stage: expected 202, got %d", resp.StatusCode)
	}
	if required, _ := body["confirmation_required"].(bool); !required {
		t.Fatalf("expected confirmation_required in %v", body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/accounts", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list accounts: expected 200, got %d", resp.StatusCode)
	}
	if accounts, _ := body["accounts"].([]interface{}); len(accounts) != 1 {
		t.Fatalf("expected 1 account before confirmation, got %d", len(body["accounts"].([]interface{})))
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/operations/pending", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pending: expected 200, got %d", resp.StatusCode)
	}

	// A wrong code does not discard the staged operation.
	code := n.operationCodes[len(n.operationCodes)-1]
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/operations/confirm", token, map[string]string{"code": wrong})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("confirm with wrong code: expected 401, got %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/operations/confirm", token, map[string]string{"code": code})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["kind"] != "open_account" {
		t.Fatalf("expected open_account result, got %v", body["kind"])
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/accounts", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list accounts: expected 200, got %d", resp.StatusCode)
	}
	if accounts, _ := body["accounts"].([]interface{}); len(accounts) != 2 {
		t.Fatalf("expected 2 accounts after confirmation, got %d", len(accounts))
	}

	// The descriptor is gone after a successful confirmation.
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/operations/pending", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("pending after confirm: expected 404, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/operations/confirm", token, map[string]string{"code": code})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("confirm replay: expected 404, got %d", resp.StatusCode)
	}
}

func TestCancelOperationOverHTTP(t *testing.T) {
	srv, n := newTestServer(t)
	token := registerAndAuthenticate(t, srv, n, "ana@example.com")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/accounts", token, map[string]string{
		"bank_type": "NU", "alias": "Doomed",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("stage: expected 202, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/operations/cancel", token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel: expected 204, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/operations/pending", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("pending after cancel: expected 404, got %d", resp.StatusCode)
	}
}

func TestTransferValidationStatusesOverHTTP(t *testing.T) {
	srv, n := newTestServer(t)
	token := registerAndAuthenticate(t, srv, n, "ana@example.com")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/accounts", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list accounts: expected 200, got %d", resp.StatusCode)
	}
	accounts := body["accounts"].([]interface{})
	starterID := accounts[0].(map[string]interface{})["id"].(string)

	// Unknown recipients are a semantic failure, not a syntax failure.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/transfers/external", token, map[string]string{
		"from_account_id": starterID, "recipient_email": "nobody@example.com", "amount": "10.00",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown recipient, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/transfers/internal", token, map[string]string{
		"from_account_id": starterID, "to_account_id": starterID, "amount": "10.00",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for same-account transfer, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/accounts", token, map[string]string{
		"bank_type": "BANCO", "alias": "Nope",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown bank type, got %d", resp.StatusCode)
	}
}

func TestLogoutEndsSession(t *testing.T) {
	srv, n := newTestServer(t)
	token := registerAndAuthenticate(t, srv, n, "ana@example.com")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/auth/logout", token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/accounts", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestTransactionsEndpointValidatesAccountID(t *testing.T) {
	srv, n := newTestServer(t)
	token := registerAndAuthenticate(t, srv, n, "ana@example.com")

	resp, _ := doJSON(t, http.MethodGet, fmt.Sprintf("%s/accounts/%s/transactions", srv.URL, "not-a-uuid"), token, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed account id, got %d", resp.StatusCode)
	}
}
