package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"autoaccess.org/internal/audit"
	"autoaccess.org/internal/directory"
	"autoaccess.org/internal/notify"
	"autoaccess.org/internal/otp"
	"autoaccess.org/internal/provision"
	"autoaccess.org/internal/roles"
	"autoaccess.org/internal/session"
)

const testAPIKey = "test-api-key"

type memorySender struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (s *memorySender) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *memorySender) lastTo(to string) (notify.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sent) - 1; i >= 0; i-- {
		if s.sent[i].To == to {
			return s.sent[i], true
		}
	}
	return notify.Message{}, false
}

type apiClient struct {
	baseURL string
	client  *http.Client
	sender  *memorySender
	store   *directory.InMemory
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := directory.NewInMemory()
	sender := &memorySender{}
	rec := audit.NewMemory()
	matrix := roles.Default()

	pipeline, err := provision.NewPipeline(store, matrix, sender, rec,
		provision.WithSummaryRecipients("hr@corp.test", "it@corp.test"),
	)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	sessions, err := session.NewManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	authn := otp.New(store, sender, rec)

	api := New(ReadyProbe{}, "test", Deps{
		Pipeline: pipeline,
		Store:    store,
		Matrix:   matrix,
		OTP:      authn,
		Sessions: sessions,
		Recorder: rec,
		APIKey:   testAPIKey,
	})
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		sender:  sender,
		store:   store,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u := c.baseURL + path
	if params != nil {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func adminHeaders() map[string]string {
	return map[string]string{"X-API-Key": testAPIKey}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func hireRow(name, email, dept, role, status string) map[string]any {
	return map[string]any{
		"name":       name,
		"email":      email,
		"department": dept,
		"role":       role,
		"join_date":  "2026-09-01",
		"status":     status,
	}
}

func TestProvisionAndUserFlow(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/provision", map[string]any{
		"rows": []map[string]any{
			hireRow("John Doe", "john.doe@corp.test", "IT", "SysAdmin", "active"),
			hireRow("Jane Doe", "jane.doe@corp.test", "HR", "Recruiter", "active"),
			hireRow("Bad Row", "not-an-email", "IT", "SysAdmin", "active"),
		},
	}, adminHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	batch := decode[map[string]any](t, resp)
	if batch["created"].(float64) != 2 || batch["errors"].(float64) != 1 {
		t.Fatalf("unexpected batch counts: %v", batch)
	}
	rows := batch["rows"].([]any)
	if len(rows) != 3 {
		t.Fatalf("expected one outcome per row, got %d", len(rows))
	}

	// The new account is visible through the admin API.
	resp = api.get("/v1/users/jdoe", nil, adminHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	acc := decode[map[string]any](t, resp)
	if acc["email"] != "john.doe@corp.test" || acc["status"] != "active" {
		t.Fatalf("unexpected account: %v", acc)
	}
	if _, ok := acc["credential_hash"]; ok {
		t.Fatal("credential hash leaked in response")
	}

	resp = api.get("/v1/users", nil, adminHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	list := decode[map[string]any](t, resp)
	if len(list["items"].([]any)) != 2 {
		t.Fatalf("unexpected user list: %v", list)
	}
}

func TestProvisionRequiresAPIKey(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/provision", map[string]any{
		"rows": []map[string]any{hireRow("John Doe", "john.doe@corp.test", "IT", "SysAdmin", "active")},
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp = api.post("/v1/provision", nil, map[string]string{"X-API-Key": "wrong"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d", resp.StatusCode)
	}
}

func TestProvisionRejectsEmptyBatch(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/provision", map[string]any{"rows": []map[string]any{}}, adminHeaders())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUpdateUserRecomputesAccess(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/provision", map[string]any{
		"rows": []map[string]any{hireRow("John Doe", "john.doe@corp.test", "Intern", "Trainee", "active")},
	}, adminHeaders())
	resp.Body.Close()

	dept := "IT"
	resp = api.do(http.MethodPatch, "/v1/users/jdoe", map[string]any{"department": dept}, adminHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	acc := decode[map[string]any](t, resp)
	if acc["department"] != "IT" {
		t.Fatalf("department not updated: %v", acc)
	}
	perms := acc["permissions"].([]any)
	want, err := roles.Default().Resolve("IT", "Trainee")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(perms) != len(want.Permissions) {
		t.Fatalf("permissions not recomputed: %v", perms)
	}

	resp = api.do(http.MethodPatch, "/v1/users/jdoe", map[string]any{"department": "Nonexistent"}, adminHeaders())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown department, got %d", resp.StatusCode)
	}
}

func TestDeactivateUser(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/provision", map[string]any{
		"rows": []map[string]any{hireRow("John Doe", "john.doe@corp.test", "IT", "SysAdmin", "active")},
	}, adminHeaders())
	resp.Body.Close()

	resp = api.post("/v1/users/jdoe/deactivate", nil, adminHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	acc := decode[map[string]any](t, resp)
	if acc["status"] != "inactive" {
		t.Fatalf("account not deactivated: %v", acc)
	}
	// Grants serialize as empty arrays, never null.
	for _, field := range []string{"groups", "permissions"} {
		v, ok := acc[field].([]any)
		if !ok {
			t.Fatalf("%s is %T, want empty array", field, acc[field])
		}
		if len(v) != 0 {
			t.Fatalf("%s not cleared: %v", field, v)
		}
	}

	// Deactivating again is a no-op, not an error.
	resp = api.post("/v1/users/jdoe/deactivate", nil, adminHeaders())
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status on repeat: %d", resp.StatusCode)
	}

	// The stored account reads back with the same empty-array shape.
	resp = api.get("/v1/users/jdoe", nil, adminHeaders())
	acc = decode[map[string]any](t, resp)
	if _, ok := acc["groups"].([]any); !ok {
		t.Fatalf("stored groups is %T, want empty array", acc["groups"])
	}
}

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

func (c *apiClient) deliveredCode(email string) string {
	c.t.Helper()
	msg, ok := c.sender.lastTo(email)
	if !ok {
		c.t.Fatalf("no message delivered to %s", email)
	}
	m := codePattern.FindStringSubmatch(msg.Body)
	if m == nil {
		c.t.Fatalf("no code in message body: %q", msg.Body)
	}
	return m[1]
}

func TestOTPLoginFlow(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/provision", map[string]any{
		"rows": []map[string]any{hireRow("John Doe", "john.doe@corp.test", "IT", "SysAdmin", "active")},
	}, adminHeaders())
	resp.Body.Close()

	resp = api.post("/v1/auth/otp/request", map[string]any{"email": "john.doe@corp.test"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	code := api.deliveredCode("john.doe@corp.test")

	resp = api.post("/v1/auth/otp/verify", map[string]any{
		"email": "john.doe@corp.test",
		"code":  code,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	sess := decode[sessionResponse](t, resp)
	if sess.Token == "" {
		t.Fatal("empty session token")
	}

	resp = api.get("/v1/me", nil, map[string]string{"Authorization": "Bearer " + sess.Token})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	me := decode[map[string]any](t, resp)
	if me["username"] != "jdoe" {
		t.Fatalf("unexpected self view: %v", me)
	}
}

func TestOTPRequestNeverRevealsAccountExistence(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/otp/request", map[string]any{"email": "nobody@corp.test"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for unknown email, got %d", resp.StatusCode)
	}
}

func TestOTPVerifyBadCode(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/provision", map[string]any{
		"rows": []map[string]any{hireRow("John Doe", "john.doe@corp.test", "IT", "SysAdmin", "active")},
	}, adminHeaders())
	resp.Body.Close()

	resp = api.post("/v1/auth/otp/request", map[string]any{"email": "john.doe@corp.test"}, nil)
	resp.Body.Close()

	resp = api.post("/v1/auth/otp/verify", map[string]any{
		"email": "john.doe@corp.test",
		"code":  "000000",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["error"] != "mismatch" {
		t.Fatalf("unexpected reason: %v", body["error"])
	}
}

func TestMeRequiresSession(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/me", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := api.get(path, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: unexpected status %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := api.get("/metrics", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics: unexpected status %d", resp.StatusCode)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, map[string]string{"X-Request-Id": "req-123"})
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-Id"); got != "req-123" {
		t.Fatalf("request id not echoed: %q", got)
	}
}
