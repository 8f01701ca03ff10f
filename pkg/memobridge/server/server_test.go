package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jholhewres/memobridge/pkg/memobridge/bridge"
	"github.com/jholhewres/memobridge/pkg/memobridge/config"
	"github.com/jholhewres/memobridge/pkg/memobridge/contacts"
)

const testSecret = "test-api-secret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, *bridge.Bridge) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Data.Dir = t.TempDir()
	cfg.Contacts.WaitRetries = 0
	cfg.Contacts.WaitDelayMs = 1
	cfg.Server.RateLimitPerMinute = 0

	hash, err := bcrypt.GenerateFromPassword([]byte(testSecret), bcrypt.MinCost)
	require.NoError(t, err)
	cfg.Server.APISecretHash = string(hash)

	b := bridge.New(cfg, testLogger())
	return New(b, cfg, testLogger()), b
}

func grantAuth(t *testing.T, b *bridge.Bridge, uid string) {
	t.Helper()
	dir := filepath.Join(b.Config().SessionsDir(), uid)
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.db"), []byte("auth"), 0o600))
}

func doRequest(t *testing.T, s *Server, method, target, body string, authed bool) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+testSecret)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthzIsPublic(t *testing.T) {
	s, _ := newTestServer(t)
	resp := doRequest(t, s, http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthRequired(t *testing.T) {
	s, _ := newTestServer(t)

	resp := doRequest(t, s, http.MethodPost, "/tools/send-message", `{}`, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/tools/send-message", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer wrong-secret")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendMessageValidation(t *testing.T) {
	s, _ := newTestServer(t)

	resp := doRequest(t, s, http.MethodPost, "/tools/send-message", `{"uid":"u1"}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, s, http.MethodPost, "/tools/send-message", `not json`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendMessageUnknownUser(t *testing.T) {
	s, _ := newTestServer(t)
	resp := doRequest(t, s, http.MethodPost, "/tools/send-message",
		`{"uid":"stranger","contact_name":"alice","message":"hi"}`, true)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSendMessageNotConnected(t *testing.T) {
	s, b := newTestServer(t)
	grantAuth(t, b, "u1")
	resp := doRequest(t, s, http.MethodPost, "/tools/send-message",
		`{"uid":"u1","contact_name":"alice","message":"hi"}`, true)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMemoryWebhook(t *testing.T) {
	s, _ := newTestServer(t)

	resp := doRequest(t, s, http.MethodPost, "/webhook/memory", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "uid is required")

	resp = doRequest(t, s, http.MethodPost, "/webhook/memory?uid=stranger",
		`{"structured":{"title":"t"}}`, true)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestFindContact(t *testing.T) {
	s, b := newTestServer(t)
	grantAuth(t, b, "u1")
	b.Directory.Upsert("u1", contacts.Incoming{
		ID: "5511911112222", Name: "Alice Santos", NameTrust: contacts.TrustAddressBook,
	})

	resp := doRequest(t, s, http.MethodGet, "/tools/find-contact?uid=u1&name=alice", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	result, ok := body["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "5511911112222", result["id"])

	resp = doRequest(t, s, http.MethodGet, "/tools/find-contact?uid=u1&name=nobody+at+all", "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, s, http.MethodGet, "/tools/find-contact?uid=u1", "", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSaveAndListContacts(t *testing.T) {
	s, b := newTestServer(t)
	grantAuth(t, b, "u1")

	resp := doRequest(t, s, http.MethodPost, "/tools/save-contact",
		`{"uid":"u1","name":"Mom","phone":"+55 11 99999-8888"}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	result := body["result"].(map[string]any)
	assert.Equal(t, "5511999998888", result["id"])

	resp = doRequest(t, s, http.MethodGet, "/tools/contacts?uid=u1", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	listing := body["result"].(map[string]any)
	saved := listing["saved"].([]any)
	assert.Len(t, saved, 1)
}

func TestImportContacts(t *testing.T) {
	s, b := newTestServer(t)
	grantAuth(t, b, "u1")

	resp := doRequest(t, s, http.MethodPost, "/tools/import-contacts",
		`{"uid":"u1","contacts":[{"name":"Alice","phone":"5511911112222"},{"name":"","phone":"1"}]}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	result := body["result"].(map[string]any)
	assert.Equal(t, float64(1), result["upserted"])
	assert.Equal(t, float64(1), result["invalid"])

	resp = doRequest(t, s, http.MethodPost, "/tools/import-contacts", `{"uid":"u1"}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSetReminderEndpoint(t *testing.T) {
	s, b := newTestServer(t)
	grantAuth(t, b, "u1")

	resp := doRequest(t, s, http.MethodPost, "/tools/set-reminder",
		`{"uid":"u1","message":"water plants","delay_minutes":10}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	result := body["result"].(map[string]any)
	assert.NotEmpty(t, result["reminder_id"])
}

func TestSetupStatus(t *testing.T) {
	s, _ := newTestServer(t)

	resp := doRequest(t, s, http.MethodGet, "/setup/u1/status", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "disconnected", body["state"])
	assert.Equal(t, false, body["connected"])
}
