package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvasek/meshbot/internal/command"
	"github.com/jvasek/meshbot/internal/log"
	"github.com/jvasek/meshbot/internal/mailbox"
	"github.com/jvasek/meshbot/internal/mesh"
	"github.com/jvasek/meshbot/internal/plugin"
	"github.com/jvasek/meshbot/internal/telemetry"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

const testKey = "test-key-123"

func newTestServer(t *testing.T) (*Server, *mailbox.Store) {
	t.Helper()

	box, err := mailbox.Open(filepath.Join(t.TempDir(), "mailbox.jsonl"), mailbox.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { box.Close() })

	fake := mesh.NewFake()
	fake.SetNodes([]mesh.NodeInfo{
		{ID: "!0000a11c", ShortName: "AL", LongName: "Alice Base", LastSeen: time.Now()},
	})

	reg := command.NewRegistry()
	noop := command.HandlerFunc(func(ctx context.Context, env *command.Env, inv *command.Invocation) (string, error) {
		return "", nil
	})
	require.NoError(t, reg.Register(command.Descriptor{Name: "ping", Help: "Round-trip check", Source: command.SourceBuiltin, Handler: noop}))
	require.NoError(t, reg.Register(command.Descriptor{Name: "roll", Help: "Roll dice", Source: command.SourcePlugin, Handler: noop}))

	reports := []plugin.LoadReport{
		{Path: "/plugins/fun.lua", Name: "fun", Commands: []string{"roll"}},
		{Path: "/plugins/bad.lua", Name: "bad", Err: errors.New("run: syntax error")},
	}

	s := New(Config{Listen: "127.0.0.1:0", Key: testKey}, reg, box, tracker(), fake, reports, 1)
	return s, box
}

func tracker() *telemetry.Tracker {
	tr := telemetry.New()
	tr.Update(mesh.Stats{TxAirtimePct: 2.5, RxAirtimePct: 1, ChannelUtilPct: 9, SampledAt: time.Now()})
	return tr
}

func get(t *testing.T, s *Server, path, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	return rec
}

func TestHealthzNoAuth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestStatusRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, get(t, s, "/api/status", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, s, "/api/status", "wrong-key").Code)

	rec := get(t, s, "/api/status", testKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Channel)
	assert.Equal(t, 2, resp.Commands)
	assert.Equal(t, 1, resp.PluginsLoaded)
	assert.Equal(t, 1, resp.NodesKnown)
	assert.True(t, resp.HasTelemetry)
	assert.Equal(t, 2.5, resp.TxAirtimePct)
}

func TestCommandsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/api/commands", testKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []CommandInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "ping", resp[0].Name)
	assert.Equal(t, "builtin", resp[0].Source)
	assert.Equal(t, "roll", resp[1].Name)
	assert.Equal(t, "plugin", resp[1].Source)
}

func TestNodesEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/api/nodes", testKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []NodeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "!0000a11c", resp[0].ID)
	assert.Equal(t, "AL", resp[0].ShortName)
}

func TestMailboxStatsEndpoint(t *testing.T) {
	s, box := newTestServer(t)

	_, err := box.Put("!0000a11c", "AL", "!00000b0b", "hello bob")
	require.NoError(t, err)

	rec := get(t, s, "/api/mailbox/stats", testKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MailboxStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Recipients)
	assert.Equal(t, 1, resp.Pending)
}

func TestPluginsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/api/plugins", testKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []PluginInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "fun", resp[0].Name)
	assert.Equal(t, []string{"roll"}, resp[0].Commands)
	assert.Empty(t, resp[0].Error)
	assert.Contains(t, resp[1].Error, "syntax error")
}

func TestValidateAPIKey(t *testing.T) {
	assert.True(t, ValidateAPIKey("secret", "secret"))
	assert.False(t, ValidateAPIKey("secret", "other"))
	assert.False(t, ValidateAPIKey("", "secret"))
	assert.False(t, ValidateAPIKey("secret", ""))
	assert.False(t, ValidateAPIKey("", ""))
}

func TestExtractAPIKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	_, err := ExtractAPIKey(req)
	assert.Error(t, err)

	req.Header.Set("Authorization", "Basic abc")
	_, err = ExtractAPIKey(req)
	assert.Error(t, err)

	req.Header.Set("Authorization", "Bearer   ")
	_, err = ExtractAPIKey(req)
	assert.Error(t, err)

	req.Header.Set("Authorization", "Bearer test-key")
	key, err := ExtractAPIKey(req)
	require.NoError(t, err)
	assert.Equal(t, "test-key", key)
}
