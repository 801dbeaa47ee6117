package http

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/ideahub/internal/backend"
	"github.com/Zereker/ideahub/internal/connection"
	"github.com/Zereker/ideahub/internal/domain"
	"github.com/Zereker/ideahub/pkg/mq"
)

type fakeMutual struct{}

func (fakeMutual) MutualConnections(_ context.Context, a, b string, _ int) ([]string, error) {
	return []string{a + "+" + b}, nil
}

func newTestServer(t *testing.T, mutual MutualFinder) *server.Hertz {
	t.Helper()

	mem := backend.NewMemory()
	mem.PutProfile(domain.Profile{UserID: "bob", FullName: "Bob"})

	queue := mq.NewInMemoryQueue()
	hub := backend.NewHub()
	require.NoError(t, queue.Subscribe(backend.DefaultTopic, hub.Handle))

	repo := backend.NewPublisher(mem, queue, "")
	registry := connection.NewRegistry(connection.Deps{Repo: repo, Profiles: mem, Feed: hub}, connection.RegistryConfig{})
	t.Cleanup(func() {
		registry.Close()
		hub.Close()
	})

	h := server.Default()
	NewHandler(registry, mutual).RegisterRoutes(h)
	return h
}

type result struct {
	status int
	body   Response
	data   json.RawMessage
}

func do(t *testing.T, h *server.Hertz, method, path, user, body string) result {
	t.Helper()

	headers := []ut.Header{{Key: "Content-Type", Value: "application/json"}}
	if user != "" {
		headers = append(headers, ut.Header{Key: UserHeader, Value: user})
	}
	w := ut.PerformRequest(h.Engine, method, path, &ut.Body{Body: bytes.NewBufferString(body), Len: len(body)}, headers...)
	resp := w.Result()

	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body(), &raw), string(resp.Body()))
	return result{status: resp.StatusCode(), body: raw.Response, data: raw.Data}
}

func TestConnectionFlow(t *testing.T) {
	h := newTestServer(t, nil)

	r := do(t, h, consts.MethodPost, "/api/v1/connections", "alice", `{"recipient_id":"bob"}`)
	require.Equal(t, consts.StatusCreated, r.status)
	var view domain.ConnectionView
	require.NoError(t, json.Unmarshal(r.data, &view))
	assert.Equal(t, "Bob", view.Counterparty.FullName)
	id := view.Connection.ID

	r = do(t, h, consts.MethodPost, "/api/v1/connections", "bob", `{"recipient_id":"alice"}`)
	assert.Equal(t, consts.StatusConflict, r.status)
	assert.Equal(t, domain.KindAlreadyPending, r.body.ErrorKind)

	r = do(t, h, consts.MethodGet, "/api/v1/connections/status/alice", "bob", "")
	require.Equal(t, consts.StatusOK, r.status)
	var res domain.Resolution
	require.NoError(t, json.Unmarshal(r.data, &res))
	assert.Equal(t, domain.Resolution{Status: domain.StatusPending, ConnectionID: id, Direction: domain.DirectionIncoming}, res)

	r = do(t, h, consts.MethodPost, "/api/v1/connections/"+id+"/accept", "alice", "")
	assert.Equal(t, consts.StatusForbidden, r.status)

	r = do(t, h, consts.MethodPost, "/api/v1/connections/"+id+"/accept", "bob", "")
	assert.Equal(t, consts.StatusOK, r.status)

	r = do(t, h, consts.MethodPost, "/api/v1/connections/"+id+"/accept", "bob", "")
	assert.Equal(t, consts.StatusConflict, r.status)
	assert.Equal(t, domain.KindInvalidState, r.body.ErrorKind)

	r = do(t, h, consts.MethodGet, "/api/v1/connections", "alice", "")
	require.Equal(t, consts.StatusOK, r.status)
	var snap domain.Snapshot
	require.NoError(t, json.Unmarshal(r.data, &snap))
	assert.Len(t, snap.Connections, 1)

	r = do(t, h, consts.MethodGet, "/api/v1/notifications", "alice", "")
	require.Equal(t, consts.StatusOK, r.status)
	var inbox struct {
		Notifications []domain.Notification `json:"notifications"`
		Reconnecting  bool                  `json:"reconnecting"`
	}
	require.NoError(t, json.Unmarshal(r.data, &inbox))
	require.Len(t, inbox.Notifications, 3)
	assert.Equal(t, domain.NotifyRequestSent, inbox.Notifications[0].Kind)
	assert.Equal(t, domain.NotifyOperationFailed, inbox.Notifications[1].Kind)
	assert.Equal(t, domain.NotifyRequestAccepted, inbox.Notifications[2].Kind)
	assert.False(t, inbox.Reconnecting)
}

func TestCancelAndReload(t *testing.T) {
	h := newTestServer(t, nil)

	r := do(t, h, consts.MethodPost, "/api/v1/connections", "alice", `{"recipient_id":"carol"}`)
	require.Equal(t, consts.StatusCreated, r.status)
	var view domain.ConnectionView
	require.NoError(t, json.Unmarshal(r.data, &view))

	r = do(t, h, consts.MethodDelete, "/api/v1/connections/"+view.Connection.ID, "carol", "")
	assert.Equal(t, consts.StatusForbidden, r.status)

	r = do(t, h, consts.MethodDelete, "/api/v1/connections/"+view.Connection.ID, "alice", "")
	assert.Equal(t, consts.StatusOK, r.status)

	r = do(t, h, consts.MethodDelete, "/api/v1/connections/"+view.Connection.ID, "alice", "")
	assert.Equal(t, consts.StatusNotFound, r.status)

	r = do(t, h, consts.MethodPost, "/api/v1/connections/reload", "carol", "")
	require.Equal(t, consts.StatusOK, r.status)
	var snap domain.Snapshot
	require.NoError(t, json.Unmarshal(r.data, &snap))
	assert.Empty(t, snap.IncomingPending)
}

func TestBadRequests(t *testing.T) {
	h := newTestServer(t, nil)

	r := do(t, h, consts.MethodGet, "/api/v1/connections", "", "")
	assert.Equal(t, consts.StatusBadRequest, r.status)

	r = do(t, h, consts.MethodPost, "/api/v1/connections", "alice", `{`)
	assert.Equal(t, consts.StatusBadRequest, r.status)

	r = do(t, h, consts.MethodPost, "/api/v1/connections", "alice", `{"recipient_id":"alice"}`)
	assert.Equal(t, consts.StatusBadRequest, r.status)
	assert.Equal(t, domain.KindInvalidInput, r.body.ErrorKind)
}

func TestMutual(t *testing.T) {
	r := do(t, newTestServer(t, nil), consts.MethodGet, "/api/v1/users/a/mutual/b", "", "")
	assert.Equal(t, consts.StatusServiceUnavailable, r.status)

	r = do(t, newTestServer(t, fakeMutual{}), consts.MethodGet, "/api/v1/users/a/mutual/b", "", "")
	require.Equal(t, consts.StatusOK, r.status)
	assert.JSONEq(t, `{"user_ids":["a+b"]}`, string(r.data))
}

func TestHealth(t *testing.T) {
	r := do(t, newTestServer(t, nil), consts.MethodGet, "/health", "", "")
	assert.Equal(t, consts.StatusOK, r.status)
	assert.True(t, r.body.Success)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, consts.StatusServiceUnavailable, statusFor(domain.KindBackendUnavailable))
	assert.Equal(t, consts.StatusNotFound, statusFor(domain.KindNotFound))
	assert.Equal(t, consts.StatusConflict, statusFor(domain.KindAlreadyConnected))
}
