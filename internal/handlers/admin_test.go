package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/ringkv/internal/agent"
	"github.com/soltixdb/ringkv/internal/cluster"
	"github.com/soltixdb/ringkv/internal/config"
	"github.com/soltixdb/ringkv/internal/coordination"
	"github.com/soltixdb/ringkv/internal/events"
	"github.com/soltixdb/ringkv/internal/hashring"
	"github.com/soltixdb/ringkv/internal/logging"
	"github.com/soltixdb/ringkv/internal/middleware"
	"github.com/soltixdb/ringkv/internal/models"
	"github.com/soltixdb/ringkv/internal/orchestrator"
	"github.com/soltixdb/ringkv/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKeys = cluster.NewKeys("/handlers-test")

const testTimeout = 10000 // ms, for app.Test

type adminFixture struct {
	app   *fiber.App
	orch  *orchestrator.Orchestrator
	store *coordination.MemoryStore

	mu     sync.Mutex
	agents map[string]*agent.Agent
}

// newAdminFixture wires the admin handlers to an orchestrator whose
// provisioner starts agents in-process
func newAdminFixture(t *testing.T, seeds ...string) *adminFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	store := coordination.NewMemoryStore()
	bus, err := events.NewBus(config.EventsConfig{Type: "memory"})
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		_ = bus.Close()
		_ = store.Close()
	})

	logger := logging.NewNop()
	f := &adminFixture{store: store, agents: make(map[string]*agent.Agent)}
	provision := func(_ context.Context, n hashring.Node) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.agents[n.Name]; ok {
			return nil
		}
		a := agent.New(store, testKeys, agent.Options{
			Name:            n.Name,
			Host:            n.Host,
			Port:            n.Port,
			TransferTimeout: 5 * time.Second,
			LeaseTTL:        time.Second,
		}, storage.NewMemoryEngine(), nil, logger, nil)
		if err := a.Start(ctx); err != nil {
			return err
		}
		f.agents[n.Name] = a
		return nil
	}

	f.orch = orchestrator.New(store, testKeys, orchestrator.Options{
		ControlTimeout:      time.Second,
		TransferTimeout:     5 * time.Second,
		RegistrationTimeout: 2 * time.Second,
	}, orchestrator.ProvisionerFunc(provision), events.NewEmitter(bus, "test", logger), logger, nil)

	var nodes []hashring.Node
	for i, name := range seeds {
		nodes = append(nodes, hashring.NewNode(name, "127.0.0.1", 7300+i))
	}
	f.orch.SetSeeds(nodes)

	recorder := events.NewRecorder(bus, "test", 32, logger)
	require.NoError(t, recorder.Start())

	h := NewOrchestrator(logger, "test", f.orch, recorder)
	f.app = fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logger)})
	f.app.Get("/admin/ring", h.GetRing)
	f.app.Post("/admin/nodes", h.AddNodes)
	f.app.Delete("/admin/nodes", h.RemoveNodes)
	f.app.Post("/admin/cluster/start", h.StartCluster)
	f.app.Post("/admin/cluster/stop", h.StopCluster)
	f.app.Post("/admin/cluster/shutdown", h.ShutdownCluster)
	f.app.Get("/admin/events", h.ListEvents)
	return f
}

func (f *adminFixture) do(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req, testTimeout)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decodeOperation(t *testing.T, data []byte) models.OperationResponse {
	t.Helper()
	var op models.OperationResponse
	require.NoError(t, json.Unmarshal(data, &op))
	return op
}

func TestAdmin_GetRingEmpty(t *testing.T) {
	f := newAdminFixture(t, "a", "b")

	status, body := f.do(t, "GET", "/admin/ring", nil)
	require.Equal(t, fiber.StatusOK, status)

	var ring models.RingResponse
	require.NoError(t, json.Unmarshal(body, &ring))
	assert.Equal(t, 0, ring.Size)
	assert.NotNil(t, ring.Nodes)
	assert.Len(t, ring.Pool, 2)
}

func TestAdmin_AddAndRemoveNodes(t *testing.T) {
	f := newAdminFixture(t, "a", "b")

	status, body := f.do(t, "POST", "/admin/nodes", models.AddNodesRequest{Count: 2})
	require.Equal(t, fiber.StatusOK, status, string(body))
	op := decodeOperation(t, body)
	assert.True(t, op.Success)
	assert.Equal(t, "add_nodes", op.Operation)
	require.NotNil(t, op.Ring)
	assert.Equal(t, 2, op.Ring.Size)
	for _, n := range op.Ring.Nodes {
		assert.Equal(t, hashring.StatusRunning, n.Status)
	}

	status, body = f.do(t, "DELETE", "/admin/nodes", models.RemoveNodesRequest{Names: []string{"b"}})
	require.Equal(t, fiber.StatusOK, status, string(body))
	op = decodeOperation(t, body)
	assert.True(t, op.Success)
	assert.Equal(t, 1, op.Ring.Size)
	assert.Equal(t, []string{"a"}, f.orch.Ring().Names())
}

func TestAdmin_AddNodesValidation(t *testing.T) {
	f := newAdminFixture(t, "a")

	status, _ := f.do(t, "POST", "/admin/nodes", models.AddNodesRequest{Count: 0})
	assert.Equal(t, fiber.StatusBadRequest, status)

	req := httptest.NewRequest("POST", "/admin/nodes", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req, testTimeout)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	status, _ = f.do(t, "DELETE", "/admin/nodes", models.RemoveNodesRequest{})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestAdmin_EmptyPoolConflict(t *testing.T) {
	f := newAdminFixture(t)

	status, body := f.do(t, "POST", "/admin/nodes", models.AddNodesRequest{Count: 1})
	assert.Equal(t, fiber.StatusConflict, status)
	op := decodeOperation(t, body)
	assert.False(t, op.Success)
	assert.NotEmpty(t, op.Error)
}

func TestAdmin_LifecycleOnEmptyRing(t *testing.T) {
	f := newAdminFixture(t)

	for _, path := range []string{"/admin/cluster/start", "/admin/cluster/stop", "/admin/cluster/shutdown"} {
		t.Run(path, func(t *testing.T) {
			status, body := f.do(t, "POST", path, nil)
			assert.Equal(t, fiber.StatusConflict, status, string(body))
			assert.False(t, decodeOperation(t, body).Success)
		})
	}
}

func TestAdmin_StopStartShutdown(t *testing.T) {
	f := newAdminFixture(t, "a")
	status, body := f.do(t, "POST", "/admin/nodes", models.AddNodesRequest{Count: 1})
	require.Equal(t, fiber.StatusOK, status, string(body))

	status, _ = f.do(t, "POST", "/admin/cluster/stop", nil)
	require.Equal(t, fiber.StatusOK, status)
	n, _ := f.orch.Ring().Node("a")
	assert.Equal(t, hashring.StatusStopped, n.Status)

	status, _ = f.do(t, "POST", "/admin/cluster/start", nil)
	require.Equal(t, fiber.StatusOK, status)
	n, _ = f.orch.Ring().Node("a")
	assert.Equal(t, hashring.StatusRunning, n.Status)

	status, body = f.do(t, "POST", "/admin/cluster/shutdown", nil)
	require.Equal(t, fiber.StatusOK, status, string(body))
	assert.True(t, f.orch.Ring().Empty())
}

func TestAdmin_ListEvents(t *testing.T) {
	f := newAdminFixture(t, "a")
	status, _ := f.do(t, "POST", "/admin/nodes", models.AddNodesRequest{Count: 1})
	require.Equal(t, fiber.StatusOK, status)

	var list models.EventListResponse
	require.Eventually(t, func() bool {
		status, body := f.do(t, "GET", "/admin/events?limit=10", nil)
		if status != fiber.StatusOK || json.Unmarshal(body, &list) != nil {
			return false
		}
		return list.Count > 0
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, events.TypeRingCommitted, list.Events[0].Type)
	assert.Equal(t, []string{"a"}, list.Events[0].Ring)

	status, _ = f.do(t, "GET", "/admin/events?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
