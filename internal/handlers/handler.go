package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/ringkv/internal/agent"
	"github.com/soltixdb/ringkv/internal/events"
	"github.com/soltixdb/ringkv/internal/logging"
	"github.com/soltixdb/ringkv/internal/middleware"
	"github.com/soltixdb/ringkv/internal/models"
	"github.com/soltixdb/ringkv/internal/orchestrator"
)

// Roles reported by the health endpoint
const (
	RoleOrchestrator = "orchestrator"
	RoleNode         = "node"
)

// Handler contains all HTTP handlers. An orchestrator process fills
// orchestrator and recorder, a node process fills agent.
type Handler struct {
	logger  *logging.Logger
	version string
	role    string

	orchestrator *orchestrator.Orchestrator
	recorder     *events.Recorder
	agent        *agent.Agent
}

// NewOrchestrator creates the admin API handlers
func NewOrchestrator(logger *logging.Logger, version string, o *orchestrator.Orchestrator, recorder *events.Recorder) *Handler {
	return &Handler{
		logger:       logger,
		version:      version,
		role:         RoleOrchestrator,
		orchestrator: o,
		recorder:     recorder,
	}
}

// NewNode creates the node data API handlers
func NewNode(logger *logging.Logger, version string, a *agent.Agent) *Handler {
	return &Handler{
		logger:  logger,
		version: version,
		role:    RoleNode,
		agent:   a,
	}
}

// operationResult writes the outcome of a cluster operation. A partial
// failure (some nodes dropped) is reported as 207 with success=false.
func (h *Handler) operationResult(c *fiber.Ctx, name string, start time.Time, ok bool, err error) error {
	resp := models.OperationResponse{
		Operation: name,
		Success:   ok,
		Duration:  time.Since(start).String(),
	}
	ring := models.NewRingResponse(h.orchestrator.Ring(), nil)
	resp.Ring = &ring

	status := fiber.StatusOK
	switch {
	case err != nil:
		status, _ = middleware.StatusFor(err)
		resp.Error = err.Error()
	case !ok:
		status = fiber.StatusMultiStatus
	}
	return c.Status(status).JSON(resp)
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(models.NewErrorResponse("INVALID_REQUEST", message))
}
