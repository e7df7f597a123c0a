package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/ringkv/internal/events"
	"github.com/soltixdb/ringkv/internal/models"
)

const defaultEventLimit = 100

// GetRing returns the committed ring and the remaining seed pool
func (h *Handler) GetRing(c *fiber.Ctx) error {
	return c.JSON(models.NewRingResponse(h.orchestrator.Ring(), h.orchestrator.Pool()))
}

// AddNodes grows the ring from the seed pool
func (h *Handler) AddNodes(c *fiber.Ctx) error {
	var req models.AddNodesRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}
	if req.Count <= 0 {
		return badRequest(c, "count must be positive")
	}

	start := time.Now()
	ok, err := h.orchestrator.AddNodes(c.UserContext(), req.Count, req.Cache)
	return h.operationResult(c, "add_nodes", start, ok, err)
}

// RemoveNodes drains and shuts down the named members
func (h *Handler) RemoveNodes(c *fiber.Ctx) error {
	var req models.RemoveNodesRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}
	if len(req.Names) == 0 {
		return badRequest(c, "names is required")
	}

	start := time.Now()
	ok, err := h.orchestrator.RemoveNodes(c.UserContext(), req.Names)
	return h.operationResult(c, "remove_nodes", start, ok, err)
}

// StartCluster sends START to every member
func (h *Handler) StartCluster(c *fiber.Ctx) error {
	start := time.Now()
	ok, err := h.orchestrator.Start(c.UserContext())
	return h.operationResult(c, "start", start, ok, err)
}

// StopCluster sends STOP to every member
func (h *Handler) StopCluster(c *fiber.Ctx) error {
	start := time.Now()
	ok, err := h.orchestrator.Stop(c.UserContext())
	return h.operationResult(c, "stop", start, ok, err)
}

// ShutdownCluster sends SHUTDOWN to every member and clears the ring
func (h *Handler) ShutdownCluster(c *fiber.Ctx) error {
	start := time.Now()
	ok, err := h.orchestrator.Shutdown(c.UserContext())
	return h.operationResult(c, "shutdown", start, ok, err)
}

// ListEvents returns the most recent cluster events seen on the bus
func (h *Handler) ListEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultEventLimit)
	if limit <= 0 {
		return badRequest(c, "limit must be positive")
	}
	var list []events.Event
	if h.recorder != nil {
		list = h.recorder.Events(limit)
	}
	if list == nil {
		list = []events.Event{}
	}
	return c.JSON(models.EventListResponse{Events: list, Count: len(list)})
}
