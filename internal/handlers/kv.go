package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/ringkv/internal/cluster"
	"github.com/soltixdb/ringkv/internal/middleware"
	"github.com/soltixdb/ringkv/internal/models"
)

// GetKey reads a key owned by this node
func (h *Handler) GetKey(c *fiber.Ctx) error {
	key := c.Params("key")
	value, err := h.agent.Get(c.UserContext(), key)
	if err != nil {
		return h.dataError(c, key, err)
	}
	return c.JSON(models.KVResponse{Key: key, Value: string(value), Node: h.agent.Name()})
}

// PutKey writes a key. A JSON body {"value": "..."} is unwrapped; any other
// content type is stored as raw bytes.
func (h *Handler) PutKey(c *fiber.Ctx) error {
	key := c.Params("key")

	var value []byte
	if c.Is("json") {
		var req models.PutRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body: "+err.Error())
		}
		value = []byte(req.Value)
	} else {
		value = append([]byte(nil), c.Body()...)
	}

	if err := h.agent.Put(c.UserContext(), key, value); err != nil {
		return h.dataError(c, key, err)
	}
	return c.JSON(models.KVResponse{Key: key, Node: h.agent.Name()})
}

// DeleteKey removes a key
func (h *Handler) DeleteKey(c *fiber.Ctx) error {
	key := c.Params("key")
	if err := h.agent.Delete(c.UserContext(), key); err != nil {
		return h.dataError(c, key, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// NodeStatus reports the node's lifecycle state and its view of the ring
func (h *Handler) NodeStatus(c *fiber.Ctx) error {
	resp := models.NodeStatusResponse{
		Name:    h.agent.Name(),
		Status:  h.agent.Status().String(),
		Locked:  h.agent.Locked(),
		Backups: h.agent.Backups(),
		Time:    time.Now().UTC(),
	}
	if ring := h.agent.Ring(); ring != nil {
		resp.RingSize = ring.Len()
		if n, ok := ring.Node(h.agent.Name()); ok {
			resp.Range = n.Range().String()
		}
	}
	if resp.Backups == nil {
		resp.Backups = []string{}
	}
	return c.JSON(resp)
}

// ConfigureReplication replaces the node's backup set
func (h *Handler) ConfigureReplication(c *fiber.Ctx) error {
	var req models.ReplicationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}
	if err := h.agent.ConfigureBackups(c.UserContext(), req.Backups); err != nil {
		h.logger.Error("Failed to configure backups", "backups", req.Backups, "error", err)
		return err
	}
	h.logger.Info("Backups configured", "backups", req.Backups)
	backups := h.agent.Backups()
	if backups == nil {
		backups = []string{}
	}
	return c.JSON(fiber.Map{"backups": backups})
}

// dataError answers a refused or failed data request. A key owned elsewhere
// carries the owner's address so clients can redirect.
func (h *Handler) dataError(c *fiber.Ctx, key string, err error) error {
	status, code := middleware.StatusFor(err)
	resp := models.ErrorResponse{Error: models.ErrorDetail{
		Code:    code,
		Message: err.Error(),
		Path:    c.Path(),
	}}
	if errors.Is(err, cluster.ErrNotOwner) {
		if owner, ok := h.agent.Owner(key); ok {
			resp.Error.Details = map[string]interface{}{
				"owner":   owner.Name,
				"address": owner.Address(),
			}
		}
	}
	if status >= fiber.StatusInternalServerError {
		h.logger.Error("Data request failed", "key", key, "method", c.Method(), "error", err)
	}
	return c.Status(status).JSON(resp)
}
