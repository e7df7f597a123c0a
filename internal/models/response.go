package models

import (
	"time"

	"github.com/soltixdb/ringkv/internal/events"
	"github.com/soltixdb/ringkv/internal/hashring"
)

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Role      string `json:"role,omitempty"`
	Node      string `json:"node,omitempty"`
	State     string `json:"state,omitempty"`
}

// RingResponse describes the committed ring and the unused seed pool
type RingResponse struct {
	Size  int             `json:"size"`
	Nodes []hashring.Node `json:"nodes"`
	Pool  []hashring.Node `json:"pool,omitempty"`
}

// NewRingResponse builds a RingResponse from a ring snapshot
func NewRingResponse(ring *hashring.Ring, pool []hashring.Node) RingResponse {
	nodes := ring.Nodes()
	if nodes == nil {
		nodes = []hashring.Node{}
	}
	return RingResponse{Size: ring.Len(), Nodes: nodes, Pool: pool}
}

// OperationResponse reports the coarse outcome of a cluster operation
type OperationResponse struct {
	Operation string        `json:"operation"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  string        `json:"duration"`
	Ring      *RingResponse `json:"ring,omitempty"`
}

// EventListResponse represents recent cluster events
type EventListResponse struct {
	Events []events.Event `json:"events"`
	Count  int            `json:"count"`
}

// KVResponse represents a single key read or write
type KVResponse struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
	Node  string `json:"node"`
}

// NodeStatusResponse describes a node's local view
type NodeStatusResponse struct {
	Name     string    `json:"name"`
	Status   string    `json:"status"`
	Locked   bool      `json:"locked"`
	RingSize int       `json:"ring_size"`
	Range    string    `json:"range,omitempty"`
	Backups  []string  `json:"backups"`
	Time     time.Time `json:"time"`
}

// ErrorResponse represents error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Path    string                 `json:"path,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewErrorResponse builds an ErrorResponse
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}
}
