package models

import "github.com/soltixdb/ringkv/internal/hashring"

// AddNodesRequest represents a scale-out request
type AddNodesRequest struct {
	Count int                  `json:"count"`
	Cache hashring.CacheConfig `json:"cache"`
}

// RemoveNodesRequest represents a scale-in request
type RemoveNodesRequest struct {
	Names []string `json:"names"`
}

// PutRequest represents a key write. Value is carried as a string; raw
// bodies are accepted too when the content type is not JSON.
type PutRequest struct {
	Value string `json:"value"`
}

// ReplicationRequest replaces a node's backup set
type ReplicationRequest struct {
	Backups []string `json:"backups"`
}
