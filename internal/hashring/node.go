package hashring

import (
	"fmt"
	"net"
	"strconv"
)

// Status is the lifecycle state of a node.
type Status int

const (
	StatusOffline Status = iota
	StatusInactive
	StatusStarting
	StatusRunning
	StatusStopping
	StatusStopped
)

var statusNames = map[Status]string{
	StatusOffline:  "OFFLINE",
	StatusInactive: "INACTIVE",
	StatusStarting: "STARTING",
	StatusRunning:  "RUNNING",
	StatusStopping: "STOPPING",
	StatusStopped:  "STOPPED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown node status %q", text)
}

// CacheConfig is the read-cache policy a node runs its engine with.
type CacheConfig struct {
	Policy string `json:"policy" mapstructure:"policy"` // none, lru, 2q, arc
	Size   int    `json:"size" mapstructure:"size"`
}

// Node describes a cluster member. Values are copied in and out of rings, so
// a Node held by a caller never changes underneath it.
type Node struct {
	Name            string      `json:"name"`
	Host            string      `json:"host"`
	Port            int         `json:"port"`
	Hash            Hash        `json:"hash"`
	PredecessorHash Hash        `json:"predecessor_hash"`
	Status          Status      `json:"status"`
	Locked          bool        `json:"locked"`
	Cache           CacheConfig `json:"cache"`
}

// NewNode creates an OFFLINE node whose hash is derived from host:port.
func NewNode(name, host string, port int) Node {
	return Node{
		Name:   name,
		Host:   host,
		Port:   port,
		Hash:   ComputeHash(JoinHostPort(host, port)),
		Status: StatusOffline,
	}
}

// JoinHostPort formats a host and port as host:port.
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Address returns host:port.
func (n Node) Address() string {
	return JoinHostPort(n.Host, n.Port)
}

// Range returns the arc this node owns.
func (n Node) Range() Range {
	return Range{Start: n.PredecessorHash, End: n.Hash}
}

// Owns reports whether h falls in the node's range.
func (n Node) Owns(h Hash) bool {
	return n.Range().Contains(h)
}
