package cluster

import "path"

// DefaultPrefix is the root of every key written by ringkv.
const DefaultPrefix = "/ringkv"

// Keys builds coordination-service paths under a common prefix.
type Keys struct {
	Prefix string
}

// NewKeys returns a key layout rooted at prefix (DefaultPrefix when empty).
func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Keys{Prefix: prefix}
}

// Mailbox is the single-slot control mailbox of a node.
func (k Keys) Mailbox(node string) string {
	return path.Join(k.Prefix, "mailbox", node)
}

// Registration is the ephemeral key a live node holds.
func (k Keys) Registration(node string) string {
	return path.Join(k.Prefix, "nodes", node)
}

// RegistrationPrefix covers every node registration key.
func (k Keys) RegistrationPrefix() string {
	return path.Join(k.Prefix, "nodes") + "/"
}

// Ring is the committed ring metadata.
func (k Keys) Ring() string {
	return path.Join(k.Prefix, "ring")
}

// Unavailable lists the members marked OFFLINE in the committed ring, which
// the ring metadata itself does not carry.
func (k Keys) Unavailable() string {
	return path.Join(k.Prefix, "unavailable")
}

// NodeFromRegistration extracts the node name from a registration key.
func (k Keys) NodeFromRegistration(key string) string {
	prefix := k.RegistrationPrefix()
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return ""
	}
	return key[len(prefix):]
}
