package orchestrator

import (
	"context"

	"github.com/soltixdb/ringkv/internal/hashring"
	"github.com/soltixdb/ringkv/internal/logging"
)

// Provisioner launches the process of a joining node. Provision returns once
// the launch has been requested; the orchestrator then waits for the node to
// register on its own.
//
// node.Cache is the read cache requested for the node. A node builds its
// engine once at launch, so the provisioner is where it takes effect: it
// becomes the node.cache section of the launched process's configuration.
type Provisioner interface {
	Provision(ctx context.Context, node hashring.Node) error
}

// ManualProvisioner leaves the launch to an operator and only logs what to
// start.
type ManualProvisioner struct {
	Logger *logging.Logger
}

// Provision logs the node an operator should start, with the settings it
// must be launched with.
func (p ManualProvisioner) Provision(_ context.Context, node hashring.Node) error {
	p.Logger.Info("Start node process",
		"node.name", node.Name,
		"node.host", node.Host,
		"node.port", node.Port,
		"node.cache.policy", node.Cache.Policy,
		"node.cache.size", node.Cache.Size)
	return nil
}

// ProvisionerFunc adapts a function to Provisioner.
type ProvisionerFunc func(ctx context.Context, node hashring.Node) error

// Provision calls f.
func (f ProvisionerFunc) Provision(ctx context.Context, node hashring.Node) error {
	return f(ctx, node)
}
