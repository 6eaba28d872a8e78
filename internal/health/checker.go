// Package health publishes readiness of the server's dependencies on the standard gRPC health service.
package health

import (
	"context"
	"log"
	"sort"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const checkTimeout = 5 * time.Second

// Check probes one dependency (e.g. a database ping or a policy evaluation).
type Check func(ctx context.Context) error

// Checker runs its checks and sets the overall serving status on a gRPC health server.
type Checker struct {
	server *health.Server
	names  []string
	checks map[string]Check
}

// NewChecker returns a Checker publishing to server. With no checks the server is always SERVING.
func NewChecker(server *health.Server, checks map[string]Check) *Checker {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Checker{server: server, names: names, checks: checks}
}

// Run executes every check and reports whether all passed. The overall ("") service is SERVING
// only when every check passed.
func (c *Checker) Run(ctx context.Context) bool {
	ok := true
	for _, name := range c.names {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.checks[name](checkCtx)
		cancel()
		if err != nil {
			log.Printf("health: %s: %v", name, err)
			ok = false
		}
	}
	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	c.server.SetServingStatus("", st)
	return ok
}

// Tick adapts Run for periodic execution.
func (c *Checker) Tick(ctx context.Context) {
	c.Run(ctx)
}
