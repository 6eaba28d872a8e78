package engine

import (
	"context"

	"github.com/sweetpy/intelXv2-sub001/internal/policy/domain"
)

// Evaluator assesses the security level of a client environment.
type Evaluator interface {
	// Evaluate returns the weighted score and level for env. Implementations fall back to
	// domain.Assess when their policy cannot be evaluated.
	Evaluate(ctx context.Context, env domain.Environment) (domain.Assessment, error)
}
