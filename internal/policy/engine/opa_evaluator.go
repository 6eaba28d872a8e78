package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/sweetpy/intelXv2-sub001/internal/policy/domain"
)

const (
	scoreQuery = "data.intellx.security_level.score"
	levelQuery = "data.intellx.security_level.level"
)

// DefaultRegoPolicy weighs the environment signals and maps the score to a level.
// It matches domain.Assess.
const DefaultRegoPolicy = `package intellx.security_level

weights = {
	"secure_transport": 2,
	"crypto_available": 1,
	"secure_context": 1,
	"storage_available": 1,
}

default score = 0

score = sum([w | w := weights[signal]; input[signal] == true])

default level = "low"

level = "high" if {
	score >= 4
}

level = "medium" if {
	score >= 2
	score < 4
}
`

// OPAEvaluator evaluates the security level policy using OPA Rego.
type OPAEvaluator struct {
	score rego.PreparedEvalQuery
	level rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy (DefaultRegoPolicy when empty) and prepares its queries.
// The policy must define data.intellx.security_level.score and level.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultRegoPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"security_level.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	score, err := rego.New(rego.Query(scoreQuery), rego.Compiler(compiler)).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare score query: %w", err)
	}
	level, err := rego.New(rego.Query(levelQuery), rego.Compiler(compiler)).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare level query: %w", err)
	}
	return &OPAEvaluator{score: score, level: level}, nil
}

// HealthCheck verifies that the compiled policy evaluates to a valid level for an empty environment.
// Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	a, err := e.eval(ctx, domain.Environment{})
	if err != nil {
		return err
	}
	if !a.Level.Valid() {
		return fmt.Errorf("policy returned invalid level %q", a.Level)
	}
	return nil
}

// Evaluate evaluates the policy for env. On evaluation failure it logs, falls back to
// domain.Assess, and returns a nil error.
func (e *OPAEvaluator) Evaluate(ctx context.Context, env domain.Environment) (domain.Assessment, error) {
	a, err := e.eval(ctx, env)
	if err != nil {
		log.Printf("policy: evaluation failed: %v, using defaults", err)
		return domain.Assess(env), nil
	}
	return a, nil
}

func (e *OPAEvaluator) eval(ctx context.Context, env domain.Environment) (domain.Assessment, error) {
	input, err := buildInput(env)
	if err != nil {
		return domain.Assessment{}, fmt.Errorf("build input: %w", err)
	}

	levelRS, err := e.level.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.Assessment{}, fmt.Errorf("eval level: %w", err)
	}
	if len(levelRS) == 0 || len(levelRS[0].Expressions) == 0 {
		return domain.Assessment{}, fmt.Errorf("level query returned no result")
	}
	s, ok := levelRS[0].Expressions[0].Value.(string)
	if !ok || !domain.Level(s).Valid() {
		return domain.Assessment{}, fmt.Errorf("level query returned %v", levelRS[0].Expressions[0].Value)
	}
	out := domain.Assessment{Level: domain.Level(s)}

	scoreRS, err := e.score.Eval(ctx, rego.EvalInput(input))
	if err == nil && len(scoreRS) > 0 && len(scoreRS[0].Expressions) > 0 {
		switch v := scoreRS[0].Expressions[0].Value.(type) {
		case json.Number:
			if n, err := v.Int64(); err == nil {
				out.Score = int(n)
			}
		case float64:
			out.Score = int(v)
		case int64:
			out.Score = int(v)
		}
	}
	return out, nil
}

// buildInput converts env to the policy input document via its JSON form.
func buildInput(env domain.Environment) (map[string]interface{}, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	var input map[string]interface{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}
	return input, nil
}
