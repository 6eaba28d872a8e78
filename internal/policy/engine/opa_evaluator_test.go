package engine

import (
	"context"
	"testing"

	"github.com/sweetpy/intelXv2-sub001/internal/policy/domain"
)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, "")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_MatchesGoAssessment(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, "")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	// Every combination of the four signals.
	for mask := 0; mask < 16; mask++ {
		env := domain.Environment{
			SecureTransport:  mask&1 != 0,
			CryptoAvailable:  mask&2 != 0,
			SecureContext:    mask&4 != 0,
			StorageAvailable: mask&8 != 0,
		}
		got, err := e.Evaluate(ctx, env)
		if err != nil {
			t.Fatalf("Evaluate(%+v): %v", env, err)
		}
		if want := domain.Assess(env); got != want {
			t.Errorf("Evaluate(%+v) = %+v, want %+v", env, got, want)
		}
	}
}

func TestOPAEvaluator_CustomPolicy(t *testing.T) {
	const strict = `package intellx.security_level

default score = 0

default level = "low"

level = "high" if {
	input.secure_transport
	input.secure_context
}
`
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, strict)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	got, _ := e.Evaluate(ctx, domain.Environment{SecureTransport: true, CryptoAvailable: true, StorageAvailable: true})
	if got.Level != domain.LevelLow {
		t.Errorf("Level = %q, want low", got.Level)
	}
	got, _ = e.Evaluate(ctx, domain.Environment{SecureTransport: true, SecureContext: true})
	if got.Level != domain.LevelHigh {
		t.Errorf("Level = %q, want high", got.Level)
	}
}

func TestOPAEvaluator_InvalidLevelFallsBack(t *testing.T) {
	const broken = `package intellx.security_level

score = 99

level = "extreme"
`
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, broken)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck should reject an invalid level")
	}
	env := domain.Environment{SecureTransport: true}
	got, err := e.Evaluate(ctx, env)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got != domain.Assess(env) {
		t.Errorf("Evaluate = %+v, want Go fallback %+v", got, domain.Assess(env))
	}
}

func TestNewOPAEvaluator_CompileError(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package broken\n\nallow if {"); err == nil {
		t.Fatal("NewOPAEvaluator should fail on invalid rego")
	}
}
