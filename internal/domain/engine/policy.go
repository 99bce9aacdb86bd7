package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"storesync/internal/core/apperror"
	"storesync/internal/domain/catalog"
)

// PolicyEvaluator evaluates per-instance skip policies. A policy is a CEL
// expression over the ERP snapshot; when it evaluates to true the entity is
// recorded as skipped instead of being pushed.
//
// Compiled programs are cached by expression source. Instances share the
// evaluator, so a policy used by many instances compiles once.
type PolicyEvaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewPolicyEvaluator builds the CEL environment exposing the snapshot fields
// available to policies.
func NewPolicyEvaluator() (*PolicyEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("name", cel.StringType),
		cel.Variable("sku", cel.StringType),
		cel.Variable("list_price", cel.DoubleType),
		cel.Variable("active", cel.BoolType),
		cel.Variable("published", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("build policy env: %w", err)
	}
	return &PolicyEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile validates a policy expression without evaluating it. Used by the
// registry to reject malformed policies at configuration time rather than
// during a sync pass.
func (p *PolicyEvaluator) Compile(expr string) error {
	_, err := p.program(expr)
	return err
}

// Evaluate runs the policy against a snapshot. A nil or empty expression
// never skips. Compile and type errors are terminal validation errors.
func (p *PolicyEvaluator) Evaluate(ctx context.Context, expr *string, snap *catalog.ErpSnapshot) (bool, error) {
	if expr == nil || *expr == "" {
		return false, nil
	}

	prg, err := p.program(*expr)
	if err != nil {
		return false, err
	}

	sku := ""
	if snap.SKU != nil {
		sku = *snap.SKU
	}
	listPrice := 0.0
	if snap.ListPrice != nil {
		listPrice = snap.ListPrice.InexactFloat64()
	}

	out, _, err := prg.Eval(map[string]any{
		"kind":       string(snap.Kind),
		"name":       snap.Name,
		"sku":        sku,
		"list_price": listPrice,
		"active":     snap.Active,
		"published":  snap.Published,
	})
	if err != nil {
		return false, apperror.NewValidation("skip policy evaluation failed").
			WithDetail("policy", *expr).
			WithCause(err)
	}

	skip, ok := out.Value().(bool)
	if !ok {
		return false, apperror.NewValidation("skip policy must evaluate to bool").
			WithDetail("policy", *expr)
	}
	return skip, nil
}

func (p *PolicyEvaluator) program(expr string) (cel.Program, error) {
	p.mu.RLock()
	prg, ok := p.programs[expr]
	p.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := p.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, apperror.NewValidation("invalid skip policy expression").
			WithDetail("policy", expr).
			WithCause(issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, apperror.NewValidation("skip policy must evaluate to bool").
			WithDetail("policy", expr).
			WithDetail("type", ast.OutputType().String())
	}

	prg, err := p.env.Program(ast)
	if err != nil {
		return nil, apperror.NewValidation("invalid skip policy expression").
			WithDetail("policy", expr).
			WithCause(err)
	}

	p.mu.Lock()
	p.programs[expr] = prg
	p.mu.Unlock()
	return prg, nil
}
