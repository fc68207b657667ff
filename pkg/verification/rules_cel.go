package verification

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// RuleEvaluator evaluates domain rules against a verification input. A rule
// that evaluates false fails verification; an evaluation error fails closed.
type RuleEvaluator interface {
	Evaluate(rules []string, input map[string]any) (failedRule string, err error)
}

// CELRuleEvaluator evaluates rules written in CEL. Compiled programs are
// cached by expression; evaluation carries a hard cost limit so a
// pathological rule cannot stall verification.
type CELRuleEvaluator struct {
	env      *cel.Env
	prgCache map[string]cel.Program
	mu       sync.RWMutex
}

// NewCELRuleEvaluator creates an evaluator exposing the action, its payloads
// and the evaluation timestamp to rule expressions.
func NewCELRuleEvaluator() (*CELRuleEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.DynType),
		cel.Variable("inputs", cel.DynType),
		cel.Variable("outputs", cel.DynType),
		cel.Variable("timestamp", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &CELRuleEvaluator{
		env:      env,
		prgCache: make(map[string]cel.Program),
	}, nil
}

// Evaluate runs each rule in order and returns the first rule that failed,
// or "" when all pass.
func (e *CELRuleEvaluator) Evaluate(rules []string, input map[string]any) (string, error) {
	for _, rule := range rules {
		allowed, err := e.evaluateExpr(rule, input)
		if err != nil {
			return rule, fmt.Errorf("rule %q: %w", rule, err)
		}
		if !allowed {
			return rule, nil
		}
	}
	return "", nil
}

func (e *CELRuleEvaluator) evaluateExpr(expr string, input map[string]any) (bool, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()

	if !hit {
		e.mu.Lock()
		// Double check
		if prg, hit = e.prgCache[expr]; !hit {
			ast, issues := e.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := e.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			e.prgCache[expr] = p
			prg = p
		}
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}
