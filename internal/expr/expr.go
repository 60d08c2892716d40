// Package expr compiles guard and effect expressions over WorldState
// facts. Guards are boolean expressions ("cash >= 20 && hungry"); effects
// are assignment statements ("cash = cash - 20") whose right-hand side is
// evaluated against the current state. Expressions are compiled once at
// domain load, so malformed syntax is rejected before any search runs.
package expr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/ZanzyTHEbar/htnscale"
)

// identifierPattern matches a legal assignment target.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// FunctionRegistry allows registration of custom functions for guard and
// effect expressions.
type FunctionRegistry struct {
	functions map[string]govaluate.ExpressionFunction
}

var globalFuncRegistry = &FunctionRegistry{functions: make(map[string]govaluate.ExpressionFunction)}

// RegisterFunction allows users to register a custom function for expressions.
func RegisterFunction(name string, fn govaluate.ExpressionFunction) {
	globalFuncRegistry.functions[name] = fn
}

// registeredFunctions returns the functions exposed to expressions.
func registeredFunctions() map[string]govaluate.ExpressionFunction {
	out := map[string]govaluate.ExpressionFunction{}
	for k, v := range globalFuncRegistry.functions {
		out[k] = v
	}
	return out
}

// ValidateGuard checks whether a guard expression is valid at domain load time.
func ValidateGuard(guard string) error {
	_, err := govaluate.NewEvaluableExpressionWithFunctions(guard, registeredFunctions())
	return err
}

// CompileGuard compiles a boolean expression into a GuardFunc over
// WorldState. A guard over a non-WorldState state, an evaluation error, or
// a non-boolean result all count as the guard not holding.
func CompileGuard(guard string) (htnscale.GuardFunc, error) {
	compiled, err := govaluate.NewEvaluableExpressionWithFunctions(guard, registeredFunctions())
	if err != nil {
		return nil, fmt.Errorf("invalid guard expression %q: %w", guard, err)
	}
	return func(st htnscale.State) bool {
		ws, ok := st.(htnscale.WorldState)
		if !ok {
			return false
		}
		out, err := compiled.Evaluate(parameters(ws))
		if err != nil {
			return false
		}
		b, ok := out.(bool)
		return ok && b
	}, nil
}

// CompileEffect compiles a "name = expression" statement into an EffectFunc
// over WorldState. The right-hand side is evaluated against the state the
// effect runs on, and the result is stored under the target fact.
func CompileEffect(stmt string) (htnscale.EffectFunc, error) {
	parts := strings.SplitN(stmt, "=", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid effect statement %q: expected 'name = expression'", stmt)
	}
	target := strings.TrimSpace(parts[0])
	if !identifierPattern.MatchString(target) {
		return nil, fmt.Errorf("invalid effect statement %q: target %q is not an identifier", stmt, target)
	}
	rhs := strings.TrimSpace(parts[1])
	compiled, err := govaluate.NewEvaluableExpressionWithFunctions(rhs, registeredFunctions())
	if err != nil {
		return nil, fmt.Errorf("invalid effect expression %q: %w", rhs, err)
	}
	return func(st htnscale.State) {
		ws, ok := st.(htnscale.WorldState)
		if !ok {
			return
		}
		out, err := compiled.Evaluate(parameters(ws))
		if err != nil {
			return
		}
		ws[target] = out
	}, nil
}

// CompileEffects compiles a list of effect statements, preserving order.
func CompileEffects(stmts []string) ([]htnscale.EffectFunc, error) {
	effects := make([]htnscale.EffectFunc, 0, len(stmts))
	for _, stmt := range stmts {
		eff, err := CompileEffect(stmt)
		if err != nil {
			return nil, err
		}
		effects = append(effects, eff)
	}
	return effects, nil
}

// parameters widens integer facts to float64, the numeric representation
// expression evaluation works in, so "cash >= 20" behaves the same whether
// cash was authored as an int or produced by an earlier effect.
func parameters(ws htnscale.WorldState) map[string]interface{} {
	params := make(map[string]interface{}, len(ws))
	for k, v := range ws {
		switch n := v.(type) {
		case int:
			params[k] = float64(n)
		case int32:
			params[k] = float64(n)
		case int64:
			params[k] = float64(n)
		case float32:
			params[k] = float64(n)
		default:
			params[k] = v
		}
	}
	return params
}
