// Package hooks runs operator-authored hook expressions against feed events.
//
// Hooks are CEL expressions evaluated with two variables in scope: the
// triggering event and the agent's state snapshot, both as string-keyed
// maps. A hook returns a map describing its decision, e.g.
// {"decision": "WAKE", "reason": "CPI print"}. Expressions are compiled once
// and cached; evaluation is bounded by a hard timeout so a pathological
// expression cannot stall the event pipeline.
package hooks

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// EvalTimeout bounds a single hook evaluation.
const EvalTimeout = 200 * time.Millisecond

// Evaluator compiles and runs hook expressions.
type Evaluator struct {
	env *cel.Env

	mu    sync.Mutex
	cache map[string]cel.Program
}

// NewEvaluator creates an evaluator with an empty program cache.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.AnyType)),
		cel.Variable("state", cel.MapType(cel.StringType, cel.AnyType)),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %v", err)
	}
	return &Evaluator{
		env:   env,
		cache: map[string]cel.Program{},
	}, nil
}

// Evaluate runs one hook expression against an event and agent state. The
// expression must produce a string-keyed map.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, event, state map[string]any) (map[string]any, error) {
	program, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	evalCtx, cancel := context.WithTimeout(ctx, EvalTimeout)
	defer cancel()

	out, _, err := program.ContextEval(evalCtx, map[string]any{
		"event": event,
		"state": state,
	})
	if err != nil {
		return nil, fmt.Errorf("error evaluating hook expression: %v", err)
	}

	native, err := out.ConvertToNative(reflect.TypeOf(map[string]any{}))
	if err != nil {
		return nil, fmt.Errorf("hook expression must produce a map, got %s: %v", out.Type(), err)
	}
	result, ok := native.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("hook expression must produce a map, got %T", native)
	}
	for key, value := range result {
		result[key] = nativeValue(value)
	}
	return result, nil
}

// nativeValue converts leftover CEL values into plain Go values. Map
// conversion in cel-go is shallow: nested maps and lists come back as
// ref.Val, so they are unwrapped recursively here.
func nativeValue(value any) any {
	val, ok := value.(ref.Val)
	if !ok {
		return value
	}
	switch val.(type) {
	case traits.Mapper:
		native, err := val.ConvertToNative(reflect.TypeOf(map[string]any{}))
		if err != nil {
			return val.Value()
		}
		nested, ok := native.(map[string]any)
		if !ok {
			return native
		}
		for key, nestedValue := range nested {
			nested[key] = nativeValue(nestedValue)
		}
		return nested
	case traits.Lister:
		native, err := val.ConvertToNative(reflect.TypeOf([]any{}))
		if err != nil {
			return val.Value()
		}
		list, ok := native.([]any)
		if !ok {
			return native
		}
		for i, element := range list {
			list[i] = nativeValue(element)
		}
		return list
	default:
		return val.Value()
	}
}

func (e *Evaluator) compile(expression string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok := e.cache[expression]; ok {
		return program, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error compiling hook expression: %v", issues.Err())
	}
	program, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("error creating hook program: %v", err)
	}
	e.cache[expression] = program
	return program, nil
}
