package service

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
	"github.com/shopspring/decimal"

	"github.com/timzifer/vedirect/channels"
	"github.com/timzifer/vedirect/config"
)

type derivedChannel struct {
	cfg     config.DerivedChannelConfig
	program *vm.Program
	deps    []string
}

// Info describes the derived channel for sinks that need metadata.
func (d *derivedChannel) Info() channels.Info {
	name := d.cfg.Name
	if name == "" {
		name = d.cfg.ID
	}
	return channels.Info{
		Channel:    channels.Channel(d.cfg.ID),
		Name:       name,
		Unit:       d.cfg.Unit,
		Kind:       channels.KindNumber,
		StateClass: "measurement",
	}
}

type identifierCollector struct {
	names map[string]struct{}
	calls map[string]struct{}
}

func (c *identifierCollector) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		c.names[n.Value] = struct{}{}
	case *ast.CallNode:
		if callee, ok := n.Callee.(*ast.IdentifierNode); ok {
			c.calls[callee.Value] = struct{}{}
		}
	}
}

// expressionDependencies lists the identifiers an expression reads.
func expressionDependencies(source string) ([]string, error) {
	tree, err := parser.Parse(source)
	if err != nil {
		return nil, err
	}
	collector := &identifierCollector{names: make(map[string]struct{}), calls: make(map[string]struct{})}
	ast.Walk(&tree.Node, collector)
	deps := make([]string, 0, len(collector.names))
	for name := range collector.names {
		if _, ok := collector.calls[name]; ok {
			continue
		}
		deps = append(deps, name)
	}
	sort.Strings(deps)
	return deps, nil
}

// compileDerived compiles the derived channels of a device. An expression
// may reference built-in channels and derived channels declared before it.
func compileDerived(cfgs []config.DerivedChannelConfig) ([]*derivedChannel, error) {
	known := make(map[string]struct{}, len(cfgs))
	out := make([]*derivedChannel, 0, len(cfgs))
	for _, cfg := range cfgs {
		source := strings.TrimSpace(cfg.Expression)
		deps, err := expressionDependencies(source)
		if err != nil {
			return nil, fmt.Errorf("derived channel %s: %w", cfg.ID, err)
		}
		for _, dep := range deps {
			if _, ok := channels.Lookup(channels.Channel(dep)); ok {
				continue
			}
			if _, ok := known[dep]; ok {
				continue
			}
			return nil, fmt.Errorf("derived channel %s: unknown channel %q", cfg.ID, dep)
		}
		program, err := expr.Compile(source, expr.Env(map[string]interface{}{}), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("derived channel %s: %w", cfg.ID, err)
		}
		out = append(out, &derivedChannel{cfg: cfg, program: program, deps: deps})
		known[cfg.ID] = struct{}{}
	}
	return out, nil
}

// evaluate runs the expression against env. It reports false while a
// dependency has no value yet or the result is not a finite number.
func (d *derivedChannel) evaluate(env map[string]interface{}, now time.Time) (channels.Reading, bool, error) {
	for _, dep := range d.deps {
		if _, ok := env[dep]; !ok {
			return channels.Reading{}, false, nil
		}
	}
	result, err := vm.Run(d.program, env)
	if err != nil {
		return channels.Reading{}, false, fmt.Errorf("derived channel %s: %w", d.cfg.ID, err)
	}
	value, ok := numeric(result)
	if !ok {
		return channels.Reading{}, false, fmt.Errorf("derived channel %s: result %T is not numeric", d.cfg.ID, result)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return channels.Reading{}, false, nil
	}
	return channels.Reading{
		Channel: channels.Channel(d.cfg.ID),
		Value:   channels.NumberValue(decimal.NewFromFloat(value)),
		Time:    now,
	}, true, nil
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// readingEnv exposes the numeric view of readings to expressions.
func readingEnv(readings []channels.Reading) map[string]interface{} {
	env := make(map[string]interface{}, len(readings))
	for _, reading := range readings {
		if v, ok := reading.Value.Float64(); ok {
			env[string(reading.Channel)] = v
		}
	}
	return env
}
