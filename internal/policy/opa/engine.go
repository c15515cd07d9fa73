// Package opa combines block reasons with a Rego decision policy.
package opa

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/johnivansn/timelock/internal/policy"
	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// DecisionQuery is the rule every policy must define.
const DecisionQuery = "data.timelock.decision.reason"

//go:embed default.rego
var defaultPolicy string

// Engine evaluates the decision policy. It implements policy.Combiner.
type Engine struct {
	policyDir string
	logger    zerolog.Logger

	mu    sync.RWMutex
	query rego.PreparedEvalQuery
}

var _ policy.Combiner = (*Engine)(nil)

// NewEngine loads every .rego file in policyDir, or the built-in policy
// when policyDir is empty.
func NewEngine(policyDir string, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policyDir: policyDir,
		logger:    logger.With().Str("component", "opa").Logger(),
	}

	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// loadPolicies returns module sources keyed by file name
func (e *Engine) loadPolicies() (map[string]string, error) {
	if e.policyDir == "" {
		return map[string]string{"default.rego": defaultPolicy}, nil
	}

	files, err := filepath.Glob(filepath.Join(e.policyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", e.policyDir)
	}

	modules := make(map[string]string, len(files))
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}
		modules[file] = string(content)
	}
	return modules, nil
}

// Reload re-reads and recompiles the policy. On error the previous policy
// stays in effect.
func (e *Engine) Reload() error {
	modules, err := e.loadPolicies()
	if err != nil {
		return err
	}

	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := []func(*rego.Rego){rego.Query(DecisionQuery)}
	for _, name := range names {
		module, err := ast.ParseModule(name, modules[name])
		if err != nil {
			return fmt.Errorf("failed to parse policy file %s: %w", name, err)
		}
		e.logger.Debug().Str("file", name).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
		opts = append(opts, rego.Module(name, modules[name]))
	}

	query, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare decision query: %w", err)
	}

	e.mu.Lock()
	e.query = query
	e.mu.Unlock()

	source := e.policyDir
	if source == "" {
		source = "built-in"
	}
	e.logger.Info().Str("source", source).Int("modules", len(names)).Msg("Decision policy loaded")
	return nil
}

// Combine evaluates the policy against the sub-reason flags of res.
func (e *Engine) Combine(ctx context.Context, res policy.Result) (policy.Reason, error) {
	started := time.Now()

	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	input := map[string]interface{}{
		"package":  res.Package,
		"app_name": res.AppName,
		"quota":    res.Quota,
		"schedule": res.Schedule,
		"date":     res.Date,
	}

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("decision query evaluation failed: %w", err)
	}
	e.logger.Debug().Dur("duration", time.Since(started)).Str("package", res.Package).Msg("Decision query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "", fmt.Errorf("policy does not define %s", DecisionQuery)
	}

	value, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("decision is not a string: %T", results[0].Expressions[0].Value)
	}
	return policy.ParseReason(value)
}
