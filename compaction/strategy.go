package compaction

import (
	"context"
	"fmt"
	"time"

	"github.com/youssefsiam38/ctxbudget/tokens"
	"github.com/youssefsiam38/ctxbudget/types"
)

// StrategyExecutor defines the interface for bundled strategy implementations.
type StrategyExecutor interface {
	// Name returns the strategy name.
	Name() types.Strategy

	// Quality returns the strategy-level quality reported on every result.
	Quality() float64

	// Execute compresses text and returns the combined result.
	Execute(ctx context.Context, text string, contentType tokens.ContentType) (*Result, error)
}

// StrategySteps returns the algorithms a strategy runs, in order.
func StrategySteps(strategy types.Strategy) ([]types.Algorithm, float64, bool) {
	switch strategy {
	case types.StrategyConservative:
		return []types.Algorithm{types.AlgorithmMinify}, QualityConservative, true
	case types.StrategyBalanced:
		return []types.Algorithm{types.AlgorithmMinify, types.AlgorithmDeduplicate}, QualityBalanced, true
	case types.StrategyAggressive:
		return []types.Algorithm{types.AlgorithmMinify, types.AlgorithmDeduplicate, types.AlgorithmTruncate}, QualityAggressive, true
	default:
		return nil, 0, false
	}
}

// StrategyFactory creates strategy executors bound to a compressor.
type StrategyFactory struct {
	compressor *Compressor
}

// NewStrategyFactory creates a new strategy factory.
func NewStrategyFactory(compressor *Compressor) *StrategyFactory {
	return &StrategyFactory{compressor: compressor}
}

// Create returns the executor for strategy.
func (f *StrategyFactory) Create(strategy types.Strategy) (StrategyExecutor, error) {
	steps, quality, ok := StrategySteps(strategy)
	if !ok {
		return nil, NewError("CreateStrategy", fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy))
	}
	return &pipelineStrategy{
		name:       strategy,
		steps:      steps,
		quality:    quality,
		compressor: f.compressor,
	}, nil
}

// pipelineStrategy feeds each algorithm's output into the next.
type pipelineStrategy struct {
	name       types.Strategy
	steps      []types.Algorithm
	quality    float64
	compressor *Compressor
}

func (s *pipelineStrategy) Name() types.Strategy {
	return s.name
}

func (s *pipelineStrategy) Quality() float64 {
	return s.quality
}

// Execute runs every step. A failing step is skipped with a warning so the
// text from the previous step carries on.
func (s *pipelineStrategy) Execute(ctx context.Context, text string, contentType tokens.ContentType) (*Result, error) {
	start := time.Now()
	c := s.compressor
	contentType = resolveContentType(text, contentType)

	current := text
	var warnings []string
	var last types.Algorithm
	for _, step := range s.steps {
		if err := ctx.Err(); err != nil {
			return nil, wrapError("ExecuteStrategy", err)
		}
		out, _, stepWarnings, err := c.run(ctx, current, step, contentType)
		warnings = append(warnings, stepWarnings...)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", step, err))
			continue
		}
		current = out
		last = step
	}

	result := c.newResult(text, current, contentType, s.quality, warnings)
	result.Algorithm = last
	result.Strategy = s.name
	result.Steps = append([]types.Algorithm(nil), s.steps...)
	result.Duration = time.Since(start)

	c.logger.Debug("applied strategy",
		"strategy", s.name,
		"original_tokens", result.OriginalTokens,
		"compressed_tokens", result.CompressedTokens,
	)
	return result, nil
}
