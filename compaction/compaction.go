package compaction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/youssefsiam38/ctxbudget/tokens"
	"github.com/youssefsiam38/ctxbudget/types"
)

// Logger interface for compaction logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a no-op implementation of Logger.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Result contains the outcome of one compression.
type Result struct {
	// Original is the input text.
	Original string

	// Compressed is the output text.
	Compressed string

	// OriginalTokens is the token count before compression.
	OriginalTokens int

	// CompressedTokens is the token count after compression.
	CompressedTokens int

	// TokensSaved is OriginalTokens - CompressedTokens. It is negative when the
	// output grew, e.g. a reference marker for a very short text.
	TokensSaved int

	// Ratio is CompressedTokens / OriginalTokens, or 1 for empty input.
	Ratio float64

	// Quality estimates the share of information preserved, in [0,1].
	Quality float64

	// Algorithm is the algorithm used, or the last one a strategy ran.
	Algorithm types.Algorithm

	// Strategy is set when the result came from a bundled strategy.
	Strategy types.Strategy

	// Steps lists the algorithms run, in order.
	Steps []types.Algorithm

	// Warnings holds non-fatal problems such as fallbacks.
	Warnings []string

	// Duration is how long the compression took.
	Duration time.Duration
}

// BatchResult aggregates CompressBatch results.
type BatchResult struct {
	Results               []*Result
	TotalOriginalTokens   int
	TotalCompressedTokens int
	TotalSaved            int
	AverageRatio          float64
	AverageQuality        float64
}

// Compressor runs compression algorithms and strategies and owns the
// reference store backing the reference algorithm.
type Compressor struct {
	counter    *tokens.Counter
	summarizer Summarizer
	refs       *ReferenceStore
	config     *Config
	logger     Logger
	factory    *StrategyFactory
}

// New creates a new Compressor. A nil counter gets a default one, a nil
// summarizer makes summarize fail with ErrNoSummarizer and a nil config uses
// DefaultConfig.
func New(counter *tokens.Counter, summarizer Summarizer, config *Config, logger Logger) *Compressor {
	if counter == nil {
		counter = tokens.New(nil)
	}
	if config == nil {
		config = DefaultConfig()
	} else {
		config.ApplyDefaults()
	}
	if logger == nil {
		logger = noopLogger{}
	}

	c := &Compressor{
		counter:    counter,
		summarizer: summarizer,
		refs:       NewReferenceStore(),
		config:     config,
		logger:     logger,
	}
	c.factory = NewStrategyFactory(c)
	return c
}

// References returns the compressor's reference store.
func (c *Compressor) References() *ReferenceStore {
	return c.refs
}

// Config returns the compressor configuration.
func (c *Compressor) Config() *Config {
	return c.config
}

// Compress runs one algorithm over text. ContentAuto detects the type first.
func (c *Compressor) Compress(ctx context.Context, text string, algorithm types.Algorithm, contentType tokens.ContentType) (*Result, error) {
	start := time.Now()
	contentType = resolveContentType(text, contentType)

	compressed, quality, warnings, err := c.run(ctx, text, algorithm, contentType)
	if err != nil {
		return nil, err
	}

	result := c.newResult(text, compressed, contentType, quality, warnings)
	result.Algorithm = algorithm
	result.Steps = []types.Algorithm{algorithm}
	result.Duration = time.Since(start)

	c.logger.Debug("compressed text",
		"algorithm", algorithm,
		"original_tokens", result.OriginalTokens,
		"compressed_tokens", result.CompressedTokens,
	)
	return result, nil
}

// CompressWithStrategy runs a bundled strategy over text.
func (c *Compressor) CompressWithStrategy(ctx context.Context, text string, strategy types.Strategy, contentType tokens.ContentType) (*Result, error) {
	executor, err := c.factory.Create(strategy)
	if err != nil {
		return nil, err
	}
	return executor.Execute(ctx, text, contentType)
}

// CompressBatch applies one algorithm to every text and aggregates totals and
// means. The first failing item aborts the batch.
func (c *Compressor) CompressBatch(ctx context.Context, texts []string, algorithm types.Algorithm, contentType tokens.ContentType) (*BatchResult, error) {
	batch := &BatchResult{Results: make([]*Result, 0, len(texts))}
	var ratioSum, qualitySum float64

	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, wrapError("CompressBatch", err)
		}
		result, err := c.Compress(ctx, text, algorithm, contentType)
		if err != nil {
			return nil, NewError("CompressBatch", err).
				WithAlgorithm(algorithm).
				WithContext("index", i)
		}
		batch.Results = append(batch.Results, result)
		batch.TotalOriginalTokens += result.OriginalTokens
		batch.TotalCompressedTokens += result.CompressedTokens
		batch.TotalSaved += result.TokensSaved
		ratioSum += result.Ratio
		qualitySum += result.Quality
	}

	if n := len(batch.Results); n > 0 {
		batch.AverageRatio = ratioSum / float64(n)
		batch.AverageQuality = qualitySum / float64(n)
	}
	return batch, nil
}

// ResolveReference returns the exact text behind a reference marker or a
// bare hash. Unknown references fail with ErrReferenceNotFound.
func (c *Compressor) ResolveReference(marker string) (string, error) {
	hash := ParseReference(marker)
	ref, ok := c.refs.Get(hash)
	if !ok {
		return "", NewError("ResolveReference", ErrReferenceNotFound).
			WithAlgorithm(types.AlgorithmReference).
			WithContext("marker", marker)
	}
	return ref.Content, nil
}

// run dispatches to a single algorithm.
func (c *Compressor) run(ctx context.Context, text string, algorithm types.Algorithm, contentType tokens.ContentType) (string, float64, []string, error) {
	switch algorithm {
	case types.AlgorithmMinify:
		out, warnings := Minify(text, contentType)
		return out, QualityMinify, warnings, nil

	case types.AlgorithmDeduplicate:
		return Deduplicate(text, c.config.MinDuplicateLineLength), QualityDeduplicate, nil, nil

	case types.AlgorithmReference:
		if text == "" {
			return "", QualityReference, nil, nil
		}
		ref := c.refs.Add(text, c.counter.Tokens(text, contentType), "")
		return ReferenceMarker(ref.Hash), QualityReference, nil, nil

	case types.AlgorithmTruncate:
		out, dropped := Truncate(text, c.config.TruncateKeepRatio)
		var warnings []string
		if dropped == 0 && text != "" {
			warnings = append(warnings, "truncate: text too short, nothing dropped")
		}
		return out, QualityTruncate, warnings, nil

	case types.AlgorithmSummarize:
		out, err := c.summarize(ctx, text)
		if err != nil {
			return "", 0, nil, err
		}
		return out, QualitySummarize, nil, nil

	default:
		return "", 0, nil, NewError("Compress", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)).
			WithAlgorithm(algorithm)
	}
}

func (c *Compressor) summarize(ctx context.Context, text string) (string, error) {
	if c.summarizer == nil {
		return "", NewError("Summarize", ErrNoSummarizer).WithAlgorithm(types.AlgorithmSummarize)
	}
	if text == "" {
		return "", nil
	}
	out, err := c.summarizer.Summarize(ctx, text)
	if err != nil {
		c.logger.Warn("summarization failed", "error", err)
		return "", NewError("Summarize", fmt.Errorf("%w: %v", ErrSummarizationFailed, err)).
			WithAlgorithm(types.AlgorithmSummarize)
	}
	if strings.TrimSpace(out) == "" {
		c.logger.Warn("summarizer returned nothing", "input_length", len(text))
		return "", NewError("Summarize", fmt.Errorf("%w: empty summary", ErrSummarizationFailed)).
			WithAlgorithm(types.AlgorithmSummarize)
	}
	return out, nil
}

func (c *Compressor) newResult(original, compressed string, contentType tokens.ContentType, quality float64, warnings []string) *Result {
	originalTokens := c.counter.Tokens(original, contentType)
	compressedTokens := c.counter.Tokens(compressed, contentType)

	ratio := 1.0
	if originalTokens > 0 {
		ratio = float64(compressedTokens) / float64(originalTokens)
	}
	return &Result{
		Original:         original,
		Compressed:       compressed,
		OriginalTokens:   originalTokens,
		CompressedTokens: compressedTokens,
		TokensSaved:      originalTokens - compressedTokens,
		Ratio:            ratio,
		Quality:          quality,
		Warnings:         warnings,
	}
}

func resolveContentType(text string, contentType tokens.ContentType) tokens.ContentType {
	if contentType == "" || contentType == tokens.ContentAuto {
		return tokens.DetectContentType(text)
	}
	return contentType
}
