// Package compaction compresses context text under quality and ratio
// trade-offs.
//
// # Algorithms
//
// Five algorithms are available, each with a fixed quality score estimating
// how much of the original information survives:
//
//   - Minify (0.95): strips comments and collapses whitespace in code,
//     re-serializes structured data compactly, collapses blank-line runs in
//     prose and strips tags from markup.
//   - Deduplicate (0.9): replaces any line of 20 or more characters seen
//     earlier in the text with a "[DUP:L<n>]" marker naming its first line.
//   - Reference (1.0): stores the text in the compressor's ReferenceStore and
//     returns a "[REF:<hash>]" marker. ResolveReference reverses it exactly.
//   - Truncate (0.5): keeps the first and last 30% of lines and replaces the
//     middle with a single elision marker.
//   - Summarize (0.7): delegates to an injected Summarizer.
//
// # Strategies
//
// Strategies run algorithms in a fixed order and report a strategy-level
// quality instead of the per-algorithm one:
//
//   - Conservative: minify (0.95)
//   - Balanced: minify, deduplicate (0.8)
//   - Aggressive: minify, deduplicate, truncate (0.6)
//
// # Usage
//
//	compressor := compaction.New(counter, nil, nil, logger)
//	result, err := compressor.Compress(ctx, text, types.AlgorithmReference, tokens.ContentAuto)
//	if err != nil {
//	    return err
//	}
//	original, err := compressor.ResolveReference(result.Compressed)
//
// A single algorithm failing on malformed input degrades to the safest
// fallback and records a warning on the Result; only unknown algorithms,
// unknown references and summarizer failures are returned as errors.
//
// # Thread Safety
//
// A Compressor is safe for concurrent use. Its ReferenceStore is owned by the
// instance, never shared through package state.
package compaction
