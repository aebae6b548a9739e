// Package ctxbudget manages the context budget of a conversational agent.
//
// It counts tokens across the structured sections of a session, detects
// wasteful content, compresses it under explicit quality trade-offs, tracks
// per-section allocation against a global ceiling and persists snapshots as
// chains of full and delta checkpoints that can be restored later.
//
// # Key Features
//
//   - Calibrated token estimation with per-content-type ratios and a FIFO cache
//   - Pattern detection, density scoring and ranked recommendations
//   - Five compression algorithms composed into conservative, balanced and aggressive strategies
//   - Lossless reference deduplication through a content-hash store
//   - Budget allocation with reserve borrowing and reallocation suggestions
//   - Delta-chain checkpoints on memory, SQLite or PostgreSQL
//   - Hooks for observability
//
// # Quick Start
//
//	client, err := ctxbudget.New(ctx, nil)
//	if err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	analysis, _ := client.Analyze(snapshot)
//	result, err := client.Optimize(ctx, snapshot, types.StrategyBalanced, nil)
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("saved %d tokens (quality %.2f)\n", result.Savings, result.Quality)
//
// # Configuration
//
// Every component reads its section of Config. LoadConfig reads YAML or TOML:
//
//	config, err := ctxbudget.LoadConfig("ctxbudget.yaml")
//	client, err := ctxbudget.New(ctx, config,
//	    ctxbudget.WithLogger(slog.Default()),
//	    ctxbudget.WithAnthropicClient(&anthropicClient),
//	)
//
// # Checkpoints
//
// Checkpoints chain: pass the previous id as ParentID and only what was
// appended since is stored. Restore walks back to the nearest full node.
//
//	base, _ := client.Checkpoint(ctx, "start", snapshot, nil)
//	next, _ := client.Checkpoint(ctx, "after-tools", grown, &checkpoint.Options{ParentID: base})
//	restored, err := client.Restore(ctx, next)
//
// With Optimizer.AutoCheckpoint set, Optimize stores a checkpoint before and
// after every optimization that compresses.
//
// # Background Services
//
// Start runs the budget level watcher, which reports transitions of the
// allocator fed by Track to the level-change hooks, and, when
// Retention.Enabled is set, periodic checkpoint pruning:
//
//	client.Hooks().OnLevelChange(func(previous, current types.WarningLevel) {
//	    if current == types.WarningCritical {
//	        // compress or checkpoint
//	    }
//	})
//	if err := client.Start(ctx); err != nil {
//	    return err
//	}
//	defer client.Stop(ctx)
package ctxbudget
