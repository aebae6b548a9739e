package optimizer

import (
	"slices"

	"github.com/youssefsiam38/ctxbudget/types"
)

// SectionPartition categorizes the sections of a measured snapshot.
// Categories are mutually exclusive and hold indexes into Sections.
type SectionPartition struct {
	// Protected sections have a kind listed in Config.ProtectedKinds and are
	// never touched.
	Protected []int

	// Small sections are below Config.MinSectionTokens.
	Small []int

	// Empty sections have no content.
	Empty []int

	// Compressible sections are handed to the compression strategy.
	Compressible []int

	// Stats contains token counts for each category.
	Stats PartitionStats
}

// PartitionStats contains token statistics for each category.
type PartitionStats struct {
	ProtectedTokens    int `json:"protected_tokens"`
	SmallTokens        int `json:"small_tokens"`
	CompressibleTokens int `json:"compressible_tokens"`
	TotalTokens        int `json:"total_tokens"`
}

// Partitioner decides which sections the optimizer may compress.
type Partitioner struct {
	protected []types.SectionKind
	minTokens int
}

// NewPartitioner creates a Partitioner from the optimizer configuration.
func NewPartitioner(config *Config) *Partitioner {
	return &Partitioner{
		protected: slices.Clone(config.ProtectedKinds),
		minTokens: config.MinSectionTokens,
	}
}

// Partition categorizes every section of snapshot. The snapshot must already
// be measured so section token counts are current.
func (p *Partitioner) Partition(snapshot *types.ContextSnapshot) *SectionPartition {
	partition := &SectionPartition{}
	if snapshot == nil {
		return partition
	}

	for i, section := range snapshot.Sections {
		partition.Stats.TotalTokens += section.Tokens

		switch {
		case slices.Contains(p.protected, section.Kind):
			partition.Protected = append(partition.Protected, i)
			partition.Stats.ProtectedTokens += section.Tokens

		case section.Content == "":
			partition.Empty = append(partition.Empty, i)

		case section.Tokens < p.minTokens:
			partition.Small = append(partition.Small, i)
			partition.Stats.SmallTokens += section.Tokens

		default:
			partition.Compressible = append(partition.Compressible, i)
			partition.Stats.CompressibleTokens += section.Tokens
		}
	}
	return partition
}

// CanCompact reports whether any section is eligible for compression.
func (p *SectionPartition) CanCompact() bool {
	return len(p.Compressible) > 0
}

// Expected share of compressible tokens each strategy removes. These are
// rough planning figures; the optimizer always reports measured savings.
var expectedReduction = map[types.Strategy]float64{
	types.StrategyConservative: 0.10,
	types.StrategyBalanced:     0.25,
	types.StrategyAggressive:   0.50,
}

// TokenReductionEstimate estimates how many tokens strategy would remove.
func (p *SectionPartition) TokenReductionEstimate(strategy types.Strategy) int {
	return int(float64(p.Stats.CompressibleTokens) * expectedReduction[strategy])
}
