// Package tokens approximates token counts for context content.
//
// Counting is a calibrated approximation, not a tokenizer: a text's count is
// ceil(characters * ratio) where the ratio depends on the content type. Results
// are memoized in a bounded FIFO cache keyed by a BLAKE3 digest of the content.
//
//	counter := tokens.New(nil)
//	c := counter.Count("Hello world", tokens.ContentProse) // c.Total == 3
package tokens

import (
	"encoding/hex"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/zeebo/blake3"

	"github.com/youssefsiam38/ctxbudget/types"
)

// ContentType selects the characters-to-tokens multiplier.
type ContentType string

const (
	ContentCode       ContentType = "code"
	ContentProse      ContentType = "prose"
	ContentStructured ContentType = "structured"
	ContentMixed      ContentType = "mixed"
	ContentMarkup     ContentType = "markup"

	// ContentAuto asks the counter to detect the type first.
	ContentAuto ContentType = "auto"
)

// Default configuration values.
const (
	DefaultCacheCapacity = 10000

	DefaultCodeRatio       = 0.35
	DefaultProseRatio      = 0.25
	DefaultStructuredRatio = 0.30
	DefaultMixedRatio      = 0.28
	DefaultMarkupRatio     = 0.30
)

// Config holds counter configuration.
type Config struct {
	// CacheCapacity bounds the memo cache. Once full, the oldest entry is
	// evicted before a new one is inserted.
	// Default: 10000
	CacheCapacity int `yaml:"cache_capacity" toml:"cache_capacity"`

	// Ratios overrides tokens-per-character multipliers per content type.
	// Missing types keep their defaults.
	Ratios map[ContentType]float64 `yaml:"ratios" toml:"ratios"`
}

// DefaultRatios returns the default multiplier table.
func DefaultRatios() map[ContentType]float64 {
	return map[ContentType]float64{
		ContentCode:       DefaultCodeRatio,
		ContentProse:      DefaultProseRatio,
		ContentStructured: DefaultStructuredRatio,
		ContentMixed:      DefaultMixedRatio,
		ContentMarkup:     DefaultMarkupRatio,
	}
}

// DefaultConfig returns a Config with the default cache size and ratio table.
func DefaultConfig() *Config {
	return &Config{
		CacheCapacity: DefaultCacheCapacity,
		Ratios:        DefaultRatios(),
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.CacheCapacity == 0 {
		c.CacheCapacity = DefaultCacheCapacity
	}
	ratios := DefaultRatios()
	for ct, r := range c.Ratios {
		ratios[ct] = r
	}
	c.Ratios = ratios
}

// Validate returns an error for unusable settings.
func (c *Config) Validate() error {
	if c.CacheCapacity < 0 {
		return fmt.Errorf("tokens: cache_capacity must be non-negative, got %d", c.CacheCapacity)
	}
	for ct, r := range c.Ratios {
		if r <= 0 || r > 1 {
			return fmt.Errorf("tokens: ratio for %q must be in (0,1], got %f", ct, r)
		}
	}
	return nil
}

// Count is the result of counting one text.
type Count struct {
	Total      int
	ByType     map[ContentType]int
	Characters int
}

// BatchCount is the result of CountBatch.
type BatchCount struct {
	Counts  []Count
	Total   int
	Average float64
}

// Counter approximates token counts with memoization. It is safe for
// concurrent use.
type Counter struct {
	ratios map[ContentType]float64
	cache  *fifoCache
}

// New creates a Counter. A nil config uses DefaultConfig.
func New(config *Config) *Counter {
	if config == nil {
		config = DefaultConfig()
	} else {
		config.ApplyDefaults()
	}
	return &Counter{
		ratios: config.Ratios,
		cache:  newFIFOCache(config.CacheCapacity),
	}
}

// Count returns the approximate token count of text for the given content
// type. It never fails; empty text counts as zero.
func (c *Counter) Count(text string, contentType ContentType) Count {
	if contentType == "" || contentType == ContentAuto {
		contentType = DetectContentType(text)
	}

	key := cacheKey(contentType, text)
	if cached, ok := c.cache.get(key); ok {
		return cached.clone()
	}

	characters := utf8.RuneCountInString(text)
	total := Estimate(characters, c.ratio(contentType))
	result := Count{
		Total:      total,
		ByType:     map[ContentType]int{contentType: total},
		Characters: characters,
	}
	c.cache.put(key, result)
	return result.clone()
}

// Tokens is shorthand for Count(text, contentType).Total.
func (c *Counter) Tokens(text string, contentType ContentType) int {
	return c.Count(text, contentType).Total
}

// CountBatch counts every text through Count and reports the sum and the
// arithmetic mean.
func (c *Counter) CountBatch(texts []string, contentType ContentType) BatchCount {
	result := BatchCount{Counts: make([]Count, 0, len(texts))}
	for _, text := range texts {
		count := c.Count(text, contentType)
		result.Counts = append(result.Counts, count)
		result.Total += count.Total
	}
	if len(texts) > 0 {
		result.Average = float64(result.Total) / float64(len(texts))
	}
	return result
}

// Measure returns a copy of snapshot with every token count recomputed:
// per-section tokens and percentages, per-turn/file/tool-result tokens and
// TotalTokens as the sum of the sections.
func (c *Counter) Measure(snapshot *types.ContextSnapshot) *types.ContextSnapshot {
	if snapshot == nil {
		return &types.ContextSnapshot{}
	}
	out := snapshot.Clone()

	total := 0
	for i := range out.Sections {
		section := &out.Sections[i]
		section.Tokens = c.Tokens(section.Content, SectionContentType(section.Kind))
		total += section.Tokens
	}
	for i := range out.Sections {
		if total > 0 {
			out.Sections[i].Percentage = float64(out.Sections[i].Tokens) / float64(total) * 100
		} else {
			out.Sections[i].Percentage = 0
		}
	}
	out.TotalTokens = total

	for i := range out.Turns {
		out.Turns[i].Tokens = c.Tokens(out.Turns[i].Content, ContentMixed)
	}
	for i := range out.Files {
		out.Files[i].Tokens = c.Tokens(out.Files[i].Content, ContentAuto)
		if out.Files[i].Hash == "" && out.Files[i].Content != "" {
			out.Files[i].Hash = Digest(out.Files[i].Content)
		}
	}
	for i := range out.ToolResults {
		out.ToolResults[i].Tokens = c.Tokens(out.ToolResults[i].Output, ContentAuto)
	}
	return out
}

// CacheLen returns the number of memoized entries.
func (c *Counter) CacheLen() int {
	return c.cache.len()
}

// ClearCache drops every memoized entry.
func (c *Counter) ClearCache() {
	c.cache.clear()
}

func (c *Counter) ratio(contentType ContentType) float64 {
	if r, ok := c.ratios[contentType]; ok {
		return r
	}
	return c.ratios[ContentMixed]
}

// SectionContentType maps a section kind to the content type used to count it.
func SectionContentType(kind types.SectionKind) ContentType {
	switch kind {
	case types.SectionSystem:
		return ContentProse
	case types.SectionTools, types.SectionFiles:
		return ContentAuto
	default:
		return ContentMixed
	}
}

// Estimate is ceil(characters * ratio), zero for no characters. The product
// is rounded to nine decimal places first so binary representation error in
// the ratio (100 * 0.28 = 28.000000000000004) never adds a token.
func Estimate(characters int, ratio float64) int {
	if characters <= 0 {
		return 0
	}
	product := math.Round(float64(characters)*ratio*1e9) / 1e9
	return int(math.Ceil(product))
}

// Digest returns the truncated hex BLAKE3 digest used for content identity.
func Digest(content string) string {
	sum := blake3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:16])
}

func cacheKey(contentType ContentType, text string) string {
	hasher := blake3.New()
	_, _ = hasher.Write([]byte(contentType))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(text))
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

func (c Count) clone() Count {
	byType := make(map[ContentType]int, len(c.ByType))
	for k, v := range c.ByType {
		byType[k] = v
	}
	c.ByType = byType
	return c
}
