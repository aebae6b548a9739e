package analyzer

import (
	"math"
	"strings"
)

// MaxEntropy is the entropy, in bits per byte, treated as incompressible.
const MaxEntropy = 6.6

// Density scores how much non-redundant information a text carries.
type Density struct {
	// Score is 1 - Redundancy. Higher means denser.
	Score float64 `json:"score"`

	// Redundancy is 1 - uniqueWords/words.
	Redundancy float64 `json:"redundancy"`

	// Compressibility is 1 - Entropy/MaxEntropy, clamped to [0,1].
	Compressibility float64 `json:"compressibility"`

	// Entropy is the byte-level Shannon entropy in bits.
	Entropy float64 `json:"entropy"`

	Words       int `json:"words"`
	UniqueWords int `json:"unique_words"`
}

// CalculateDensity scores text. Empty text returns the zero Density.
func CalculateDensity(text string) Density {
	words := strings.Fields(text)
	if len(words) == 0 {
		return Density{}
	}

	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[strings.ToLower(w)] = struct{}{}
	}

	d := Density{
		Words:       len(words),
		UniqueWords: len(unique),
		Entropy:     entropy(text),
	}
	d.Redundancy = 1 - float64(d.UniqueWords)/float64(d.Words)
	d.Score = 1 - d.Redundancy
	d.Compressibility = clamp01(1 - d.Entropy/MaxEntropy)
	return d
}

func entropy(text string) float64 {
	if text == "" {
		return 0
	}
	var freq [256]int
	for i := 0; i < len(text); i++ {
		freq[text[i]]++
	}
	n := float64(len(text))
	h := 0.0
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
