package embedding

import (
	"context"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// offlineDimensions is the fixed vector length for the hashed-shingle
// fallback, matching the embedding provider wire contract's "fixed length
// per model" requirement even though there is no remote model here.
const offlineDimensions = 512

// OfflineEngine embeds text without any network call by hashing
// overlapping word shingles (and, for short inputs, character bigrams)
// into buckets of a fixed-length vector, then L2-normalizing. It exists so
// plot-arc retrieval keeps working with no embeddings credentials
// configured.
type OfflineEngine struct{}

// NewOfflineEngine returns the offline fallback engine.
func NewOfflineEngine() *OfflineEngine { return &OfflineEngine{} }

func (e *OfflineEngine) Name() string    { return "offline-hashed-shingle" }
func (e *OfflineEngine) Dimensions() int { return offlineDimensions }

func (e *OfflineEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, offlineDimensions)

	shingles := wordShingles(text, 2)
	if len(shingles) == 0 {
		shingles = characterBigrams(text)
	}

	for _, s := range shingles {
		h := xxhash.Sum64String(s)
		bucket := h % uint64(offlineDimensions)
		sign := float32(1)
		if (h>>63)&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}

	normalize(vec)
	return vec, nil
}

func wordShingles(text string, size int) []string {
	words := strings.Fields(strings.ToLower(text))
	if len(words) < size {
		return nil
	}
	shingles := make([]string, 0, len(words)-size+1)
	for i := 0; i+size <= len(words); i++ {
		shingles = append(shingles, strings.Join(words[i:i+size], " "))
	}
	return shingles
}

func characterBigrams(text string) []string {
	runes := []rune(strings.ToLower(text))
	if len(runes) < 2 {
		if len(runes) == 1 {
			return []string{string(runes)}
		}
		return nil
	}
	bigrams := make([]string, 0, len(runes)-1)
	for i := 0; i+2 <= len(runes); i++ {
		bigrams = append(bigrams, string(runes[i:i+2]))
	}
	return bigrams
}

func normalize(vec []float32) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] /= norm
	}
}
