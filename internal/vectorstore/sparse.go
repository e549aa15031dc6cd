package vectorstore

import (
	"hash/fnv"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// SparseVector is a BM25-style bag-of-tokens representation. Indices are
// sorted and unique.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// bm25K1 saturates term frequency the same way at insert and query time,
// keeping the encoding deterministic without corpus statistics.
const bm25K1 = 1.2

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// EncodeSparse converts text into a deterministic sparse vector using
// code-aware tokenization and BM25 term-frequency saturation.
func EncodeSparse(text string) SparseVector {
	tokens := TokenizeCode(text)
	if len(tokens) == 0 {
		return SparseVector{}
	}

	tf := make(map[uint32]float32, len(tokens))
	for _, tok := range tokens {
		tf[tokenIndex(tok)]++
	}

	indices := make([]uint32, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		f := tf[idx]
		values[i] = f * (bm25K1 + 1) / (f + bm25K1)
	}

	return SparseVector{Indices: indices, Values: values}
}

// Dot returns the sparse dot product of two vectors.
func (v SparseVector) Dot(other SparseVector) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(v.Indices) && j < len(other.Indices) {
		switch {
		case v.Indices[i] == other.Indices[j]:
			sum += float64(v.Values[i]) * float64(other.Values[j])
			i++
			j++
		case v.Indices[i] < other.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// IsZero reports whether the vector has no components.
func (v SparseVector) IsZero() bool {
	return len(v.Indices) == 0
}

func tokenIndex(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return h.Sum32()
}

// TokenizeCode splits text with code-aware rules: camelCase, PascalCase,
// and snake_case identifiers split into parts, lowercased, short tokens
// dropped.
func TokenizeCode(text string) []string {
	var tokens []string

	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range splitCodeToken(word) {
			lower := strings.ToLower(t)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}

	return tokens
}

// splitCodeToken splits snake_case first, then camelCase within each part.
func splitCodeToken(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamelCase(part)...)
			}
		}
		return result
	}
	return splitCamelCase(token)
}

// splitCamelCase splits camelCase and PascalCase identifiers, keeping
// acronym runs together: "parseHTTPRequest" -> ["parse", "HTTP", "Request"].
func splitCamelCase(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}
