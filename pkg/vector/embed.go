/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package vector provides the text embedder and the cosine-similarity
// descriptor index with single-file persistence.
package vector

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Dimension is the embedding width. Fixed at index creation; an index
// never changes dimension.
const Dimension = 256

// Embed maps text to a deterministic dense vector: tokens hash into
// Dimension buckets (feature hashing), weighted by log term frequency,
// L2-normalized. No model download, no network, identical output for
// identical input.
func Embed(text string) []float32 {
	counts := make(map[uint32]float64)

	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		counts[h.Sum32()%Dimension]++
	}

	vec := make([]float32, Dimension)

	var norm float64

	for bucket, c := range counts {
		w := 1 + math.Log(c)
		vec[bucket] += float32(w)
		norm += w * w
	}

	if norm == 0 {
		return vec
	}

	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}

	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Cosine returns the cosine similarity of two vectors of equal length.
// Inputs from Embed are unit-length, so this is a dot product with a
// guard for zero vectors.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}

	if na == 0 || nb == 0 {
		return 0
	}

	return dot / math.Sqrt(na*nb)
}
