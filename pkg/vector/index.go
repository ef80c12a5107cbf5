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

package vector

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

const indexVersion = 1

var (
	ErrDimensionMismatch = errors.New("vector dimension does not match index")
	ErrCorruptIndex      = errors.New("index file failed structural validation")
)

// Record is one indexed descriptor embedding.
type Record struct {
	DeviceID string
	Vector   []float32
	// Digest is the sha256 of the source text, hex-encoded. Re-adding
	// the same text under the same id is a no-op.
	Digest string
}

// Match is one search result.
type Match struct {
	DeviceID   string  `json:"device_id"`
	Similarity float64 `json:"similarity"`
}

// Index is the in-memory cosine index. Readers run concurrently;
// writers serialize.
type Index struct {
	mu        sync.RWMutex
	dimension int
	records   []Record
	byID      map[string]int
}

// NewIndex creates an empty index with the given dimension.
func NewIndex(dimension int) *Index {
	return &Index{
		dimension: dimension,
		byID:      make(map[string]int),
	}
}

// Dimension returns the fixed vector width of this index.
func (x *Index) Dimension() int {
	return x.dimension
}

// DigestText returns the record digest for a source text.
func DigestText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Add inserts or replaces the record for deviceID. Identical digests
// under the same id are idempotent; a new digest replaces the record.
func (x *Index) Add(deviceID, sourceText string, vec []float32) error {
	if len(vec) != x.dimension {
		return ErrDimensionMismatch
	}

	digest := DigestText(sourceText)

	x.mu.Lock()
	defer x.mu.Unlock()

	if i, ok := x.byID[deviceID]; ok {
		if x.records[i].Digest == digest {
			return nil
		}

		x.records[i] = Record{DeviceID: deviceID, Vector: vec, Digest: digest}

		return nil
	}

	x.byID[deviceID] = len(x.records)
	x.records = append(x.records, Record{DeviceID: deviceID, Vector: vec, Digest: digest})

	return nil
}

// Delete removes the record for deviceID, if present.
func (x *Index) Delete(deviceID string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	i, ok := x.byID[deviceID]
	if !ok {
		return
	}

	x.records = append(x.records[:i], x.records[i+1:]...)
	delete(x.byID, deviceID)

	for j := i; j < len(x.records); j++ {
		x.byID[x.records[j].DeviceID] = j
	}
}

// Search returns the top-k records by cosine similarity to the query
// vector, most similar first. Ties break by device id for determinism.
func (x *Index) Search(query []float32, topK int) ([]Match, error) {
	if len(query) != x.dimension {
		return nil, ErrDimensionMismatch
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	matches := make([]Match, 0, len(x.records))
	for _, r := range x.records {
		matches = append(matches, Match{DeviceID: r.DeviceID, Similarity: Cosine(query, r.Vector)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}

		return matches[i].DeviceID < matches[j].DeviceID
	})

	if topK > 0 && topK < len(matches) {
		matches = matches[:topK]
	}

	return matches, nil
}

// Count returns the number of records.
func (x *Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return len(x.records)
}

// Save writes the index to a single file: little-endian header
// {version, dimension, count}, then per record {id_len, id bytes,
// digest_len, digest bytes, vector floats}. Writes via a temp file and
// rename so a crash never leaves a torn index.
func (x *Index) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := x.write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)

		return err
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close index file: %w", err)
	}

	return os.Rename(tmp, path)
}

func (x *Index) write(w io.Writer) error {
	header := []uint32{indexVersion, uint32(x.dimension), uint32(len(x.records))}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("failed to write index header: %w", err)
		}
	}

	for _, r := range x.records {
		if err := writeRecord(w, r); err != nil {
			return err
		}
	}

	return nil
}

func writeRecord(w io.Writer, r Record) error {
	for _, s := range []string{r.DeviceID, r.Digest} {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}

		if _, err := w.Write([]byte(s)); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	if err := binary.Write(w, binary.LittleEndian, r.Vector); err != nil {
		return fmt.Errorf("failed to write record vector: %w", err)
	}

	return nil
}

// Load reads an index file written by Save. A missing file returns an
// empty index with the requested dimension.
func Load(path string, dimension int) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewIndex(dimension), nil
		}

		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer f.Close()

	return read(f, dimension)
}

func read(r io.Reader, dimension int) (*Index, error) {
	var version, dim, count uint32

	for _, dst := range []*uint32{&version, &dim, &count} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, fmt.Errorf("%w: truncated header", ErrCorruptIndex)
		}
	}

	if version != indexVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptIndex, version)
	}

	if int(dim) != dimension {
		return nil, ErrDimensionMismatch
	}

	x := NewIndex(dimension)

	for i := uint32(0); i < count; i++ {
		rec, err := readRecord(r, dimension)
		if err != nil {
			return nil, err
		}

		x.byID[rec.DeviceID] = len(x.records)
		x.records = append(x.records, rec)
	}

	return x, nil
}

func readRecord(r io.Reader, dimension int) (Record, error) {
	var rec Record

	for _, dst := range []*string{&rec.DeviceID, &rec.Digest} {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return rec, fmt.Errorf("%w: truncated record", ErrCorruptIndex)
		}

		if n > 4096 {
			return rec, fmt.Errorf("%w: implausible string length", ErrCorruptIndex)
		}

		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return rec, fmt.Errorf("%w: truncated record", ErrCorruptIndex)
		}

		*dst = string(buf)
	}

	rec.Vector = make([]float32, dimension)
	if err := binary.Read(r, binary.LittleEndian, rec.Vector); err != nil {
		return rec, fmt.Errorf("%w: truncated vector", ErrCorruptIndex)
	}

	return rec, nil
}
