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

// Package ml loads and evaluates the gateway's tiny fixed-weight linear
// models. Model files are little-endian binaries small enough to ship
// beside the config; when a file is absent the owning component falls
// back to its deterministic rule path.
package ml

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const modelMagic = 0x4647_4D4C // "FGML"

var (
	ErrBadModel    = errors.New("model file failed structural validation")
	ErrBadInput    = errors.New("input width does not match model")
	ErrModelAbsent = errors.New("model file not present")
)

// Standard model file names under the model directory.
const (
	IntentModelFile = "intent.model"
	DeviceModelFile = "device.model"
	ScorerModelFile = "scorer.model"
)

// Linear is a dense layer: out = W·x + b.
type Linear struct {
	In      int
	Out     int
	Weights []float32 // row-major, Out rows of In columns
	Bias    []float32
}

// Load reads a model file: header {magic u32, in u32, out u32}, then
// out*in weights, then out biases, all little-endian float32.
func Load(path string) (*Linear, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrModelAbsent
		}

		return nil, fmt.Errorf("failed to open model: %w", err)
	}
	defer f.Close()

	return read(f)
}

func read(r io.Reader) (*Linear, error) {
	var magic, in, out uint32

	for _, dst := range []*uint32{&magic, &in, &out} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, fmt.Errorf("%w: truncated header", ErrBadModel)
		}
	}

	if magic != modelMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadModel)
	}

	if in == 0 || out == 0 || in > 1024 || out > 64 {
		return nil, fmt.Errorf("%w: implausible dimensions %dx%d", ErrBadModel, in, out)
	}

	m := &Linear{
		In:      int(in),
		Out:     int(out),
		Weights: make([]float32, in*out),
		Bias:    make([]float32, out),
	}

	if err := binary.Read(r, binary.LittleEndian, m.Weights); err != nil {
		return nil, fmt.Errorf("%w: truncated weights", ErrBadModel)
	}

	if err := binary.Read(r, binary.LittleEndian, m.Bias); err != nil {
		return nil, fmt.Errorf("%w: truncated bias", ErrBadModel)
	}

	return m, nil
}

// Save writes the model in the file format Load reads.
func (m *Linear) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create model file: %w", err)
	}
	defer f.Close()

	for _, v := range []uint32{modelMagic, uint32(m.In), uint32(m.Out)} {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("failed to write model header: %w", err)
		}
	}

	if err := binary.Write(f, binary.LittleEndian, m.Weights); err != nil {
		return fmt.Errorf("failed to write model weights: %w", err)
	}

	if err := binary.Write(f, binary.LittleEndian, m.Bias); err != nil {
		return fmt.Errorf("failed to write model bias: %w", err)
	}

	return nil
}

// Forward evaluates the layer.
func (m *Linear) Forward(x []float32) ([]float32, error) {
	if len(x) != m.In {
		return nil, ErrBadInput
	}

	out := make([]float32, m.Out)

	for row := 0; row < m.Out; row++ {
		sum := m.Bias[row]
		w := m.Weights[row*m.In : (row+1)*m.In]

		for i, xi := range x {
			sum += w[i] * xi
		}

		out[row] = sum
	}

	return out, nil
}

// Score evaluates a single-output model through a sigmoid.
func (m *Linear) Score(x []float32) (float64, error) {
	out, err := m.Forward(x)
	if err != nil {
		return 0, err
	}

	if len(out) != 1 {
		return 0, ErrBadInput
	}

	return Sigmoid(float64(out[0])), nil
}

// Classify evaluates a multi-output model and returns the argmax class
// with its softmax probability.
func (m *Linear) Classify(x []float32) (int, float64, error) {
	out, err := m.Forward(x)
	if err != nil {
		return 0, 0, err
	}

	probs := Softmax(out)

	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}

	return best, probs[best], nil
}

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Softmax converts logits to probabilities.
func Softmax(logits []float32) []float64 {
	maxLogit := float64(logits[0])
	for _, l := range logits[1:] {
		if float64(l) > maxLogit {
			maxLogit = float64(l)
		}
	}

	probs := make([]float64, len(logits))

	var sum float64

	for i, l := range logits {
		probs[i] = math.Exp(float64(l) - maxLogit)
		sum += probs[i]
	}

	for i := range probs {
		probs[i] /= sum
	}

	return probs
}
