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

package modbus

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fieldgate/pkg/models"
)

func TestTranslateAddress(t *testing.T) {
	tests := []struct {
		name    string
		logical int
		space   AddressSpace
		wire    uint16
		wantErr bool
	}{
		{name: "first holding register", logical: 40001, space: SpaceHoldingRegister, wire: 0},
		{name: "holding register offset", logical: 40010, space: SpaceHoldingRegister, wire: 9},
		{name: "first input register", logical: 30001, space: SpaceInputRegister, wire: 0},
		{name: "input register offset", logical: 30100, space: SpaceInputRegister, wire: 99},
		{name: "first coil", logical: 1, space: SpaceCoil, wire: 0},
		{name: "first discrete input", logical: 10001, space: SpaceDiscreteInput, wire: 0},
		{name: "zero is invalid", logical: 0, wantErr: true},
		{name: "gap between spaces", logical: 25000, wantErr: true},
		{name: "negative", logical: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			space, wire, err := TranslateAddress(tt.logical)
			if tt.wantErr {
				var de *models.DecodeError
				require.ErrorAs(t, err, &de)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.space, space)
			assert.Equal(t, tt.wire, wire)
		})
	}
}

func TestFloatRoundTrip(t *testing.T) {
	for _, f := range []float64{0, 22.5, -10.25, 99.99, 150, -50, 0.01, 123.456} {
		words := EncodeFloat(f, DefaultFloatScale)
		got := DecodeFloat(words[0], words[1], DefaultFloatScale)

		assert.InDelta(t, math.Round(f*100)/100, got, 0.0001, "f=%v", f)
	}
}

func TestFloatScale(t *testing.T) {
	words := EncodeFloat(22.5, 10)
	assert.Equal(t, 225.0, float64(uint32(words[0])<<16|uint32(words[1])))
	assert.Equal(t, 22.5, DecodeFloat(words[0], words[1], 10))
}

func TestRequestEncode(t *testing.T) {
	req := NewReadRequest(7, 1, FuncReadInput, 0, 2)
	frame := req.Encode()

	assert.Equal(t, []byte{
		0x00, 0x07, // transaction id
		0x00, 0x00, // protocol id
		0x00, 0x06, // length
		0x01,       // unit id
		0x04,       // function
		0x00, 0x00, // address
		0x00, 0x02, // quantity
	}, frame)
}

func TestDecodeResponse(t *testing.T) {
	// Read input registers response carrying two registers (22.5 * 100).
	frame := []byte{
		0x00, 0x07, 0x00, 0x00, 0x00, 0x07, 0x01,
		0x04, 0x04, 0x00, 0x00, 0x08, 0xCA,
	}

	resp, err := DecodeResponse(frame)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), resp.TransactionID)
	assert.Equal(t, byte(0x04), resp.FunctionCode)

	regs, err := resp.Registers()
	require.NoError(t, err)
	require.Len(t, regs, 2)
	assert.Equal(t, 22.5, DecodeFloat(regs[0], regs[1], DefaultFloatScale))
}

func TestDecodeExceptionResponse(t *testing.T) {
	frame := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x03, 0x01, 0x84, 0x02}

	_, err := DecodeResponse(frame)

	var pe *models.ProtocolException
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ExceptionIllegalDataAddress, pe.Code)
	assert.Equal(t, "illegal data address", pe.Message)
	assert.False(t, models.IsRetryable(err))
}

func TestDecodeMalformedFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "too short", frame: []byte{0x00, 0x01, 0x00}},
		{name: "bad protocol id", frame: []byte{0x00, 0x01, 0x00, 0x09, 0x00, 0x02, 0x01, 0x03}},
		{name: "length mismatch", frame: []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x09, 0x01, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse(tt.frame)

			var de *models.DecodeError
			assert.ErrorAs(t, err, &de)
		})
	}
}

func TestBitsExtraction(t *testing.T) {
	resp := &Response{FunctionCode: FuncReadCoils, Data: []byte{0x01, 0x05}}

	bits, err := resp.Bits(3)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, bits)
}

func TestWriteSingleCoilEncoding(t *testing.T) {
	on := NewWriteSingleCoil(1, 1, 4, true)
	assert.Equal(t, []byte{0x00, 0x04, 0xFF, 0x00}, on.Data)

	off := NewWriteSingleCoil(1, 1, 4, false)
	assert.Equal(t, []byte{0x00, 0x04, 0x00, 0x00}, off.Data)
}

func TestExceptionMessageUnknownCode(t *testing.T) {
	assert.Equal(t, "unknown exception", ExceptionMessage(0x7F))
}

func TestRegistersRejectsOddByteCount(t *testing.T) {
	resp := &Response{Data: []byte{0x03, 0x00, 0x01, 0x02}}

	_, err := resp.Registers()

	var de *models.DecodeError
	assert.True(t, errors.As(err, &de))
}
