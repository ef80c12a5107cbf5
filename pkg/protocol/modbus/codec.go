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

// Package modbus implements the Modbus/TCP codec: MBAP framing, PDU
// encode/decode, logical address translation, and float register packing.
package modbus

import (
	"encoding/binary"
	"math"

	"github.com/carverauto/fieldgate/pkg/models"
)

// Function codes.
const (
	FuncReadCoils           = 0x01
	FuncReadDiscreteInputs  = 0x02
	FuncReadHolding         = 0x03
	FuncReadInput           = 0x04
	FuncWriteSingleCoil     = 0x05
	FuncWriteSingleRegister = 0x06
)

// Exception codes.
const (
	ExceptionIllegalFunction    = 0x01
	ExceptionIllegalDataAddress = 0x02
	ExceptionIllegalDataValue   = 0x03
	ExceptionSlaveDeviceFailure = 0x04
	ExceptionAcknowledge        = 0x05
	ExceptionSlaveDeviceBusy    = 0x06
	ExceptionMemoryParity       = 0x08
	ExceptionGatewayPath        = 0x0A
	ExceptionGatewayTarget      = 0x0B
)

// exceptionMessages tabulates the documented exception meanings.
var exceptionMessages = map[int]string{
	ExceptionIllegalFunction:    "illegal function",
	ExceptionIllegalDataAddress: "illegal data address",
	ExceptionIllegalDataValue:   "illegal data value",
	ExceptionSlaveDeviceFailure: "slave device failure",
	ExceptionAcknowledge:        "acknowledge",
	ExceptionSlaveDeviceBusy:    "slave device busy",
	ExceptionMemoryParity:       "memory parity error",
	ExceptionGatewayPath:        "gateway path unavailable",
	ExceptionGatewayTarget:      "gateway target device failed to respond",
}

// ExceptionMessage returns the tabulated meaning of an exception code.
func ExceptionMessage(code int) string {
	if msg, ok := exceptionMessages[code]; ok {
		return msg
	}

	return "unknown exception"
}

const (
	mbapLength    = 7
	protocolID    = 0
	maxFrameBytes = 260

	// DefaultFloatScale preserves two decimals when a float is packed
	// into two registers.
	DefaultFloatScale = 100
)

// AddressSpace is one of the four Modbus address spaces.
type AddressSpace int

const (
	SpaceCoil AddressSpace = iota
	SpaceDiscreteInput
	SpaceInputRegister
	SpaceHoldingRegister
)

// TranslateAddress maps a logical address (1-n coils, 10001-n discrete
// inputs, 30001-3xxxx input registers, 40001-4xxxx holding registers) to
// its address space and zero-based wire address.
func TranslateAddress(logical int) (AddressSpace, uint16, error) {
	switch {
	case logical >= 40001 && logical <= 49999:
		return SpaceHoldingRegister, uint16(logical - 40001), nil
	case logical >= 30001 && logical <= 39999:
		return SpaceInputRegister, uint16(logical - 30001), nil
	case logical >= 10001 && logical <= 19999:
		return SpaceDiscreteInput, uint16(logical - 10001), nil
	case logical >= 1 && logical <= 9999:
		return SpaceCoil, uint16(logical - 1), nil
	default:
		return 0, 0, &models.DecodeError{Frame: "modbus address", Reason: "logical address outside all address spaces"}
	}
}

// ReadFunction returns the read function code for an address space.
func (s AddressSpace) ReadFunction() byte {
	switch s {
	case SpaceCoil:
		return FuncReadCoils
	case SpaceDiscreteInput:
		return FuncReadDiscreteInputs
	case SpaceInputRegister:
		return FuncReadInput
	default:
		return FuncReadHolding
	}
}

// Request is one Modbus/TCP request frame.
type Request struct {
	TransactionID uint16
	UnitID        byte
	FunctionCode  byte
	Data          []byte
}

// Response is one decoded Modbus/TCP response frame.
type Response struct {
	TransactionID uint16
	UnitID        byte
	FunctionCode  byte
	Data          []byte
}

// Encode frames the request with its MBAP header.
func (r *Request) Encode() []byte {
	frame := make([]byte, mbapLength+1+len(r.Data))
	binary.BigEndian.PutUint16(frame[0:], r.TransactionID)
	binary.BigEndian.PutUint16(frame[2:], protocolID)
	binary.BigEndian.PutUint16(frame[4:], uint16(2+len(r.Data)))
	frame[6] = r.UnitID
	frame[7] = r.FunctionCode
	copy(frame[8:], r.Data)

	return frame
}

// NewReadRequest builds a read request for quantity items starting at the
// zero-based wire address.
func NewReadRequest(txID uint16, unitID, function byte, wireAddr, quantity uint16) *Request {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], wireAddr)
	binary.BigEndian.PutUint16(data[2:], quantity)

	return &Request{TransactionID: txID, UnitID: unitID, FunctionCode: function, Data: data}
}

// NewWriteSingleRegister builds a Write Single Register (0x06) request.
func NewWriteSingleRegister(txID uint16, unitID byte, wireAddr, value uint16) *Request {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], wireAddr)
	binary.BigEndian.PutUint16(data[2:], value)

	return &Request{TransactionID: txID, UnitID: unitID, FunctionCode: FuncWriteSingleRegister, Data: data}
}

// NewWriteSingleCoil builds a Write Single Coil (0x05) request. The wire
// encodes on as 0xFF00 and off as 0x0000.
func NewWriteSingleCoil(txID uint16, unitID byte, wireAddr uint16, on bool) *Request {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], wireAddr)

	if on {
		binary.BigEndian.PutUint16(data[2:], 0xFF00)
	}

	return &Request{TransactionID: txID, UnitID: unitID, FunctionCode: FuncWriteSingleCoil, Data: data}
}

// DecodeResponse validates MBAP framing and splits the PDU. An exception
// response (function code with the high bit set) decodes into a
// ProtocolException.
func DecodeResponse(frame []byte) (*Response, error) {
	if len(frame) < mbapLength+1 {
		return nil, &models.DecodeError{Frame: "mbap", Reason: "frame shorter than MBAP header"}
	}

	if len(frame) > maxFrameBytes {
		return nil, &models.DecodeError{Frame: "mbap", Reason: "frame exceeds maximum ADU size"}
	}

	if binary.BigEndian.Uint16(frame[2:]) != protocolID {
		return nil, &models.DecodeError{Frame: "mbap", Reason: "nonzero protocol id"}
	}

	length := binary.BigEndian.Uint16(frame[4:])
	if int(length) != len(frame)-6 {
		return nil, &models.DecodeError{Frame: "mbap", Reason: "length field does not match frame size"}
	}

	resp := &Response{
		TransactionID: binary.BigEndian.Uint16(frame[0:]),
		UnitID:        frame[6],
		FunctionCode:  frame[7],
		Data:          frame[8:],
	}

	if resp.FunctionCode&0x80 != 0 {
		if len(resp.Data) < 1 {
			return nil, &models.DecodeError{Frame: "modbus pdu", Reason: "exception response missing exception code"}
		}

		code := int(resp.Data[0])

		return nil, &models.ProtocolException{
			Protocol: "modbus",
			Code:     code,
			Message:  ExceptionMessage(code),
		}
	}

	return resp, nil
}

// Registers extracts the register values from a read response body.
func (r *Response) Registers() ([]uint16, error) {
	if len(r.Data) < 1 {
		return nil, &models.DecodeError{Frame: "modbus pdu", Reason: "read response missing byte count"}
	}

	count := int(r.Data[0])
	if count != len(r.Data)-1 || count%2 != 0 {
		return nil, &models.DecodeError{Frame: "modbus pdu", Reason: "byte count does not match payload"}
	}

	regs := make([]uint16, count/2)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(r.Data[1+2*i:])
	}

	return regs, nil
}

// Bits extracts packed coil/discrete-input bits from a read response body.
func (r *Response) Bits(quantity int) ([]bool, error) {
	if len(r.Data) < 1 {
		return nil, &models.DecodeError{Frame: "modbus pdu", Reason: "read response missing byte count"}
	}

	count := int(r.Data[0])
	if count != len(r.Data)-1 || count*8 < quantity {
		return nil, &models.DecodeError{Frame: "modbus pdu", Reason: "byte count does not cover requested bits"}
	}

	bits := make([]bool, quantity)
	for i := 0; i < quantity; i++ {
		bits[i] = r.Data[1+i/8]&(1<<(i%8)) != 0
	}

	return bits, nil
}

// EncodeFloat packs a float into two consecutive registers, high word
// first, scaled to preserve decimals. Values round to the nearest scaled
// unit.
func EncodeFloat(v, scale float64) [2]uint16 {
	if scale == 0 {
		scale = DefaultFloatScale
	}

	scaled := uint32(int32(math.Round(v * scale)))

	return [2]uint16{uint16(scaled >> 16), uint16(scaled)}
}

// DecodeFloat unpacks a two-register float.
func DecodeFloat(hi, lo uint16, scale float64) float64 {
	if scale == 0 {
		scale = DefaultFloatScale
	}

	scaled := int32(uint32(hi)<<16 | uint32(lo))

	return float64(scaled) / scale
}
