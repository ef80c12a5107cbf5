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

// Package bacnet implements the BACnet/IP codec and UDP client: BVLC
// framing, NPDU/APDU assembly, tag encoding, Who-Is/I-Am discovery and
// ReadProperty/WriteProperty service exchanges.
package bacnet

import (
	"encoding/binary"
	"math"

	"github.com/carverauto/fieldgate/pkg/models"
)

// Application tag numbers.
const (
	TagNull        = 0
	TagBoolean     = 1
	TagUnsignedInt = 2
	TagSignedInt   = 3
	TagReal        = 4
	TagDouble      = 5
	TagOctetString = 6
	TagCharString  = 7
	TagEnumerated  = 9
	TagObjectID    = 12
)

// Object types.
const (
	ObjectAnalogInput   = 0
	ObjectAnalogOutput  = 1
	ObjectAnalogValue   = 2
	ObjectBinaryInput   = 3
	ObjectBinaryOutput  = 4
	ObjectBinaryValue   = 5
	ObjectDevice        = 8
	ObjectMultiStateIn  = 13
	ObjectMultiStateOut = 14
	ObjectMultiStateVal = 19
)

// Property identifiers.
const (
	PropPresentValue = 85
	PropObjectName   = 77
	PropUnits        = 117
)

// objectTypeNames maps the descriptor's short object type codes to wire
// object type numbers.
var objectTypeNames = map[string]uint16{
	"AI":  ObjectAnalogInput,
	"AO":  ObjectAnalogOutput,
	"AV":  ObjectAnalogValue,
	"BI":  ObjectBinaryInput,
	"BO":  ObjectBinaryOutput,
	"BV":  ObjectBinaryValue,
	"DEV": ObjectDevice,
	"MSI": ObjectMultiStateIn,
	"MSO": ObjectMultiStateOut,
	"MSV": ObjectMultiStateVal,
}

var objectTypeCodes = func() map[uint16]string {
	m := make(map[uint16]string, len(objectTypeNames))
	for code, num := range objectTypeNames {
		m[num] = code
	}

	return m
}()

// ObjectTypeNumber resolves a short object type code ("AI", "BV") to its
// wire number.
func ObjectTypeNumber(code string) (uint16, bool) {
	n, ok := objectTypeNames[code]
	return n, ok
}

// ObjectTypeCode resolves a wire object type number to its short code.
func ObjectTypeCode(n uint16) (string, bool) {
	c, ok := objectTypeCodes[n]
	return c, ok
}

// EncodeObjectID packs an object type and instance into the 32-bit
// object identifier: type in the top ten bits, instance in the lower 22.
func EncodeObjectID(objectType uint16, instance uint32) uint32 {
	return uint32(objectType)<<22 | (instance & 0x3FFFFF)
}

// DecodeObjectID splits a 32-bit object identifier.
func DecodeObjectID(id uint32) (objectType uint16, instance uint32) {
	return uint16(id >> 22), id & 0x3FFFFF
}

// appendContextTag appends a context tag header: tag number in the high
// nibble, class bit 0x08, length in the low three bits. Lengths above
// four take the extended form.
func appendContextTag(buf []byte, tagNum byte, length int) []byte {
	if length <= 4 {
		return append(buf, tagNum<<4|0x08|byte(length))
	}

	return append(buf, tagNum<<4|0x08|0x05, byte(length))
}

// appendContextUnsigned appends an unsigned value under a context tag,
// using the minimal byte width.
func appendContextUnsigned(buf []byte, tagNum byte, v uint32) []byte {
	b := minimalUnsigned(v)
	buf = appendContextTag(buf, tagNum, len(b))

	return append(buf, b...)
}

// appendContextObjectID appends an object identifier under a context tag.
func appendContextObjectID(buf []byte, tagNum byte, objectType uint16, instance uint32) []byte {
	buf = appendContextTag(buf, tagNum, 4)

	return binary.BigEndian.AppendUint32(buf, EncodeObjectID(objectType, instance))
}

// appendAppReal appends an application-tagged Real.
func appendAppReal(buf []byte, v float32) []byte {
	buf = append(buf, TagReal<<4|4)

	return binary.BigEndian.AppendUint32(buf, math.Float32bits(v))
}

// appendAppUnsigned appends an application-tagged Unsigned.
func appendAppUnsigned(buf []byte, v uint32) []byte {
	b := minimalUnsigned(v)
	buf = append(buf, TagUnsignedInt<<4|byte(len(b)))

	return append(buf, b...)
}

// appendAppEnumerated appends an application-tagged Enumerated.
func appendAppEnumerated(buf []byte, v uint32) []byte {
	b := minimalUnsigned(v)
	buf = append(buf, TagEnumerated<<4|byte(len(b)))

	return append(buf, b...)
}

// appendAppBoolean appends an application-tagged Boolean; the value rides
// in the length field.
func appendAppBoolean(buf []byte, v bool) []byte {
	if v {
		return append(buf, TagBoolean<<4|1)
	}

	return append(buf, TagBoolean<<4)
}

// appendOpeningTag and appendClosingTag bracket constructed context data.
func appendOpeningTag(buf []byte, tagNum byte) []byte {
	return append(buf, tagNum<<4|0x08|0x06)
}

func appendClosingTag(buf []byte, tagNum byte) []byte {
	return append(buf, tagNum<<4|0x08|0x07)
}

func minimalUnsigned(v uint32) []byte {
	switch {
	case v < 0x100:
		return []byte{byte(v)}
	case v < 0x10000:
		return []byte{byte(v >> 8), byte(v)}
	case v < 0x1000000:
		return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
	default:
		return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

// tagHeader is one parsed tag.
type tagHeader struct {
	number  byte
	context bool
	opening bool
	closing bool
	length  int
	// next is the offset of the tag content.
	next int
}

// parseTag reads the tag header at offset off.
func parseTag(data []byte, off int) (tagHeader, error) {
	if off >= len(data) {
		return tagHeader{}, &models.DecodeError{Frame: "bacnet tag", Reason: "truncated tag header"}
	}

	octet := data[off]
	h := tagHeader{
		number:  octet >> 4,
		context: octet&0x08 != 0,
		next:    off + 1,
	}

	lvt := int(octet & 0x07)

	switch {
	case h.context && lvt == 6:
		h.opening = true
	case h.context && lvt == 7:
		h.closing = true
	case lvt == 5:
		if h.next >= len(data) {
			return tagHeader{}, &models.DecodeError{Frame: "bacnet tag", Reason: "truncated extended length"}
		}

		h.length = int(data[h.next])
		h.next++
	default:
		h.length = lvt
	}

	if h.next+h.length > len(data) {
		return tagHeader{}, &models.DecodeError{Frame: "bacnet tag", Reason: "tag content exceeds frame"}
	}

	return h, nil
}

// decodeUnsigned reads a variable-width unsigned value.
func decodeUnsigned(data []byte) uint32 {
	var v uint32
	for _, b := range data {
		v = v<<8 | uint32(b)
	}

	return v
}

// TypedValueFromTag converts one application-tagged value into the
// gateway's typed value model.
func TypedValueFromTag(data []byte, off int) (models.TypedValue, int, error) {
	h, err := parseTag(data, off)
	if err != nil {
		return models.TypedValue{}, 0, err
	}

	if h.context {
		return models.TypedValue{}, 0, &models.DecodeError{Frame: "bacnet tag", Reason: "expected application tag"}
	}

	content := data[h.next : h.next+h.length]

	switch h.number {
	case TagNull:
		return models.TypedValue{}, h.next + h.length, nil
	case TagBoolean:
		return models.BoolValue(h.length == 1), h.next, nil
	case TagUnsignedInt, TagEnumerated:
		return models.IntValue(int64(decodeUnsigned(content)), ""), h.next + h.length, nil
	case TagSignedInt:
		v := int64(decodeUnsigned(content))
		if h.length > 0 && content[0]&0x80 != 0 {
			v -= int64(1) << (8 * h.length)
		}

		return models.IntValue(v, ""), h.next + h.length, nil
	case TagReal:
		if h.length != 4 {
			return models.TypedValue{}, 0, &models.DecodeError{Frame: "bacnet tag", Reason: "real value must be four bytes"}
		}

		return models.FloatValue(float64(math.Float32frombits(binary.BigEndian.Uint32(content))), ""), h.next + h.length, nil
	case TagDouble:
		if h.length != 8 {
			return models.TypedValue{}, 0, &models.DecodeError{Frame: "bacnet tag", Reason: "double value must be eight bytes"}
		}

		return models.FloatValue(math.Float64frombits(binary.BigEndian.Uint64(content)), ""), h.next + h.length, nil
	case TagCharString:
		if h.length < 1 {
			return models.TypedValue{}, 0, &models.DecodeError{Frame: "bacnet tag", Reason: "character string missing encoding octet"}
		}

		return models.TypedValue{Kind: models.KindEnum, Str: string(content[1:])}, h.next + h.length, nil
	default:
		return models.TypedValue{}, 0, &models.DecodeError{Frame: "bacnet tag", Reason: "unsupported application tag"}
	}
}

// AppendTypedValue encodes a typed value as its application tag.
func AppendTypedValue(buf []byte, v models.TypedValue) ([]byte, error) {
	switch v.Kind {
	case models.KindFloat:
		return appendAppReal(buf, float32(v.Float)), nil
	case models.KindInt:
		if v.Int < 0 {
			return nil, &models.DecodeError{Frame: "bacnet tag", Reason: "negative int writes not supported"}
		}

		return appendAppUnsigned(buf, uint32(v.Int)), nil
	case models.KindBool:
		return appendAppBoolean(buf, v.Bool), nil
	case models.KindEnum:
		if v.Int < 0 {
			return nil, &models.DecodeError{Frame: "bacnet tag", Reason: "negative enum value"}
		}

		return appendAppEnumerated(buf, uint32(v.Int)), nil
	default:
		return nil, &models.DecodeError{Frame: "bacnet tag", Reason: "unsupported value kind"}
	}
}
