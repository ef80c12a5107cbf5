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

package bacnet

import (
	"encoding/binary"

	"github.com/carverauto/fieldgate/pkg/models"
)

// BVLC constants.
const (
	bvlcType = 0x81

	BVLCOriginalUnicast   = 0x0A
	BVLCOriginalBroadcast = 0x0B
)

// NPDU constants.
const (
	npduVersion       = 0x01
	npduExpectReply   = 0x04
	npduNoControlBits = 0x00
)

// APDU PDU types (high nibble of the first APDU octet).
const (
	PDUConfirmedRequest   = 0x00
	PDUUnconfirmedRequest = 0x10
	PDUSimpleAck          = 0x20
	PDUComplexAck         = 0x30
	PDUError              = 0x50
	PDUReject             = 0x60
	PDUAbort              = 0x70
)

// Service choices.
const (
	ServiceIAm           = 0x00
	ServiceWhoIs         = 0x08
	ServiceReadProperty  = 0x0C
	ServiceWriteProperty = 0x0F
)

// maxAPDUAccepted advertises 1476-octet APDUs in confirmed requests.
const maxAPDUAccepted = 0x05

// wrapBVLC prefixes a BVLC header to an NPDU+APDU body.
func wrapBVLC(function byte, body []byte) []byte {
	frame := make([]byte, 4, 4+len(body))
	frame[0] = bvlcType
	frame[1] = function
	binary.BigEndian.PutUint16(frame[2:], uint16(4+len(body)))

	return append(frame, body...)
}

// unwrapBVLC validates the BVLC header and returns the NPDU+APDU body.
func unwrapBVLC(frame []byte) ([]byte, error) {
	if len(frame) < 4 {
		return nil, &models.DecodeError{Frame: "bvlc", Reason: "frame shorter than BVLC header"}
	}

	if frame[0] != bvlcType {
		return nil, &models.DecodeError{Frame: "bvlc", Reason: "bad BVLC type octet"}
	}

	if int(binary.BigEndian.Uint16(frame[2:])) != len(frame) {
		return nil, &models.DecodeError{Frame: "bvlc", Reason: "BVLC length does not match frame size"}
	}

	return frame[4:], nil
}

// stripNPDU validates the NPDU header and returns the APDU. Routed NPDUs
// (destination or source specifiers) are not supported on a local
// network.
func stripNPDU(body []byte) ([]byte, error) {
	if len(body) < 2 {
		return nil, &models.DecodeError{Frame: "npdu", Reason: "truncated NPDU header"}
	}

	if body[0] != npduVersion {
		return nil, &models.DecodeError{Frame: "npdu", Reason: "unsupported NPDU version"}
	}

	control := body[1]
	if control&0x20 != 0 || control&0x08 != 0 {
		return nil, &models.DecodeError{Frame: "npdu", Reason: "routed NPDU not supported"}
	}

	return body[2:], nil
}

// EncodeWhoIs builds an unconfirmed Who-Is broadcast with no instance
// range limits.
func EncodeWhoIs() []byte {
	apdu := []byte{PDUUnconfirmedRequest, ServiceWhoIs}
	body := append([]byte{npduVersion, npduNoControlBits}, apdu...)

	return wrapBVLC(BVLCOriginalBroadcast, body)
}

// IAm is a decoded I-Am announcement.
type IAm struct {
	DeviceInstance uint32
	MaxAPDU        uint32
	Segmentation   uint32
	VendorID       uint16
}

// EncodeIAm builds the unconfirmed I-Am unicast reply. Used by in-test
// device simulators.
func EncodeIAm(deviceInstance uint32, maxAPDU uint32, segmentation uint32, vendorID uint16) []byte {
	apdu := []byte{PDUUnconfirmedRequest, ServiceIAm}
	apdu = append(apdu, TagObjectID<<4|4)
	apdu = binary.BigEndian.AppendUint32(apdu, EncodeObjectID(ObjectDevice, deviceInstance))
	apdu = appendAppUnsigned(apdu, maxAPDU)
	apdu = appendAppEnumerated(apdu, segmentation)
	apdu = appendAppUnsigned(apdu, uint32(vendorID))

	body := append([]byte{npduVersion, npduNoControlBits}, apdu...)

	return wrapBVLC(BVLCOriginalUnicast, body)
}

// DecodeIAm parses an I-Am frame. Frames that are not I-Am announcements
// return a DecodeError.
func DecodeIAm(frame []byte) (*IAm, error) {
	body, err := unwrapBVLC(frame)
	if err != nil {
		return nil, err
	}

	apdu, err := stripNPDU(body)
	if err != nil {
		return nil, err
	}

	if len(apdu) < 2 || apdu[0]&0xF0 != PDUUnconfirmedRequest || apdu[1] != ServiceIAm {
		return nil, &models.DecodeError{Frame: "apdu", Reason: "not an I-Am announcement"}
	}

	off := 2

	h, err := parseTag(apdu, off)
	if err != nil {
		return nil, err
	}

	if h.context || h.number != TagObjectID || h.length != 4 {
		return nil, &models.DecodeError{Frame: "apdu", Reason: "I-Am missing device object identifier"}
	}

	objType, instance := DecodeObjectID(binary.BigEndian.Uint32(apdu[h.next:]))
	if objType != ObjectDevice {
		return nil, &models.DecodeError{Frame: "apdu", Reason: "I-Am object is not a device"}
	}

	ia := &IAm{DeviceInstance: instance}
	off = h.next + h.length

	for _, field := range []*uint32{&ia.MaxAPDU, &ia.Segmentation} {
		h, err = parseTag(apdu, off)
		if err != nil {
			return nil, err
		}

		*field = decodeUnsigned(apdu[h.next : h.next+h.length])
		off = h.next + h.length
	}

	h, err = parseTag(apdu, off)
	if err != nil {
		return nil, err
	}

	ia.VendorID = uint16(decodeUnsigned(apdu[h.next : h.next+h.length]))

	return ia, nil
}

// EncodeReadProperty builds a confirmed ReadProperty request for one
// property of one object.
func EncodeReadProperty(invokeID byte, objectType uint16, instance uint32, property uint32) []byte {
	apdu := []byte{PDUConfirmedRequest, maxAPDUAccepted, invokeID, ServiceReadProperty}
	apdu = appendContextObjectID(apdu, 0, objectType, instance)
	apdu = appendContextUnsigned(apdu, 1, property)

	body := append([]byte{npduVersion, npduExpectReply}, apdu...)

	return wrapBVLC(BVLCOriginalUnicast, body)
}

// EncodeWriteProperty builds a confirmed WriteProperty request carrying
// one application-tagged value.
func EncodeWriteProperty(invokeID byte, objectType uint16, instance uint32, property uint32, value models.TypedValue) ([]byte, error) {
	apdu := []byte{PDUConfirmedRequest, maxAPDUAccepted, invokeID, ServiceWriteProperty}
	apdu = appendContextObjectID(apdu, 0, objectType, instance)
	apdu = appendContextUnsigned(apdu, 1, property)
	apdu = appendOpeningTag(apdu, 3)

	apdu, err := AppendTypedValue(apdu, value)
	if err != nil {
		return nil, err
	}

	apdu = appendClosingTag(apdu, 3)

	body := append([]byte{npduVersion, npduExpectReply}, apdu...)

	return wrapBVLC(BVLCOriginalUnicast, body), nil
}

// Ack is a decoded confirmed-service response.
type Ack struct {
	InvokeID byte
	// Value is set for ComplexAck responses carrying property data.
	Value models.TypedValue
	// Simple marks a SimpleAck.
	Simple bool
}

// DecodeAck parses a SimpleAck, ComplexAck or Error response to a
// confirmed request. Error PDUs decode into a ProtocolException; reject
// and abort PDUs do too, with the reason octet as the code.
func DecodeAck(frame []byte) (*Ack, error) {
	body, err := unwrapBVLC(frame)
	if err != nil {
		return nil, err
	}

	apdu, err := stripNPDU(body)
	if err != nil {
		return nil, err
	}

	if len(apdu) < 3 {
		return nil, &models.DecodeError{Frame: "apdu", Reason: "truncated confirmed response"}
	}

	switch apdu[0] & 0xF0 {
	case PDUSimpleAck:
		return &Ack{InvokeID: apdu[1], Simple: true}, nil

	case PDUComplexAck:
		return decodeComplexAck(apdu)

	case PDUError:
		return nil, decodeErrorPDU(apdu)

	case PDUReject, PDUAbort:
		return nil, &models.ProtocolException{
			Protocol: "bacnet",
			Code:     int(apdu[2]),
			Message:  "request rejected by device",
		}

	default:
		return nil, &models.DecodeError{Frame: "apdu", Reason: "unexpected PDU type"}
	}
}

// decodeComplexAck unpacks a ReadProperty ComplexAck: object id (ctx 0),
// property (ctx 1), value inside opening/closing tag 3.
func decodeComplexAck(apdu []byte) (*Ack, error) {
	if len(apdu) < 3 || apdu[2] != ServiceReadProperty {
		return nil, &models.DecodeError{Frame: "apdu", Reason: "ComplexAck for unexpected service"}
	}

	ack := &Ack{InvokeID: apdu[1]}
	off := 3

	for {
		h, err := parseTag(apdu, off)
		if err != nil {
			return nil, err
		}

		if h.opening && h.number == 3 {
			off = h.next
			break
		}

		if h.closing {
			return nil, &models.DecodeError{Frame: "apdu", Reason: "ComplexAck missing property value"}
		}

		off = h.next + h.length
	}

	v, _, err := TypedValueFromTag(apdu, off)
	if err != nil {
		return nil, err
	}

	ack.Value = v

	return ack, nil
}

// decodeErrorPDU unpacks the error class and code from a BACnet-Error
// PDU. The code is packed class*256+code so callers see both.
func decodeErrorPDU(apdu []byte) error {
	off := 3

	classTag, err := parseTag(apdu, off)
	if err != nil {
		return err
	}

	class := decodeUnsigned(apdu[classTag.next : classTag.next+classTag.length])

	codeTag, err := parseTag(apdu, classTag.next+classTag.length)
	if err != nil {
		return err
	}

	code := decodeUnsigned(apdu[codeTag.next : codeTag.next+codeTag.length])

	return &models.ProtocolException{
		Protocol: "bacnet",
		Code:     int(class<<8 | code),
		Message:  errorClassMessage(class),
	}
}

func errorClassMessage(class uint32) string {
	switch class {
	case 0:
		return "device error"
	case 1:
		return "object error"
	case 2:
		return "property error"
	case 3:
		return "resources error"
	case 4:
		return "security error"
	case 5:
		return "services error"
	default:
		return "vendor error"
	}
}
