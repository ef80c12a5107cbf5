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
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"time"

	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/models"
)

// DefaultUnitID is probed during discovery when the caller does not name
// a unit.
const DefaultUnitID = 1

// Client is a Modbus/TCP connection to one device. Not safe for
// concurrent use; the owning session serializes operations.
type Client struct {
	addr    string
	timeout time.Duration
	conn    net.Conn
	log     logger.Logger
}

// NewClient returns an unconnected client for addr (host:port).
func NewClient(addr string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		addr:    addr,
		timeout: timeout,
		log:     log.WithComponent("modbus"),
	}
}

// Connect dials the device.
func (c *Client) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: c.timeout}

	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return &models.TransportError{Op: "dial", Addr: c.addr, Err: err}
	}

	c.conn = conn
	c.log.Debug().Str("addr", c.addr).Msg("Modbus connection established")

	return nil
}

// Close releases the connection. Safe to call on an unconnected client.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil

	return err
}

// Do sends one request and reads the matching response. Responses whose
// transaction id does not match are discarded until one matches or the
// deadline elapses.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if c.conn == nil {
		return nil, &models.TransportError{Op: "send", Addr: c.addr, Err: net.ErrClosed}
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, &models.TransportError{Op: "deadline", Addr: c.addr, Err: err}
	}

	if _, err := c.conn.Write(req.Encode()); err != nil {
		return nil, &models.TransportError{Op: "write", Addr: c.addr, Err: err}
	}

	for {
		frame, err := c.readFrame()
		if err != nil {
			return nil, err
		}

		resp, err := DecodeResponse(frame)
		if err != nil {
			return nil, err
		}

		if resp.TransactionID != req.TransactionID {
			c.log.Warn().
				Uint16("want", req.TransactionID).
				Uint16("got", resp.TransactionID).
				Msg("discarding response with stale transaction id")

			continue
		}

		return resp, nil
	}
}

func (c *Client) readFrame() ([]byte, error) {
	header := make([]byte, mbapLength)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, &models.TransportError{Op: "read", Addr: c.addr, Err: err}
	}

	length := int(binary.BigEndian.Uint16(header[4:]))
	if length < 2 || length > maxFrameBytes-6 {
		return nil, &models.DecodeError{Frame: "mbap", Reason: "implausible length field"}
	}

	// The unit id is part of the MBAP header but counted by the length
	// field, so the remaining body is length-1 bytes.
	body := make([]byte, length-1)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, &models.TransportError{Op: "read", Addr: c.addr, Err: err}
	}

	return append(header, body...), nil
}

// ReadLogical reads quantity items at a logical address and returns the
// raw response.
func (c *Client) ReadLogical(ctx context.Context, txID uint16, unitID byte, logical, quantity int) (AddressSpace, *Response, error) {
	space, wire, err := TranslateAddress(logical)
	if err != nil {
		return 0, nil, err
	}

	resp, err := c.Do(ctx, NewReadRequest(txID, unitID, space.ReadFunction(), wire, uint16(quantity)))
	if err != nil {
		return space, nil, err
	}

	return space, resp, nil
}

// ReadFloat reads a scaled float packed into two registers at a logical
// register address.
func (c *Client) ReadFloat(ctx context.Context, txID uint16, unitID byte, logical int, scale float64) (float64, error) {
	_, resp, err := c.ReadLogical(ctx, txID, unitID, logical, 2)
	if err != nil {
		return 0, err
	}

	regs, err := resp.Registers()
	if err != nil {
		return 0, err
	}

	if len(regs) != 2 {
		return 0, &models.DecodeError{Frame: "modbus pdu", Reason: "expected two registers for float value"}
	}

	return DecodeFloat(regs[0], regs[1], scale), nil
}

// WriteFloat writes a scaled float into two registers at a logical
// holding register address using two single-register writes, high word
// first.
func (c *Client) WriteFloat(ctx context.Context, txID uint16, unitID byte, logical int, v, scale float64) error {
	space, wire, err := TranslateAddress(logical)
	if err != nil {
		return err
	}

	if space != SpaceHoldingRegister {
		return &models.DecodeError{Frame: "modbus address", Reason: "float writes require a holding register address"}
	}

	words := EncodeFloat(v, scale)

	for i, w := range words {
		req := NewWriteSingleRegister(txID+uint16(i), unitID, wire+uint16(i), w)
		if _, err := c.Do(ctx, req); err != nil {
			return err
		}
	}

	return nil
}

// WriteCoil writes one coil at a logical coil address.
func (c *Client) WriteCoil(ctx context.Context, txID uint16, unitID byte, logical int, on bool) error {
	space, wire, err := TranslateAddress(logical)
	if err != nil {
		return err
	}

	if space != SpaceCoil {
		return &models.DecodeError{Frame: "modbus address", Reason: "coil writes require a coil address"}
	}

	_, err = c.Do(ctx, NewWriteSingleCoil(txID, unitID, wire, on))

	return err
}

// Probe checks whether a Modbus device answers at all: it reads one
// holding register from the default unit id. A protocol exception still
// proves a live Modbus stack.
func (c *Client) Probe(ctx context.Context, txID uint16) error {
	_, err := c.Do(ctx, NewReadRequest(txID, DefaultUnitID, FuncReadHolding, 0, 1))
	if err == nil {
		return nil
	}

	var pe *models.ProtocolException
	if errors.As(err, &pe) {
		return nil
	}

	return err
}
