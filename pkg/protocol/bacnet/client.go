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
	"context"
	"errors"
	"net"
	"time"

	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/models"
)

const maxDatagram = 1500

// Client is a BACnet/IP peer bound to one device address. Not safe for
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
		log:     log.WithComponent("bacnet"),
	}
}

// Connect binds a UDP socket toward the device.
func (c *Client) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: c.timeout}

	conn, err := d.DialContext(ctx, "udp", c.addr)
	if err != nil {
		return &models.TransportError{Op: "dial", Addr: c.addr, Err: err}
	}

	c.conn = conn
	c.log.Debug().Str("addr", c.addr).Msg("BACnet socket bound")

	return nil
}

// Close releases the socket. Safe to call on an unconnected client.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil

	return err
}

// exchange sends one frame and reads datagrams until decode yields a
// result for the expected invoke id or the deadline elapses. Datagrams
// for other invoke ids are discarded.
func (c *Client) exchange(ctx context.Context, frame []byte, invokeID byte) (*Ack, error) {
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

	if _, err := c.conn.Write(frame); err != nil {
		return nil, &models.TransportError{Op: "write", Addr: c.addr, Err: err}
	}

	buf := make([]byte, maxDatagram)

	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return nil, &models.TransportError{Op: "read", Addr: c.addr, Err: err}
		}

		ack, err := DecodeAck(buf[:n])
		if err != nil {
			var pe *models.ProtocolException
			if errors.As(err, &pe) {
				return nil, err
			}

			c.log.Warn().Err(err).Msg("discarding undecodable datagram")

			continue
		}

		if ack.InvokeID != invokeID {
			c.log.Warn().
				Uint8("want", invokeID).
				Uint8("got", ack.InvokeID).
				Msg("discarding response with stale invoke id")

			continue
		}

		return ack, nil
	}
}

// ReadProperty reads one property of one object.
func (c *Client) ReadProperty(ctx context.Context, invokeID byte, obj models.ObjectRef, property uint32) (models.TypedValue, error) {
	objType, ok := ObjectTypeNumber(obj.ObjectType)
	if !ok {
		return models.TypedValue{}, &models.DecodeError{Frame: "bacnet object", Reason: "unknown object type code"}
	}

	ack, err := c.exchange(ctx, EncodeReadProperty(invokeID, objType, obj.Instance, property), invokeID)
	if err != nil {
		return models.TypedValue{}, err
	}

	return ack.Value, nil
}

// WriteProperty writes one property of one object and waits for the
// SimpleAck.
func (c *Client) WriteProperty(ctx context.Context, invokeID byte, obj models.ObjectRef, property uint32, value models.TypedValue) error {
	objType, ok := ObjectTypeNumber(obj.ObjectType)
	if !ok {
		return &models.DecodeError{Frame: "bacnet object", Reason: "unknown object type code"}
	}

	frame, err := EncodeWriteProperty(invokeID, objType, obj.Instance, property, value)
	if err != nil {
		return err
	}

	ack, err := c.exchange(ctx, frame, invokeID)
	if err != nil {
		return err
	}

	if !ack.Simple {
		return &models.DecodeError{Frame: "apdu", Reason: "WriteProperty expected a SimpleAck"}
	}

	return nil
}

// Discover broadcasts Who-Is and collects I-Am announcements until the
// window closes. Undecodable datagrams are skipped.
func (c *Client) Discover(ctx context.Context, window time.Duration) ([]*IAm, error) {
	if c.conn == nil {
		return nil, &models.TransportError{Op: "send", Addr: c.addr, Err: net.ErrClosed}
	}

	deadline := time.Now().Add(window)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, &models.TransportError{Op: "deadline", Addr: c.addr, Err: err}
	}

	if _, err := c.conn.Write(EncodeWhoIs()); err != nil {
		return nil, &models.TransportError{Op: "write", Addr: c.addr, Err: err}
	}

	var found []*IAm

	buf := make([]byte, maxDatagram)

	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			// The window closing is the normal exit.
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return found, nil
			}

			return found, &models.TransportError{Op: "read", Addr: c.addr, Err: err}
		}

		ia, err := DecodeIAm(buf[:n])
		if err != nil {
			continue
		}

		found = append(found, ia)
	}
}
