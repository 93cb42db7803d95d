package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/slok/microbox/internal/wire"
)

// Conn is a message connection over a byte channel. No message other than the
// handshake can be sent or received until Negotiate or Accept succeeds.
//
// Send is safe for concurrent use. Recv must be called from a single goroutine.
type Conn struct {
	rwc        io.ReadWriteCloser
	writeMu    sync.Mutex
	negotiated atomic.Bool
	closeOnce  sync.Once
	closeErr   error
}

// NewConn returns a new Conn over rwc.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{rwc: rwc}
}

// Negotiate runs the initiating side of the handshake: it sends our version and
// then expects the peer's. Any failure closes the connection.
func (c *Conn) Negotiate(ctx context.Context) (uint32, error) {
	if c.negotiated.Load() {
		return 0, fmt.Errorf("handshake already completed: %w", ErrProtocol)
	}

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if err := c.writeHandshake(); err != nil {
		_ = c.Close()
		return 0, ctxErr(ctx, err)
	}

	peer, err := c.readHandshake()
	if err != nil {
		_ = c.Close()
		return 0, ctxErr(ctx, err)
	}

	if peer.Version != Version {
		_ = c.Close()
		return peer.Version, fmt.Errorf("peer speaks version %d, we speak %d: %w", peer.Version, Version, ErrVersionMismatch)
	}

	c.negotiated.Store(true)
	return peer.Version, nil
}

// Accept runs the accepting side of the handshake: it expects the peer's
// version and then replies with ours. Any failure closes the connection.
func (c *Conn) Accept(ctx context.Context) (uint32, error) {
	if c.negotiated.Load() {
		return 0, fmt.Errorf("handshake already completed: %w", ErrProtocol)
	}

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	peer, err := c.readHandshake()
	if err != nil {
		_ = c.Close()
		return 0, ctxErr(ctx, err)
	}

	// The peer always gets our version back so it can report the mismatch.
	if err := c.writeHandshake(); err != nil {
		_ = c.Close()
		return 0, ctxErr(ctx, err)
	}

	if peer.Version != Version {
		_ = c.Close()
		return peer.Version, fmt.Errorf("peer speaks version %d, we speak %d: %w", peer.Version, Version, ErrVersionMismatch)
	}

	c.negotiated.Store(true)
	return peer.Version, nil
}

// Send writes a message.
func (c *Conn) Send(msg Message) error {
	if !c.negotiated.Load() {
		return fmt.Errorf("sending %s before handshake: %w", msg.Kind(), ErrProtocol)
	}
	if msg.Kind() == KindHandshake {
		return fmt.Errorf("handshake already completed: %w", ErrProtocol)
	}

	payload, err := Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrame(c.rwc, payload)
}

// Recv reads the next message. Framing and decoding failures are fatal and
// close the connection.
func (c *Conn) Recv() (Message, error) {
	if !c.negotiated.Load() {
		return nil, fmt.Errorf("receiving before handshake: %w", ErrProtocol)
	}

	payload, err := wire.ReadFrame(c.rwc)
	if err != nil {
		if errors.Is(err, wire.ErrFraming) {
			_ = c.Close()
		}
		return nil, err
	}

	msg, err := Decode(payload, Version)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if msg.Kind() == KindHandshake {
		_ = c.Close()
		return nil, fmt.Errorf("unexpected handshake after negotiation: %w", ErrProtocol)
	}

	return msg, nil
}

// Close closes the underlying channel.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.rwc.Close() })
	return c.closeErr
}

func (c *Conn) writeHandshake() error {
	payload, err := Encode(Handshake{Version: Version})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrame(c.rwc, payload)
}

func (c *Conn) readHandshake() (Handshake, error) {
	payload, err := wire.ReadFrame(c.rwc)
	if err != nil {
		return Handshake{}, fmt.Errorf("reading handshake: %w", err)
	}
	return DecodeHandshake(payload)
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}
