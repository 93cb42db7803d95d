package protocol_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/microbox/internal/protocol"
	"github.com/slok/microbox/internal/wire"
)

func TestConnNegotiateAndExchange(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	hostSide, guestSide := net.Pipe()
	host := protocol.NewConn(hostSide)
	guest := protocol.NewConn(guestSide)
	defer host.Close()
	defer guest.Close()

	acceptErr := make(chan error, 1)
	go func() {
		_, err := guest.Accept(ctx)
		acceptErr <- err
	}()

	v, err := host.Negotiate(ctx)
	require.NoError(err)
	require.Equal(protocol.Version, v)
	require.NoError(<-acceptErr)

	go func() { _ = host.Send(protocol.StopRequest{SessionID: 1}) }()
	msg, err := guest.Recv()
	require.NoError(err)
	require.Equal(protocol.StopRequest{SessionID: 1}, msg)
}

func TestConnRejectsMessagesBeforeHandshake(t *testing.T) {
	assert := assert.New(t)

	a, b := net.Pipe()
	defer b.Close()
	c := protocol.NewConn(a)
	defer c.Close()

	err := c.Send(protocol.Ack{SessionID: 1})
	assert.ErrorIs(err, protocol.ErrProtocol)

	_, err = c.Recv()
	assert.ErrorIs(err, protocol.ErrProtocol)
}

func TestConnAcceptRejectsNonHandshakeFirstMessage(t *testing.T) {
	require := require.New(t)

	hostSide, guestSide := net.Pipe()
	guest := protocol.NewConn(guestSide)

	go func() {
		payload, _ := protocol.Encode(protocol.StopRequest{SessionID: 1})
		_ = wire.WriteFrame(hostSide, payload)
	}()

	_, err := guest.Accept(context.Background())
	require.ErrorIs(err, protocol.ErrProtocol)

	// The channel has been torn down.
	_ = hostSide.SetReadDeadline(time.Now().Add(time.Second))
	_, err = wire.ReadFrame(hostSide)
	require.Error(err)
}

func TestConnNegotiateVersionMismatch(t *testing.T) {
	require := require.New(t)

	hostSide, guestSide := net.Pipe()
	host := protocol.NewConn(hostSide)

	// A peer speaking another version answers with its own handshake.
	go func() {
		_, _ = wire.ReadFrame(guestSide)
		payload, _ := protocol.Encode(protocol.Handshake{Version: protocol.Version + 1})
		_ = wire.WriteFrame(guestSide, payload)
	}()

	v, err := host.Negotiate(context.Background())
	require.ErrorIs(err, protocol.ErrVersionMismatch)
	require.Equal(protocol.Version+1, v)

	// No typed message can be sent after a failed negotiation.
	require.ErrorIs(host.Send(protocol.Ack{SessionID: 1}), protocol.ErrProtocol)
}

func TestConnAcceptVersionMismatchRepliesAndCloses(t *testing.T) {
	require := require.New(t)

	hostSide, guestSide := net.Pipe()
	guest := protocol.NewConn(guestSide)

	replies := make(chan protocol.Handshake, 1)
	go func() {
		payload, _ := protocol.Encode(protocol.Handshake{Version: protocol.Version + 1})
		_ = wire.WriteFrame(hostSide, payload)
		reply, _ := wire.ReadFrame(hostSide)
		h, _ := protocol.DecodeHandshake(reply)
		replies <- h
	}()

	_, err := guest.Accept(context.Background())
	require.ErrorIs(err, protocol.ErrVersionMismatch)
	require.Equal(protocol.Version, (<-replies).Version)
}

func TestConnNegotiateHonorsContext(t *testing.T) {
	require := require.New(t)

	hostSide, guestSide := net.Pipe()
	defer guestSide.Close()
	host := protocol.NewConn(hostSide)

	// The peer never answers.
	go func() { _, _ = wire.ReadFrame(guestSide) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := host.Negotiate(ctx)
	require.ErrorIs(err, context.DeadlineExceeded)
}

func TestConnRecvClosesOnProtocolError(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	hostSide, guestSide := net.Pipe()
	host := protocol.NewConn(hostSide)
	guest := protocol.NewConn(guestSide)

	go func() { _, _ = guest.Accept(ctx) }()
	_, err := host.Negotiate(ctx)
	require.NoError(err)

	go func() { _ = wire.WriteFrame(guestSide, []byte{250, 0, 0, 0, 1}) }()
	_, err = host.Recv()
	require.ErrorIs(err, protocol.ErrProtocol)

	_, err = host.Recv()
	require.Error(err)
}
