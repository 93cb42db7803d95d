// Package session multiplexes concurrent protocol sessions over a single guest channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/metrics"
	"github.com/slok/microbox/internal/protocol"
	"github.com/slok/microbox/internal/wire"
)

// ErrChannelClosed is returned for sessions on a channel that has been closed.
var ErrChannelClosed = errors.New("channel closed")

// Session kinds.
const (
	KindExec = "exec"
	KindCopy = "copy"
	KindStop = "stop"
)

// IsFatal returns true for errors that make a channel untrustworthy.
func IsFatal(err error) bool {
	return errors.Is(err, protocol.ErrProtocol) || errors.Is(err, wire.ErrFraming) || errors.Is(err, protocol.ErrVersionMismatch)
}

// handler receives the messages of a single session from the reader goroutine.
type handler interface {
	// handle processes a message, returns true when the message completes the session.
	handle(msg protocol.Message) (done bool, err error)
	// fail completes the session with an error.
	fail(err error)
}

type entry struct {
	kind string
	h    handler
}

// MuxConfig is the configuration of the multiplexer.
type MuxConfig struct {
	Logger  log.Logger
	Metrics metrics.Recorder
	// QueueSize is the number of chunks buffered per output stream.
	QueueSize int
}

func (c *MuxConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "session.Mux"})

	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}

	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}

	return nil
}

// Mux owns a guest channel and the sessions opened on it. A single goroutine
// reads the channel and routes every message to its session.
type Mux struct {
	conn      *protocol.Conn
	logger    log.Logger
	metrics   metrics.Recorder
	queueSize int

	mu         sync.Mutex
	nextID     uint32
	sessions   map[uint32]entry
	negotiated bool
	err        error
	done       chan struct{}
}

// NewMux returns a multiplexer over rwc. Negotiate must be called before opening sessions.
func NewMux(rwc io.ReadWriteCloser, cfg MuxConfig) (*Mux, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if rwc == nil {
		return nil, fmt.Errorf("channel is required")
	}

	return &Mux{
		conn:      protocol.NewConn(rwc),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		queueSize: cfg.QueueSize,
		nextID:    1,
		sessions:  map[uint32]entry{},
		done:      make(chan struct{}),
	}, nil
}

// Negotiate runs the handshake and starts routing messages.
func (m *Mux) Negotiate(ctx context.Context) error {
	m.mu.Lock()
	if m.negotiated {
		m.mu.Unlock()
		return fmt.Errorf("channel already negotiated: %w", protocol.ErrProtocol)
	}
	m.negotiated = true
	m.mu.Unlock()

	if _, err := m.conn.Negotiate(ctx); err != nil {
		m.shutdown(err)
		return fmt.Errorf("handshake failed: %w", err)
	}

	go m.readLoop()
	return nil
}

// Done is closed when the channel is no longer usable.
func (m *Mux) Done() <-chan struct{} { return m.done }

// Err returns the reason the channel stopped, nil while it is usable.
func (m *Mux) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Close closes the channel, every open session fails with ErrChannelClosed.
func (m *Mux) Close() error {
	m.shutdown(ErrChannelClosed)
	return nil
}

func (m *Mux) readLoop() {
	for {
		msg, err := m.conn.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				err = ErrChannelClosed
			}
			m.shutdown(err)
			return
		}

		m.mu.Lock()
		e, ok := m.sessions[msg.Session()]
		m.mu.Unlock()
		if !ok {
			m.logger.Debugf("dropping %s for unknown session %d", msg.Kind(), msg.Session())
			continue
		}

		done, err := e.h.handle(msg)
		if err != nil {
			if IsFatal(err) {
				m.logger.Warningf("fatal error on session %d: %s", msg.Session(), err)
				m.shutdown(err)
				return
			}
			m.finish(msg.Session(), err)
			continue
		}
		if done {
			m.finish(msg.Session(), nil)
		}
	}
}

// shutdown marks the channel as failed and fails every open session.
func (m *Mux) shutdown(cause error) {
	m.mu.Lock()
	if m.err != nil {
		m.mu.Unlock()
		return
	}
	m.err = cause
	sessions := m.sessions
	m.sessions = map[uint32]entry{}
	close(m.done)
	m.mu.Unlock()

	_ = m.conn.Close()

	for _, e := range sessions {
		e.h.fail(cause)
		m.metrics.SessionClosed(e.kind, false)
	}
}

// open registers a new session and returns its id.
func (m *Mux) open(kind string, h handler) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return 0, m.err
	}
	if !m.negotiated {
		return 0, fmt.Errorf("opening session before handshake: %w", protocol.ErrProtocol)
	}
	if m.nextID == math.MaxUint32 {
		return 0, fmt.Errorf("session ids exhausted on channel")
	}

	id := m.nextID
	m.nextID++
	m.sessions[id] = entry{kind: kind, h: h}
	m.metrics.SessionOpened(kind)

	return id, nil
}

// finish removes a session, failing it when err is set.
func (m *Mux) finish(id uint32, err error) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}

	if err != nil {
		e.h.fail(err)
	}
	m.metrics.SessionClosed(e.kind, err == nil)
}

// send writes a message, a write failure is fatal for the channel.
func (m *Mux) send(msg protocol.Message) error {
	if err := m.conn.Send(msg); err != nil {
		m.shutdown(fmt.Errorf("%w: %w", ErrChannelClosed, err))
		return err
	}
	return nil
}

// Exec starts a process in the guest.
func (m *Mux) Exec(ctx context.Context, req protocol.ExecRequest, eio ExecIO) (*ExecSession, error) {
	s := newExecSession(eio, m.queueSize)
	id, err := m.open(KindExec, s)
	if err != nil {
		return nil, err
	}
	s.id = id
	req.SessionID = id

	if err := m.send(req); err != nil {
		return nil, fmt.Errorf("sending exec request: %w", err)
	}

	if eio.Stdin == nil {
		// Without input the process must see EOF right away.
		if err := m.send(protocol.ExecStdin{SessionID: id}); err != nil {
			return nil, fmt.Errorf("closing stdin: %w", err)
		}
	} else {
		go m.streamStdin(id, eio.Stdin, s.finished)
	}

	return s, nil
}

func (m *Mux) streamStdin(id uint32, r io.Reader, finished <-chan struct{}) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case <-finished:
				return
			default:
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			if m.conn.Send(protocol.ExecStdin{SessionID: id, Data: data}) != nil {
				return
			}
		}
		if err != nil {
			select {
			case <-finished:
			default:
				_ = m.conn.Send(protocol.ExecStdin{SessionID: id})
			}
			return
		}
	}
}

// CopyTo streams src to the guest and waits for the guest to acknowledge it.
func (m *Mux) CopyTo(ctx context.Context, req protocol.CopyRequest, src io.Reader) error {
	req.Direction = protocol.DirectionToGuest
	s := newResultSession(func(msg protocol.Message) (bool, error) {
		return false, fmt.Errorf("unexpected %s on copy to guest: %w", msg.Kind(), protocol.ErrProtocol)
	})
	id, err := m.open(KindCopy, s)
	if err != nil {
		return err
	}
	req.SessionID = id

	if err := m.send(req); err != nil {
		return fmt.Errorf("sending copy request: %w", err)
	}

	buf := make([]byte, protocol.ChunkSize)
	var seq uint64
	for {
		// The guest may reject the copy while we are still streaming.
		select {
		case <-s.result:
			return s.err
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if err := m.send(protocol.CopyChunk{SessionID: id, Seq: seq, Data: data}); err != nil {
				return fmt.Errorf("sending chunk %d: %w", seq, err)
			}
			seq++
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			// Nothing else will complete the session on the guest side.
			_ = m.Close()
			return fmt.Errorf("reading copy source: %w", rerr)
		}
	}

	if err := m.send(protocol.CopyChunk{SessionID: id, Seq: seq}); err != nil {
		return fmt.Errorf("sending end of stream: %w", err)
	}

	return s.wait(ctx)
}

// CopyFrom requests data from the guest and writes it to dst in order.
func (m *Mux) CopyFrom(ctx context.Context, req protocol.CopyRequest, dst io.Writer) error {
	req.Direction = protocol.DirectionFromGuest
	s := newCopyFromSession(dst, m.queueSize)
	id, err := m.open(KindCopy, s)
	if err != nil {
		return err
	}
	req.SessionID = id

	if err := m.send(req); err != nil {
		return fmt.Errorf("sending copy request: %w", err)
	}

	return s.wait(ctx)
}

// Stop asks the guest to shut down and waits for the acknowledgement.
func (m *Mux) Stop(ctx context.Context) error {
	s := newResultSession(func(msg protocol.Message) (bool, error) {
		return false, fmt.Errorf("unexpected %s on stop: %w", msg.Kind(), protocol.ErrProtocol)
	})
	id, err := m.open(KindStop, s)
	if err != nil {
		return err
	}

	if err := m.send(protocol.StopRequest{SessionID: id}); err != nil {
		return fmt.Errorf("sending stop request: %w", err)
	}

	return s.wait(ctx)
}
