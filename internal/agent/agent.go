// Package agent implements the guest side of the host/guest protocol: it runs
// processes, moves files and shuts the guest down on request.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/protocol"
	"github.com/slok/microbox/internal/session"
	"github.com/slok/microbox/internal/utils/file"
)

const stdinQueueSize = 64

// ServerConfig is the configuration of the agent server.
type ServerConfig struct {
	Executor Executor
	// Root is the directory guest paths are resolved against ("/" inside a real guest).
	Root string
	// OnShutdown is called once a stop request has been acknowledged.
	OnShutdown func()
	Logger     log.Logger
}

func (c *ServerConfig) defaults() error {
	if c.Executor == nil {
		c.Executor = OSExecutor{}
	}

	if c.Root == "" {
		c.Root = "/"
	}

	if c.OnShutdown == nil {
		c.OnShutdown = func() {}
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "agent.Server"})

	return nil
}

// Server serves host channels.
type Server struct {
	executor     Executor
	root         string
	onShutdown   func()
	shutdownOnce sync.Once
	logger       log.Logger
}

// NewServer returns a new agent server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Server{
		executor:   cfg.Executor,
		root:       cfg.Root,
		onShutdown: cfg.OnShutdown,
		logger:     cfg.Logger,
	}, nil
}

// Serve accepts channels from l until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting channel: %w", err)
		}
		go func() {
			if err := s.ServeConn(ctx, conn); err != nil {
				s.logger.Warningf("channel finished with error: %s", err)
			}
		}()
	}
}

// ServeConn serves a single channel until the host closes it or ctx is done.
func (s *Server) ServeConn(ctx context.Context, rwc io.ReadWriteCloser) error {
	conn := protocol.NewConn(rwc)
	defer conn.Close()

	if _, err := conn.Accept(ctx); err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	ch := &channel{
		srv:     s,
		conn:    conn,
		ctx:     ctx,
		stdins:  map[uint32]chan []byte{},
		uploads: map[uint32]*upload{},
	}
	defer ch.closeAll()

	for {
		msg, err := conn.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := ch.dispatch(msg); err != nil {
			return err
		}
	}
}

type upload struct {
	re *session.Reassembler
	w  *io.PipeWriter
}

// channel holds the per connection session state.
type channel struct {
	srv  *Server
	conn *protocol.Conn
	ctx  context.Context

	mu      sync.Mutex
	stdins  map[uint32]chan []byte
	uploads map[uint32]*upload
}

func (c *channel) dispatch(msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.ExecRequest:
		c.startExec(m)
	case protocol.ExecStdin:
		c.mu.Lock()
		defer c.mu.Unlock()
		q, ok := c.stdins[m.SessionID]
		if !ok {
			return nil
		}
		if len(m.Data) == 0 {
			delete(c.stdins, m.SessionID)
			close(q)
			return nil
		}
		q <- m.Data
	case protocol.CopyRequest:
		switch m.Direction {
		case protocol.DirectionToGuest:
			c.startUpload(m)
		case protocol.DirectionFromGuest:
			go c.download(m)
		}
	case protocol.CopyChunk:
		return c.uploadChunk(m)
	case protocol.StopRequest:
		c.srv.logger.Infof("stop requested by host")
		if err := c.conn.Send(protocol.Ack{SessionID: m.SessionID}); err != nil {
			return err
		}
		c.srv.shutdownOnce.Do(c.srv.onShutdown)
	default:
		return fmt.Errorf("unexpected %s from host: %w", msg.Kind(), protocol.ErrProtocol)
	}
	return nil
}

func (c *channel) startExec(req protocol.ExecRequest) {
	// Stdin is fed in order through a queue so a process that is slow to read
	// only blocks the channel once the queue is full.
	pr, pw := io.Pipe()
	q := make(chan []byte, stdinQueueSize)
	c.mu.Lock()
	c.stdins[req.SessionID] = q
	c.mu.Unlock()
	go func() {
		for b := range q {
			if _, err := pw.Write(b); err != nil {
				break
			}
		}
		_ = pw.Close()
		for range q {
		}
	}()

	go func() {
		defer func() {
			// Closing the reader first unblocks the queue drainer.
			_ = pr.Close()
			c.mu.Lock()
			if q, ok := c.stdins[req.SessionID]; ok {
				delete(c.stdins, req.SessionID)
				close(q)
			}
			c.mu.Unlock()
		}()

		p := Process{
			Path: req.Path,
			Args: req.Args,
			Env:  req.Env,
			Dir:  req.WorkingDir,
			Tty:  req.Tty,
		}
		stdio := Stdio{
			Stdin:  pr,
			Stdout: &outputWriter{conn: c.conn, id: req.SessionID, stream: protocol.StreamStdout},
			Stderr: &outputWriter{conn: c.conn, id: req.SessionID, stream: protocol.StreamStderr},
		}

		code, err := c.srv.executor.Run(c.ctx, p, stdio)
		if err != nil {
			c.sendError(req.SessionID, err)
			return
		}
		_ = c.conn.Send(protocol.ExecExit{SessionID: req.SessionID, Code: int32(code)})
	}()
}

func (c *channel) startUpload(req protocol.CopyRequest) {
	target, err := c.srv.guestPath(req.GuestPath)
	if err != nil {
		c.sendError(req.SessionID, err)
		return
	}

	pr, pw := io.Pipe()
	c.mu.Lock()
	c.uploads[req.SessionID] = &upload{re: session.NewReassembler(session.DefaultMaxPending), w: pw}
	c.mu.Unlock()

	go func() {
		err := file.ExtractAs(pr, target, file.ExtractOpts{AllowExternalLinks: true})
		if err != nil {
			c.mu.Lock()
			delete(c.uploads, req.SessionID)
			c.mu.Unlock()
			_ = pr.CloseWithError(err)
			c.sendError(req.SessionID, err)
			return
		}

		// Consume the archive padding up to the end of stream chunk.
		_, _ = io.Copy(io.Discard, pr)
		c.mu.Lock()
		delete(c.uploads, req.SessionID)
		c.mu.Unlock()
		_ = c.conn.Send(protocol.Ack{SessionID: req.SessionID})
	}()
}

func (c *channel) uploadChunk(m protocol.CopyChunk) error {
	c.mu.Lock()
	u, ok := c.uploads[m.SessionID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	ready, err := u.re.Add(m.Seq, m.Data)
	if err != nil {
		return err
	}
	for _, b := range ready {
		if _, err := u.w.Write(b); err != nil {
			break
		}
	}
	if u.re.Complete() {
		_ = u.w.Close()
	}
	return nil
}

func (c *channel) download(req protocol.CopyRequest) {
	src, err := c.srv.guestPath(req.GuestPath)
	if err != nil {
		c.sendError(req.SessionID, err)
		return
	}

	cw := &chunkWriter{conn: c.conn, id: req.SessionID}
	if err := file.Tar(c.ctx, cw, src); err != nil {
		c.sendError(req.SessionID, err)
		return
	}
	if err := c.conn.Send(protocol.CopyChunk{SessionID: req.SessionID, Seq: cw.seq}); err != nil {
		return
	}
	_ = c.conn.Send(protocol.Ack{SessionID: req.SessionID})
}

func (c *channel) sendError(id uint32, err error) {
	c.srv.logger.Debugf("session %d failed: %s", id, err)
	_ = c.conn.Send(protocol.Error{SessionID: id, Code: errorCode(err), Text: err.Error()})
}

func (c *channel) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, q := range c.stdins {
		delete(c.stdins, id)
		close(q)
	}
	for _, u := range c.uploads {
		_ = u.w.CloseWithError(session.ErrChannelClosed)
	}
}

// guestPath resolves an absolute guest path under the server root.
func (s *Server) guestPath(p string) (string, error) {
	if !filepath.IsAbs(p) {
		return "", fmt.Errorf("guest path %q must be absolute: %w", p, file.ErrUnsafePath)
	}
	clean := filepath.Clean(p)
	if s.root == "/" {
		return clean, nil
	}
	return filepath.Join(s.root, strings.TrimPrefix(clean, "/")), nil
}

func errorCode(err error) protocol.ErrorCode {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, exec.ErrNotFound):
		return protocol.ErrorCodeNotFound
	case errors.Is(err, fs.ErrPermission):
		return protocol.ErrorCodePermissionDenied
	case errors.Is(err, file.ErrUnsafePath), errors.Is(err, protocol.ErrProtocol):
		return protocol.ErrorCodeInvalidRequest
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.ErrorCodeTimeout
	default:
		return protocol.ErrorCodeInternal
	}
}

// outputWriter sends process output as exec output chunks.
type outputWriter struct {
	conn   *protocol.Conn
	id     uint32
	stream protocol.Stream
}

func (w *outputWriter) Write(p []byte) (int, error) {
	for off := 0; off < len(p); off += protocol.ChunkSize {
		end := min(off+protocol.ChunkSize, len(p))
		data := make([]byte, end-off)
		copy(data, p[off:end])
		if err := w.conn.Send(protocol.ExecOutput{SessionID: w.id, Stream: w.stream, Data: data}); err != nil {
			return off, err
		}
	}
	return len(p), nil
}

// chunkWriter sends data as sequenced copy chunks.
type chunkWriter struct {
	conn *protocol.Conn
	id   uint32
	seq  uint64
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	for off := 0; off < len(p); off += protocol.ChunkSize {
		end := min(off+protocol.ChunkSize, len(p))
		data := make([]byte, end-off)
		copy(data, p[off:end])
		if err := w.conn.Send(protocol.CopyChunk{SessionID: w.id, Seq: w.seq, Data: data}); err != nil {
			return off, err
		}
		w.seq++
	}
	return len(p), nil
}
