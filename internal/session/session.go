package session

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/slok/microbox/internal/protocol"
)

// ExecIO holds the process streams of an exec session. Nil writers discard output.
type ExecIO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ExecSession is a running guest process.
type ExecSession struct {
	id uint32

	mu       sync.Mutex
	closed   bool
	stdout   *pump
	stderr   *pump
	finished chan struct{}
	code     int
	err      error
}

func newExecSession(eio ExecIO, queueSize int) *ExecSession {
	return &ExecSession{
		stdout:   newPump(eio.Stdout, queueSize),
		stderr:   newPump(eio.Stderr, queueSize),
		finished: make(chan struct{}),
	}
}

// ID returns the session id.
func (s *ExecSession) ID() uint32 { return s.id }

func (s *ExecSession) handle(msg protocol.Message) (bool, error) {
	switch m := msg.(type) {
	case protocol.ExecOutput:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return false, nil
		}
		if m.Stream == protocol.StreamStderr {
			s.stderr.push(m.Data)
		} else {
			s.stdout.push(m.Data)
		}
		return false, nil
	case protocol.ExecExit:
		s.complete(int(m.Code), nil)
		return true, nil
	case protocol.Error:
		s.complete(-1, m.AsError())
		return true, nil
	default:
		return false, fmt.Errorf("unexpected %s on exec session: %w", msg.Kind(), protocol.ErrProtocol)
	}
}

func (s *ExecSession) fail(err error) { s.complete(-1, err) }

func (s *ExecSession) complete(code int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.code = code
	s.err = err
	s.stdout.close()
	s.stderr.close()
	close(s.finished)
}

// Wait waits for the process to exit and its output to be written, and
// returns the process exit code.
func (s *ExecSession) Wait(ctx context.Context) (int, error) {
	select {
	case <-s.finished:
	case <-ctx.Done():
		return -1, ctx.Err()
	}

	outErr := s.stdout.wait()
	errErr := s.stderr.wait()

	if s.err != nil {
		return -1, s.err
	}
	if outErr != nil {
		return s.code, fmt.Errorf("writing stdout: %w", outErr)
	}
	if errErr != nil {
		return s.code, fmt.Errorf("writing stderr: %w", errErr)
	}

	return s.code, nil
}

// resultSession is a session completed by an Ack or an Error.
type resultSession struct {
	other  func(protocol.Message) (bool, error)
	once   sync.Once
	result chan struct{}
	err    error
}

func newResultSession(other func(protocol.Message) (bool, error)) *resultSession {
	return &resultSession{other: other, result: make(chan struct{})}
}

func (s *resultSession) handle(msg protocol.Message) (bool, error) {
	switch m := msg.(type) {
	case protocol.Ack:
		s.complete(nil)
		return true, nil
	case protocol.Error:
		s.complete(m.AsError())
		return true, nil
	default:
		return s.other(msg)
	}
}

func (s *resultSession) fail(err error) { s.complete(err) }

func (s *resultSession) complete(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.result)
	})
}

func (s *resultSession) wait(ctx context.Context) error {
	select {
	case <-s.result:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// copyFromSession receives sequenced chunks and writes them in order.
type copyFromSession struct {
	mu       sync.Mutex
	closed   bool
	re       *Reassembler
	out      *pump
	finished chan struct{}
	err      error
}

func newCopyFromSession(dst io.Writer, queueSize int) *copyFromSession {
	return &copyFromSession{
		re:       NewReassembler(DefaultMaxPending),
		out:      newPump(dst, queueSize),
		finished: make(chan struct{}),
	}
}

func (s *copyFromSession) handle(msg protocol.Message) (bool, error) {
	switch m := msg.(type) {
	case protocol.CopyChunk:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return false, nil
		}
		ready, err := s.re.Add(m.Seq, m.Data)
		if err != nil {
			return false, err
		}
		for _, b := range ready {
			s.out.push(b)
		}
		return false, nil
	case protocol.Ack:
		s.mu.Lock()
		complete := s.re.Complete()
		s.mu.Unlock()
		if !complete {
			return false, fmt.Errorf("transfer acknowledged before all chunks arrived: %w", protocol.ErrProtocol)
		}
		s.complete(nil)
		return true, nil
	case protocol.Error:
		s.complete(m.AsError())
		return true, nil
	default:
		return false, fmt.Errorf("unexpected %s on copy from guest: %w", msg.Kind(), protocol.ErrProtocol)
	}
}

func (s *copyFromSession) fail(err error) { s.complete(err) }

func (s *copyFromSession) complete(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	s.out.close()
	close(s.finished)
}

func (s *copyFromSession) wait(ctx context.Context) error {
	select {
	case <-s.finished:
	case <-ctx.Done():
		return ctx.Err()
	}

	werr := s.out.wait()
	if s.err != nil {
		return s.err
	}
	if werr != nil {
		return fmt.Errorf("writing copy destination: %w", werr)
	}
	return nil
}
