// Package protocol defines the typed messages exchanged between the host and
// the guest agent and their binary encoding.
//
// The encoding is not self-describing. Both ends must agree on Version through
// the handshake before any other message is decoded.
package protocol

import (
	"errors"
	"fmt"
)

const (
	// Version is the only protocol version spoken by this implementation.
	Version uint32 = 1
	// AgentPort is the vsock port the guest agent listens on.
	AgentPort uint32 = 1024
	// ChunkSize is the maximum data size sent in a single output or copy chunk.
	ChunkSize = 1 << 20
)

var (
	// ErrProtocol is returned for malformed or unexpected messages.
	ErrProtocol = errors.New("protocol error")
	// ErrVersionMismatch is returned when peers negotiate different protocol versions.
	ErrVersionMismatch = errors.New("protocol version mismatch")
)

// Kind is the message type tag.
type Kind uint8

const (
	KindHandshake   Kind = 1
	KindExecRequest Kind = 2
	KindExecStdin   Kind = 3
	KindExecOutput  Kind = 4
	KindExecExit    Kind = 5
	KindCopyRequest Kind = 6
	KindCopyChunk   Kind = 7
	KindStopRequest Kind = 8
	KindAck         Kind = 9
	KindError       Kind = 10
)

var kindNames = map[Kind]string{
	KindHandshake:   "handshake",
	KindExecRequest: "exec_request",
	KindExecStdin:   "exec_stdin",
	KindExecOutput:  "exec_output",
	KindExecExit:    "exec_exit",
	KindCopyRequest: "copy_request",
	KindCopyChunk:   "copy_chunk",
	KindStopRequest: "stop_request",
	KindAck:         "ack",
	KindError:       "error",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Stream identifies an exec output stream.
type Stream uint8

const (
	StreamStdout Stream = 1
	StreamStderr Stream = 2
)

// Direction identifies the direction of a copy.
type Direction uint8

const (
	DirectionToGuest   Direction = 1
	DirectionFromGuest Direction = 2
)

// ErrorCode classifies errors reported by the peer.
type ErrorCode uint8

const (
	ErrorCodeInternal         ErrorCode = 1
	ErrorCodeInvalidRequest   ErrorCode = 2
	ErrorCodeNotFound         ErrorCode = 3
	ErrorCodePermissionDenied ErrorCode = 4
	ErrorCodeTimeout          ErrorCode = 5
	ErrorCodeLimitExceeded    ErrorCode = 6
	ErrorCodeVersionMismatch  ErrorCode = 7
)

var errorCodeNames = map[ErrorCode]string{
	ErrorCodeInternal:         "internal",
	ErrorCodeInvalidRequest:   "invalid_request",
	ErrorCodeNotFound:         "not_found",
	ErrorCodePermissionDenied: "permission_denied",
	ErrorCodeTimeout:          "timeout",
	ErrorCodeLimitExceeded:    "limit_exceeded",
	ErrorCodeVersionMismatch:  "version_mismatch",
}

func (c ErrorCode) String() string {
	if n, ok := errorCodeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", uint8(c))
}

// RemoteError is an error reported by the peer for a single session.
type RemoteError struct {
	Code ErrorCode
	Text string
}

func (e *RemoteError) Error() string { return fmt.Sprintf("remote error (%s): %s", e.Code, e.Text) }

// Message is a typed protocol message.
type Message interface {
	Kind() Kind
	// Session returns the session the message belongs to. Handshakes return 0.
	Session() uint32
}

// Handshake is the mandatory first message on every channel.
type Handshake struct {
	Version uint32
}

// ExecRequest asks the guest to run a process.
type ExecRequest struct {
	SessionID  uint32
	Path       string
	Args       []string
	Env        []string
	WorkingDir string
	Tty        bool
}

// ExecStdin carries process input. Empty data closes the process stdin.
type ExecStdin struct {
	SessionID uint32
	Data      []byte
}

// ExecOutput carries a chunk of process output.
type ExecOutput struct {
	SessionID uint32
	Stream    Stream
	Data      []byte
}

// ExecExit is the last message of an exec session.
type ExecExit struct {
	SessionID uint32
	Code      int32
}

// CopyRequest opens a file transfer session.
type CopyRequest struct {
	SessionID uint32
	Direction Direction
	HostPath  string
	GuestPath string
}

// CopyChunk carries transfer data. An empty chunk marks the end of the stream.
type CopyChunk struct {
	SessionID uint32
	Seq       uint64
	Data      []byte
}

// StopRequest asks the guest to shut down.
type StopRequest struct {
	SessionID uint32
}

// Ack completes a session successfully.
type Ack struct {
	SessionID uint32
}

// Error completes a session with a failure.
type Error struct {
	SessionID uint32
	Code      ErrorCode
	Text      string
}

func (Handshake) Kind() Kind   { return KindHandshake }
func (ExecRequest) Kind() Kind { return KindExecRequest }
func (ExecStdin) Kind() Kind   { return KindExecStdin }
func (ExecOutput) Kind() Kind  { return KindExecOutput }
func (ExecExit) Kind() Kind    { return KindExecExit }
func (CopyRequest) Kind() Kind { return KindCopyRequest }
func (CopyChunk) Kind() Kind   { return KindCopyChunk }
func (StopRequest) Kind() Kind { return KindStopRequest }
func (Ack) Kind() Kind         { return KindAck }
func (Error) Kind() Kind       { return KindError }

func (Handshake) Session() uint32     { return 0 }
func (m ExecRequest) Session() uint32 { return m.SessionID }
func (m ExecStdin) Session() uint32   { return m.SessionID }
func (m ExecOutput) Session() uint32  { return m.SessionID }
func (m ExecExit) Session() uint32    { return m.SessionID }
func (m CopyRequest) Session() uint32 { return m.SessionID }
func (m CopyChunk) Session() uint32   { return m.SessionID }
func (m StopRequest) Session() uint32 { return m.SessionID }
func (m Ack) Session() uint32         { return m.SessionID }
func (m Error) Session() uint32       { return m.SessionID }

// AsError converts an Error message into a RemoteError.
func (m Error) AsError() *RemoteError { return &RemoteError{Code: m.Code, Text: m.Text} }
