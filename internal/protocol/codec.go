package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// maxListLen bounds decoded string lists so a corrupt count can not allocate unbounded memory.
const maxListLen = 1 << 16

// Encode encodes a message payload (without framing).
func Encode(msg Message) ([]byte, error) {
	e := &encoder{}
	e.u8(uint8(msg.Kind()))
	if msg.Kind() != KindHandshake {
		e.u32(msg.Session())
	}

	switch m := msg.(type) {
	case Handshake:
		e.u32(m.Version)
	case ExecRequest:
		e.str(m.Path)
		e.strs(m.Args)
		e.strs(m.Env)
		e.str(m.WorkingDir)
		e.boolean(m.Tty)
	case ExecStdin:
		e.bytes(m.Data)
	case ExecOutput:
		e.u8(uint8(m.Stream))
		e.bytes(m.Data)
	case ExecExit:
		e.u32(uint32(m.Code))
	case CopyRequest:
		e.u8(uint8(m.Direction))
		e.str(m.HostPath)
		e.str(m.GuestPath)
	case CopyChunk:
		e.u64(m.Seq)
		e.bytes(m.Data)
	case StopRequest, Ack:
	case Error:
		e.u8(uint8(m.Code))
		e.str(m.Text)
	default:
		return nil, fmt.Errorf("unsupported message type %T: %w", msg, ErrProtocol)
	}

	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}

// DecodeHandshake decodes a handshake payload. The handshake layout is the same
// for every protocol version so it can be decoded before a version is agreed.
func DecodeHandshake(payload []byte) (Handshake, error) {
	d := &decoder{buf: payload}
	kind := Kind(d.u8())
	if d.err == nil && kind != KindHandshake {
		return Handshake{}, fmt.Errorf("expected handshake, got %s: %w", kind, ErrProtocol)
	}
	h := Handshake{Version: d.u32()}
	if err := d.finish(); err != nil {
		return Handshake{}, err
	}
	return h, nil
}

// Decode decodes a message payload encoded with the given protocol version.
func Decode(payload []byte, version uint32) (Message, error) {
	if version != Version {
		return nil, fmt.Errorf("can't decode version %d messages (supported %d): %w", version, Version, ErrVersionMismatch)
	}

	d := &decoder{buf: payload}
	kind := Kind(d.u8())
	if d.err != nil {
		return nil, d.err
	}
	if kind == KindHandshake {
		return DecodeHandshake(payload)
	}
	session := d.u32()

	var msg Message
	switch kind {
	case KindExecRequest:
		msg = ExecRequest{
			SessionID:  session,
			Path:       d.str(),
			Args:       d.strs(),
			Env:        d.strs(),
			WorkingDir: d.str(),
			Tty:        d.boolean(),
		}
	case KindExecStdin:
		msg = ExecStdin{SessionID: session, Data: d.bytes()}
	case KindExecOutput:
		stream := Stream(d.u8())
		if d.err == nil && stream != StreamStdout && stream != StreamStderr {
			return nil, fmt.Errorf("unknown output stream %d: %w", stream, ErrProtocol)
		}
		msg = ExecOutput{SessionID: session, Stream: stream, Data: d.bytes()}
	case KindExecExit:
		msg = ExecExit{SessionID: session, Code: int32(d.u32())}
	case KindCopyRequest:
		dir := Direction(d.u8())
		if d.err == nil && dir != DirectionToGuest && dir != DirectionFromGuest {
			return nil, fmt.Errorf("unknown copy direction %d: %w", dir, ErrProtocol)
		}
		msg = CopyRequest{SessionID: session, Direction: dir, HostPath: d.str(), GuestPath: d.str()}
	case KindCopyChunk:
		msg = CopyChunk{SessionID: session, Seq: d.u64(), Data: d.bytes()}
	case KindStopRequest:
		msg = StopRequest{SessionID: session}
	case KindAck:
		msg = Ack{SessionID: session}
	case KindError:
		msg = Error{SessionID: session, Code: ErrorCode(d.u8()), Text: d.str()}
	default:
		return nil, fmt.Errorf("unknown message kind %d: %w", uint8(kind), ErrProtocol)
	}

	if err := d.finish(); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", kind, err)
	}
	return msg, nil
}

type encoder struct {
	buf []byte
	err error
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }

func (e *encoder) boolean(v bool) {
	if v {
		e.u8(1)
		return
	}
	e.u8(0)
}

func (e *encoder) bytes(b []byte) {
	if uint64(len(b)) > math.MaxUint32 {
		e.err = fmt.Errorf("field of %d bytes: %w", len(b), ErrProtocol)
		return
	}
	e.u32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) str(s string) { e.bytes([]byte(s)) }

func (e *encoder) strs(ss []string) {
	if len(ss) > maxListLen {
		e.err = fmt.Errorf("list of %d items: %w", len(ss), ErrProtocol)
		return
	}
	e.u32(uint32(len(ss)))
	for _, s := range ss {
		e.str(s)
	}
}

// decoder reads fields sequentially. The first short read sets err and every
// following read returns zero values.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf) < n {
		d.err = fmt.Errorf("truncated message: %w", ErrProtocol)
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *decoder) boolean() bool {
	v := d.u8()
	if d.err == nil && v > 1 {
		d.err = fmt.Errorf("invalid bool value %d: %w", v, ErrProtocol)
	}
	return v == 1
}

func (d *decoder) bytes() []byte {
	n := d.u32()
	if d.err != nil {
		return nil
	}
	if uint64(n) > uint64(len(d.buf)) {
		d.err = fmt.Errorf("field length %d exceeds message: %w", n, ErrProtocol)
		return nil
	}
	b := d.take(int(n))
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (d *decoder) str() string { return string(d.bytes()) }

func (d *decoder) strs() []string {
	n := d.u32()
	if d.err != nil {
		return nil
	}
	if n > maxListLen {
		d.err = fmt.Errorf("list of %d items: %w", n, ErrProtocol)
		return nil
	}
	var ss []string
	for i := uint32(0); i < n && d.err == nil; i++ {
		ss = append(ss, d.str())
	}
	return ss
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if len(d.buf) != 0 {
		return fmt.Errorf("%d trailing bytes: %w", len(d.buf), ErrProtocol)
	}
	return nil
}
