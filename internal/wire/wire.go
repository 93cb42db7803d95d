// Package wire implements the length-prefixed framing used on guest channels.
//
// A frame is a 4 byte big-endian payload length followed by exactly that many
// payload bytes.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the size of the frame length prefix.
	HeaderSize = 4
	// MaxFrameSize is the maximum accepted payload size (16 MiB).
	MaxFrameSize = 16 << 20
)

var (
	// ErrFraming is returned when a stream does not contain a well formed frame.
	ErrFraming = errors.New("framing error")
	// ErrFrameTooLarge is returned for frames bigger than MaxFrameSize.
	ErrFrameTooLarge = fmt.Errorf("frame too large: %w", ErrFraming)
)

// Encode returns the framed representation of payload.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("payload of %d bytes: %w", len(payload), ErrFrameTooLarge)
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[:HeaderSize], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// WriteFrame writes payload as a single frame. Header and payload are written
// in one call so concurrent writers serialized by the caller never interleave.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := Encode(payload)
	if err != nil {
		return err
	}

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one frame from r and returns its payload.
//
// A stream that ends before the first header byte returns io.EOF. A stream that
// ends anywhere else inside the frame returns ErrFraming.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated frame header: %w", ErrFraming)
		}
		return nil, fmt.Errorf("reading frame header: %w", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("declared length %d: %w", size, ErrFrameTooLarge)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated frame payload (%d bytes declared): %w", size, ErrFraming)
		}
		return nil, fmt.Errorf("reading frame payload: %w", err)
	}

	return payload, nil
}
