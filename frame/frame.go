// Package frame implements the length-prefixed wire framing used by xorsock.
//
// A frame is a 4-byte big-endian unsigned length L followed by exactly L
// payload bytes. L == 0 is a valid frame carrying no payload.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// PrefixLen is the size of the length prefix.
const PrefixLen = 4

var (
	// ErrConnectionClosed matches every *ClosedError.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrFrameTooLarge is returned when a frame exceeds Limits.MaxPayload.
	ErrFrameTooLarge = errors.New("frame: payload too large")
)

// Phase identifies where a stream was found closed.
type Phase int

const (
	PhasePrefix Phase = iota
	PhasePayload
	PhaseWrite
)

func (p Phase) String() string {
	switch p {
	case PhasePrefix:
		return "length prefix read"
	case PhasePayload:
		return "payload read"
	case PhaseWrite:
		return "write"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ClosedError reports that the peer closed the stream before a frame was
// completely transferred.
type ClosedError struct {
	Phase Phase
	// Got and Want count bytes of the unit being transferred.
	Got, Want int
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("connection closed during %s (%d of %d bytes)", e.Phase, e.Got, e.Want)
}

// Is makes errors.Is(err, ErrConnectionClosed) true.
func (e *ClosedError) Is(target error) bool {
	return target == ErrConnectionClosed
}

// Limits constrains frame sizes. The zero value imposes no limit.
type Limits struct {
	MaxPayload uint32
}

func (l Limits) check(n uint64) error {
	if l.MaxPayload > 0 && n > uint64(l.MaxPayload) {
		return errors.Wrapf(ErrFrameTooLarge, "%d bytes exceeds limit %d", n, l.MaxPayload)
	}
	return nil
}

// Read blocks until one complete frame has been read from r and returns its
// payload. An empty frame yields a non-nil, zero-length slice.
func Read(r io.Reader, limits Limits) ([]byte, error) {
	var prefix [PrefixLen]byte
	if n, err := io.ReadFull(r, prefix[:]); err != nil {
		if isEOF(err) {
			return nil, &ClosedError{Phase: PhasePrefix, Got: n, Want: PrefixLen}
		}
		return nil, errors.Wrap(err, "frame: read length prefix")
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 {
		return []byte{}, nil
	}
	if err := limits.check(uint64(length)); err != nil {
		return nil, err
	}

	payload := make([]byte, length)
	if n, err := io.ReadFull(r, payload); err != nil {
		if isEOF(err) {
			return nil, &ClosedError{Phase: PhasePayload, Got: n, Want: int(length)}
		}
		return nil, errors.Wrap(err, "frame: read payload")
	}
	return payload, nil
}

// Write writes payload to w as one frame. Prefix and payload are assembled
// into a single buffer and written until every byte is transmitted or an
// error occurs.
func Write(w io.Writer, payload []byte, limits Limits) error {
	buf, err := Encode(payload, limits)
	if err != nil {
		return err
	}
	return WriteAll(w, buf)
}

// Encode returns the wire form of payload.
func Encode(payload []byte, limits Limits) ([]byte, error) {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d bytes does not fit the length prefix", len(payload))
	}
	if err := limits.check(uint64(len(payload))); err != nil {
		return nil, err
	}

	buf := make([]byte, PrefixLen+len(payload))
	binary.BigEndian.PutUint32(buf[:PrefixLen], uint32(len(payload)))
	copy(buf[PrefixLen:], payload)
	return buf, nil
}

// WriteAll writes buf to w, retrying short writes. A writer that accepts
// zero bytes without an error is treated as closed.
func WriteAll(w io.Writer, buf []byte) error {
	total := len(buf)
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			if isEOF(err) {
				return &ClosedError{Phase: PhaseWrite, Got: total - len(buf) + n, Want: total}
			}
			return errors.Wrap(err, "frame: write")
		}
		if n == 0 {
			return &ClosedError{Phase: PhaseWrite, Got: total - len(buf), Want: total}
		}
		buf = buf[n:]
	}
	return nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
