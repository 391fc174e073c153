package xorsock

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/Zereker/xorsock/frame"
	"github.com/Zereker/xorsock/obfuscate"
)

// Message is one de-obfuscated frame payload.
type Message struct {
	body []byte
}

// NewMessage creates a Message carrying the UTF-8 bytes of text.
func NewMessage(text string) Message {
	return Message{body: []byte(text)}
}

// Length returns the payload size. The transform preserves length, so this
// is also the number of obfuscated bytes on the wire.
func (m Message) Length() int {
	return len(m.body)
}

// Body returns the plaintext payload.
func (m Message) Body() []byte {
	return m.body
}

// Text decodes the payload as UTF-8. Invalid bytes are replaced with U+FFFD
// instead of failing.
func (m Message) Text() string {
	return decodeLossy(m.body)
}

func decodeLossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b) + 8)
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}

// Acknowledgment returns the reply text for a request of n wire bytes.
func Acknowledgment(n int) string {
	return fmt.Sprintf("ACK: Received %d bytes", n)
}

// ErrMaxFrameSizeTooSmall is returned for a frame limit that could not carry
// the acknowledgment of a message of the limit's own size.
var ErrMaxFrameSizeTooSmall = errors.New("max frame size too small for an acknowledgment")

// ValidateMaxFrameSize reports whether a frame limit of size leaves room for
// every acknowledgment it may have to carry. 0 means no limit.
func ValidateMaxFrameSize(size uint32) error {
	if size == 0 {
		return nil
	}
	if need := len(Acknowledgment(int(size))); int(size) < need {
		return errors.Wrapf(ErrMaxFrameSizeTooSmall, "%d bytes, need at least %d", size, need)
	}
	return nil
}

// Codec is the interface for message encoding and decoding.
//
// Decode reads exactly one message from the reader, which lets the codec
// reassemble a message that arrived split across TCP segments.
type Codec interface {
	// Decode reads and decodes a complete message from the reader.
	Decode(r io.Reader) (Message, error)
	// Encode encodes a Message into raw bytes for transmission.
	Encode(Message) ([]byte, error)
}

// FrameCodec frames payloads with a 4-byte length prefix and obfuscates them
// with a shared key.
type FrameCodec struct {
	key    obfuscate.Key
	limits frame.Limits
}

// NewFrameCodec returns a codec using key. maxFrameSize of 0 means no limit.
func NewFrameCodec(key obfuscate.Key, maxFrameSize uint32) (*FrameCodec, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return &FrameCodec{key: key, limits: frame.Limits{MaxPayload: maxFrameSize}}, nil
}

// Decode reads one frame and reverses the transform. An empty frame decodes
// to a zero-length Message.
func (c *FrameCodec) Decode(r io.Reader) (Message, error) {
	payload, err := frame.Read(r, c.limits)
	if err != nil {
		return Message{}, err
	}
	if err = obfuscate.Transform(payload, c.key); err != nil {
		return Message{}, err
	}
	return Message{body: payload}, nil
}

// Encode obfuscates a copy of the message body and frames it.
func (c *FrameCodec) Encode(m Message) ([]byte, error) {
	payload, err := obfuscate.Apply(m.body, c.key)
	if err != nil {
		return nil, err
	}
	return frame.Encode(payload, c.limits)
}
