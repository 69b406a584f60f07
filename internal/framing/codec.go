// Package framing implements the wire codec spoken by the Moka appliance.
//
// Outbound messages are either text commands, written verbatim, or binary
// audio files, written as three consecutive writes: the AUDIO_FILE marker, the
// raw bytes, and an END_OF_FILE_<sender> trailer. Inbound frames are text
// payloads terminated by END_OF_MESSAGE. A stream decoder accumulates bytes
// across reads and yields every complete frame, independent of how the stream
// was chunked.
//
// A length-prefixed mode, with a 4-byte big-endian length before every unit,
// is available for peers that cannot guarantee a reserved terminator. The
// appliance itself only speaks the delimited mode.
package framing

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/moka-remote/mokactl/internal/errors"
)

// Reserved markers of the delimited wire format.
const (
	MessageTerminator = "END_OF_MESSAGE"
	FileStart         = "AUDIO_FILE"
	FileEndPrefix     = "END_OF_FILE_"
)

// DefaultMaxFrameSize bounds the bytes buffered for a single inbound frame.
const DefaultMaxFrameSize = 64 * 1024

const lengthPrefixSize = 4

var (
	ErrDelimiterInPayload = errors.New(errors.KindFraming, "encode", "payload contains a reserved marker")
	ErrEmptyPayload       = errors.New(errors.KindFraming, "encode", "payload is empty")
	ErrEmptySender        = errors.New(errors.KindFraming, "encode", "file sender is empty")
	ErrPayloadTooLarge    = errors.New(errors.KindFraming, "encode", "payload exceeds the length prefix range")
	ErrFrameTooLarge      = errors.New(errors.KindFraming, "decode", "frame exceeds maximum size")
)

// Mode selects how units are delimited on the wire.
type Mode int

const (
	// ModeDelimited terminates inbound frames with END_OF_MESSAGE.
	ModeDelimited Mode = iota
	// ModeLengthPrefixed prefixes every unit with a 4-byte big-endian length.
	ModeLengthPrefixed
)

func (m Mode) String() string {
	switch m {
	case ModeDelimited:
		return "delimited"
	case ModeLengthPrefixed:
		return "length_prefixed"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode resolves a profile's framing setting. The empty string selects
// the delimited mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "delimited":
		return ModeDelimited, nil
	case "length_prefixed", "length-prefixed":
		return ModeLengthPrefixed, nil
	default:
		return ModeDelimited, fmt.Errorf("unknown framing mode %q", s)
	}
}

// Message is an outbound unit. It is either Text or BinaryFile.
type Message interface {
	isMessage()
}

// Text is a command string sent verbatim.
type Text string

func (Text) isMessage() {}

// BinaryFile is an audio upload tagged with the voice it belongs to. In the
// delimited mode the receiver finds the end of Data by scanning for
// END_OF_FILE_, so Data must not contain it.
type BinaryFile struct {
	Data   []byte
	Sender string
}

func (BinaryFile) isMessage() {}

// Frame is one complete inbound unit.
type Frame struct {
	Payload string
}

func (f Frame) String() string { return f.Payload }

// Codec encodes outbound messages and creates stream decoders.
type Codec struct {
	mode         Mode
	maxFrameSize int
}

// NewCodec creates a codec. A non-positive maxFrameSize selects
// DefaultMaxFrameSize.
func NewCodec(mode Mode, maxFrameSize int) *Codec {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Codec{mode: mode, maxFrameSize: maxFrameSize}
}

// Mode returns the codec's framing mode.
func (c *Codec) Mode() Mode { return c.mode }

// MaxFrameSize returns the decoder buffer limit.
func (c *Codec) MaxFrameSize() int { return c.maxFrameSize }

// Encode returns the ordered writes for one message. All of them must reach
// the socket back to back, with no other message interleaved.
func (c *Codec) Encode(msg Message) ([][]byte, error) {
	switch m := msg.(type) {
	case Text:
		if m == "" {
			return nil, ErrEmptyPayload
		}
		if containsReserved(string(m)) {
			return nil, fmt.Errorf("%w: %q", ErrDelimiterInPayload, string(m))
		}
		unit, err := c.unit([]byte(m))
		if err != nil {
			return nil, err
		}
		return [][]byte{unit}, nil

	case BinaryFile:
		if len(m.Data) == 0 {
			return nil, ErrEmptyPayload
		}
		if m.Sender == "" {
			return nil, ErrEmptySender
		}
		if containsReserved(m.Sender) {
			return nil, fmt.Errorf("%w: sender %q", ErrDelimiterInPayload, m.Sender)
		}
		if c.mode == ModeDelimited {
			if i := bytes.Index(m.Data, []byte(FileEndPrefix)); i >= 0 {
				return nil, fmt.Errorf("%w: %s at byte %d of file data", ErrDelimiterInPayload, FileEndPrefix, i)
			}
		}
		writes := make([][]byte, 0, 3)
		for _, part := range [][]byte{[]byte(FileStart), m.Data, []byte(FileEndPrefix + m.Sender)} {
			unit, err := c.unit(part)
			if err != nil {
				return nil, err
			}
			writes = append(writes, unit)
		}
		return writes, nil

	default:
		return nil, errors.New(errors.KindFraming, "encode", fmt.Sprintf("unsupported message type %T", msg))
	}
}

// EncodeFrame produces the bytes of one inbound frame, as the appliance would
// send it.
func (c *Codec) EncodeFrame(payload string) ([]byte, error) {
	if c.mode == ModeLengthPrefixed {
		return c.unit([]byte(payload))
	}
	if strings.Contains(payload, MessageTerminator) {
		return nil, fmt.Errorf("%w: %q", ErrDelimiterInPayload, payload)
	}
	return []byte(payload + MessageTerminator), nil
}

func (c *Codec) unit(b []byte) ([]byte, error) {
	if c.mode == ModeDelimited {
		return b, nil
	}
	if uint64(len(b)) > math.MaxUint32 {
		return nil, ErrPayloadTooLarge
	}
	out := make([]byte, lengthPrefixSize+len(b))
	binary.BigEndian.PutUint32(out, uint32(len(b)))
	copy(out[lengthPrefixSize:], b)
	return out, nil
}

func containsReserved(s string) bool {
	return strings.Contains(s, MessageTerminator) ||
		strings.Contains(s, FileStart) ||
		strings.Contains(s, FileEndPrefix)
}

// NewDecoder returns an empty stream decoder bound to the codec's settings.
func (c *Codec) NewDecoder() *Decoder {
	return &Decoder{mode: c.mode, maxFrameSize: c.maxFrameSize}
}

// Decoder reassembles inbound frames from arbitrarily chunked reads. It is not
// safe for concurrent use; one decoder belongs to one connection session.
type Decoder struct {
	mode         Mode
	maxFrameSize int
	buf          []byte

	// delimited mode: drop bytes until the next terminator
	discarding bool
	// length-prefixed mode: payload bytes of an oversized frame still to skip
	skip uint64
}

// Feed appends chunk to the buffer and returns every frame it completes.
//
// If a frame outgrows the size limit, its bytes are discarded, the returned
// error wraps ErrFrameTooLarge, and decoding resumes after the end of that
// frame. Frames completed in the same call are returned alongside the error.
func (d *Decoder) Feed(chunk []byte) ([]Frame, error) {
	d.buf = append(d.buf, chunk...)
	if d.mode == ModeLengthPrefixed {
		return d.feedLengthPrefixed()
	}
	return d.feedDelimited()
}

func (d *Decoder) feedDelimited() ([]Frame, error) {
	var (
		frames []Frame
		ferr   error
		term   = []byte(MessageTerminator)
		start  = 0
	)

	for {
		idx := bytes.Index(d.buf[start:], term)
		if idx < 0 {
			break
		}
		switch {
		case d.discarding:
			d.discarding = false
		case idx > d.maxFrameSize:
			ferr = fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, idx, d.maxFrameSize)
		default:
			frames = append(frames, Frame{Payload: string(d.buf[start : start+idx])})
		}
		start += idx + len(term)
	}

	rest := d.buf[start:]
	// The tail may hold the beginning of a terminator split across reads.
	keep := len(term) - 1
	if d.discarding || len(rest)-keep > d.maxFrameSize {
		if !d.discarding {
			ferr = fmt.Errorf("%w: more than %d bytes without terminator", ErrFrameTooLarge, d.maxFrameSize)
			d.discarding = true
		}
		if len(rest) > keep {
			rest = rest[len(rest)-keep:]
		}
	}

	d.buf = append(d.buf[:0], rest...)
	return frames, ferr
}

func (d *Decoder) feedLengthPrefixed() ([]Frame, error) {
	var (
		frames []Frame
		ferr   error
		rest   = d.buf
	)

	for {
		if d.skip > 0 {
			n := uint64(len(rest))
			if n > d.skip {
				n = d.skip
			}
			rest = rest[n:]
			d.skip -= n
			if d.skip > 0 {
				break
			}
			continue
		}
		if len(rest) < lengthPrefixSize {
			break
		}
		size := uint64(binary.BigEndian.Uint32(rest))
		if size > uint64(d.maxFrameSize) {
			ferr = fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, size, d.maxFrameSize)
			d.skip = size
			rest = rest[lengthPrefixSize:]
			continue
		}
		if uint64(len(rest)) < lengthPrefixSize+size {
			break
		}
		frames = append(frames, Frame{Payload: string(rest[lengthPrefixSize : lengthPrefixSize+size])})
		rest = rest[lengthPrefixSize+size:]
	}

	d.buf = append(d.buf[:0], rest...)
	return frames, ferr
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards any partial frame.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.discarding = false
	d.skip = 0
}
