package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Framing constants.
const (
	// MagicSize is the size of the frame magic in bytes.
	MagicSize = 4

	// LengthSize is the size of the little-endian payload length.
	LengthSize = 4

	// PaddingSize is the number of zero bytes between length and payload.
	PaddingSize = 12

	// HeaderSize is the total fixed header size.
	HeaderSize = MagicSize + LengthSize + PaddingSize

	// MaxPayloadSize is the largest payload accepted by the decoder (64 KB).
	// Larger declared lengths are treated as a false magic match.
	MaxPayloadSize = 65536

	// PayloadPrefix opens every JSON body.
	PayloadPrefix = "MCU+PAS+"

	// PayloadSuffix closes every JSON body.
	PayloadSuffix = "&"
)

// Magic is the fixed start-of-frame marker.
var Magic = [MagicSize]byte{0x18, 0x96, 0x18, 0x20}

// Framing errors.
var (
	// ErrMalformedFrame indicates a complete frame whose body could not be parsed.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrEmptyCommand indicates an attempt to encode a command with no keys.
	ErrEmptyCommand = errors.New("command is empty")

	// ErrInvalidValue indicates a command value that is neither string nor number.
	ErrInvalidValue = errors.New("invalid command value")

	// ErrPayloadTooLarge indicates an encoded payload above MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Command is one outbound JSON body: property key to string or number.
type Command map[string]any

// Query builds the "report current value" command for the given keys.
func Query(keys ...string) Command {
	cmd := make(Command, len(keys))
	for _, k := range keys {
		cmd[k] = ""
	}
	return cmd
}

// Keys returns the command keys in sorted order.
func (c Command) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Message is a single key/value pair decoded from a frame body.
//
// Value is a string, an int64 for integral JSON numbers, or a float64.
type Message struct {
	Key   string
	Value any
}

// String returns a compact key=value form for logs.
func (m Message) String() string {
	return fmt.Sprintf("%s=%v", m.Key, m.Value)
}

// Encode builds a complete frame for cmd.
func Encode(cmd Command) ([]byte, error) {
	if len(cmd) == 0 {
		return nil, ErrEmptyCommand
	}
	for k, v := range cmd {
		if err := checkValue(v); err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrInvalidValue, k, err)
		}
	}

	// encoding/json sorts map keys, so frames are deterministic.
	body, err := json.Marshal(map[string]any(cmd))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	payloadLen := len(PayloadPrefix) + len(body) + len(PayloadSuffix)
	if payloadLen > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, payloadLen, MaxPayloadSize)
	}

	out := make([]byte, HeaderSize, HeaderSize+payloadLen)
	copy(out, Magic[:])
	binary.LittleEndian.PutUint32(out[MagicSize:], uint32(payloadLen))
	out = append(out, PayloadPrefix...)
	out = append(out, body...)
	out = append(out, PayloadSuffix...)
	return out, nil
}

// FrameSize returns the total frame size for a payload of the given length.
func FrameSize(payloadLen int) int {
	return HeaderSize + payloadLen
}

// Decode extracts every complete frame from buf.
//
// Bytes before a magic marker are discarded. The returned remainder holds an
// incomplete trailing frame (or a partial magic) and aliases buf; callers
// that keep it across reads must copy it. Each malformed body contributes one
// error wrapping ErrMalformedFrame and is otherwise skipped.
func Decode(buf []byte) (msgs []Message, remainder []byte, errs []error) {
	for {
		idx := bytes.Index(buf, Magic[:])
		if idx < 0 {
			return msgs, buf[len(buf)-partialMagic(buf):], errs
		}
		buf = buf[idx:]

		if len(buf) < HeaderSize {
			return msgs, buf, errs
		}

		length := binary.LittleEndian.Uint32(buf[MagicSize : MagicSize+LengthSize])
		if length > MaxPayloadSize {
			errs = append(errs, fmt.Errorf("%w: declared length %d exceeds %d", ErrMalformedFrame, length, MaxPayloadSize))
			buf = buf[1:]
			continue
		}

		total := HeaderSize + int(length)
		if len(buf) < total {
			return msgs, buf, errs
		}

		payload := buf[HeaderSize:total]
		buf = buf[total:]

		decoded, err := ParsePayload(payload)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, decoded...)
	}
}

// ParsePayload decodes one frame body into messages ordered by key.
//
// The MCU+PAS+ envelope is optional on input: some firmware replies carry a
// bare JSON object.
func ParsePayload(payload []byte) ([]Message, error) {
	body := payload
	if i := bytes.Index(body, []byte(PayloadPrefix)); i >= 0 {
		body = body[i+len(PayloadPrefix):]
	}
	body = bytes.TrimRight(body, "\x00\r\n\t ")
	body = bytes.TrimSuffix(body, []byte(PayloadSuffix))
	body = bytes.TrimSpace(body)

	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedFrame)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v (body %q)", ErrMalformedFrame, err, truncate(body))
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: body is not an object (body %q)", ErrMalformedFrame, truncate(body))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after object (body %q)", ErrMalformedFrame, truncate(body))
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	msgs := make([]Message, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, Message{Key: k, Value: normalizeValue(fields[k])})
	}
	return msgs, nil
}

// Decoder reassembles frames across successive reads.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// NewDecoder creates an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends p to the pending bytes and returns every message completed by it.
func (d *Decoder) Feed(p []byte) ([]Message, []error) {
	d.buf = append(d.buf, p...)
	msgs, rest, errs := Decode(d.buf)
	if len(rest) == 0 {
		d.buf = d.buf[:0]
	} else {
		d.buf = append([]byte(nil), rest...)
	}
	return msgs, errs
}

// Buffered returns the number of bytes held for the next Feed.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops any pending bytes.
func (d *Decoder) Reset() {
	d.buf = nil
}

// partialMagic returns the length of the longest suffix of buf that is a
// proper prefix of Magic.
func partialMagic(buf []byte) int {
	for n := MagicSize - 1; n > 0; n-- {
		if len(buf) >= n && bytes.Equal(buf[len(buf)-n:], Magic[:n]) {
			return n
		}
	}
	return 0
}

func checkValue(v any) error {
	switch v.(type) {
	case string, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return nil
	default:
		return fmt.Errorf("unsupported type %T", v)
	}
}

func normalizeValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return string(n)
}

func truncate(b []byte) []byte {
	const max = 64
	if len(b) > max {
		return b[:max]
	}
	return b
}
