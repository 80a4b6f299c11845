package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"

	"github.com/andrewsiemer/matrix-os/internal/domain/ipc"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

// MaxLineSize bounds a single encoded line. A 256x128 frame compresses far
// below this even when the pixels are noise.
const MaxLineSize = 4 << 20

// MaxFrameBytes bounds the decoded pixels of one frame.
const MaxFrameBytes = 4 * MaxLineSize

var (
	ErrLineTooLong = errors.New("wire: line exceeds maximum size")
	ErrMalformed   = errors.New("wire: malformed line")
	ErrBadFrame    = fmt.Errorf("%w: bad frame payload", ErrMalformed)
)

// Envelope is the line format of one message across the process boundary.
type Envelope struct {
	Type      string          `json:"type"`
	Source    string          `json:"source,omitempty"`
	Target    string          `json:"target,omitempty"`
	Timestamp int64           `json:"ts"`
	Fault     *ipc.Fault      `json:"fault,omitempty"`
	Frame     *FramePayload   `json:"frame,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// FramePayload carries zstd-compressed RGB pixels.
type FramePayload struct {
	Width  int    `json:"w"`
	Height int    `json:"h"`
	Pixels []byte `json:"px"`
}

// Encoder writes newline-delimited envelopes. It is safe for concurrent use.
type Encoder struct {
	mu  sync.Mutex
	w   *bufio.Writer
	zen *zstd.Encoder
}

// NewEncoder creates an encoder writing to w
func NewEncoder(w io.Writer) *Encoder {
	// NewWriter with a nil writer and only valid options cannot fail
	zen, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
	return &Encoder{w: bufio.NewWriter(w), zen: zen}
}

// Encode writes one message
func (e *Encoder) Encode(msg ipc.Message) error {
	env, err := e.envelope(msg)
	if err != nil {
		return err
	}
	return e.writeLine(env)
}

// WriteHandshake writes the host handshake line
func (e *Encoder) WriteHandshake(h Handshake) error {
	return e.writeLine(h)
}

func (e *Encoder) writeLine(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal: %w", err)
	}
	if len(data) >= MaxLineSize {
		return ErrLineTooLong
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(data); err != nil {
		return err
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return err
	}
	return e.w.Flush()
}

func (e *Encoder) envelope(msg ipc.Message) (Envelope, error) {
	env := Envelope{
		Type:      msg.Type.String(),
		Source:    msg.Source,
		Target:    msg.Target,
		Timestamp: msg.Timestamp.UnixNano(),
	}

	switch p := msg.Payload.(type) {
	case nil:
	case *frame.Frame:
		env.Frame = &FramePayload{
			Width:  p.Width(),
			Height: p.Height(),
			Pixels: e.zen.EncodeAll(p.Pixels(), nil),
		}
	case ipc.Fault:
		env.Fault = &p
	case *ipc.Fault:
		env.Fault = p
	case json.RawMessage:
		env.Data = p
	default:
		data, err := sonic.Marshal(p)
		if err != nil {
			return Envelope{}, fmt.Errorf("wire: marshal %s payload: %w", msg.Type, err)
		}
		env.Data = data
	}
	return env, nil
}

// Close releases the compressor
func (e *Encoder) Close() error {
	return e.zen.Close()
}

// Decoder reads newline-delimited envelopes. It is not safe for concurrent use.
type Decoder struct {
	sc  *bufio.Scanner
	zde *zstd.Decoder
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), MaxLineSize)
	zde, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxFrameBytes), zstd.WithDecoderConcurrency(1))
	return &Decoder{sc: sc, zde: zde}
}

// Decode reads the next message. It returns io.EOF when the stream ends.
func (d *Decoder) Decode() (ipc.Message, error) {
	var env Envelope
	if err := d.readLine(&env); err != nil {
		return ipc.Message{}, err
	}

	t, err := ipc.ParseMessageType(env.Type)
	if err != nil {
		return ipc.Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	msg := ipc.Message{
		Type:      t,
		Source:    env.Source,
		Target:    env.Target,
		Timestamp: time.Unix(0, env.Timestamp),
	}

	switch {
	case env.Frame != nil:
		f, err := d.frame(env.Frame)
		if err != nil {
			return ipc.Message{}, err
		}
		msg.Payload = f
	case env.Fault != nil:
		msg.Payload = *env.Fault
	case len(env.Data) > 0:
		msg.Payload = env.Data
	}
	return msg, nil
}

// ReadHandshake reads the host handshake line
func (d *Decoder) ReadHandshake() (Handshake, error) {
	var h Handshake
	err := d.readLine(&h)
	return h, err
}

func (d *Decoder) readLine(v any) error {
	if !d.sc.Scan() {
		err := d.sc.Err()
		switch {
		case err == nil:
			return io.EOF
		case errors.Is(err, bufio.ErrTooLong):
			return ErrLineTooLong
		default:
			return err
		}
	}
	if err := sonic.Unmarshal(d.sc.Bytes(), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (d *Decoder) frame(p *FramePayload) (*frame.Frame, error) {
	// dimensions come from the other process; check them before allocating
	if p.Width <= 0 || p.Height <= 0 || p.Width > MaxFrameBytes/frame.BytesPerPixel/p.Height {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadFrame, p.Width, p.Height)
	}
	pix, err := d.zde.DecodeAll(p.Pixels, make([]byte, 0, p.Width*p.Height*frame.BytesPerPixel))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	f, err := frame.FromPixels(p.Width, p.Height, pix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return f, nil
}

// Close releases the decompressor
func (d *Decoder) Close() {
	d.zde.Close()
}
