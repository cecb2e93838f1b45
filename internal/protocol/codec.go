package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dgnsrekt/crowdpointer/internal/registry"
)

// Binary frame field numbers.
//
//	message Frame {
//	  string type = 1;
//	  repeated double params = 2; // packed, x0 y0 x1 y1 ...
//	  uint64 count = 3;
//	}
const (
	fieldType   protowire.Number = 1
	fieldParams protowire.Number = 2
	fieldCount  protowire.Number = 3
)

// Codec converts messages to wire format (Protobuf + Zstd).
// Safe for concurrent use.
type Codec struct {
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
}

// NewCodec creates a Codec with Zstd compression.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{zstdEncoder: enc, zstdDecoder: dec}, nil
}

// EncodeBinary serializes msg to protobuf wire format and compresses it.
func (c *Codec) EncodeBinary(msg Message) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldType, protowire.BytesType)
	b = protowire.AppendString(b, msg.Type())

	switch m := msg.(type) {
	case ParamsMessage:
		if len(m.Params) > 0 {
			var packed []byte
			for _, p := range m.Params {
				packed = protowire.AppendFixed64(packed, math.Float64bits(p.X))
				packed = protowire.AppendFixed64(packed, math.Float64bits(p.Y))
			}
			b = protowire.AppendTag(b, fieldParams, protowire.BytesType)
			b = protowire.AppendBytes(b, packed)
		}
	case CountUpdateMessage:
		b = protowire.AppendTag(b, fieldCount, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Count))
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}

	return c.zstdEncoder.EncodeAll(b, nil), nil
}

// DecodeBinary reverses EncodeBinary.
func (c *Codec) DecodeBinary(data []byte) (Message, error) {
	b, err := c.zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress frame: %w", err)
	}

	var (
		msgType string
		params  []registry.Position
		count   uint64
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldType && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			msgType = v
			b = b[n:]
		case num == fieldParams && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 || len(packed)%16 != 0 {
				return nil, fmt.Errorf("%w: params", ErrMalformedFrame)
			}
			for len(packed) > 0 {
				x, _ := protowire.ConsumeFixed64(packed)
				y, _ := protowire.ConsumeFixed64(packed[8:])
				params = append(params, registry.Position{X: math.Float64frombits(x), Y: math.Float64frombits(y)})
				packed = packed[16:]
			}
			b = b[n:]
		case num == fieldCount && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			count = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	switch msgType {
	case TypeParams:
		if params == nil {
			params = []registry.Position{}
		}
		return ParamsMessage{Params: params}, nil
	case TypeCountUpdate:
		return CountUpdateMessage{Count: int(count)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msgType)
	}
}

// Close releases codec resources.
func (c *Codec) Close() {
	if c.zstdEncoder != nil {
		c.zstdEncoder.Close()
	}
	if c.zstdDecoder != nil {
		c.zstdDecoder.Close()
	}
}

// Frame wraps a published message and memoizes its encodings so a fan-out
// to many subscribers encodes once per format.
type Frame struct {
	msg Message

	jsonOnce sync.Once
	jsonData []byte
	jsonErr  error

	binOnce sync.Once
	binData []byte
	binErr  error
}

// NewFrame wraps msg; nothing is encoded until a format is requested.
func NewFrame(msg Message) *Frame {
	return &Frame{msg: msg}
}

// Message returns the wrapped message.
func (f *Frame) Message() Message { return f.msg }

// JSON returns the text encoding of the message.
func (f *Frame) JSON() ([]byte, error) {
	f.jsonOnce.Do(func() {
		f.jsonData, f.jsonErr = json.Marshal(f.msg)
	})
	return f.jsonData, f.jsonErr
}

// Binary returns the compressed protobuf encoding of the message.
// The first codec passed wins; callers share one Codec per process.
func (f *Frame) Binary(c *Codec) ([]byte, error) {
	f.binOnce.Do(func() {
		f.binData, f.binErr = c.EncodeBinary(f.msg)
	})
	return f.binData, f.binErr
}
