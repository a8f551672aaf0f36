/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

// Package tensor turns decoded images into flat model input buffers.
package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidShape is returned for non-positive dimensions or an unknown element type.
	ErrInvalidShape = errors.New("invalid tensor shape")
	// ErrUnsupportedChannelCount is returned when channels is neither 1 nor 3.
	ErrUnsupportedChannelCount = errors.New("unsupported channel count")
)

// ElementType is the encoding of a single tensor element.
type ElementType int

const (
	// UInt8 stores each channel value as one unscaled byte (quantized models).
	UInt8 ElementType = iota
	// Float32 stores each channel value as value/255 in a little-endian IEEE-754 float.
	Float32
)

// Size returns the number of bytes of one element, or 0 for an unknown type.
func (t ElementType) Size() int {
	switch t {
	case UInt8:
		return 1
	case Float32:
		return 4
	}
	return 0
}

func (t ElementType) String() string {
	switch t {
	case UInt8:
		return "uint8"
	case Float32:
		return "float32"
	}
	return fmt.Sprintf("ElementType(%d)", int(t))
}

// ParseElementType parses "uint8" or "float32".
func ParseElementType(s string) (ElementType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uint8", "u8":
		return UInt8, nil
	case "float32", "f32", "float":
		return Float32, nil
	}
	return 0, errors.Wrapf(ErrInvalidShape, "unknown element type %q", s)
}

// Shape is the fixed input geometry of a model, laid out as [1, Height, Width, Channels].
type Shape struct {
	Width    int         `json:"width" yaml:"width"`
	Height   int         `json:"height" yaml:"height"`
	Channels int         `json:"channels" yaml:"channels"`
	Type     ElementType `json:"type" yaml:"type"`
}

// Validate reports ErrInvalidShape or ErrUnsupportedChannelCount.
func (s Shape) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return errors.Wrapf(ErrInvalidShape, "dimensions %dx%d", s.Width, s.Height)
	}
	if s.Channels != 1 && s.Channels != 3 {
		return errors.Wrapf(ErrUnsupportedChannelCount, "%d channels", s.Channels)
	}
	if s.Type.Size() == 0 {
		return errors.Wrapf(ErrInvalidShape, "element type %v", s.Type)
	}
	return nil
}

// Elements is width*height*channels.
func (s Shape) Elements() int {
	return s.Width * s.Height * s.Channels
}

// ByteSize is the exact length of an encoded input buffer.
func (s Shape) ByteSize() int {
	return s.Elements() * s.Type.Size()
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d %v", s.Width, s.Height, s.Channels, s.Type)
}

// Input is an encoded model input. It is owned by the request that built it.
type Input struct {
	Shape Shape
	Data  []byte
}

// Float32s decodes the buffer into one float per element. UInt8 buffers are
// widened without scaling.
func (in Input) Float32s() []float32 {
	switch in.Shape.Type {
	case Float32:
		out := make([]float32, len(in.Data)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(in.Data[i*4:]))
		}
		return out
	case UInt8:
		out := make([]float32, len(in.Data))
		for i, v := range in.Data {
			out[i] = float32(v)
		}
		return out
	}
	return nil
}
