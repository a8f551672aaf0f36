/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

// Package engine defines the inference boundary between the pipeline and a
// model runtime.
package engine

import (
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Starchild13/KinectaComms/internal/detection"
	"github.com/Starchild13/KinectaComms/internal/tensor"
)

// ErrInference wraps every failure raised while running a model.
var ErrInference = errors.New("inference failed")

// Engine runs a loaded model. Implementations must be safe for concurrent
// calls to Run.
type Engine interface {
	// InputShape is read from the model once at load time.
	InputShape() tensor.Shape
	Run(in tensor.Input) (detection.RawOutput, error)
	Close() error
}

// Options are shared by the runtime backends.
type Options struct {
	// NumThreads <= 0 selects max(1, NumCPU-1).
	NumThreads int
	EdgeTPU    bool
	// LibraryPath points at a shared runtime library when the backend needs one.
	LibraryPath string
	Logger      *zap.Logger
}

// Threads resolves NumThreads.
func (o Options) Threads() int {
	if o.NumThreads > 0 {
		return o.NumThreads
	}
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}

// Log returns the configured logger or a no-op one.
func (o Options) Log() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Func is an Engine backed by a plain function.
type Func struct {
	Shape  tensor.Shape
	RunFn  func(in tensor.Input) (detection.RawOutput, error)
	OnStop func() error
}

// InputShape returns f.Shape.
func (f *Func) InputShape() tensor.Shape { return f.Shape }

// Run calls RunFn, wrapping its error with ErrInference.
func (f *Func) Run(in tensor.Input) (detection.RawOutput, error) {
	if err := CheckInput(f.Shape, in); err != nil {
		return detection.RawOutput{}, err
	}
	out, err := f.RunFn(in)
	if err != nil {
		return detection.RawOutput{}, Wrap(err)
	}
	return out, nil
}

// Close calls OnStop if set.
func (f *Func) Close() error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop()
}

// CheckInput rejects buffers that do not match shape.
func CheckInput(shape tensor.Shape, in tensor.Input) error {
	if in.Shape != shape {
		return errors.Wrapf(ErrInference, "input shape %v, model wants %v", in.Shape, shape)
	}
	if len(in.Data) != shape.ByteSize() {
		return errors.Wrapf(ErrInference, "input is %d bytes, model wants %d", len(in.Data), shape.ByteSize())
	}
	return nil
}

// Wrap marks err as an inference failure unless it already is one.
func Wrap(err error) error {
	if err == nil || errors.Is(err, ErrInference) {
		return err
	}
	return errors.Wrapf(ErrInference, "%v", err)
}

// Dequantize converts quantized outputs with real = scale*(q-zeroPoint).
// A zero scale means the tensor carries no parameters and values are mapped
// to [0,1].
func Dequantize(q []uint8, scale float64, zeroPoint int) []float32 {
	out := make([]float32, len(q))
	if scale == 0 {
		for i, v := range q {
			out[i] = float32(v) / 255
		}
		return out
	}
	for i, v := range q {
		out[i] = float32(scale * float64(int(v)-zeroPoint))
	}
	return out
}
