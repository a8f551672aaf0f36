/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

// Package tflite runs TensorFlow-Lite models through the C API.
package tflite

import (
	"sync"

	"github.com/mattn/go-tflite"
	"github.com/mattn/go-tflite/delegates"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Starchild13/KinectaComms/internal/detection"
	"github.com/Starchild13/KinectaComms/internal/engine"
	"github.com/Starchild13/KinectaComms/internal/tensor"
)

// Model is a loaded interpreter. Run calls are serialized.
type Model struct {
	mu       sync.Mutex
	model    *tflite.Model
	options  *tflite.InterpreterOptions
	delegate delegates.Delegater
	interp   *tflite.Interpreter
	shape    tensor.Shape
	reader   outputReader
	logger   *zap.Logger
}

// New loads a model from its flatbuffer bytes and allocates its tensors.
func New(data []byte, opts engine.Options) (*Model, error) {
	logger := opts.Log().Named("tflite")

	model := tflite.NewModel(data)
	if model == nil {
		return nil, errors.Wrap(engine.ErrInference, "cannot load model")
	}

	options := tflite.NewInterpreterOptions()
	if options == nil {
		model.Delete()
		return nil, errors.Wrap(engine.ErrInference, "cannot create interpreter options")
	}
	options.SetNumThread(opts.Threads())
	options.SetErrorReporter(func(msg string, _ interface{}) {
		logger.Warn("tflite", zap.String("msg", msg))
	}, nil)

	m := &Model{model: model, options: options, logger: logger}
	if opts.EdgeTPU {
		m.delegate = edgeTPUDelegate(logger)
		if m.delegate != nil {
			options.AddDelegate(m.delegate)
		}
	}

	m.interp = tflite.NewInterpreter(model, options)
	if m.interp == nil {
		m.Close()
		return nil, errors.Wrap(engine.ErrInference, "cannot create interpreter")
	}
	if status := m.interp.AllocateTensors(); status != tflite.OK {
		m.Close()
		return nil, errors.Wrapf(engine.ErrInference, "allocate failed: %v", status)
	}

	shape, err := inputShape(m.interp.GetInputTensor(0))
	if err != nil {
		m.Close()
		return nil, err
	}
	m.shape = shape

	m.reader, err = readerFor(m.interp.GetOutputTensorCount())
	if err != nil {
		m.Close()
		return nil, err
	}

	logger.Info("model loaded",
		zap.Stringer("input", shape),
		zap.Int("outputs", m.interp.GetOutputTensorCount()),
		zap.Stringer("kind", m.reader.kind()),
		zap.Int("threads", opts.Threads()),
		zap.Bool("edgetpu", m.delegate != nil))
	return m, nil
}

func inputShape(input *tflite.Tensor) (tensor.Shape, error) {
	if input == nil || input.NumDims() != 4 {
		return tensor.Shape{}, errors.Wrap(tensor.ErrInvalidShape, "model input must be [1,H,W,C]")
	}
	shape := tensor.Shape{
		Height:   input.Dim(1),
		Width:    input.Dim(2),
		Channels: input.Dim(3),
	}
	switch input.Type() {
	case tflite.UInt8:
		shape.Type = tensor.UInt8
	case tflite.Float32:
		shape.Type = tensor.Float32
	default:
		return tensor.Shape{}, errors.Wrapf(tensor.ErrInvalidShape, "input type %v", input.Type())
	}
	return shape, shape.Validate()
}

// InputShape returns the model input geometry.
func (m *Model) InputShape() tensor.Shape {
	return m.shape
}

// Run copies in into the input tensor, invokes the interpreter and reads
// the outputs.
func (m *Model) Run(in tensor.Input) (detection.RawOutput, error) {
	if err := engine.CheckInput(m.shape, in); err != nil {
		return detection.RawOutput{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interp == nil {
		return detection.RawOutput{}, errors.Wrap(engine.ErrInference, "model closed")
	}

	input := m.interp.GetInputTensor(0)
	if status := input.CopyFromBuffer(in.Data); status != tflite.OK {
		return detection.RawOutput{}, errors.Wrapf(engine.ErrInference, "copy input: %v", status)
	}
	if status := m.interp.Invoke(); status != tflite.OK {
		return detection.RawOutput{}, errors.Wrapf(engine.ErrInference, "invoke: %v", status)
	}
	return m.reader.read(m.interp)
}

// Close releases the interpreter, delegate and model. It is safe to call twice.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interp != nil {
		m.interp.Delete()
		m.interp = nil
	}
	if m.delegate != nil {
		m.delegate.Delete()
		m.delegate = nil
	}
	if m.options != nil {
		m.options.Delete()
		m.options = nil
	}
	if m.model != nil {
		m.model.Delete()
		m.model = nil
	}
	return nil
}
