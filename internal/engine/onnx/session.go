/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

// Package onnx runs SSD and classification models exported to ONNX.
package onnx

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Starchild13/KinectaComms/internal/detection"
	"github.com/Starchild13/KinectaComms/internal/engine"
	"github.com/Starchild13/KinectaComms/internal/tensor"
)

// ssdOutputs are the tensor names of the TF object detection API export.
var ssdOutputs = [4]string{"detection_boxes", "detection_classes", "detection_scores", "num_detections"}

var systemLibraries = []string{
	"/usr/local/lib/libonnxruntime.so",
	"/usr/lib/libonnxruntime.so",
	"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
}

var initMu sync.Mutex

// Initialize loads the runtime library once per process. An empty libPath
// probes the usual system locations.
func Initialize(libPath string) error {
	initMu.Lock()
	defer initMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		for _, p := range systemLibraries {
			if _, err := os.Stat(p); err == nil {
				libPath = p
				break
			}
		}
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrapf(engine.ErrInference, "init onnxruntime: %v", err)
	}
	return nil
}

// Session wraps a dynamic onnxruntime session.
type Session struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	input   ort.InputOutputInfo
	outputs []string
	kind    detection.OutputKind
	shape   tensor.Shape
	logger  *zap.Logger
}

// New creates a session from model bytes. The model must take a single NHWC
// image input.
func New(data []byte, opts engine.Options) (*Session, error) {
	logger := opts.Log().Named("onnx")
	if err := Initialize(opts.LibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(data)
	if err != nil {
		return nil, errors.Wrapf(engine.ErrInference, "io info: %v", err)
	}
	if len(inputs) != 1 {
		return nil, errors.Wrapf(engine.ErrInference, "model has %d inputs, want 1", len(inputs))
	}

	shape, err := inputShape(inputs[0])
	if err != nil {
		return nil, err
	}
	names, kind, err := outputLayout(outputs)
	if err != nil {
		return nil, err
	}

	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrapf(engine.ErrInference, "session options: %v", err)
	}
	defer func() { _ = so.Destroy() }()
	if err := so.SetIntraOpNumThreads(opts.Threads()); err != nil {
		logger.Warn("cannot set thread count", zap.Error(err))
	}

	sess, err := ort.NewDynamicAdvancedSessionWithONNXData(data, []string{inputs[0].Name}, names, so)
	if err != nil {
		return nil, errors.Wrapf(engine.ErrInference, "session: %v", err)
	}

	logger.Info("model loaded",
		zap.Stringer("input", shape),
		zap.Strings("outputs", names),
		zap.Stringer("kind", kind),
		zap.Int("threads", opts.Threads()))
	return &Session{
		session: sess,
		input:   inputs[0],
		outputs: names,
		kind:    kind,
		shape:   shape,
		logger:  logger,
	}, nil
}

func inputShape(info ort.InputOutputInfo) (tensor.Shape, error) {
	dims := info.Dimensions
	if len(dims) != 4 {
		return tensor.Shape{}, errors.Wrapf(tensor.ErrInvalidShape, "input %s has %d dims, want [1,H,W,C]", info.Name, len(dims))
	}
	shape := tensor.Shape{Height: int(dims[1]), Width: int(dims[2]), Channels: int(dims[3])}
	switch info.DataType {
	case ort.TensorElementDataTypeUint8:
		shape.Type = tensor.UInt8
	case ort.TensorElementDataTypeFloat:
		shape.Type = tensor.Float32
	default:
		return tensor.Shape{}, errors.Wrapf(tensor.ErrInvalidShape, "input type %v", info.DataType)
	}
	return shape, shape.Validate()
}

// outputLayout orders output names as boxes, classes, scores, count when the
// model has four or more outputs.
func outputLayout(outputs []ort.InputOutputInfo) ([]string, detection.OutputKind, error) {
	switch {
	case len(outputs) == 1:
		return []string{outputs[0].Name}, detection.KindClassification, nil
	case len(outputs) >= 4:
		byName := map[string]bool{}
		for _, o := range outputs {
			byName[o.Name] = true
		}
		names := make([]string, 4)
		for i, n := range ssdOutputs {
			if !byName[n] {
				for j := range names {
					names[j] = outputs[j].Name
				}
				return names, detection.KindDetection, nil
			}
			names[i] = n
		}
		return names, detection.KindDetection, nil
	}
	return nil, 0, errors.Wrapf(engine.ErrInference, "unsupported model with %d outputs", len(outputs))
}

// InputShape returns the model input geometry.
func (s *Session) InputShape() tensor.Shape {
	return s.shape
}

// Run executes one inference.
func (s *Session) Run(in tensor.Input) (out detection.RawOutput, err error) {
	if err := engine.CheckInput(s.shape, in); err != nil {
		return detection.RawOutput{}, err
	}

	shape := ort.NewShape(1, int64(s.shape.Height), int64(s.shape.Width), int64(s.shape.Channels))
	var input ort.Value
	if s.shape.Type == tensor.UInt8 {
		input, err = ort.NewTensor(shape, append([]uint8(nil), in.Data...))
	} else {
		input, err = ort.NewTensor(shape, in.Float32s())
	}
	if err != nil {
		return detection.RawOutput{}, errors.Wrapf(engine.ErrInference, "input tensor: %v", err)
	}
	defer func() { _ = input.Destroy() }()

	results := make([]ort.Value, len(s.outputs))

	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return detection.RawOutput{}, errors.Wrap(engine.ErrInference, "session closed")
	}
	err = s.session.Run([]ort.Value{input}, results)
	s.mu.Unlock()

	defer func() {
		for _, r := range results {
			if r != nil {
				err = multierr.Append(err, r.Destroy())
			}
		}
	}()
	if err != nil {
		return detection.RawOutput{}, errors.Wrapf(engine.ErrInference, "run: %v", err)
	}

	values := make([][]float32, len(results))
	for i, r := range results {
		if values[i], err = floats(r); err != nil {
			return detection.RawOutput{}, errors.Wrapf(err, "output %s", s.outputs[i])
		}
	}

	if s.kind == detection.KindClassification {
		return detection.ClassificationOutput(values[0]), nil
	}
	var count float32
	if len(values[3]) > 0 {
		count = values[3][0]
	}
	return detection.DetectionOutput(detection.NewRawDetectionSet(values[0], values[1], values[2], count)), nil
}

func floats(v ort.Value) ([]float32, error) {
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		return append([]float32(nil), t.GetData()...), nil
	case *ort.Tensor[uint8]:
		return engine.Dequantize(t.GetData(), 0, 0), nil
	case *ort.Tensor[int64]:
		data := t.GetData()
		out := make([]float32, len(data))
		for i, d := range data {
			out[i] = float32(d)
		}
		return out, nil
	}
	return nil, errors.Wrapf(engine.ErrInference, "unsupported output value %T", v)
}

// Close destroys the session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
