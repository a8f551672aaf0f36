/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package tflite

import (
	"github.com/mattn/go-tflite"
	"github.com/pkg/errors"

	"github.com/Starchild13/KinectaComms/internal/detection"
	"github.com/Starchild13/KinectaComms/internal/engine"
)

// outputReader converts interpreter outputs after Invoke.
type outputReader interface {
	kind() detection.OutputKind
	read(interp *tflite.Interpreter) (detection.RawOutput, error)
}

func readerFor(outputs int) (outputReader, error) {
	switch {
	case outputs >= 4:
		return ssdReader{}, nil
	case outputs == 1:
		return classifierReader{}, nil
	}
	return nil, errors.Wrapf(engine.ErrInference, "unsupported model with %d outputs", outputs)
}

// ssdReader reads locations, classes, scores and count from outputs 0 to 3.
type ssdReader struct{}

func (ssdReader) kind() detection.OutputKind { return detection.KindDetection }

func (ssdReader) read(interp *tflite.Interpreter) (detection.RawOutput, error) {
	var t [4][]float32
	for i := range t {
		v, err := values(interp.GetOutputTensor(i))
		if err != nil {
			return detection.RawOutput{}, errors.Wrapf(err, "output %d", i)
		}
		t[i] = v
	}
	var count float32
	if len(t[3]) > 0 {
		count = t[3][0]
	}
	return detection.DetectionOutput(detection.NewRawDetectionSet(t[0], t[1], t[2], count)), nil
}

// classifierReader reads one score per label from output 0.
type classifierReader struct{}

func (classifierReader) kind() detection.OutputKind { return detection.KindClassification }

func (classifierReader) read(interp *tflite.Interpreter) (detection.RawOutput, error) {
	v, err := values(interp.GetOutputTensor(0))
	if err != nil {
		return detection.RawOutput{}, err
	}
	return detection.ClassificationOutput(v), nil
}

// values copies a tensor out of interpreter memory, dequantizing uint8 data.
func values(t *tflite.Tensor) ([]float32, error) {
	if t == nil {
		return nil, errors.Wrap(engine.ErrInference, "missing output tensor")
	}
	switch t.Type() {
	case tflite.Float32:
		return append([]float32(nil), t.Float32s()...), nil
	case tflite.UInt8:
		q := t.QuantizationParams()
		return engine.Dequantize(t.UInt8s(), q.Scale, q.ZeroPoint), nil
	}
	return nil, errors.Wrapf(engine.ErrInference, "output %s has type %v", t.Name(), t.Type())
}
