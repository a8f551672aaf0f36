package engine

import (
	"runtime"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Starchild13/KinectaComms/internal/detection"
	"github.com/Starchild13/KinectaComms/internal/tensor"
)

var shape = tensor.Shape{Width: 2, Height: 2, Channels: 3, Type: tensor.UInt8}

func TestFuncRun(t *testing.T) {
	calls := 0
	f := &Func{Shape: shape, RunFn: func(in tensor.Input) (detection.RawOutput, error) {
		calls++
		return detection.ClassificationOutput([]float32{0.9}), nil
	}}
	assert.Equal(t, shape, f.InputShape())

	out, err := f.Run(tensor.Input{Shape: shape, Data: make([]byte, 12)})
	require.NoError(t, err)
	assert.Equal(t, detection.KindClassification, out.Kind)
	assert.Equal(t, 1, calls)
	assert.NoError(t, f.Close())
}

func TestFuncRunWrapsErrors(t *testing.T) {
	f := &Func{Shape: shape, RunFn: func(tensor.Input) (detection.RawOutput, error) {
		return detection.RawOutput{}, errors.New("boom")
	}}
	_, err := f.Run(tensor.Input{Shape: shape, Data: make([]byte, 12)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInference))
	assert.Contains(t, err.Error(), "boom")
}

func TestCheckInput(t *testing.T) {
	assert.NoError(t, CheckInput(shape, tensor.Input{Shape: shape, Data: make([]byte, 12)}))

	err := CheckInput(shape, tensor.Input{Shape: shape, Data: make([]byte, 11)})
	assert.True(t, errors.Is(err, ErrInference))

	other := shape
	other.Type = tensor.Float32
	err = CheckInput(shape, tensor.Input{Shape: other, Data: make([]byte, 48)})
	assert.True(t, errors.Is(err, ErrInference))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil))
	wrapped := Wrap(errors.New("x"))
	assert.True(t, errors.Is(wrapped, ErrInference))
	assert.Equal(t, wrapped, Wrap(wrapped))
}

func TestDequantize(t *testing.T) {
	assert.Equal(t, []float32{0, 1}, Dequantize([]uint8{0, 255}, 0, 0))

	got := Dequantize([]uint8{0, 128, 255}, 0.5, 128)
	assert.Equal(t, []float32{-64, 0, 63.5}, got)

	assert.Empty(t, Dequantize(nil, 1, 0))
}

func TestOptionsThreads(t *testing.T) {
	assert.Equal(t, 3, Options{NumThreads: 3}.Threads())

	want := runtime.NumCPU() - 1
	if want < 1 {
		want = 1
	}
	assert.Equal(t, want, Options{}.Threads())
	assert.NotNil(t, Options{}.Log())
}
