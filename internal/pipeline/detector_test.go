package pipeline

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Starchild13/KinectaComms/internal/assets"
	"github.com/Starchild13/KinectaComms/internal/detection"
	"github.com/Starchild13/KinectaComms/internal/engine"
	"github.com/Starchild13/KinectaComms/internal/tensor"
)

var testShape = tensor.Shape{Width: 32, Height: 32, Channels: 3, Type: tensor.Float32}

func testSource(labels string) assets.Source {
	return assets.NewBundled(fstest.MapFS{
		assets.DefaultModelFile:  {Data: []byte("model")},
		assets.DefaultLabelsFile: {Data: []byte(labels)},
	}, assets.Files{})
}

func ssdEngine(scores []float32) *engine.Func {
	return &engine.Func{Shape: testShape, RunFn: func(tensor.Input) (detection.RawOutput, error) {
		n := len(scores)
		locations := make([]float32, 4*n)
		classes := make([]float32, n)
		for i := 0; i < n; i++ {
			copy(locations[4*i:], []float32{0.1, 0.1, 0.9, 0.9})
			classes[i] = float32(i)
		}
		return detection.DetectionOutput(detection.NewRawDetectionSet(locations, classes, scores, float32(n))), nil
	}}
}

func opener(e engine.Engine) Opener {
	return func([]byte) (engine.Engine, error) { return e, nil }
}

func redImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 0xff, A: 0xff}), image.Point{}, draw.Src)
	return img
}

func newDetector(t *testing.T, cfg Config) *Detector {
	t.Helper()
	d, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestNewRequiresSourceAndOpener(t *testing.T) {
	_, err := New(Config{Open: opener(ssdEngine(nil))})
	assert.Error(t, err)
	_, err = New(Config{Source: testSource("a")})
	assert.Error(t, err)
}

func TestDetectBeforeInitialize(t *testing.T) {
	d := newDetector(t, Config{Source: testSource("a"), Open: opener(ssdEngine(nil))})
	assert.False(t, d.Ready())
	_, ok := d.Shape()
	assert.False(t, ok)

	_, err := d.Detect(context.Background(), redImage(8, 8), TopThree)
	assert.True(t, errors.Is(err, ErrNotInitialized))
}

func TestDetectTopThree(t *testing.T) {
	d := newDetector(t, Config{
		Source: testSource("person\nbicycle\ncar\ndog\n"),
		Open:   opener(ssdEngine([]float32{0.55, 0.9, 0.3, 0.7})),
	})
	require.NoError(t, d.Initialize(context.Background()))
	assert.True(t, d.Ready())
	assert.Equal(t, detection.Labels{"person", "bicycle", "car", "dog"}, d.Labels())

	src := redImage(100, 80)
	res, err := d.Detect(context.Background(), src, TopThree)
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, testShape, res.Shape)

	require.Len(t, res.Detections, 3)
	assert.Equal(t, "bicycle", res.Detections[0].Label)
	assert.Equal(t, "dog", res.Detections[1].Label)
	assert.Equal(t, "person", res.Detections[2].Label)

	require.NotNil(t, res.Annotated)
	assert.Equal(t, src.Bounds(), res.Annotated.Bounds())
	assert.NotSame(t, src, res.Annotated)
}

func TestDetectClassification(t *testing.T) {
	eng := &engine.Func{Shape: testShape, RunFn: func(tensor.Input) (detection.RawOutput, error) {
		return detection.ClassificationOutput([]float32{0.2, 0.8, 0.6}), nil
	}}
	d := newDetector(t, Config{Source: testSource("a\nb\nc"), Open: opener(eng)})
	require.NoError(t, d.Initialize(context.Background()))

	res, err := d.Detect(context.Background(), redImage(10, 10), Classification)
	require.NoError(t, err)
	require.Len(t, res.Detections, 2)
	assert.Equal(t, "b", res.Detections[0].Label)
	assert.Nil(t, res.Detections[0].Box)
	assert.Nil(t, res.Annotated)
}

func TestInitializeOpensEngineOnce(t *testing.T) {
	var opens int32
	release := make(chan struct{})
	open := func([]byte) (engine.Engine, error) {
		atomic.AddInt32(&opens, 1)
		<-release
		return ssdEngine(nil), nil
	}
	d := newDetector(t, Config{Source: testSource("a"), Open: open})

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = d.Initialize(context.Background())
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&opens))
	assert.NoError(t, d.Initialize(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&opens))
}

func TestInitializeFailureCanBeRetried(t *testing.T) {
	fail := true
	open := func([]byte) (engine.Engine, error) {
		if fail {
			return nil, errors.New("bad model")
		}
		return ssdEngine(nil), nil
	}
	reg := prometheus.NewRegistry()
	d := newDetector(t, Config{Source: testSource("a"), Open: open, Metrics: NewMetrics(reg)})

	err := d.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
	assert.False(t, d.Ready())

	fail = false
	require.NoError(t, d.Initialize(context.Background()))
	assert.True(t, d.Ready())

	m := d.cfg.Metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.initializations.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.initializations.WithLabelValues("success")))
}

func TestInitializeMissingAssets(t *testing.T) {
	src := assets.NewBundled(fstest.MapFS{}, assets.Files{})
	d := newDetector(t, Config{Source: src, Open: opener(ssdEngine(nil))})
	err := d.Initialize(context.Background())
	assert.True(t, errors.Is(err, assets.ErrNotAvailable), "got %v", err)
}

func TestInitializeHonoursContext(t *testing.T) {
	release := make(chan struct{})
	open := func([]byte) (engine.Engine, error) {
		<-release
		return ssdEngine(nil), nil
	}
	d := newDetector(t, Config{Source: testSource("a"), Open: open})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Initialize(ctx), context.Canceled)

	close(release)
	require.NoError(t, d.Initialize(context.Background()))
}

func TestDetectDegradesOnInferenceFailure(t *testing.T) {
	eng := &engine.Func{Shape: testShape, RunFn: func(tensor.Input) (detection.RawOutput, error) {
		return detection.RawOutput{}, errors.New("delegate crashed")
	}}
	reg := prometheus.NewRegistry()
	d := newDetector(t, Config{Source: testSource("a"), Open: opener(eng), Metrics: NewMetrics(reg)})
	require.NoError(t, d.Initialize(context.Background()))

	src := redImage(16, 16)
	res, err := d.Detect(context.Background(), src, TopThree)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.NotNil(t, res.Detections)
	assert.Empty(t, res.Detections)
	assert.Same(t, src, res.Annotated)
	assert.Equal(t, 1.0, testutil.ToFloat64(d.cfg.Metrics.inferenceFailures))
}

type panicEngine struct{ engine.Func }

func (p *panicEngine) Run(tensor.Input) (detection.RawOutput, error) { panic("segfault") }

func TestDetectRecoversEnginePanic(t *testing.T) {
	d := newDetector(t, Config{Source: testSource("a"), Open: opener(&panicEngine{engine.Func{Shape: testShape}})})
	require.NoError(t, d.Initialize(context.Background()))

	res, err := d.Detect(context.Background(), redImage(4, 4), Classification)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
}

func TestDetectInvalidShapeIsFatal(t *testing.T) {
	bad := tensor.Shape{Width: 8, Height: 8, Channels: 2, Type: tensor.UInt8}
	eng := &engine.Func{Shape: bad, RunFn: func(tensor.Input) (detection.RawOutput, error) {
		t.Fatal("engine must not run")
		return detection.RawOutput{}, nil
	}}
	d := newDetector(t, Config{Source: testSource("a"), Open: opener(eng)})
	require.NoError(t, d.Initialize(context.Background()))

	_, err := d.Detect(context.Background(), redImage(4, 4), TopThree)
	assert.True(t, errors.Is(err, tensor.ErrUnsupportedChannelCount), "got %v", err)
}

func TestDetectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	eng := &engine.Func{Shape: testShape, RunFn: func(tensor.Input) (detection.RawOutput, error) {
		cancel()
		return detection.ClassificationOutput([]float32{0.9}), nil
	}}
	d := newDetector(t, Config{Source: testSource("a"), Open: opener(eng)})
	require.NoError(t, d.Initialize(context.Background()))

	res, err := d.Detect(ctx, redImage(4, 4), Classification)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = d.Detect(ctx, redImage(4, 4), Classification)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDetectConcurrent(t *testing.T) {
	d := newDetector(t, Config{Source: testSource("a\nb"), Open: opener(ssdEngine([]float32{0.9, 0.6}))})
	require.NoError(t, d.Initialize(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := d.Detect(context.Background(), redImage(20, 20), TopThree)
			if assert.NoError(t, err) {
				assert.Len(t, res.Detections, 2)
			}
		}()
	}
	wg.Wait()
}

func TestClose(t *testing.T) {
	closed := 0
	eng := ssdEngine(nil)
	eng.OnStop = func() error {
		closed++
		return nil
	}
	d := newDetector(t, Config{Source: testSource("a"), Open: opener(eng)})
	require.NoError(t, d.Initialize(context.Background()))
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, 1, closed)

	_, err := d.Detect(context.Background(), redImage(4, 4), TopThree)
	assert.True(t, errors.Is(err, ErrNotInitialized))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.observeStage("x", time.Second)
		m.observeDetections(1)
		m.inferenceFailed()
		m.initialized(nil)
	})
}
