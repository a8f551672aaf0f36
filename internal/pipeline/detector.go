/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

// Package pipeline wires asset loading, preprocessing, inference,
// postprocessing and annotation into one request path.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Starchild13/KinectaComms/internal/assets"
	"github.com/Starchild13/KinectaComms/internal/detection"
	"github.com/Starchild13/KinectaComms/internal/engine"
	"github.com/Starchild13/KinectaComms/internal/tensor"
)

// ErrNotInitialized is returned by Detect before a successful Initialize.
var ErrNotInitialized = errors.New("detector not initialized")

// Opener builds an engine from model bytes.
type Opener func(model []byte) (engine.Engine, error)

// Config holds the collaborators of a Detector. Source and Open are required.
type Config struct {
	Source       assets.Source
	Open         Opener
	Preprocessor *tensor.Preprocessor
	Annotator    *detection.Annotator
	Metrics      *Metrics
	Logger       *zap.Logger
}

// Options tune a single Detect call.
type Options struct {
	MinConfidence float32
	MaxResults    int
	// Annotate requests a copy of the image with boxes drawn on it.
	Annotate bool
}

var (
	// TopThree is the detection mode of the app: three best boxes, drawn.
	TopThree = Options{MinConfidence: 0.5, MaxResults: 3, Annotate: true}
	// Classification keeps every label at or above 50% and draws nothing.
	Classification = Options{MinConfidence: 0.5, MaxResults: detection.Unlimited}
)

func (o Options) detection() detection.Options {
	return detection.Options{MinConfidence: o.MinConfidence, MaxResults: o.MaxResults}
}

// Timings are the wall-clock durations of each stage.
type Timings struct {
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Annotate    time.Duration
}

// Total sums all stages.
func (t Timings) Total() time.Duration {
	return t.Preprocess + t.Inference + t.Postprocess + t.Annotate
}

// Result is the outcome of one Detect call.
type Result struct {
	RequestID  string
	Detections []detection.Detection
	// Annotated is set when Options.Annotate was requested. On a degraded
	// result it is the source image.
	Annotated image.Image
	// Degraded reports that inference failed and Detections is empty.
	Degraded bool
	Shape    tensor.Shape
	Timings  Timings
}

// Detector owns the loaded model and label table.
type Detector struct {
	cfg    Config
	logger *zap.Logger
	group  singleflight.Group

	mu     sync.RWMutex
	engine engine.Engine
	labels detection.Labels
}

// New validates cfg. The model is not loaded until Initialize.
func New(cfg Config) (*Detector, error) {
	if cfg.Source == nil {
		return nil, errors.New("pipeline: asset source is required")
	}
	if cfg.Open == nil {
		return nil, errors.New("pipeline: engine opener is required")
	}
	if cfg.Preprocessor == nil {
		cfg.Preprocessor = tensor.NewPreprocessor(nil)
	}
	if cfg.Annotator == nil {
		cfg.Annotator = detection.NewAnnotator(detection.DefaultAnnotateOptions())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{cfg: cfg, logger: logger.Named("pipeline")}, nil
}

// Initialize loads the model and labels. Concurrent callers share one
// attempt; a failed attempt can be retried. When ctx ends first the load
// keeps running and its result is kept for later callers.
func (d *Detector) Initialize(ctx context.Context) error {
	if d.Ready() {
		return nil
	}
	ch := d.group.DoChan("init", func() (interface{}, error) {
		return nil, d.load()
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Detector) load() error {
	if d.Ready() {
		return nil
	}
	src := d.cfg.Source
	start := time.Now()
	err := func() error {
		if !src.Available() {
			d.logger.Warn("asset source reports missing files", zap.String("source", src.Name()))
		}
		labels, err := src.LoadLabels()
		if err != nil {
			return err
		}
		model, err := src.LoadModel()
		if err != nil {
			return err
		}
		eng, err := d.cfg.Open(model)
		if err != nil {
			return errors.Wrapf(err, "open model from %s", src.Name())
		}

		d.mu.Lock()
		d.engine = eng
		d.labels = labels
		d.mu.Unlock()

		d.logger.Info("detector initialized",
			zap.String("source", src.Name()),
			zap.Stringer("input", eng.InputShape()),
			zap.Int("labels", len(labels)),
			zap.Duration("elapsed", time.Since(start)))
		return nil
	}()
	if err != nil {
		d.logger.Error("initialization failed", zap.String("source", src.Name()), zap.Error(err))
	}
	d.cfg.Metrics.initialized(err)
	return err
}

// Ready reports whether Initialize has succeeded.
func (d *Detector) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.engine != nil
}

// Labels returns the loaded label table; nil before initialization.
func (d *Detector) Labels() detection.Labels {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.labels
}

// Shape returns the model input shape once initialized.
func (d *Detector) Shape() (tensor.Shape, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.engine == nil {
		return tensor.Shape{}, false
	}
	return d.engine.InputShape(), true
}

func (d *Detector) snapshot() (engine.Engine, detection.Labels) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.engine, d.labels
}

// Detect runs img through the model. Preprocessing errors are returned;
// inference errors yield an empty, degraded result. If ctx ends while the
// request runs, the result is dropped and ctx.Err() returned.
func (d *Detector) Detect(ctx context.Context, img image.Image, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	eng, labels := d.snapshot()
	if eng == nil {
		return nil, ErrNotInitialized
	}

	res := &Result{RequestID: uuid.NewString(), Shape: eng.InputShape()}
	logger := d.logger.With(zap.String("request_id", res.RequestID))

	start := time.Now()
	in, err := d.cfg.Preprocessor.Preprocess(img, res.Shape)
	res.Timings.Preprocess = time.Since(start)
	d.cfg.Metrics.observeStage("preprocess", res.Timings.Preprocess)
	if err != nil {
		return nil, errors.Wrap(err, "preprocess")
	}

	start = time.Now()
	raw, err := run(eng, in)
	res.Timings.Inference = time.Since(start)
	d.cfg.Metrics.observeStage("inference", res.Timings.Inference)

	if err != nil {
		logger.Error("inference failed, returning empty result", zap.Error(err))
		d.cfg.Metrics.inferenceFailed()
		res.Degraded = true
		res.Detections = []detection.Detection{}
	} else {
		start = time.Now()
		res.Detections = detection.Postprocess(raw, labels, opts.detection())
		res.Timings.Postprocess = time.Since(start)
		d.cfg.Metrics.observeStage("postprocess", res.Timings.Postprocess)
	}

	if opts.Annotate {
		if res.Degraded {
			res.Annotated = img
		} else {
			start = time.Now()
			res.Annotated = d.cfg.Annotator.Annotate(img, res.Detections)
			res.Timings.Annotate = time.Since(start)
			d.cfg.Metrics.observeStage("annotate", res.Timings.Annotate)
		}
	}

	if err := ctx.Err(); err != nil {
		logger.Debug("request cancelled, discarding result", zap.Error(err))
		return nil, err
	}
	d.cfg.Metrics.observeDetections(len(res.Detections))
	logger.Debug("detect done",
		zap.Int("detections", len(res.Detections)),
		zap.Bool("degraded", res.Degraded),
		zap.Duration("elapsed", res.Timings.Total()))
	return res, nil
}

// run calls the engine, turning any error or panic into ErrInference.
func run(eng engine.Engine, in tensor.Input) (out detection.RawOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrap(engine.ErrInference, fmt.Sprint("panic: ", r))
		}
	}()
	out, err = eng.Run(in)
	return out, engine.Wrap(err)
}

// Close releases the engine and, when it implements io.Closer, the asset
// source. Detect returns ErrNotInitialized afterwards.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if d.engine != nil {
		err = multierr.Append(err, d.engine.Close())
		d.engine = nil
		d.labels = nil
	}
	if c, ok := d.cfg.Source.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}
