/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package main

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Starchild13/KinectaComms/internal/assets"
	"github.com/Starchild13/KinectaComms/internal/detection"
	"github.com/Starchild13/KinectaComms/internal/engine"
	"github.com/Starchild13/KinectaComms/internal/engine/onnx"
	"github.com/Starchild13/KinectaComms/internal/engine/tflite"
	"github.com/Starchild13/KinectaComms/internal/pipeline"
	"github.com/Starchild13/KinectaComms/internal/tensor"
)

func (a *app) source() (assets.Source, error) {
	c := a.cfg.Assets
	mode, err := assets.ParseMode(c.Mode)
	if err != nil {
		return nil, err
	}
	files := c.Files()
	bundled := assets.NewBundledDir(c.BundledDir, files)
	pack := assets.NewPack(c.PackRoot, c.PackName, files)
	return assets.Select(mode, bundled, pack)
}

func (a *app) opener() (pipeline.Opener, error) {
	opts := a.cfg.Engine.Options()
	opts.Logger = a.logger

	switch backend := strings.ToLower(a.cfg.Engine.Backend); backend {
	case "tflite":
		return func(model []byte) (engine.Engine, error) {
			m, err := tflite.New(model, opts)
			if err != nil {
				return nil, err
			}
			return m, nil
		}, nil
	case "onnx":
		return func(model []byte) (engine.Engine, error) {
			s, err := onnx.New(model, opts)
			if err != nil {
				return nil, err
			}
			return s, nil
		}, nil
	default:
		return nil, errors.Errorf("unknown engine backend %q", backend)
	}
}

// detector wires a pipeline from the loaded configuration. reg may be nil.
func (a *app) detector(reg prometheus.Registerer) (*pipeline.Detector, error) {
	src, err := a.source()
	if err != nil {
		return nil, err
	}
	open, err := a.opener()
	if err != nil {
		return nil, err
	}
	resampler, err := tensor.ResamplerByName(a.cfg.Preprocess.Resampler)
	if err != nil {
		return nil, err
	}

	var metrics *pipeline.Metrics
	if reg != nil {
		metrics = pipeline.NewMetrics(reg)
	}

	a.logger.Debug("building detector",
		zap.String("source", src.Name()),
		zap.String("backend", a.cfg.Engine.Backend),
		zap.String("resampler", a.cfg.Preprocess.Resampler))

	return pipeline.New(pipeline.Config{
		Source:       src,
		Open:         open,
		Preprocessor: tensor.NewPreprocessor(resampler),
		Annotator:    detection.NewAnnotator(a.cfg.Annotate.Options()),
		Metrics:      metrics,
		Logger:       a.logger,
	})
}
