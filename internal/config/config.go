/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

// Package config loads service settings from file, environment and flags.
package config

import (
	"image/color"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/Starchild13/KinectaComms/internal/assets"
	"github.com/Starchild13/KinectaComms/internal/detection"
	"github.com/Starchild13/KinectaComms/internal/engine"
	"github.com/Starchild13/KinectaComms/internal/logging"
	"github.com/Starchild13/KinectaComms/internal/pipeline"
	"github.com/Starchild13/KinectaComms/internal/tensor"
)

// Config is the complete service configuration.
type Config struct {
	LogLevel   string           `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose    bool             `mapstructure:"verbose" yaml:"verbose" json:"verbose"`
	Assets     AssetsConfig     `mapstructure:"assets" yaml:"assets" json:"assets"`
	Engine     EngineConfig     `mapstructure:"engine" yaml:"engine" json:"engine"`
	Preprocess PreprocessConfig `mapstructure:"preprocess" yaml:"preprocess" json:"preprocess"`
	Detection  DetectionConfig  `mapstructure:"detection" yaml:"detection" json:"detection"`
	Annotate   AnnotateConfig   `mapstructure:"annotate" yaml:"annotate" json:"annotate"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server" json:"server"`
}

// AssetsConfig locates the model and labels.
type AssetsConfig struct {
	Mode       string `mapstructure:"mode" yaml:"mode" json:"mode"`
	BundledDir string `mapstructure:"bundled_dir" yaml:"bundled_dir" json:"bundled_dir"`
	PackRoot   string `mapstructure:"pack_root" yaml:"pack_root" json:"pack_root"`
	PackName   string `mapstructure:"pack_name" yaml:"pack_name" json:"pack_name"`
	ModelFile  string `mapstructure:"model_file" yaml:"model_file" json:"model_file"`
	LabelsFile string `mapstructure:"labels_file" yaml:"labels_file" json:"labels_file"`
}

// EngineConfig selects the inference runtime.
type EngineConfig struct {
	// Backend is tflite or onnx.
	Backend     string `mapstructure:"backend" yaml:"backend" json:"backend"`
	NumThreads  int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	EdgeTPU     bool   `mapstructure:"edgetpu" yaml:"edgetpu" json:"edgetpu"`
	ONNXLibrary string `mapstructure:"onnx_library" yaml:"onnx_library" json:"onnx_library"`
}

// PreprocessConfig picks the resampler by name.
type PreprocessConfig struct {
	Resampler string `mapstructure:"resampler" yaml:"resampler" json:"resampler"`
}

// DetectionConfig holds the defaults of the detect endpoint and command.
type DetectionConfig struct {
	MinConfidence float32 `mapstructure:"min_confidence" yaml:"min_confidence" json:"min_confidence"`
	MaxResults    int     `mapstructure:"max_results" yaml:"max_results" json:"max_results"`
	Annotate      bool    `mapstructure:"annotate" yaml:"annotate" json:"annotate"`
}

// AnnotateConfig styles drawn boxes. Color is #rrggbb or #rrggbbaa.
type AnnotateConfig struct {
	Color       string  `mapstructure:"color" yaml:"color" json:"color"`
	StrokeWidth float64 `mapstructure:"stroke_width" yaml:"stroke_width" json:"stroke_width"`
	FontSize    float64 `mapstructure:"font_size" yaml:"font_size" json:"font_size"`
	TextOffset  float64 `mapstructure:"text_offset" yaml:"text_offset" json:"text_offset"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Host               string `mapstructure:"host" yaml:"host" json:"host"`
	Port               int    `mapstructure:"port" yaml:"port" json:"port"`
	StaticDir          string `mapstructure:"static_dir" yaml:"static_dir" json:"static_dir"`
	MaxUploadMB        int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	ReadTimeoutSec     int    `mapstructure:"read_timeout_sec" yaml:"read_timeout_sec" json:"read_timeout_sec"`
	WriteTimeoutSec    int    `mapstructure:"write_timeout_sec" yaml:"write_timeout_sec" json:"write_timeout_sec"`
	ShutdownTimeoutSec int    `mapstructure:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec" json:"shutdown_timeout_sec"`
}

// DefaultConfig returns the stock settings: top three
// detections at 50% drawn red at 4px with 40pt captions.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Assets: AssetsConfig{
			Mode:       string(assets.ModeAuto),
			BundledDir: "assets",
			PackRoot:   "packs",
			PackName:   assets.DefaultPackName,
			ModelFile:  assets.DefaultModelFile,
			LabelsFile: assets.DefaultLabelsFile,
		},
		Engine: EngineConfig{Backend: "tflite"},
		Preprocess: PreprocessConfig{
			Resampler: "bilinear",
		},
		Detection: DetectionConfig{
			MinConfidence: pipeline.TopThree.MinConfidence,
			MaxResults:    pipeline.TopThree.MaxResults,
			Annotate:      pipeline.TopThree.Annotate,
		},
		Annotate: AnnotateConfig{
			Color:       "#ff0000",
			StrokeWidth: 4,
			FontSize:    40,
			TextOffset:  10,
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			StaticDir:          "static",
			MaxUploadMB:        10,
			ReadTimeoutSec:     30,
			WriteTimeoutSec:    60,
			ShutdownTimeoutSec: 10,
		},
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var err error
	if _, e := logging.ParseLevel(c.LogLevel); e != nil {
		err = multierr.Append(err, e)
	}
	if _, e := assets.ParseMode(c.Assets.Mode); e != nil {
		err = multierr.Append(err, e)
	}
	switch strings.ToLower(c.Engine.Backend) {
	case "tflite", "onnx":
	default:
		err = multierr.Append(err, errors.Errorf("unknown engine backend %q", c.Engine.Backend))
	}
	if c.Engine.NumThreads < 0 {
		err = multierr.Append(err, errors.Errorf("engine.num_threads must not be negative, got %d", c.Engine.NumThreads))
	}
	if _, e := tensor.ResamplerByName(c.Preprocess.Resampler); e != nil {
		err = multierr.Append(err, e)
	}
	if c.Detection.MinConfidence < 0 || c.Detection.MinConfidence > 1 {
		err = multierr.Append(err, errors.Errorf("detection.min_confidence must be in [0,1], got %v", c.Detection.MinConfidence))
	}
	if _, e := ParseColor(c.Annotate.Color); e != nil {
		err = multierr.Append(err, e)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, errors.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxUploadMB <= 0 {
		err = multierr.Append(err, errors.Errorf("server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB))
	}
	return err
}

// Files returns the asset file names.
func (c AssetsConfig) Files() assets.Files {
	return assets.Files{Model: c.ModelFile, Labels: c.LabelsFile}
}

// Options converts the detection defaults.
func (c DetectionConfig) Options() pipeline.Options {
	return pipeline.Options{MinConfidence: c.MinConfidence, MaxResults: c.MaxResults, Annotate: c.Annotate}
}

// Options converts the drawing style. An invalid color falls back to red.
func (c AnnotateConfig) Options() detection.AnnotateOptions {
	opts := detection.AnnotateOptions{
		StrokeWidth: c.StrokeWidth,
		FontSize:    c.FontSize,
		TextOffset:  c.TextOffset,
	}
	if col, err := ParseColor(c.Color); err == nil {
		opts.Color = col
	}
	return opts
}

// Options converts the runtime settings.
func (c EngineConfig) Options() engine.Options {
	return engine.Options{NumThreads: c.NumThreads, EdgeTPU: c.EdgeTPU, LibraryPath: c.ONNXLibrary}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// ReadTimeout, WriteTimeout and ShutdownTimeout convert the second counts.
func (c ServerConfig) ReadTimeout() time.Duration     { return seconds(c.ReadTimeoutSec) }
func (c ServerConfig) WriteTimeout() time.Duration    { return seconds(c.WriteTimeoutSec) }
func (c ServerConfig) ShutdownTimeout() time.Duration { return seconds(c.ShutdownTimeoutSec) }

// MaxUploadBytes converts MaxUploadMB.
func (c ServerConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// ParseColor parses #rgb, #rrggbb or #rrggbbaa.
func ParseColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) == 6 {
		h += "ff"
	}
	if len(h) != 8 {
		return color.RGBA{}, errors.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, errors.Errorf("invalid color %q", s)
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
