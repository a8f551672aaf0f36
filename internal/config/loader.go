/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	// FileName is the base name of the YAML config file.
	FileName = "kinecta"
	// EnvPrefix prefixes environment overrides, e.g. KINECTA_SERVER_PORT.
	EnvPrefix = "KINECTA"
)

// Loader reads configuration through a viper instance.
type Loader struct {
	v *viper.Viper
}

// NewLoader wraps v, or a fresh viper when v is nil.
func NewLoader(v *viper.Viper) *Loader {
	if v == nil {
		v = viper.New()
	}
	return &Loader{v: v}
}

// Viper returns the underlying instance, for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads file (or the first kinecta.* found on the search path),
// applies env overrides and defaults, then validates.
func (l *Loader) Load(file string) (*Config, error) {
	l.setDefaults()
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	l.v.AutomaticEnv()

	if file != "" {
		if _, err := os.Stat(file); err != nil {
			return nil, errors.Wrapf(err, "config file %s", file)
		}
		l.v.SetConfigFile(file)
	} else {
		l.v.SetConfigName(FileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &cfg, nil
}

// FileUsed is the path of the config file read, if any.
func (l *Loader) FileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) addConfigPaths() {
	l.v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(home)
	}
	l.v.AddConfigPath("/etc/kinecta")
	if dir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		l.v.AddConfigPath(filepath.Join(dir, "kinecta"))
	} else if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(filepath.Join(home, ".config", "kinecta"))
	}
}

func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	l.v.SetDefault("assets.mode", d.Assets.Mode)
	l.v.SetDefault("assets.bundled_dir", d.Assets.BundledDir)
	l.v.SetDefault("assets.pack_root", d.Assets.PackRoot)
	l.v.SetDefault("assets.pack_name", d.Assets.PackName)
	l.v.SetDefault("assets.model_file", d.Assets.ModelFile)
	l.v.SetDefault("assets.labels_file", d.Assets.LabelsFile)

	l.v.SetDefault("engine.backend", d.Engine.Backend)
	l.v.SetDefault("engine.num_threads", d.Engine.NumThreads)
	l.v.SetDefault("engine.edgetpu", d.Engine.EdgeTPU)
	l.v.SetDefault("engine.onnx_library", d.Engine.ONNXLibrary)

	l.v.SetDefault("preprocess.resampler", d.Preprocess.Resampler)

	l.v.SetDefault("detection.min_confidence", d.Detection.MinConfidence)
	l.v.SetDefault("detection.max_results", d.Detection.MaxResults)
	l.v.SetDefault("detection.annotate", d.Detection.Annotate)

	l.v.SetDefault("annotate.color", d.Annotate.Color)
	l.v.SetDefault("annotate.stroke_width", d.Annotate.StrokeWidth)
	l.v.SetDefault("annotate.font_size", d.Annotate.FontSize)
	l.v.SetDefault("annotate.text_offset", d.Annotate.TextOffset)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.static_dir", d.Server.StaticDir)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.read_timeout_sec", d.Server.ReadTimeoutSec)
	l.v.SetDefault("server.write_timeout_sec", d.Server.WriteTimeoutSec)
	l.v.SetDefault("server.shutdown_timeout_sec", d.Server.ShutdownTimeoutSec)
}
