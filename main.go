/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Starchild13/KinectaComms/internal/config"
	"github.com/Starchild13/KinectaComms/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	loader  *config.Loader
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{loader: config.NewLoader(nil), logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "kinecta",
		Short: "Object detection on still images with TFLite or ONNX models",
		Long: `kinecta resizes an image into the model input tensor, runs an SSD style
detector and reports the labelled boxes, optionally drawn onto the image.

Examples:
  kinecta detect photo.jpg --output boxed.png
  kinecta detect photo.jpg --mode classify
  kinecta assets
  kinecta serve --port 8080`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is kinecta.yaml in ., $HOME, /etc/kinecta, $XDG_CONFIG_HOME/kinecta)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.BoolP("verbose", "v", false, "verbose output (same as --log-level=debug)")

	v := a.loader.Viper()
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("verbose", flags.Lookup("verbose"))

	root.AddCommand(
		newDetectCommand(a),
		newServeCommand(a),
		newAssetsCommand(a),
		newConfigCommand(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := a.loader.Load(a.cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Verbose)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	if used := a.loader.FileUsed(); used != "" {
		logger.Debug("configuration loaded", zap.String("file", used))
	}
	return nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
