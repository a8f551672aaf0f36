/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Starchild13/KinectaComms/internal/server"
)

func newServeCommand(a *app) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket detection server",
		Long: `Start an HTTP server exposing the detector.

Endpoints:
  POST /api/v1/detect    top three detections, annotated image included
  POST /api/v1/classify  every detection above the threshold
  GET  /api/v1/labels    model labels
  GET  /health           200 once the model is loaded
  GET  /metrics          Prometheus metrics
  GET  /ws               binary image frames in, JSON results out

The model loads in the background unless --wait is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			det, err := a.detector(reg)
			if err != nil {
				return err
			}
			defer func() {
				if err := det.Close(); err != nil {
					a.logger.Warn("close detector", zap.Error(err))
				}
			}()

			if wait {
				if err := det.Initialize(ctx); err != nil {
					return err
				}
			} else {
				go func() {
					if err := det.Initialize(ctx); err != nil {
						a.logger.Error("model initialization failed", zap.Error(err))
					}
				}()
			}

			sc := a.cfg.Server
			srv := server.New(det, server.Config{
				Host:            sc.Host,
				Port:            sc.Port,
				StaticDir:       sc.StaticDir,
				MaxUploadBytes:  sc.MaxUploadBytes(),
				ReadTimeout:     sc.ReadTimeout(),
				WriteTimeout:    sc.WriteTimeout(),
				ShutdownTimeout: sc.ShutdownTimeout(),
				Detect:          a.cfg.Detection.Options(),
				Registry:        reg,
				Logger:          a.logger,
			})
			return srv.Run(ctx)
		},
	}

	f := cmd.Flags()
	f.String("host", "0.0.0.0", "listen address")
	f.Int("port", 8080, "listen port")
	f.String("static-dir", "static", "directory served at /, empty to disable")
	f.Int("max-upload-mb", 10, "upload size limit in MiB")
	f.BoolVar(&wait, "wait", false, "load the model before accepting requests")

	v := a.loader.Viper()
	_ = v.BindPFlag("server.host", f.Lookup("host"))
	_ = v.BindPFlag("server.port", f.Lookup("port"))
	_ = v.BindPFlag("server.static_dir", f.Lookup("static-dir"))
	_ = v.BindPFlag("server.max_upload_mb", f.Lookup("max-upload-mb"))
	return cmd
}
