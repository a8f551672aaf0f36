/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package main

import (
	"encoding/json"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	// webp uploads
	_ "golang.org/x/image/webp"

	"github.com/Starchild13/KinectaComms/internal/detection"
	"github.com/Starchild13/KinectaComms/internal/pipeline"
)

type detectOutput struct {
	RequestID  string                `json:"request_id"`
	Image      string                `json:"image"`
	Input      string                `json:"input"`
	Degraded   bool                  `json:"degraded"`
	Detections []detection.Detection `json:"detections"`
	Annotated  string                `json:"annotated,omitempty"`
	TotalMS    float64               `json:"total_ms"`
}

func newDetectCommand(a *app) *cobra.Command {
	var (
		mode   string
		output string
	)

	cmd := &cobra.Command{
		Use:   "detect IMAGE",
		Short: "Detect objects in an image and print them as JSON",
		Long: `Run the detector once on IMAGE.

Modes:
  top3      the three best detections above the threshold (default)
  classify  every detection above the threshold, without boxes

With --output the annotated image is written to the given path; the
format follows the file extension.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := detectOptions(a, cmd, mode)
			if err != nil {
				return err
			}
			if output != "" {
				opts.Annotate = true
			}

			img, err := imaging.Open(args[0], imaging.AutoOrientation(true))
			if err != nil {
				return errors.Wrapf(err, "open %s", args[0])
			}

			det, err := a.detector(nil)
			if err != nil {
				return err
			}
			defer func() {
				if err := det.Close(); err != nil {
					a.logger.Warn("close detector", zap.Error(err))
				}
			}()

			ctx := cmd.Context()
			if err := det.Initialize(ctx); err != nil {
				return err
			}
			res, err := det.Detect(ctx, img, opts)
			if err != nil {
				return err
			}
			if res.Degraded {
				a.logger.Warn("inference failed, result is empty", zap.String("request_id", res.RequestID))
			}

			out := detectOutput{
				RequestID:  res.RequestID,
				Image:      args[0],
				Input:      res.Shape.String(),
				Degraded:   res.Degraded,
				Detections: res.Detections,
				TotalMS:    float64(res.Timings.Total().Microseconds()) / 1000,
			}
			if output != "" && res.Annotated != nil {
				if err := imaging.Save(res.Annotated, output); err != nil {
					return errors.Wrapf(err, "save %s", output)
				}
				out.Annotated = output
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	f := cmd.Flags()
	f.StringVar(&mode, "mode", "top3", "detection mode (top3, classify)")
	f.Float32("min-confidence", 0, "minimum score in [0,1] (default from config)")
	f.Int("max-results", 0, "maximum detections, 0 for unlimited (default from config)")
	f.StringVarP(&output, "output", "o", "", "write the annotated image to this path")
	return cmd
}

func detectOptions(a *app, cmd *cobra.Command, mode string) (pipeline.Options, error) {
	var opts pipeline.Options
	switch strings.ToLower(mode) {
	case "top3", "":
		opts = a.cfg.Detection.Options()
	case "classify":
		opts = pipeline.Classification
		opts.MinConfidence = a.cfg.Detection.MinConfidence
	default:
		return opts, errors.Errorf("unknown mode %q (top3, classify)", mode)
	}

	if cmd.Flags().Changed("min-confidence") {
		v, _ := cmd.Flags().GetFloat32("min-confidence")
		if v < 0 || v > 1 {
			return opts, errors.Errorf("--min-confidence must be in [0,1], got %v", v)
		}
		opts.MinConfidence = v
	}
	if cmd.Flags().Changed("max-results") {
		opts.MaxResults, _ = cmd.Flags().GetInt("max-results")
	}
	return opts, nil
}
