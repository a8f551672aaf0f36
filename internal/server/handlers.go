/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	_ "golang.org/x/image/webp" // register decoder

	"github.com/Starchild13/KinectaComms/internal/detection"
	"github.com/Starchild13/KinectaComms/internal/pipeline"
	"github.com/Starchild13/KinectaComms/internal/tensor"
)

const requestIDKey = "request_id"

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type timingsResponse struct {
	PreprocessMS  float64 `json:"preprocess_ms"`
	InferenceMS   float64 `json:"inference_ms"`
	PostprocessMS float64 `json:"postprocess_ms"`
	AnnotateMS    float64 `json:"annotate_ms"`
	TotalMS       float64 `json:"total_ms"`
}

type detectResponse struct {
	RequestID      string                `json:"request_id"`
	Detections     []detection.Detection `json:"detections"`
	Degraded       bool                  `json:"degraded"`
	Input          string                `json:"input"`
	AnnotatedImage string                `json:"annotated_image,omitempty"`
	Timings        timingsResponse       `json:"timings"`
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func newDetectResponse(res *pipeline.Result) (detectResponse, error) {
	out := detectResponse{
		RequestID:  res.RequestID,
		Detections: res.Detections,
		Degraded:   res.Degraded,
		Input:      res.Shape.String(),
		Timings: timingsResponse{
			PreprocessMS:  ms(res.Timings.Preprocess),
			InferenceMS:   ms(res.Timings.Inference),
			PostprocessMS: ms(res.Timings.Postprocess),
			AnnotateMS:    ms(res.Timings.Annotate),
			TotalMS:       ms(res.Timings.Total()),
		},
	}
	if res.Annotated != nil {
		var buf bytes.Buffer
		if err := png.Encode(&buf, res.Annotated); err != nil {
			return out, errors.Wrap(err, "encode annotated image")
		}
		out.AnnotatedImage = base64.StdEncoding.EncodeToString(buf.Bytes())
	}
	return out, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	shape, ok := s.detector.Shape()
	if !ok || !s.detector.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "initializing"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "input": shape.String(), "labels": len(s.detector.Labels())})
}

func (s *Server) handleLabels(c *gin.Context) {
	if !s.detector.Ready() {
		s.fail(c, pipeline.ErrNotInitialized)
		return
	}
	labels := s.detector.Labels()
	if labels == nil {
		labels = detection.Labels{}
	}
	c.JSON(http.StatusOK, gin.H{"labels": labels})
}

func (s *Server) handleDetect(c *gin.Context) {
	s.serveDetection(c, s.cfg.Detect)
}

func (s *Server) handleClassify(c *gin.Context) {
	s.serveDetection(c, pipeline.Classification)
}

func (s *Server) serveDetection(c *gin.Context, defaults pipeline.Options) {
	opts, format, err := parseOptions(c, defaults)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
	img, err := s.readImage(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	res, err := s.detector.Detect(c.Request.Context(), img, opts)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Set(requestIDKey, res.RequestID)
	c.Header("X-Request-ID", res.RequestID)

	if format == "png" {
		var buf bytes.Buffer
		if err := png.Encode(&buf, res.Annotated); err != nil {
			s.fail(c, err)
			return
		}
		c.Header("X-Degraded", strconv.FormatBool(res.Degraded))
		c.Data(http.StatusOK, "image/png", buf.Bytes())
		return
	}

	body, err := newDetectResponse(res)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, body)
}

// parseOptions applies min_confidence, max_results, annotate and format.
func parseOptions(c *gin.Context, opts pipeline.Options) (pipeline.Options, string, error) {
	if v := c.Query("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil || f < 0 || f > 1 {
			return opts, "", errors.Wrapf(errBadRequest, "min_confidence %q must be in [0,1]", v)
		}
		opts.MinConfidence = float32(f)
	}
	if v := c.Query("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, "", errors.Wrapf(errBadRequest, "max_results %q is not an integer", v)
		}
		opts.MaxResults = n
	}
	if v := c.Query("annotate"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, "", errors.Wrapf(errBadRequest, "annotate %q is not a boolean", v)
		}
		opts.Annotate = b
	}
	format := strings.ToLower(c.DefaultQuery("format", "json"))
	switch format {
	case "json":
	case "png":
		opts.Annotate = true
	default:
		return opts, "", errors.Wrapf(errBadRequest, "unknown format %q", format)
	}
	return opts, format, nil
}

// readImage takes the multipart field "image" or, failing that, the raw body.
func (s *Server) readImage(c *gin.Context) (image.Image, error) {
	var r io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		fh, err := c.FormFile("image")
		if err != nil {
			return nil, uploadError("multipart field image", err)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, errors.Wrap(err, "open upload")
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, uploadError("read body", err)
	}
	s.metrics.uploadBytes.Observe(float64(len(data)))
	return decodeImage(data)
}

var errTooLarge = errors.New("upload too large")

func uploadError(what string, err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return errors.Wrapf(errTooLarge, "limit is %d bytes", tooBig.Limit)
	}
	return errors.Wrapf(errBadRequest, "%s: %v", what, err)
}

func decodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(errBadRequest, "empty image")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(errBadRequest, "decode image: %v", err)
	}
	return img, nil
}

// status maps pipeline errors to HTTP codes.
func status(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, pipeline.ErrNotInitialized):
		return http.StatusServiceUnavailable, "not_initialized"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "cancelled"
	case errors.Is(err, tensor.ErrInvalidShape), errors.Is(err, tensor.ErrUnsupportedChannelCount):
		return http.StatusInternalServerError, "invalid_shape"
	}
	return http.StatusInternalServerError, "internal_error"
}

func (s *Server) fail(c *gin.Context, err error) {
	code, kind := status(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(code, errorResponse{Error: kind, Message: err.Error()})
}
