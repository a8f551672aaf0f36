/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Starchild13/KinectaComms/internal/pipeline"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWebSocket answers each binary frame holding an encoded image with
// one JSON detection result. Options come from the upgrade request query.
func (s *Server) handleWebSocket(c *gin.Context) {
	opts, _, err := parseOptions(c, s.cfg.Detect)
	if err != nil {
		s.fail(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.cfg.MaxUploadBytes)

	s.metrics.wsConnections.Inc()
	defer s.metrics.wsConnections.Dec()
	s.logger.Info("websocket connected", zap.String("remote", c.ClientIP()))

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	ctx := c.Request.Context()
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		s.metrics.wsMessages.WithLabelValues("received").Inc()
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var reply interface{}
		if kind != websocket.BinaryMessage {
			reply = errorResponse{Error: "bad_request", Message: "send images as binary frames"}
		} else {
			reply = s.detectFrame(c, data, opts)
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(reply); err != nil {
			s.logger.Warn("websocket write failed", zap.Error(err))
			return
		}
		s.metrics.wsMessages.WithLabelValues("sent").Inc()
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Server) detectFrame(c *gin.Context, data []byte, opts pipeline.Options) interface{} {
	img, err := decodeImage(data)
	if err != nil {
		return wsError(err)
	}
	s.metrics.uploadBytes.Observe(float64(len(data)))
	res, err := s.detector.Detect(c.Request.Context(), img, opts)
	if err != nil {
		return wsError(err)
	}
	body, err := newDetectResponse(res)
	if err != nil {
		return wsError(err)
	}
	return body
}

func wsError(err error) errorResponse {
	_, kind := status(err)
	return errorResponse{Error: kind, Message: err.Error()}
}
