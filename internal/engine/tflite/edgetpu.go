//go:build edgetpu

/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package tflite

import (
	"github.com/mattn/go-tflite/delegates"
	"github.com/mattn/go-tflite/delegates/edgetpu"
	"go.uber.org/zap"
)

// edgeTPUDelegate opens the first EdgeTPU device, or returns nil.
func edgeTPUDelegate(logger *zap.Logger) delegates.Delegater {
	devices, err := edgetpu.DeviceList()
	if err != nil {
		logger.Warn("could not list EdgeTPU devices", zap.Error(err))
		return nil
	}
	if len(devices) == 0 {
		logger.Info("no EdgeTPU devices found")
		return nil
	}
	d := edgetpu.New(devices[0])
	if d == nil {
		logger.Warn("could not open EdgeTPU", zap.String("path", devices[0].Path))
		return nil
	}
	logger.Info("using EdgeTPU", zap.String("path", devices[0].Path))
	return d
}
