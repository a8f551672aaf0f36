//go:build !edgetpu

/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package tflite

import (
	"github.com/mattn/go-tflite/delegates"
	"go.uber.org/zap"
)

func edgeTPUDelegate(logger *zap.Logger) delegates.Delegater {
	logger.Warn("EdgeTPU requested but binary was built without the edgetpu tag")
	return nil
}
