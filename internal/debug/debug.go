// Package debug implements protocol tracing. Tracing is enabled by
// setting WAYLAND_DEBUG to a positive integer or by calling Enable.
package debug

import (
	"os"
	"strconv"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var (
	enabled atomic.Bool
	logger  atomic.Pointer[logrus.Entry]
)

func init() {
	logger.Store(logrus.NewEntry(logrus.StandardLogger()).WithField("component", "trace"))

	debugLevel, err := strconv.ParseInt(os.Getenv("WAYLAND_DEBUG"), 10, 0)
	if err != nil {
		return
	}
	enabled.Store(debugLevel > 0)
}

// Enable turns tracing on and directs it to log.
func Enable(log *logrus.Entry) {
	logger.Store(log.WithField("component", "trace"))
	enabled.Store(true)
}

// Enabled reports whether tracing is on.
func Enabled() bool {
	return enabled.Load()
}

func Printf(str string, args ...any) {
	if !enabled.Load() {
		return
	}
	logger.Load().Debugf(str, args...)
}
