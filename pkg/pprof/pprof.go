package pprof

import (
	"net/http"
	_ "net/http/pprof"

	"github.com/sirupsen/logrus"
)

// Start serves the runtime profiler on port. An empty port leaves profiling off.
func Start(port string, logger *logrus.Entry) {
	if port == "" {
		return
	}
	addr := ":" + port
	go func() {
		logger.WithField("addr", addr).Info("pprof listening")

		if err := http.ListenAndServe(addr, nil); err != nil {
			logger.WithError(err).Warn("pprof server stopped")
		}
	}()
}
