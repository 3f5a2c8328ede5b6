package rfbserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rfbserver",
		Name:      "active_sessions",
		Help:      "Number of RFB sessions currently connected.",
	})

	metricHandshakeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rfbserver",
		Name:      "handshake_failures_total",
		Help:      "Connections that failed before reaching steady state.",
	})

	metricUpdateRects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rfbserver",
		Name:      "update_rectangles_total",
		Help:      "Framebuffer update rectangles sent, by encoding.",
	}, []string{"encoding"})

	metricBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rfbserver",
		Name:      "update_bytes_total",
		Help:      "Bytes of framebuffer updates written to transports.",
	})
)
